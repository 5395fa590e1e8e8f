// Command bookingd serves the booking HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradojo/booking/booking"
	"github.com/tradojo/booking/internal/backend"
	"github.com/tradojo/booking/internal/cache"
	"github.com/tradojo/booking/internal/community"
	"github.com/tradojo/booking/internal/config"
	"github.com/tradojo/booking/internal/events"
	"github.com/tradojo/booking/internal/httpapi"
	"github.com/tradojo/booking/internal/identity"
)

func main() {
	if err := run(); err != nil {
		slog.Error("bookingd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := backend.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := booking.New(st, cfg.Engine(), logger)

	if cfg.RedisAddr != "" {
		c, err := cache.Connect(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		})
		if err != nil {
			logger.Warn("running without travel cache", "error", err)
		} else {
			defer c.Close()
			engine.SetCache(c)
		}
	}

	if cfg.AMQPURL != "" {
		p, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warn("running without event publishing", "error", err)
		} else {
			defer p.Close()
			engine.SetPublisher(p)
		}
	}

	secret := cfg.JWTSecret
	if secret == "" {
		return errors.New("BOOKING_JWT_SECRET is required")
	}
	ids, err := identity.New(engine, identity.Config{
		Secret:     []byte(secret),
		TokenTTL:   cfg.TokenTTL,
		BcryptCost: cfg.BcryptCost,
	})
	if err != nil {
		return err
	}

	opts := httpapi.Options{Auth: ids, Logger: logger}
	if cfg.Discord.Token != "" {
		bot := community.NewBot(community.BotConfig{
			Token:        cfg.Discord.Token,
			GuildID:      cfg.Discord.GuildID,
			ClientID:     cfg.Discord.ClientID,
			ClientSecret: cfg.Discord.ClientSecret,
			RedirectURI:  cfg.Discord.RedirectURI,
			APIBase:      cfg.Discord.APIBase,
		})
		if err := bot.Start(ctx); err != nil {
			return err
		}
		defer bot.Close()
		logger.Info("discord bot connected", "guild", cfg.Discord.GuildID)
		opts.Community = community.NewService(engine, bot, community.Roles{
			Customer:  cfg.Discord.CustomerRoleID,
			Suspended: cfg.Discord.SuspendedRoleID,
		}, logger)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(engine, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.HTTPAddr, "backend", cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
