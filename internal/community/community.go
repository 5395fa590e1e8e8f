// Package community keeps the paying users' Discord membership in step with
// their accounts: binding an account, and suspending members whose
// subscription lapsed.
package community

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradojo/booking/booking"
)

// Guild is the community server.
type Guild interface {
	Exchange(ctx context.Context, code string) (booking.DiscordLink, error)
	AddMember(ctx context.Context, link booking.DiscordLink, roles []string) error
	Kick(ctx context.Context, accountID, reason string) error
	SwapRole(ctx context.Context, accountID, remove, add string) error
}

// Accounts is the part of the booking engine the service uses.
type Accounts interface {
	BindDiscord(ctx context.Context, userID string, link booking.DiscordLink) (*booking.DiscordLink, error)
	ListLapsedSubscribers(ctx context.Context, now time.Time) ([]booking.User, error)
}

// Roles names the guild roles the service grants.
type Roles struct {
	Customer  string
	Suspended string
}

// Service binds accounts and applies subscription state to the guild.
type Service struct {
	accounts Accounts
	guild    Guild
	roles    Roles
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service.
func NewService(accounts Accounts, guild Guild, roles Roles, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{accounts: accounts, guild: guild, roles: roles, logger: logger, now: time.Now}
}

// Bind exchanges code for a Discord account, binds it to userID and joins
// it to the guild. An account bound before is kicked.
func (s *Service) Bind(ctx context.Context, userID, code string) (booking.DiscordLink, error) {
	if code == "" {
		return booking.DiscordLink{}, &booking.ValidationError{Field: "code", Reason: "is required"}
	}
	link, err := s.guild.Exchange(ctx, code)
	if err != nil {
		return booking.DiscordLink{}, fmt.Errorf("community: exchange code: %w", err)
	}
	previous, err := s.accounts.BindDiscord(ctx, userID, link)
	if err != nil {
		return booking.DiscordLink{}, err
	}

	// Guild calls are best effort; the binding is already stored.
	if previous != nil {
		if err := s.guild.Kick(ctx, previous.AccountID, "A new account was bound"); err != nil {
			s.logger.Warn("kick of replaced account failed", "user", userID, "account", previous.AccountID, "error", err)
		}
	}
	var roles []string
	if s.roles.Customer != "" {
		roles = []string{s.roles.Customer}
	}
	if err := s.guild.AddMember(ctx, link, roles); err != nil {
		s.logger.Warn("guild join failed", "user", userID, "account", link.AccountID, "error", err)
	}
	s.logger.Info("discord account bound", "user", userID, "account", link.AccountID)
	return link, nil
}

// SuspendLapsed moves every lapsed subscriber with a bound account from the
// customer role to the suspended role. It returns how many were suspended;
// failures do not stop the others and are returned joined.
func (s *Service) SuspendLapsed(ctx context.Context) (int, error) {
	users, err := s.accounts.ListLapsedSubscribers(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("community: list lapsed subscribers: %w", err)
	}

	var (
		suspended atomic.Int64
		errs      = make([]error, len(users))
		g         errgroup.Group
	)
	g.SetLimit(4)
	for i, u := range users {
		if u.Discord == nil || u.Discord.AccountID == "" {
			continue
		}
		g.Go(func() error {
			if err := s.guild.SwapRole(ctx, u.Discord.AccountID, s.roles.Customer, s.roles.Suspended); err != nil {
				s.logger.Warn("suspend failed", "user", u.ID, "account", u.Discord.AccountID, "error", err)
				errs[i] = fmt.Errorf("suspend %s: %w", u.ID, err)
				return nil
			}
			suspended.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(suspended.Load())
	s.logger.Info("lapsed subscribers suspended", "lapsed", len(users), "suspended", n)
	return n, errors.Join(errs...)
}
