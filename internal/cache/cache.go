// Package cache keeps owner travel lists in Redis.
package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradojo/booking/booking"
)

const (
	keyPrefix = "booking:owner-travels:"
	genPrefix = "booking:owner-travels-gen:"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	TLS      bool

	// TTL bounds how long an entry may outlive a missed invalidation.
	// Default: 5m
	TTL time.Duration
}

// Cache is a booking.TravelCache over Redis.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ booking.TravelCache = (*Cache)(nil)

// Connect opens a client and pings it. Callers run without a cache when it
// fails.
func Connect(ctx context.Context, opts Options) (*Cache, error) {
	if opts.Addr == "" {
		return nil, errors.New("cache: redis address is required")
	}
	ro := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.TLS {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return New(client, opts.TTL), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Key returns the Redis key of ownerID's entry.
func Key(ownerID string) string {
	return keyPrefix + ownerID
}

// GenerationKey returns the Redis key of ownerID's generation counter. It has
// no expiry: a counter that reset could let a stale list match again.
func GenerationKey(ownerID string) string {
	return genPrefix + ownerID
}

// OwnerTravels returns the cached list, with ok false on a miss.
func (c *Cache) OwnerTravels(ctx context.Context, ownerID string) ([]booking.Travel, bool, error) {
	raw, err := c.client.Get(ctx, Key(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", ownerID, err)
	}
	var travels []booking.Travel
	if err := json.Unmarshal(raw, &travels); err != nil {
		// A corrupt entry is a miss; the next write replaces it.
		return nil, false, nil
	}
	return travels, true, nil
}

// Generation returns ownerID's current generation, 0 before the first
// invalidation.
func (c *Cache) Generation(ctx context.Context, ownerID string) (int64, error) {
	gen, err := c.client.Get(ctx, GenerationKey(ownerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: generation %s: %w", ownerID, err)
	}
	return gen, nil
}

// SetOwnerTravels stores the list for the configured TTL if ownerID is still
// at generation gen. The check and the write run in one WATCH transaction, so
// an invalidation in between drops the write.
func (c *Cache) SetOwnerTravels(ctx context.Context, ownerID string, gen int64, travels []booking.Travel) error {
	raw, err := json.Marshal(travels)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", ownerID, err)
	}
	genKey := GenerationKey(ownerID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, Key(ownerID), raw, c.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil, errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		return nil
	default:
		return fmt.Errorf("cache: set %s: %w", ownerID, err)
	}
}

var errStale = errors.New("cache: generation moved on")

// InvalidateOwner drops ownerID's entry and advances its generation.
func (c *Cache) InvalidateOwner(ctx context.Context, ownerID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, GenerationKey(ownerID))
		pipe.Del(ctx, Key(ownerID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: invalidate %s: %w", ownerID, err)
	}
	return nil
}

// Close closes the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
