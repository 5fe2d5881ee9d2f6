// Package dedup rejects replayed device messages before they reach the ledger.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// NewRedisClient returns a configured go-redis client and validates the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("[REDIS CONNECTION FAILED] cannot reach redis at %s: %w", addr, err)
	}

	return client, nil
}

// Guard remembers message ids in Redis for a TTL.
type Guard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGuard returns a redis-backed replay guard.
func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	return &Guard{client: client, ttl: ttl}
}

func (g *Guard) key(messageID string) string {
	return fmt.Sprintf("rewards:replay:%s", messageID)
}

// Claim records messageID and reports whether this is its first delivery.
func (g *Guard) Claim(ctx context.Context, messageID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(messageID), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim message %s: %w", messageID, err)
	}
	return ok, nil
}

// Release forgets messageID so a corrected redelivery can be processed.
func (g *Guard) Release(ctx context.Context, messageID string) error {
	if err := g.client.Del(ctx, g.key(messageID)).Err(); err != nil {
		return fmt.Errorf("release message %s: %w", messageID, err)
	}
	return nil
}

// Noop accepts every message. Used when no Redis address is configured.
type Noop struct{}

// Claim always reports a first delivery.
func (Noop) Claim(context.Context, string) (bool, error) { return true, nil }

// Release does nothing.
func (Noop) Release(context.Context, string) error { return nil }
