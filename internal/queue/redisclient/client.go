// Package redisclient opens the Redis connection shared by the rate-limit
// counters and the notification publisher.
package redisclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	// comma separated; more than one address selects cluster mode
	Addr     string
	Password string
	DB       int
}

func (c Config) addrs() []string {
	var out []string
	for _, a := range strings.Split(c.Addr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Enabled reports whether an address was configured at all.
func (c Config) Enabled() bool {
	return len(c.addrs()) > 0
}

func New(cfg Config) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.addrs(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Connect opens the client and checks it answers within timeout. The client
// is closed again when the ping fails.
func Connect(ctx context.Context, cfg Config, timeout time.Duration) (redis.UniversalClient, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("redis: no address configured")
	}

	rdb := New(cfg)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
