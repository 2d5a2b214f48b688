package limiter

import (
	"context"
	"log/slog"
	"time"
)

// FallbackCounter uses Primary and switches to Secondary for any call where
// Primary fails. Counts do not migrate between the two.
type FallbackCounter struct {
	Primary   Counter
	Secondary Counter
	Logger    *slog.Logger
}

func (f FallbackCounter) Hit(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	n, reset, err := f.Primary.Hit(ctx, key, window)
	if err == nil {
		return n, reset, nil
	}

	f.warn("hit", key, err)
	return f.Secondary.Hit(ctx, key, window)
}

func (f FallbackCounter) Current(ctx context.Context, key string) (int, error) {
	n, err := f.Primary.Current(ctx, key)
	if err == nil {
		return n, nil
	}

	f.warn("current", key, err)
	return f.Secondary.Current(ctx, key)
}

func (f FallbackCounter) Reset(ctx context.Context, key string) error {
	perr := f.Primary.Reset(ctx, key)
	serr := f.Secondary.Reset(ctx, key)

	if perr != nil {
		f.warn("reset", key, perr)
		return serr
	}
	return nil
}

func (f FallbackCounter) warn(op, key string, err error) {
	if f.Logger == nil {
		return
	}
	f.Logger.Warn("rate_limit_counter_fallback",
		"op", op,
		"key", key,
		"err", err,
	)
}
