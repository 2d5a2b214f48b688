package limiter

import (
	"context"
	"time"
)

// Counter is a fixed-window hit counter. Hit increments and starts the window
// on the first hit; the window is not extended by later hits.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (count int, resetIn time.Duration, err error)
	Current(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}
