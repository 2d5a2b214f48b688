package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// LogNotifier writes notifications to the log. Delay and Fail simulate a slow
// or broken provider in local runs.
type LogNotifier struct {
	log   *slog.Logger
	Delay time.Duration
	Fail  bool
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendCreditAwarded(ctx context.Context, in CreditInput) error {
	return n.send(ctx, "notification.credit_awarded", in)
}

func (n *LogNotifier) SendCreditRevoked(ctx context.Context, in CreditInput) error {
	return n.send(ctx, "notification.credit_revoked", in)
}

func (n *LogNotifier) send(ctx context.Context, msg string, in CreditInput) error {
	if n.Delay > 0 {
		select {
		case <-time.After(n.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if n.Fail {
		return errors.New("provider down (simulated)")
	}

	n.log.InfoContext(ctx, msg,
		"user_id", in.UserID,
		"email", in.Email,
		"activity_id", in.ActivityID,
		"credits", in.Credits,
	)
	return nil
}
