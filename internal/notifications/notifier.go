package notifications

import "context"

type CreditInput struct {
	UserID        string
	Email         string
	Name          string
	ActivityID    string
	ActivityTitle string
	Credits       int
	Reason        string
}

type Notifier interface {
	SendCreditAwarded(ctx context.Context, in CreditInput) error
	SendCreditRevoked(ctx context.Context, in CreditInput) error
}
