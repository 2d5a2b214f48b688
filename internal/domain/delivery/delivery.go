// Package delivery tracks at-most-once sends of user notifications.
package delivery

import "errors"

var (
	ErrAlreadySent = errors.New("notification already sent")
	ErrInProgress  = errors.New("notification send in progress")
)

const (
	KindCreditAwarded = "credit.awarded"
	KindCreditRevoked = "credit.revoked"
)
