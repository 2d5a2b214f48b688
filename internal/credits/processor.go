// Package credits turns activity reviews into ledger transactions and user notifications.
package credits

import (
	"context"
	"errors"
	"log/slog"

	"github.com/geocoder89/impacthub/internal/domain/activity"
	"github.com/geocoder89/impacthub/internal/domain/delivery"
	"github.com/geocoder89/impacthub/internal/domain/job"
	"github.com/geocoder89/impacthub/internal/domain/transaction"
	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/jobs"
	"github.com/geocoder89/impacthub/internal/notifications"
	"github.com/geocoder89/impacthub/internal/queue/worker"
)

// Currency marks ledger rows denominated in impact credits rather than money.
const Currency = "credits"

type ActivityReader interface {
	GetByID(ctx context.Context, id string) (activity.Activity, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

type Ledger interface {
	CreateIfAbsent(ctx context.Context, t transaction.Transaction) (transaction.Transaction, bool, error)
	GetByReference(ctx context.Context, ref string) (transaction.Transaction, error)
}

type Deliveries interface {
	TryStart(ctx context.Context, kind, subjectID, jobID, recipient string) error
	MarkSent(ctx context.Context, kind, subjectID string, providerMessageID *string) error
	MarkFailed(ctx context.Context, kind, subjectID, errMsg string) error
}

type Processor struct {
	activities ActivityReader
	users      UserReader
	ledger     Ledger
	deliveries Deliveries
	notifier   notifications.Notifier
	log        *slog.Logger
}

func NewProcessor(
	activities ActivityReader,
	users UserReader,
	ledger Ledger,
	deliveries Deliveries,
	notifier notifications.Notifier,
	log *slog.Logger,
) *Processor {
	if log == nil {
		log = slog.Default()
	}

	return &Processor{
		activities: activities,
		users:      users,
		ledger:     ledger,
		deliveries: deliveries,
		notifier:   notifier,
		log:        log,
	}
}

// Register wires the processor's handlers into w.
func (p *Processor) Register(w *worker.Worker) {
	w.Handle(jobs.TypeCreditAward.String(), p.HandleAward)
	w.Handle(jobs.TypeCreditRevoke.String(), p.HandleRevoke)
}

func AwardReference(activityID string) string  { return "award:" + activityID }
func RevokeReference(activityID string) string { return "revoke:" + activityID }

func (p *Processor) HandleAward(ctx context.Context, j job.Job) error {
	decoded, err := jobs.DecodePayload(jobs.TypeCreditAward, j.Payload)
	if err != nil {
		return worker.Permanent(err)
	}
	payload := decoded.(jobs.CreditAwardPayload)

	a, err := p.activities.GetByID(ctx, payload.ActivityID)
	if err != nil {
		if errors.Is(err, activity.ErrNotFound) {
			return worker.Permanent(err)
		}
		return err
	}

	// revoked before the job ran; the revoke job handles the rest
	if a.Status != activity.StatusVerified {
		p.log.InfoContext(ctx, "credits.award_skipped", "activity_id", a.ID, "status", a.Status)
		return nil
	}

	if a.Credits > 0 {
		ref := AwardReference(a.ID)

		t, err := transaction.New(transaction.CreateRequest{
			UserID:      a.UserID,
			Type:        transaction.TypeCreditAward,
			Amount:      int64(a.Credits),
			Currency:    Currency,
			Status:      transaction.StatusCompleted,
			Reference:   &ref,
			Description: "Credits for " + a.Title,
		})
		if err != nil {
			return worker.Permanent(err)
		}

		award, created, err := p.ledger.CreateIfAbsent(ctx, t)
		if err != nil {
			return err
		}
		if created {
			p.log.InfoContext(ctx, "credits.awarded", "activity_id", a.ID, "user_id", a.UserID, "credits", a.Credits)
		}

		// An unverify that lands between the status read and the insert has a
		// revoke job that may already have missed this row.
		current, err := p.activities.GetByID(ctx, a.ID)
		if err != nil {
			return err
		}
		if current.Status != activity.StatusVerified {
			p.log.InfoContext(ctx, "credits.award_reversed", "activity_id", a.ID, "status", current.Status)
			return p.reverse(ctx, current, award)
		}
	}

	return p.notify(ctx, j.ID, delivery.KindCreditAwarded, a, "", p.notifier.SendCreditAwarded)
}

func (p *Processor) HandleRevoke(ctx context.Context, j job.Job) error {
	decoded, err := jobs.DecodePayload(jobs.TypeCreditRevoke, j.Payload)
	if err != nil {
		return worker.Permanent(err)
	}
	payload := decoded.(jobs.CreditRevokePayload)

	a, err := p.activities.GetByID(ctx, payload.ActivityID)
	if err != nil {
		if errors.Is(err, activity.ErrNotFound) {
			return worker.Permanent(err)
		}
		return err
	}

	award, err := p.ledger.GetByReference(ctx, AwardReference(a.ID))
	switch {
	case errors.Is(err, transaction.ErrNotFound):
		// nothing was credited; only tell the user
	case err != nil:
		return err
	default:
		if err := p.reverse(ctx, a, award); err != nil {
			return err
		}
	}

	return p.notify(ctx, j.ID, delivery.KindCreditRevoked, a, payload.Reason, p.notifier.SendCreditRevoked)
}

// reverse writes the refund for an award. Both the revoke job and a late
// award use the same reference, so it lands once.
func (p *Processor) reverse(ctx context.Context, a activity.Activity, award transaction.Transaction) error {
	ref := RevokeReference(a.ID)

	t, err := transaction.New(transaction.CreateRequest{
		UserID:      award.UserID,
		Type:        transaction.TypeRefund,
		Amount:      award.Amount,
		Currency:    Currency,
		Status:      transaction.StatusCompleted,
		Reference:   &ref,
		Description: "Credits revoked for " + a.Title,
	})
	if err != nil {
		return worker.Permanent(err)
	}

	_, _, err = p.ledger.CreateIfAbsent(ctx, t)
	return err
}

func (p *Processor) notify(
	ctx context.Context,
	jobID, kind string,
	a activity.Activity,
	reason string,
	send func(context.Context, notifications.CreditInput) error,
) error {
	u, err := p.users.GetByID(ctx, a.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			// account deleted since; nobody to tell
			return nil
		}
		return err
	}

	err = p.deliveries.TryStart(ctx, kind, a.ID, jobID, u.Email)
	if errors.Is(err, delivery.ErrAlreadySent) {
		return nil
	}
	if err != nil {
		return err
	}

	sendErr := send(ctx, notifications.CreditInput{
		UserID:        u.ID,
		Email:         u.Email,
		Name:          u.Name,
		ActivityID:    a.ID,
		ActivityTitle: a.Title,
		Credits:       a.Credits,
		Reason:        reason,
	})
	if sendErr != nil {
		if mErr := p.deliveries.MarkFailed(ctx, kind, a.ID, sendErr.Error()); mErr != nil {
			p.log.ErrorContext(ctx, "credits.delivery_mark_failed", "activity_id", a.ID, "err", mErr)
		}
		return sendErr
	}

	return p.deliveries.MarkSent(ctx, kind, a.ID, nil)
}
