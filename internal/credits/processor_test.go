package credits

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/geocoder89/impacthub/internal/domain/activity"
	"github.com/geocoder89/impacthub/internal/domain/delivery"
	"github.com/geocoder89/impacthub/internal/domain/job"
	"github.com/geocoder89/impacthub/internal/domain/transaction"
	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/jobs"
	"github.com/geocoder89/impacthub/internal/notifications"
	"github.com/geocoder89/impacthub/internal/queue/worker"
)

type fakeActivities struct {
	getFn func(ctx context.Context, id string) (activity.Activity, error)
}

func (f fakeActivities) GetByID(ctx context.Context, id string) (activity.Activity, error) {
	return f.getFn(ctx, id)
}

type fakeUsers struct{}

func (fakeUsers) GetByID(ctx context.Context, id string) (user.User, error) {
	if id == "gone" {
		return user.User{}, user.ErrUserNotFound
	}
	return user.User{ID: id, Email: id + "@example.com", Name: "Ada"}, nil
}

type memLedger struct {
	byRef map[string]transaction.Transaction
	// runs once, just before the first insert of a new reference
	beforeInsert func(ref string)
}

func (m *memLedger) CreateIfAbsent(ctx context.Context, t transaction.Transaction) (transaction.Transaction, bool, error) {
	if hook := m.beforeInsert; hook != nil {
		m.beforeInsert = nil
		hook(*t.Reference)
	}
	if existing, ok := m.byRef[*t.Reference]; ok {
		return existing, false, nil
	}
	m.byRef[*t.Reference] = t
	return t, true, nil
}

func (m *memLedger) GetByReference(ctx context.Context, ref string) (transaction.Transaction, error) {
	t, ok := m.byRef[ref]
	if !ok {
		return transaction.Transaction{}, transaction.ErrNotFound
	}
	return t, nil
}

type memDeliveries struct {
	status map[string]string
}

func (m *memDeliveries) TryStart(ctx context.Context, kind, subjectID, jobID, recipient string) error {
	switch m.status[kind+subjectID] {
	case "sent":
		return delivery.ErrAlreadySent
	case "sending":
		return delivery.ErrInProgress
	}
	m.status[kind+subjectID] = "sending"
	return nil
}

func (m *memDeliveries) MarkSent(ctx context.Context, kind, subjectID string, _ *string) error {
	m.status[kind+subjectID] = "sent"
	return nil
}

func (m *memDeliveries) MarkFailed(ctx context.Context, kind, subjectID, errMsg string) error {
	m.status[kind+subjectID] = "failed"
	return nil
}

type recordingNotifier struct {
	awarded []notifications.CreditInput
	revoked []notifications.CreditInput
	err     error
}

func (r *recordingNotifier) SendCreditAwarded(ctx context.Context, in notifications.CreditInput) error {
	r.awarded = append(r.awarded, in)
	return r.err
}

func (r *recordingNotifier) SendCreditRevoked(ctx context.Context, in notifications.CreditInput) error {
	r.revoked = append(r.revoked, in)
	return r.err
}

type fixture struct {
	p          *Processor
	ledger     *memLedger
	deliveries *memDeliveries
	notifier   *recordingNotifier
	act        activity.Activity
}

func newFixture(status activity.Status, credits int) *fixture {
	f := &fixture{
		ledger:     &memLedger{byRef: map[string]transaction.Transaction{}},
		deliveries: &memDeliveries{status: map[string]string{}},
		notifier:   &recordingNotifier{},
		act: activity.Activity{
			ID: "act-1", UserID: "user-1", Title: "Beach cleanup", Credits: credits, Status: status,
		},
	}

	acts := fakeActivities{getFn: func(ctx context.Context, id string) (activity.Activity, error) {
		if id != f.act.ID {
			return activity.Activity{}, activity.ErrNotFound
		}
		return f.act, nil
	}}

	f.p = NewProcessor(acts, fakeUsers{}, f.ledger, f.deliveries, f.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func awardJob(t *testing.T, activityID string) job.Job {
	t.Helper()
	raw, err := jobs.EncodePayload(jobs.TypeCreditAward, jobs.CreditAwardPayload{ActivityID: activityID, UserID: "user-1", Credits: 25})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return job.Job{ID: "job-1", Type: jobs.TypeCreditAward.String(), Payload: raw}
}

func revokeJob(t *testing.T, activityID string) job.Job {
	t.Helper()
	raw, err := jobs.EncodePayload(jobs.TypeCreditRevoke, jobs.CreditRevokePayload{ActivityID: activityID, UserID: "user-1", Reason: "blurry proof"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return job.Job{ID: "job-2", Type: jobs.TypeCreditRevoke.String(), Payload: raw}
}

func TestHandleAward_RecordsOnceAndNotifiesOnce(t *testing.T) {
	f := newFixture(activity.StatusVerified, 25)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := f.p.HandleAward(ctx, awardJob(t, "act-1")); err != nil {
			t.Fatalf("HandleAward run %d: %v", i, err)
		}
	}

	tx, ok := f.ledger.byRef[AwardReference("act-1")]
	if !ok || len(f.ledger.byRef) != 1 {
		t.Fatalf("expected exactly one award transaction, got %v", f.ledger.byRef)
	}
	if tx.Amount != 25 || tx.Currency != Currency || tx.Type != transaction.TypeCreditAward || tx.Status != transaction.StatusCompleted {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if len(f.notifier.awarded) != 1 || f.notifier.awarded[0].Email != "user-1@example.com" {
		t.Fatalf("expected one notification, got %+v", f.notifier.awarded)
	}
}

func TestHandleAward_SkipsWhenNoLongerVerified(t *testing.T) {
	f := newFixture(activity.StatusUnverified, 25)

	if err := f.p.HandleAward(context.Background(), awardJob(t, "act-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.ledger.byRef) != 0 || len(f.notifier.awarded) != 0 {
		t.Fatalf("nothing should happen for an unverified activity")
	}
}

func TestHandleAward_MissingActivityIsPermanent(t *testing.T) {
	f := newFixture(activity.StatusVerified, 25)

	err := f.p.HandleAward(context.Background(), awardJob(t, "other"))
	if !worker.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestHandleAward_NotifierFailureRetries(t *testing.T) {
	f := newFixture(activity.StatusVerified, 10)
	f.notifier.err = errors.New("smtp down")

	err := f.p.HandleAward(context.Background(), awardJob(t, "act-1"))
	if err == nil || worker.IsPermanent(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if f.deliveries.status[delivery.KindCreditAwarded+"act-1"] != "failed" {
		t.Fatalf("delivery should be marked failed for the retry to reclaim it")
	}

	f.notifier.err = nil
	if err := f.p.HandleAward(context.Background(), awardJob(t, "act-1")); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if len(f.ledger.byRef) != 1 {
		t.Fatalf("retry must not double-credit")
	}
}

func TestHandleRevoke_ReversesAward(t *testing.T) {
	f := newFixture(activity.StatusVerified, 30)
	ctx := context.Background()

	if err := f.p.HandleAward(ctx, awardJob(t, "act-1")); err != nil {
		t.Fatalf("award: %v", err)
	}

	f.act.Status = activity.StatusUnverified
	if err := f.p.HandleRevoke(ctx, revokeJob(t, "act-1")); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	rev, ok := f.ledger.byRef[RevokeReference("act-1")]
	if !ok || rev.Type != transaction.TypeRefund || rev.Amount != 30 {
		t.Fatalf("expected refund of 30 credits, got %+v", rev)
	}
	if len(f.notifier.revoked) != 1 || f.notifier.revoked[0].Reason != "blurry proof" {
		t.Fatalf("expected revoke notification with reason, got %+v", f.notifier.revoked)
	}
}

func TestHandleRevoke_WithoutAwardOnlyNotifies(t *testing.T) {
	f := newFixture(activity.StatusUnverified, 30)

	if err := f.p.HandleRevoke(context.Background(), revokeJob(t, "act-1")); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(f.ledger.byRef) != 0 {
		t.Fatalf("no ledger rows expected without an award")
	}
	if len(f.notifier.revoked) != 1 {
		t.Fatalf("user should still be told")
	}
}

func TestHandleAward_BadPayloadIsPermanent(t *testing.T) {
	f := newFixture(activity.StatusVerified, 1)

	err := f.p.HandleAward(context.Background(), job.Job{ID: "j", Payload: []byte("{")})
	if !worker.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestHandleAward_UnverifiedDuringInsertIsReversed(t *testing.T) {
	f := newFixture(activity.StatusVerified, 40)
	ctx := context.Background()

	// the revoke job runs between the award's status read and its insert,
	// so it finds no award to reverse
	f.ledger.beforeInsert = func(ref string) {
		if ref != AwardReference("act-1") {
			t.Errorf("unexpected first insert %s", ref)
		}
		f.act.Status = activity.StatusUnverified
		if err := f.p.HandleRevoke(ctx, revokeJob(t, "act-1")); err != nil {
			t.Errorf("revoke: %v", err)
		}
	}

	if err := f.p.HandleAward(ctx, awardJob(t, "act-1")); err != nil {
		t.Fatalf("award: %v", err)
	}

	award, ok := f.ledger.byRef[AwardReference("act-1")]
	if !ok {
		t.Fatalf("award row missing")
	}
	rev, ok := f.ledger.byRef[RevokeReference("act-1")]
	if !ok || rev.Type != transaction.TypeRefund || rev.Amount != award.Amount {
		t.Fatalf("late award was not reversed: %+v", f.ledger.byRef)
	}
	if len(f.notifier.awarded) != 0 || len(f.notifier.revoked) != 1 {
		t.Fatalf("awarded=%d revoked=%d", len(f.notifier.awarded), len(f.notifier.revoked))
	}

	// a retry of the revoke job does not write a second refund
	if err := f.p.HandleRevoke(ctx, revokeJob(t, "act-1")); err != nil {
		t.Fatalf("revoke retry: %v", err)
	}
	if len(f.ledger.byRef) != 2 {
		t.Fatalf("ledger=%v", f.ledger.byRef)
	}
}
