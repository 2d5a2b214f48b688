package audit

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/impacthub/internal/actorctx"
	"github.com/geocoder89/impacthub/internal/domain/auditlog"
	"github.com/geocoder89/impacthub/internal/observability"
	"github.com/oklog/ulid/v2"
)

type Appender interface {
	Append(ctx context.Context, seal func(prevHash string) (auditlog.Entry, error)) (auditlog.Entry, error)
}

type Recorder struct {
	store Appender
	prom  *observability.Prom
	log   *slog.Logger
	now   func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

func NewRecorder(store Appender, prom *observability.Prom, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}

	return &Recorder{
		store:   store,
		prom:    prom,
		log:     log,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (r *Recorder) newID(t time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), r.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Record appends rec to the chain. Actor, request id and client ip default to
// what the request context carries.
func (r *Recorder) Record(ctx context.Context, rec auditlog.Record) (auditlog.Entry, error) {
	if a, ok := actorctx.ActorFrom(ctx); ok {
		if rec.ActorID == "" {
			rec.ActorID = a.UserID
		}
		if rec.Actor == "" {
			rec.Actor = a.Email
		}
		if rec.ActorRole == "" {
			rec.ActorRole = a.Role
		}
	}
	if rec.Actor == "" {
		rec.Actor = "system"
	}
	if rec.RequestID == "" {
		rec.RequestID = actorctx.RequestIDFrom(ctx)
	}
	if rec.IP == "" {
		rec.IP = actorctx.ClientIPFrom(ctx)
	}
	if rec.Severity == "" {
		rec.Severity = auditlog.SeverityInfo
	}
	if rec.Status == "" {
		rec.Status = auditlog.StatusSuccess
	}

	entry, err := r.store.Append(ctx, func(prevHash string) (auditlog.Entry, error) {
		ts := r.now().UTC().Truncate(time.Microsecond)

		id, err := r.newID(ts)
		if err != nil {
			return auditlog.Entry{}, err
		}

		e := auditlog.Entry{
			ID:         id,
			Timestamp:  ts,
			Actor:      rec.Actor,
			ActorID:    rec.ActorID,
			ActorRole:  rec.ActorRole,
			Action:     rec.Action,
			Resource:   rec.Resource,
			ResourceID: rec.ResourceID,
			Severity:   rec.Severity,
			Status:     rec.Status,
			IP:         rec.IP,
			RequestID:  rec.RequestID,
			Details:    rec.Details,
			PrevHash:   prevHash,
		}
		e.Hash = ComputeHash(prevHash, e)

		return e, nil
	})

	if err != nil {
		r.prom.IncAuditAppend(string(rec.Severity), "error")
		r.log.ErrorContext(ctx, "audit.append_failed",
			"action", rec.Action,
			"resource", rec.Resource,
			"resource_id", rec.ResourceID,
			"err", err,
		)
		return auditlog.Entry{}, err
	}

	r.prom.IncAuditAppend(string(rec.Severity), "ok")
	return entry, nil
}
