package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/impacthub/internal/domain/auditlog"
	"github.com/geocoder89/impacthub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// serializes appends so every entry links to the one committed before it
const auditChainLockKey = 7302

type AuditLogsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewAuditLogsRepo(pool *pgxpool.Pool, prom *observability.Prom) *AuditLogsRepo {
	return &AuditLogsRepo{pool: pool, prom: prom}
}

const auditColumns = `seq, id, ts, actor, actor_id, actor_role, action, resource, resource_id,
	severity, status, ip, request_id, details, prev_hash, hash`

func scanEntry(row rowScanner, extra ...any) (auditlog.Entry, error) {
	var e auditlog.Entry
	var severity, status string

	dest := []any{
		&e.Seq, &e.ID, &e.Timestamp, &e.Actor, &e.ActorID, &e.ActorRole, &e.Action, &e.Resource, &e.ResourceID,
		&severity, &status, &e.IP, &e.RequestID, &e.Details, &e.PrevHash, &e.Hash,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return auditlog.Entry{}, err
	}

	e.Severity = auditlog.Severity(severity)
	e.Status = auditlog.Status(status)
	return e, nil
}

// Append reads the current chain head under an advisory lock, lets seal build
// the new entry from it and inserts the result.
func (r *AuditLogsRepo) Append(ctx context.Context, seal func(prevHash string) (auditlog.Entry, error)) (auditlog.Entry, error) {
	var out auditlog.Entry

	err := r.prom.ObserveDB("audit_logs.append", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, auditChainLockKey); err != nil {
			return err
		}

		prev := ""
		err = tx.QueryRow(ctx, `SELECT hash FROM audit_logs ORDER BY seq DESC LIMIT 1`).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		e, err := seal(prev)
		if err != nil {
			return err
		}

		details := e.Details
		if details == nil {
			details = map[string]string{}
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO audit_logs (id, ts, actor, actor_id, actor_role, action, resource, resource_id,
				severity, status, ip, request_id, details, prev_hash, hash)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			RETURNING seq`,
			e.ID, e.Timestamp, e.Actor, e.ActorID, e.ActorRole, e.Action, e.Resource, e.ResourceID,
			string(e.Severity), string(e.Status), e.IP, e.RequestID, details, e.PrevHash, e.Hash,
		).Scan(&e.Seq)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		out = e
		return nil
	})

	return out, err
}

func (r *AuditLogsRepo) GetByID(ctx context.Context, id string) (auditlog.Entry, error) {
	var e auditlog.Entry

	err := r.prom.ObserveDB("audit_logs.get_by_id", func() error {
		var err error
		e, err = scanEntry(r.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auditlog.Entry{}, auditlog.ErrNotFound
		}
		return auditlog.Entry{}, err
	}
	return e, nil
}

// Predecessor returns the entry right before seq, or ok=false for the first entry.
func (r *AuditLogsRepo) Predecessor(ctx context.Context, seq int64) (auditlog.Entry, bool, error) {
	var e auditlog.Entry

	err := r.prom.ObserveDB("audit_logs.predecessor", func() error {
		var err error
		e, err = scanEntry(r.pool.QueryRow(ctx,
			`SELECT `+auditColumns+` FROM audit_logs WHERE seq < $1 ORDER BY seq DESC LIMIT 1`, seq))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auditlog.Entry{}, false, nil
		}
		return auditlog.Entry{}, false, err
	}
	return e, true, nil
}

func auditWhere(f auditlog.ListFilter) *whereBuilder {
	w := &whereBuilder{}

	if f.Search != nil {
		w.search(*f.Search, "actor", "action", "resource", "resource_id")
	}
	if f.Actor != nil {
		w.add("actor = $%d", *f.Actor)
	}
	if f.Action != nil {
		w.add("action = $%d", *f.Action)
	}
	if f.Severity != nil {
		w.add("severity = $%d", string(*f.Severity))
	}
	if f.Status != nil {
		w.add("status = $%d", string(*f.Status))
	}
	if f.From != nil {
		w.add("ts >= $%d", *f.From)
	}
	if f.To != nil {
		w.add("ts <= $%d", *f.To)
	}

	return w
}

func (r *AuditLogsRepo) List(ctx context.Context, f auditlog.ListFilter) ([]auditlog.Entry, int, error) {
	w := auditWhere(f)

	q := `SELECT ` + auditColumns + `, COUNT(*) OVER() AS total FROM audit_logs` +
		w.sql() +
		` ORDER BY seq DESC` +
		w.page(f.Limit, f.Offset)

	out := make([]auditlog.Entry, 0, f.Limit)
	total := 0

	err := r.prom.ObserveDB("audit_logs.list", func() error {
		rows, err := r.pool.Query(ctx, q, w.args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows, &total)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}

	return out, total, nil
}

func (r *AuditLogsRepo) Stats(ctx context.Context, f auditlog.ListFilter) (auditlog.Stats, error) {
	w := auditWhere(f)
	var s auditlog.Stats

	err := r.prom.ObserveDB("audit_logs.stats", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT COUNT(*),
			       COUNT(*) FILTER (WHERE severity = 'info'),
			       COUNT(*) FILTER (WHERE severity = 'warning'),
			       COUNT(*) FILTER (WHERE severity = 'critical'),
			       COUNT(*) FILTER (WHERE status = 'failure')
			FROM audit_logs`+w.sql(), w.args...,
		).Scan(&s.Total, &s.Info, &s.Warning, &s.Critical, &s.Failures)
	})

	return s, err
}

// Each streams matching entries in chain order (oldest first).
func (r *AuditLogsRepo) Each(ctx context.Context, f auditlog.ListFilter, fn func(auditlog.Entry) error) error {
	w := auditWhere(f)
	q := `SELECT ` + auditColumns + ` FROM audit_logs` + w.sql() + ` ORDER BY seq ASC`

	return r.prom.ObserveDB("audit_logs.each", func() error {
		rows, err := r.pool.Query(ctx, q, w.args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}
