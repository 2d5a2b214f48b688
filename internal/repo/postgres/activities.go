package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/impacthub/internal/domain/activity"
	"github.com/geocoder89/impacthub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ActivitiesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewActivitiesRepo(pool *pgxpool.Pool, prom *observability.Prom) *ActivitiesRepo {
	return &ActivitiesRepo{pool: pool, prom: prom}
}

const activityColumns = `id, user_id, type, title, description, proof_image, credits, status,
	review_note, reviewed_by, reviewed_at, submitted_date, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner, extra ...any) (activity.Activity, error) {
	var a activity.Activity
	var status string

	dest := []any{
		&a.ID, &a.UserID, &a.Type, &a.Title, &a.Description, &a.ProofImage, &a.Credits, &status,
		&a.ReviewNote, &a.ReviewedBy, &a.ReviewedAt, &a.SubmittedDate, &a.UpdatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return activity.Activity{}, err
	}

	a.Status = activity.Status(status)
	return a, nil
}

func (r *ActivitiesRepo) Create(ctx context.Context, a activity.Activity) error {
	return r.prom.ObserveDB("activities.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO activities (id, user_id, type, title, description, proof_image, credits, status, submitted_date, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			a.ID, a.UserID, a.Type, a.Title, a.Description, a.ProofImage, a.Credits, string(a.Status), a.SubmittedDate, a.UpdatedAt,
		)
		return err
	})
}

func (r *ActivitiesRepo) GetByID(ctx context.Context, id string) (activity.Activity, error) {
	var a activity.Activity

	err := r.prom.ObserveDB("activities.get_by_id", func() error {
		var err error
		a, err = scanActivity(r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = $1`, id))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return activity.Activity{}, activity.ErrNotFound
		}
		return activity.Activity{}, err
	}
	return a, nil
}

func activityWhere(f activity.ListFilter) *whereBuilder {
	w := &whereBuilder{}

	if f.Search != nil {
		w.search(*f.Search, "title", "description", "type")
	}
	if f.UserID != nil {
		w.add("user_id = $%d", *f.UserID)
	}
	if f.Type != nil {
		w.add("type = $%d", *f.Type)
	}
	if f.Status != nil {
		w.add("status = $%d", string(*f.Status))
	}

	return w
}

func (r *ActivitiesRepo) List(ctx context.Context, f activity.ListFilter) ([]activity.Activity, int, error) {
	w := activityWhere(f)

	q := `SELECT ` + activityColumns + `, COUNT(*) OVER() AS total FROM activities` +
		w.sql() +
		` ORDER BY submitted_date DESC, id DESC` +
		w.page(f.Limit, f.Offset)

	out := make([]activity.Activity, 0, f.Limit)
	total := 0

	err := r.prom.ObserveDB("activities.list", func() error {
		rows, err := r.pool.Query(ctx, q, w.args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			a, err := scanActivity(rows, &total)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}

	return out, total, nil
}

// Stats aggregates over the same filter as List minus paging, so the cards match the table.
func (r *ActivitiesRepo) Stats(ctx context.Context, f activity.ListFilter) (activity.Stats, error) {
	w := activityWhere(f)
	var s activity.Stats

	err := r.prom.ObserveDB("activities.stats", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT COUNT(*),
			       COUNT(*) FILTER (WHERE status = 'pending'),
			       COUNT(*) FILTER (WHERE status = 'verified'),
			       COUNT(*) FILTER (WHERE status = 'unverified'),
			       COALESCE(SUM(credits) FILTER (WHERE status = 'verified'), 0)
			FROM activities`+w.sql(), w.args...,
		).Scan(&s.Total, &s.Pending, &s.Verified, &s.Unverified, &s.TotalCredits)
	})

	return s, err
}

type ReviewInput struct {
	To         activity.Status
	Credits    *int
	Note       *string
	ReviewedBy string
	At         time.Time
}

// Review moves an activity to a new status under a row lock. onReviewed runs
// inside the same transaction, so a job it enqueues commits with the review.
func (r *ActivitiesRepo) Review(
	ctx context.Context,
	id string,
	in ReviewInput,
	onReviewed func(ctx context.Context, tx pgx.Tx, before, after activity.Activity) error,
) (activity.Activity, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return activity.Activity{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var before activity.Activity

	err = r.prom.ObserveDB("activities.review.lock", func() error {
		var err error
		before, err = scanActivity(tx.QueryRow(ctx,
			`SELECT `+activityColumns+` FROM activities WHERE id = $1 FOR UPDATE`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return activity.Activity{}, activity.ErrNotFound
		}
		return activity.Activity{}, err
	}

	if before.Status == in.To {
		return activity.Activity{}, activity.ErrAlreadyReviewed
	}
	if !activity.CanTransition(before.Status, in.To) {
		return activity.Activity{}, activity.ErrInvalidTransition
	}

	var after activity.Activity

	err = r.prom.ObserveDB("activities.review.update", func() error {
		var err error
		after, err = scanActivity(tx.QueryRow(ctx, `
			UPDATE activities
			SET status = $2,
			    credits = COALESCE($3, credits),
			    review_note = $4,
			    reviewed_by = $5,
			    reviewed_at = $6,
			    updated_at = $6
			WHERE id = $1
			RETURNING `+activityColumns,
			id, string(in.To), in.Credits, in.Note, in.ReviewedBy, in.At,
		))
		return err
	})
	if err != nil {
		return activity.Activity{}, err
	}

	if onReviewed != nil {
		if err := onReviewed(ctx, tx, before, after); err != nil {
			return activity.Activity{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return activity.Activity{}, err
	}

	return after, nil
}
