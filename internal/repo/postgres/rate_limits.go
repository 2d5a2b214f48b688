package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/impacthub/internal/domain/ratelimit"
	"github.com/geocoder89/impacthub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RateLimitsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRateLimitsRepo(pool *pgxpool.Pool, prom *observability.Prom) *RateLimitsRepo {
	return &RateLimitsRepo{pool: pool, prom: prom}
}

const rateLimitColumns = `id, endpoint, method, limit_count, window_seconds, created_at, updated_at`

func scanRule(row rowScanner) (ratelimit.Rule, error) {
	var rl ratelimit.Rule

	err := row.Scan(&rl.ID, &rl.Endpoint, &rl.Method, &rl.Limit, &rl.Window, &rl.CreatedAt, &rl.UpdatedAt)
	if err != nil {
		return ratelimit.Rule{}, err
	}

	return rl.WithUsage(0), nil
}

func (r *RateLimitsRepo) Create(ctx context.Context, rl ratelimit.Rule) error {
	err := r.prom.ObserveDB("rate_limits.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO rate_limits (`+rateLimitColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			rl.ID, rl.Endpoint, rl.Method, rl.Limit, rl.Window, rl.CreatedAt, rl.UpdatedAt,
		)
		return err
	})

	if IsUniqueViolation(err) && constraintName(err) == "rate_limits_endpoint_method_uniq" {
		return ratelimit.ErrAlreadyExists
	}
	return err
}

func (r *RateLimitsRepo) GetByID(ctx context.Context, id string) (ratelimit.Rule, error) {
	var rl ratelimit.Rule

	err := r.prom.ObserveDB("rate_limits.get_by_id", func() error {
		var err error
		rl, err = scanRule(r.pool.QueryRow(ctx, `SELECT `+rateLimitColumns+` FROM rate_limits WHERE id = $1`, id))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ratelimit.Rule{}, ratelimit.ErrNotFound
		}
		return ratelimit.Rule{}, err
	}
	return rl, nil
}

// List returns every rule matching the search and method filters. The rule
// table is small and status depends on live counters, so callers page in memory.
func (r *RateLimitsRepo) List(ctx context.Context, f ratelimit.ListFilter) ([]ratelimit.Rule, error) {
	var w whereBuilder

	if f.Search != nil {
		w.search(*f.Search, "endpoint")
	}
	if f.Method != nil {
		w.add("method = UPPER($%d)", *f.Method)
	}

	q := `SELECT ` + rateLimitColumns + ` FROM rate_limits` + w.sql() + ` ORDER BY endpoint ASC, method ASC`

	var out []ratelimit.Rule

	err := r.prom.ObserveDB("rate_limits.list", func() error {
		rows, err := r.pool.Query(ctx, q, w.args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rl, err := scanRule(rows)
			if err != nil {
				return err
			}
			out = append(out, rl)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *RateLimitsRepo) ListAll(ctx context.Context) ([]ratelimit.Rule, error) {
	return r.List(ctx, ratelimit.ListFilter{})
}

func (r *RateLimitsRepo) Update(ctx context.Context, id string, req ratelimit.UpdateRequest) (ratelimit.Rule, error) {
	var rl ratelimit.Rule

	err := r.prom.ObserveDB("rate_limits.update", func() error {
		var err error
		rl, err = scanRule(r.pool.QueryRow(ctx, `
			UPDATE rate_limits
			SET limit_count = COALESCE($2, limit_count),
			    window_seconds = COALESCE($3, window_seconds),
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+rateLimitColumns,
			id, req.Limit, req.Window,
		))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ratelimit.Rule{}, ratelimit.ErrNotFound
		}
		return ratelimit.Rule{}, err
	}
	return rl, nil
}

func (r *RateLimitsRepo) Delete(ctx context.Context, id string) error {
	var tag pgconn.CommandTag

	err := r.prom.ObserveDB("rate_limits.delete", func() error {
		var err error
		tag, err = r.pool.Exec(ctx, `DELETE FROM rate_limits WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return ratelimit.ErrNotFound
	}
	return nil
}
