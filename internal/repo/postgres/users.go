package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

const userColumns = `id, email, password_hash, name, role, status, created_at, last_active, updated_at`

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User
	var role, status string

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&role,
		&status,
		&u.JoinDate,
		&u.LastActive,
		&u.UpdatedAt,
	)
	if err != nil {
		return user.User{}, err
	}

	u.Role = user.Role(role)
	u.Status = user.Status(status)

	return u.WithPortalAccess(), nil
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) error {
	err := r.prom.ObserveDB("users.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO users (id, email, password_hash, name, role, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			u.ID, u.Email, u.PasswordHash, u.Name, string(u.Role), string(u.Status), u.JoinDate, u.UpdatedAt,
		)
		return err
	})

	if IsUniqueViolation(err) {
		return user.ErrEmailAlreadyUsed
	}
	return err
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User

	err := r.prom.ObserveDB("users.get_by_email", func() error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrUserNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User

	err := r.prom.ObserveDB("users.get_by_id", func() error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrUserNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) List(ctx context.Context, f user.ListFilter) ([]user.User, int, error) {
	var w whereBuilder

	if f.Search != nil {
		w.search(*f.Search, "name", "email")
	}
	if f.Role != nil {
		w.add("role = $%d", string(*f.Role))
	}
	if f.Status != nil {
		w.add("status = $%d", string(*f.Status))
	}

	q := `SELECT ` + userColumns + `, COUNT(*) OVER() AS total FROM users` +
		w.sql() +
		` ORDER BY created_at DESC, id DESC` +
		w.page(f.Limit, f.Offset)

	out := make([]user.User, 0, f.Limit)
	total := 0

	err := r.prom.ObserveDB("users.list", func() error {
		rows, err := r.pool.Query(ctx, q, w.args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var u user.User
			var role, status string

			if err := rows.Scan(
				&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role, &status,
				&u.JoinDate, &u.LastActive, &u.UpdatedAt, &total,
			); err != nil {
				return err
			}

			u.Role = user.Role(role)
			u.Status = user.Status(status)
			out = append(out, u.WithPortalAccess())
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}

	return out, total, nil
}

func (r *UsersRepo) Stats(ctx context.Context) (user.Stats, error) {
	s := user.Stats{ByRole: make(map[user.Role]int, len(user.Roles))}

	err := r.prom.ObserveDB("users.stats", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT role,
			       COUNT(*),
			       COUNT(*) FILTER (WHERE status = 'active'),
			       COUNT(*) FILTER (WHERE status = 'inactive'),
			       COUNT(*) FILTER (WHERE status = 'suspended')
			FROM users
			GROUP BY role
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var role string
			var total, active, inactive, suspended int

			if err := rows.Scan(&role, &total, &active, &inactive, &suspended); err != nil {
				return err
			}

			s.ByRole[user.Role(role)] = total
			s.Total += total
			s.Active += active
			s.Inactive += inactive
			s.Suspended += suspended
		}
		return rows.Err()
	})
	if err != nil {
		return user.Stats{}, err
	}

	for _, role := range user.Roles {
		if _, ok := s.ByRole[role]; !ok {
			s.ByRole[role] = 0
		}
	}

	return s, nil
}

// Update applies the non-nil fields of req.
func (r *UsersRepo) Update(ctx context.Context, id string, req user.UpdateRequest) (user.User, error) {
	var u user.User

	err := r.prom.ObserveDB("users.update", func() error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx, `
			UPDATE users
			SET name = COALESCE($2, name),
			    role = COALESCE($3, role),
			    status = COALESCE($4, status),
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+userColumns,
			id, req.Name, optString(req.Role), optString(req.Status),
		))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrUserNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	var tag pgconn.CommandTag

	err := r.prom.ObserveDB("users.delete", func() error {
		var err error
		tag, err = r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return user.ErrUserNotFound
	}
	return nil
}

func (r *UsersRepo) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	return r.prom.ObserveDB("users.touch_last_active", func() error {
		_, err := r.pool.Exec(ctx, `UPDATE users SET last_active = $2 WHERE id = $1`, id, at)
		return err
	})
}
