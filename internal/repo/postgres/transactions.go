package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/impacthub/internal/domain/transaction"
	"github.com/geocoder89/impacthub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TransactionsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewTransactionsRepo(pool *pgxpool.Pool, prom *observability.Prom) *TransactionsRepo {
	return &TransactionsRepo{pool: pool, prom: prom}
}

const transactionColumns = `id, COALESCE(user_id::text, ''), ts, type, amount, currency, status, fees, net_amount,
	reference, description, updated_at`

func scanTransaction(row rowScanner, extra ...any) (transaction.Transaction, error) {
	var t transaction.Transaction
	var typ, status string

	dest := []any{
		&t.ID, &t.UserID, &t.Timestamp, &typ, &t.Amount, &t.Currency, &status, &t.Fees, &t.NetAmount,
		&t.Reference, &t.Description, &t.UpdatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return transaction.Transaction{}, err
	}

	t.Type = transaction.Type(typ)
	t.Status = transaction.Status(status)
	return t, nil
}

func (r *TransactionsRepo) Create(ctx context.Context, t transaction.Transaction) error {
	return r.prom.ObserveDB("transactions.create", func() error {
		_, err := r.pool.Exec(ctx, insertTransactionSQL, transactionArgs(t)...)
		return err
	})
}

// CreateIfAbsent inserts t unless a row with the same reference exists, in
// which case it returns the existing row and created=false.
func (r *TransactionsRepo) CreateIfAbsent(ctx context.Context, t transaction.Transaction) (transaction.Transaction, bool, error) {
	err := r.prom.ObserveDB("transactions.create_if_absent", func() error {
		_, err := r.pool.Exec(ctx, insertTransactionSQL, transactionArgs(t)...)
		return err
	})
	if err == nil {
		return t, true, nil
	}

	if !IsUniqueViolation(err) || t.Reference == nil {
		return transaction.Transaction{}, false, err
	}

	existing, gerr := r.GetByReference(ctx, *t.Reference)
	if gerr != nil {
		return transaction.Transaction{}, false, gerr
	}
	return existing, false, nil
}

const insertTransactionSQL = `
	INSERT INTO transactions (id, user_id, ts, type, amount, currency, status, fees, net_amount, reference, description, updated_at)
	VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func transactionArgs(t transaction.Transaction) []any {
	return []any{
		t.ID, t.UserID, t.Timestamp, string(t.Type), t.Amount, t.Currency, string(t.Status),
		t.Fees, t.NetAmount, t.Reference, t.Description, t.UpdatedAt,
	}
}

func (r *TransactionsRepo) GetByID(ctx context.Context, id string) (transaction.Transaction, error) {
	return r.getOne(ctx, "transactions.get_by_id", `WHERE id = $1`, id)
}

func (r *TransactionsRepo) GetByReference(ctx context.Context, ref string) (transaction.Transaction, error) {
	return r.getOne(ctx, "transactions.get_by_reference", `WHERE reference = $1`, ref)
}

func (r *TransactionsRepo) getOne(ctx context.Context, op, where string, arg any) (transaction.Transaction, error) {
	var t transaction.Transaction

	err := r.prom.ObserveDB(op, func() error {
		var err error
		t, err = scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions `+where, arg))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transaction.Transaction{}, transaction.ErrNotFound
		}
		return transaction.Transaction{}, err
	}
	return t, nil
}

func transactionWhere(f transaction.ListFilter) *whereBuilder {
	w := &whereBuilder{}

	if f.Search != nil {
		w.search(*f.Search, "id::text", "reference", "description")
	}
	if f.UserID != nil {
		w.add("user_id = $%d", *f.UserID)
	}
	if f.Type != nil {
		w.add("type = $%d", string(*f.Type))
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

func (r *TransactionsRepo) List(ctx context.Context, f transaction.ListFilter) ([]transaction.Transaction, int, error) {
	w := transactionWhere(f)

	q := `SELECT ` + transactionColumns + `, COUNT(*) OVER() AS total FROM transactions` +
		w.sql() +
		` ORDER BY ts DESC, id DESC` +
		w.page(f.Limit, f.Offset)

	out := make([]transaction.Transaction, 0, f.Limit)
	total := 0

	err := r.prom.ObserveDB("transactions.list", func() error {
		rows, err := r.pool.Query(ctx, q, w.args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTransaction(rows, &total)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}

	return out, total, nil
}

// Stats sums the whole filtered set, not just the current page.
func (r *TransactionsRepo) Stats(ctx context.Context, f transaction.ListFilter) (transaction.Stats, error) {
	w := transactionWhere(f)
	var s transaction.Stats

	err := r.prom.ObserveDB("transactions.stats", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT COUNT(*),
			       COALESCE(SUM(amount), 0),
			       COALESCE(SUM(fees), 0),
			       COALESCE(SUM(net_amount), 0),
			       COUNT(*) FILTER (WHERE status = 'completed'),
			       COUNT(*) FILTER (WHERE status = 'pending'),
			       COUNT(*) FILTER (WHERE status = 'failed')
			FROM transactions`+w.sql(), w.args...,
		).Scan(&s.Count, &s.TotalAmount, &s.TotalFees, &s.TotalNet, &s.Completed, &s.Pending, &s.Failed)
	})

	return s, err
}

func (r *TransactionsRepo) UpdateStatus(ctx context.Context, id string, status transaction.Status, reference *string) (transaction.Transaction, error) {
	var t transaction.Transaction

	err := r.prom.ObserveDB("transactions.update_status", func() error {
		var err error
		t, err = scanTransaction(r.pool.QueryRow(ctx, `
			UPDATE transactions
			SET status = $2,
			    reference = COALESCE($3, reference),
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+transactionColumns,
			id, string(status), reference,
		))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transaction.Transaction{}, transaction.ErrNotFound
		}
		return transaction.Transaction{}, err
	}
	return t, nil
}
