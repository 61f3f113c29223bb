package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const accountColumns = `id, balance, currency, status, created_at, updated_at`

type accountRepo struct {
	db DBTX
}

func (r *accountRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (r *accountRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

func (r *accountRepo) Create(ctx context.Context, a *domain.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, balance, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID,
		infra.Int64ToNumeric(a.Balance),
		a.Currency,
		string(a.Status),
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// UpdateBalance uses server-side arithmetic; the balance >= 0 check
// constraint rejects anything the caller failed to catch.
func (r *accountRepo) UpdateBalance(ctx context.Context, id uuid.UUID, delta int64) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING `+accountColumns,
		infra.Int64ToNumeric(delta), id)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, domain.ErrNotFound("account", id.String())
	}
	return acct, nil
}

func (r *accountRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET status = $1, updated_at = now() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("account", id.String())
	}
	return nil
}

func (r *accountRepo) ListIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM accounts WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var balNum pgtype.Numeric
	var status string
	err := row.Scan(&a.ID, &balNum, &a.Currency, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Status = domain.AccountStatus(status)

	a.Balance, err = infra.NumericToInt64(balNum)
	if err != nil {
		return nil, fmt.Errorf("convert balance: %w", err)
	}
	return &a, nil
}
