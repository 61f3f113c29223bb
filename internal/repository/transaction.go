package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const txColumns = `id, account_id, type, amount, currency, status, balance_before, balance_after,
	game_id, session_id, round_id, reference, original_transaction_id, reversed_by_transaction_id,
	processed_by, notes, metadata, created_at, updated_at, processed_at`

type transactionRepo struct {
	db DBTX
}

func (r *transactionRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (r *transactionRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	return scanTransaction(row)
}

func (r *transactionRepo) FindByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE reference = $1`, reference)
	return scanTransaction(row)
}

func (r *transactionRepo) Insert(ctx context.Context, tx *domain.Transaction) error {
	notes, err := json.Marshal(notesOrEmpty(tx.Notes))
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}
	meta := tx.Metadata
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		tx.ID,
		tx.AccountID,
		string(tx.Type),
		infra.Int64ToNumeric(tx.Amount),
		tx.Currency,
		string(tx.Status),
		infra.Int64ToNumeric(tx.BalanceBefore),
		infra.Int64ToNumeric(tx.BalanceAfter),
		tx.GameID,
		tx.SessionID,
		tx.RoundID,
		tx.Reference,
		tx.OriginalTransactionID,
		tx.ReversedByTransactionID,
		tx.ProcessedBy,
		notes,
		[]byte(meta),
		tx.CreatedAt,
		tx.UpdatedAt,
		tx.ProcessedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "transactions_reference_key") {
			return domain.ErrDuplicateReference(tx.Reference)
		}
		if isUniqueViolation(err, "transactions_one_reversal") {
			return domain.ErrInvalidState("transaction already has a reversal")
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *transactionRepo) MarkCompleted(ctx context.Context, id uuid.UUID, before, after int64, processedBy *uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET status = 'completed', balance_before = $2, balance_after = $3,
		    processed_by = COALESCE($4, processed_by), processed_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'pending'`,
		id, infra.Int64ToNumeric(before), infra.Int64ToNumeric(after), processedBy, at)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *transactionRepo) MarkClosed(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, processedBy *uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET status = $2, processed_by = COALESCE($3, processed_by), processed_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'`,
		id, string(status), processedBy, at)
	if err != nil {
		return fmt.Errorf("mark closed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *transactionRepo) MarkReversed(ctx context.Context, id, reversedBy uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET status = 'reversed', reversed_by_transaction_id = $2, updated_at = $3
		WHERE id = $1 AND status = 'completed'`,
		id, reversedBy, at)
	if err != nil {
		return fmt.Errorf("mark reversed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *transactionRepo) AppendNote(ctx context.Context, id uuid.UUID, note domain.Note) error {
	data, err := json.Marshal([]domain.Note{note})
	if err != nil {
		return fmt.Errorf("marshal note: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET notes = notes || $2::jsonb, updated_at = now()
		WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("append note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("transaction", id.String())
	}
	return nil
}

func (r *transactionRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 101 {
		limit = 20
	}

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = r.db.Query(ctx, `
			SELECT `+txColumns+`
			FROM transactions
			WHERE account_id = $1
			  AND (created_at, id) <= ((SELECT created_at, id FROM transactions WHERE id = $2))
			ORDER BY created_at DESC, id DESC
			LIMIT $3`, accountID, *cursor, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+txColumns+`
			FROM transactions
			WHERE account_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, accountID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (r *transactionRepo) ListByRound(ctx context.Context, roundID string) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE round_id = $1
		ORDER BY created_at ASC, id ASC`, roundID)
	if err != nil {
		return nil, fmt.Errorf("query round transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (r *transactionRepo) SumEffective(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum pgtype.Numeric
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE account_id = $1 AND status IN ('completed', 'reversed')`, accountID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return infra.NumericToInt64(sum)
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	tx, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return tx, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func scanTransactionRow(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amountNum, beforeNum, afterNum pgtype.Numeric
	var txType, status string
	var notes []byte
	err := row.Scan(
		&tx.ID, &tx.AccountID, &txType, &amountNum, &tx.Currency, &status,
		&beforeNum, &afterNum,
		&tx.GameID, &tx.SessionID, &tx.RoundID, &tx.Reference,
		&tx.OriginalTransactionID, &tx.ReversedByTransactionID, &tx.ProcessedBy,
		&notes, &tx.Metadata, &tx.CreatedAt, &tx.UpdatedAt, &tx.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	tx.Type = domain.TransactionType(txType)
	tx.Status = domain.TransactionStatus(status)

	if tx.Amount, err = infra.NumericToInt64(amountNum); err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	if tx.BalanceBefore, err = infra.NumericToInt64(beforeNum); err != nil {
		return nil, fmt.Errorf("convert balance_before: %w", err)
	}
	if tx.BalanceAfter, err = infra.NumericToInt64(afterNum); err != nil {
		return nil, fmt.Errorf("convert balance_after: %w", err)
	}
	if err := json.Unmarshal(notes, &tx.Notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	return &tx, nil
}

func notesOrEmpty(n []domain.Note) []domain.Note {
	if n == nil {
		return []domain.Note{}
	}
	return n
}
