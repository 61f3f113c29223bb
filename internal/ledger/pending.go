package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/google/uuid"
)

// CreatePending records a pending transaction. Pending rows have no balance
// effect until CompletePending applies them.
func (e *Engine) CreatePending(ctx context.Context, p domain.PostParams) (*domain.Transaction, error) {
	if err := validatePost(p); err != nil {
		return nil, err
	}
	if err := checkExternalReference(p.Reference); err != nil {
		return nil, err
	}

	var tx *domain.Transaction
	err := e.store.InTx(ctx, func(r repository.Repos) error {
		acct, err := e.LockAccount(ctx, r, p.AccountID)
		if err != nil {
			return err
		}
		if !p.Type.Administrative() && !acct.IsActive() {
			return domain.ErrAccountNotActive(acct.ID.String())
		}
		existing, err := r.Transactions.FindByReference(ctx, p.Reference)
		if err != nil {
			return fmt.Errorf("find by reference: %w", err)
		}
		if existing != nil {
			return domain.ErrDuplicateReference(p.Reference)
		}

		now := e.now()
		tx = &domain.Transaction{
			ID:            uuid.New(),
			AccountID:     acct.ID,
			Type:          p.Type,
			Amount:        p.Type.NormalizeAmount(p.Amount),
			Currency:      acct.Currency,
			Status:        domain.TxPending,
			BalanceBefore: acct.Balance,
			BalanceAfter:  acct.Balance,
			GameID:        p.GameID,
			SessionID:     p.SessionID,
			RoundID:       p.RoundID,
			Reference:     p.Reference,
			ProcessedBy:   p.ProcessedBy,
			Notes:         p.Notes,
			Metadata:      ensureJSON(p.Metadata),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return r.Transactions.Insert(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("create pending: %w", err)
	}
	return tx, nil
}

// CompletePending applies a pending transaction to the balance with the same
// checks Post performs.
func (e *Engine) CompletePending(ctx context.Context, p domain.CompletePendingParams) (*domain.CommandResult, error) {
	var res *domain.CommandResult
	err := e.store.InTx(ctx, func(r repository.Repos) error {
		tx, err := r.Transactions.FindByID(ctx, p.TransactionID)
		if err != nil {
			return fmt.Errorf("find transaction: %w", err)
		}
		if tx == nil {
			return domain.ErrNotFound("transaction", p.TransactionID.String())
		}
		acct, err := e.LockAccount(ctx, r, tx.AccountID)
		if err != nil {
			return err
		}
		if tx, err = r.Transactions.LockForUpdate(ctx, p.TransactionID); err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}
		if tx.Status != domain.TxPending {
			return domain.ErrInvalidState(fmt.Sprintf("transaction is %s, not pending", tx.Status))
		}
		if !tx.Type.Administrative() && !acct.IsActive() {
			return domain.ErrAccountNotActive(acct.ID.String())
		}

		updated, err := e.applyDelta(ctx, r, acct, tx.Amount)
		if err != nil {
			return err
		}
		now := e.now()
		if err := r.Transactions.MarkCompleted(ctx, tx.ID, acct.Balance, updated.Balance, p.ActorID, now); err != nil {
			return transitionErr(err)
		}
		if p.Note != "" {
			note := domain.Note{At: now, Author: actorName(p.ActorID), Text: p.Note}
			if err := r.Transactions.AppendNote(ctx, tx.ID, note); err != nil {
				return fmt.Errorf("append note: %w", err)
			}
			tx.Notes = append(tx.Notes, note)
		}

		tx.Status = domain.TxCompleted
		tx.BalanceBefore = acct.Balance
		tx.BalanceAfter = updated.Balance
		if p.ActorID != nil {
			tx.ProcessedBy = p.ActorID
		}
		tx.ProcessedAt = &now
		tx.UpdatedAt = now
		res = &domain.CommandResult{
			Transaction: tx,
			Account:     updated,
			Events:      []domain.Event{domain.NewTransactionCompletedEvent(tx)},
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete pending: %w", err)
	}
	e.sink.Emit(ctx, res.Events...)
	return res, nil
}

// ClosePending moves a pending transaction to failed or cancelled.
func (e *Engine) ClosePending(ctx context.Context, p domain.ClosePendingParams) (*domain.Transaction, error) {
	if p.Status != domain.TxFailed && p.Status != domain.TxCancelled {
		return nil, domain.ErrValidation("pending transactions close as failed or cancelled")
	}

	var tx *domain.Transaction
	err := e.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		if tx, err = r.Transactions.LockForUpdate(ctx, p.TransactionID); err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}
		if tx == nil {
			return domain.ErrNotFound("transaction", p.TransactionID.String())
		}
		if tx.Status != domain.TxPending {
			return domain.ErrInvalidState(fmt.Sprintf("transaction is %s, not pending", tx.Status))
		}

		now := e.now()
		if err := r.Transactions.MarkClosed(ctx, tx.ID, p.Status, p.ActorID, now); err != nil {
			return transitionErr(err)
		}
		if p.Reason != "" {
			note := domain.Note{At: now, Author: actorName(p.ActorID), Text: p.Reason}
			if err := r.Transactions.AppendNote(ctx, tx.ID, note); err != nil {
				return fmt.Errorf("append note: %w", err)
			}
			tx.Notes = append(tx.Notes, note)
		}
		tx.Status = p.Status
		tx.ProcessedAt = &now
		tx.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("close pending: %w", err)
	}
	return tx, nil
}

func transitionErr(err error) error {
	if errors.Is(err, repository.ErrStaleState) {
		return domain.ErrInvalidState("transaction is no longer pending")
	}
	return fmt.Errorf("transition transaction: %w", err)
}
