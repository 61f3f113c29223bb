package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/google/uuid"
)

// ReverseIn compensates a completed transaction with a reversal row of the
// opposite sign and moves the original to reversed. Must be called within a
// unit of work; the account lock is taken before the transaction lock, the
// same order Post uses.
func (e *Engine) ReverseIn(ctx context.Context, r repository.Repos, p domain.ReverseParams) (*domain.CommandResult, error) {
	found, err := r.Transactions.FindByID(ctx, p.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	if found == nil {
		return nil, domain.ErrNotFound("transaction", p.TransactionID.String())
	}

	acct, err := e.LockAccount(ctx, r, found.AccountID)
	if err != nil {
		return nil, err
	}
	orig, err := r.Transactions.LockForUpdate(ctx, p.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("lock transaction: %w", err)
	}
	if err := reversible(orig); err != nil {
		return nil, err
	}

	amount := -orig.Amount
	updated, err := e.applyDelta(ctx, r, acct, amount)
	if err != nil {
		return nil, err
	}

	now := e.now()
	author := actorName(p.ActorID)
	rev := &domain.Transaction{
		ID:                    uuid.New(),
		AccountID:             orig.AccountID,
		Type:                  domain.TxReversal,
		Amount:                amount,
		Currency:              orig.Currency,
		Status:                domain.TxCompleted,
		BalanceBefore:         acct.Balance,
		BalanceAfter:          updated.Balance,
		GameID:                orig.GameID,
		SessionID:             orig.SessionID,
		RoundID:               orig.RoundID,
		Reference:             domain.ReversalReference(orig.Reference),
		OriginalTransactionID: &orig.ID,
		ProcessedBy:           p.ActorID,
		Notes:                 []domain.Note{{At: now, Author: author, Text: p.Reason}},
		Metadata:              ensureJSON(nil),
		CreatedAt:             now,
		UpdatedAt:             now,
		ProcessedAt:           &now,
	}
	if err := r.Transactions.Insert(ctx, rev); err != nil {
		return nil, fmt.Errorf("insert reversal: %w", err)
	}

	if err := r.Transactions.MarkReversed(ctx, orig.ID, rev.ID, now); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, domain.ErrInvalidState("transaction changed while reversing")
		}
		return nil, fmt.Errorf("mark reversed: %w", err)
	}
	note := domain.Note{At: now, Author: author, Text: fmt.Sprintf("reversed by %s: %s", rev.ID, p.Reason)}
	if err := r.Transactions.AppendNote(ctx, orig.ID, note); err != nil {
		return nil, fmt.Errorf("append note: %w", err)
	}
	orig.Status = domain.TxReversed
	orig.ReversedByTransactionID = &rev.ID
	orig.Notes = append(orig.Notes, note)

	return &domain.CommandResult{
		Transaction: rev,
		Account:     updated,
		Events: []domain.Event{
			domain.NewTransactionCompletedEvent(rev),
			domain.NewTransactionReversedEvent(orig, rev),
		},
	}, nil
}

// Reverse runs ReverseIn in its own unit of work.
func (e *Engine) Reverse(ctx context.Context, p domain.ReverseParams) (*domain.CommandResult, error) {
	var res *domain.CommandResult
	err := e.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		res, err = e.ReverseIn(ctx, r, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reverse transaction: %w", err)
	}
	e.sink.Emit(ctx, res.Events...)
	return res, nil
}

func reversible(tx *domain.Transaction) error {
	if tx == nil {
		return domain.ErrNotFound("transaction", "")
	}
	if tx.Type == domain.TxReversal {
		return domain.ErrInvalidState("reversal transactions cannot be reversed")
	}
	if tx.Status != domain.TxCompleted {
		return domain.ErrInvalidState(fmt.Sprintf("transaction is %s; only completed transactions can be reversed", tx.Status))
	}
	return nil
}
