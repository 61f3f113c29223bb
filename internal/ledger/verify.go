package ledger

import (
	"context"
	"fmt"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/google/uuid"
)

// Verify compares the account balance with the sum of its effective ledger
// rows. A mismatch suspends the account and returns LedgerInconsistent; the
// balance is never corrected automatically.
func (e *Engine) Verify(ctx context.Context, accountID uuid.UUID) (*domain.Reconciliation, error) {
	var rec domain.Reconciliation
	err := e.store.InTx(ctx, func(r repository.Repos) error {
		acct, err := e.LockAccount(ctx, r, accountID)
		if err != nil {
			return err
		}
		sum, err := r.Transactions.SumEffective(ctx, accountID)
		if err != nil {
			return fmt.Errorf("sum ledger: %w", err)
		}

		rec = domain.Reconciliation{
			AccountID:  accountID,
			Balance:    acct.Balance,
			LedgerSum:  sum,
			Consistent: acct.Balance == sum,
			CheckedAt:  e.now(),
		}
		if rec.Consistent || acct.Status == domain.AccountSuspended {
			return nil
		}
		return r.Accounts.UpdateStatus(ctx, accountID, domain.AccountSuspended)
	})
	if err != nil {
		return nil, fmt.Errorf("verify ledger: %w", err)
	}

	if !rec.Consistent {
		e.logger.ErrorContext(ctx, "ledger inconsistent, account suspended",
			"account_id", accountID,
			"balance", rec.Balance,
			"ledger_sum", rec.LedgerSum,
		)
		e.sink.Emit(ctx, domain.NewLedgerInconsistentEvent(rec))
		return &rec, domain.ErrLedgerInconsistent(accountID.String(), rec.Balance, rec.LedgerSum)
	}
	return &rec, nil
}
