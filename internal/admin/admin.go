// Package admin holds operator tools: balance adjustments, reversals and
// account status changes. Callers are authorised by the HTTP layer.
package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/ledger"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service runs admin commands against the ledger.
type Service struct {
	ledger *ledger.Engine
	store  repository.Store
	logger *slog.Logger
}

// NewService creates an admin service.
func NewService(eng *ledger.Engine, logger *slog.Logger) *Service {
	return &Service{ledger: eng, store: eng.Store(), logger: logger}
}

// AdjustBalance posts a signed adjustment. It is allowed on accounts in any
// status; a subtraction that would overdraw fails with InsufficientBalance.
func (s *Service) AdjustBalance(ctx context.Context, p domain.AdjustParams) (*domain.CommandResult, error) {
	if err := validate.Struct(p); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	ref := p.Reference
	if ref == "" {
		ref = ledger.NewReference("adj")
	} else if err := domain.ValidateReference(ref); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	actor := p.ActorID

	res, err := s.ledger.RecordTransaction(ctx, domain.PostParams{
		AccountID:   p.AccountID,
		Type:        domain.TxAdjustment,
		Amount:      p.Direction.Signed(p.Amount),
		Reference:   ref,
		ProcessedBy: &actor,
		Notes:       []domain.Note{{At: s.ledger.Now(), Author: actor.String(), Text: p.Reason}},
	})
	if err != nil {
		return nil, fmt.Errorf("adjust balance: %w", err)
	}

	s.logger.InfoContext(ctx, "balance adjusted",
		"account_id", p.AccountID,
		"actor_id", actor,
		"direction", p.Direction,
		"amount", p.Amount,
		"transaction_id", res.Transaction.ID,
	)
	return res, nil
}

// ReverseTransaction reverses a completed row and stamps an audit note on
// the original in the same unit of work.
func (s *Service) ReverseTransaction(ctx context.Context, req domain.ReverseRequest) (*domain.CommandResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	actor := req.ActorID

	var res *domain.CommandResult
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		res, err = s.ledger.ReverseIn(ctx, r, domain.ReverseParams{
			TransactionID: req.TransactionID,
			ActorID:       &actor,
			Reason:        req.Reason,
		})
		if err != nil {
			return err
		}
		audit := domain.Note{
			At:     s.ledger.Now(),
			Author: actor.String(),
			Text:   fmt.Sprintf("admin reversal by %s", actor),
		}
		if err := r.Transactions.AppendNote(ctx, req.TransactionID, audit); err != nil {
			return fmt.Errorf("append audit note: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reverse transaction: %w", err)
	}
	s.ledger.Emit(ctx, res.Events...)

	s.logger.InfoContext(ctx, "transaction reversed",
		"transaction_id", req.TransactionID,
		"reversal_id", res.Transaction.ID,
		"actor_id", actor,
	)
	return res, nil
}

// SetAccountStatus moves an account to status, for example to unsuspend it
// after a manual reconciliation.
func (s *Service) SetAccountStatus(ctx context.Context, accountID uuid.UUID, status domain.AccountStatus, actorID uuid.UUID) (*domain.Account, error) {
	if !status.Valid() {
		return nil, domain.ErrValidation(fmt.Sprintf("unknown account status %q", status))
	}

	var acct *domain.Account
	var from domain.AccountStatus
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		if acct, err = s.ledger.LockAccount(ctx, r, accountID); err != nil {
			return err
		}
		from = acct.Status
		if from == status {
			return nil
		}
		if err := r.Accounts.UpdateStatus(ctx, accountID, status); err != nil {
			return fmt.Errorf("update account status: %w", err)
		}
		acct.Status = status
		acct.UpdatedAt = s.ledger.Now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set account status: %w", err)
	}

	if from != status {
		s.logger.InfoContext(ctx, "account status changed",
			"account_id", accountID, "from", from, "to", status, "actor_id", actorID)
	}
	return acct, nil
}
