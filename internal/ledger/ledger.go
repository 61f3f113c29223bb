package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/events"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/google/uuid"
)

// Engine owns every balance mutation. All writes go through three primitives
// that run inside the caller's unit of work:
//  1. LockAccount: row-level pessimistic lock
//  2. Post: idempotency check, balance update and append-only insert
//  3. ReverseIn: compensating row plus the original's status transition
//
// The exported wrappers open their own unit of work and emit events after commit.
type Engine struct {
	store  repository.Store
	sink   events.Sink
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a ledger engine over the given store.
func NewEngine(store repository.Store, sink events.Sink, logger *slog.Logger, opts ...Option) *Engine {
	if sink == nil {
		sink = events.Nop{}
	}
	e := &Engine{store: store, sink: sink, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying store so collaborators share one unit of work.
func (e *Engine) Store() repository.Store { return e.store }

// Emit forwards committed events to the configured sink.
func (e *Engine) Emit(ctx context.Context, evts ...domain.Event) {
	e.sink.Emit(ctx, evts...)
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.now() }

// LockAccount acquires a row-level lock and returns the account.
// Must be called within a unit of work.
func (e *Engine) LockAccount(ctx context.Context, r repository.Repos, accountID uuid.UUID) (*domain.Account, error) {
	acct, err := r.Accounts.LockForUpdate(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	if acct == nil {
		return nil, domain.ErrNotFound("account", accountID.String())
	}
	return acct, nil
}

// Post records one completed transaction and applies it to the balance.
//
// Steps:
//  1. Validate type, amount and reference
//  2. Lock the account and check its status
//  3. Reject a reference that is already recorded
//  4. Normalise the sign and refuse to overdraw
//  5. Update the balance and insert the row with its before/after snapshot
func (e *Engine) Post(ctx context.Context, r repository.Repos, p domain.PostParams) (*domain.CommandResult, error) {
	if err := validatePost(p); err != nil {
		return nil, err
	}

	acct, err := e.LockAccount(ctx, r, p.AccountID)
	if err != nil {
		return nil, err
	}
	if !p.Type.Administrative() && !acct.IsActive() {
		return nil, domain.ErrAccountNotActive(acct.ID.String())
	}

	existing, err := r.Transactions.FindByReference(ctx, p.Reference)
	if err != nil {
		return nil, fmt.Errorf("find by reference: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrDuplicateReference(p.Reference)
	}

	amount := p.Type.NormalizeAmount(p.Amount)
	updated, err := e.applyDelta(ctx, r, acct, amount)
	if err != nil {
		return nil, err
	}

	now := e.now()
	tx := &domain.Transaction{
		ID:            uuid.New(),
		AccountID:     acct.ID,
		Type:          p.Type,
		Amount:        amount,
		Currency:      acct.Currency,
		Status:        domain.TxCompleted,
		BalanceBefore: acct.Balance,
		BalanceAfter:  updated.Balance,
		GameID:        p.GameID,
		SessionID:     p.SessionID,
		RoundID:       p.RoundID,
		Reference:     p.Reference,
		ProcessedBy:   p.ProcessedBy,
		Notes:         p.Notes,
		Metadata:      ensureJSON(p.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
		ProcessedAt:   &now,
	}
	if err := r.Transactions.Insert(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	return &domain.CommandResult{
		Transaction: tx,
		Account:     updated,
		Events:      []domain.Event{domain.NewTransactionCompletedEvent(tx)},
	}, nil
}

// RecordTransaction posts a transaction in its own unit of work. It is the
// entry point for callers outside the ledger, so the bet, win and reversal
// reference namespaces are refused here.
func (e *Engine) RecordTransaction(ctx context.Context, p domain.PostParams) (*domain.CommandResult, error) {
	if err := checkExternalReference(p.Reference); err != nil {
		return nil, err
	}
	var res *domain.CommandResult
	err := e.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		res, err = e.Post(ctx, r, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	e.sink.Emit(ctx, res.Events...)
	return res, nil
}

// GetBalance reads the authoritative balance from the account row.
func (e *Engine) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	acct, err := e.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// GetAccount returns the account row.
func (e *Engine) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	acct, err := e.store.Reader().Accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if acct == nil {
		return nil, domain.ErrNotFound("account", accountID.String())
	}
	return acct, nil
}

// GetTransaction returns one ledger row.
func (e *Engine) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := e.store.Reader().Transactions.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if tx == nil {
		return nil, domain.ErrNotFound("transaction", id.String())
	}
	return tx, nil
}

// ListTransactions returns an account's history newest first.
// cursor is the id of the first row to return, as handed out in next_cursor.
func (e *Engine) ListTransactions(ctx context.Context, accountID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Transaction, error) {
	txs, err := e.store.Reader().Transactions.ListByAccount(ctx, accountID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (e *Engine) applyDelta(ctx context.Context, r repository.Repos, acct *domain.Account, delta int64) (*domain.Account, error) {
	if acct.Balance+delta < 0 {
		return nil, domain.ErrInsufficientBalance()
	}
	updated, err := r.Accounts.UpdateBalance(ctx, acct.ID, delta)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	return updated, nil
}

func validatePost(p domain.PostParams) error {
	if !p.Type.Valid() {
		return domain.ErrValidation(fmt.Sprintf("unknown transaction type %q", p.Type))
	}
	if p.Amount == 0 {
		return domain.ErrValidation("amount must be non-zero")
	}
	if err := domain.ValidateLedgerReference(p.Reference); err != nil {
		return domain.ErrValidation(err.Error())
	}
	return nil
}

func checkExternalReference(ref string) error {
	if domain.IsInternalReference(ref) {
		return domain.ErrValidation(fmt.Sprintf("reference %q uses a namespace reserved for round and reversal rows", ref))
	}
	return nil
}

func ensureJSON(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage(`{}`)
	}
	return data
}

func actorName(actor *uuid.UUID) string {
	if actor == nil {
		return "system"
	}
	return actor.String()
}

// OpenAccount provisions an empty active account.
func (e *Engine) OpenAccount(ctx context.Context, currency string) (*domain.Account, error) {
	if err := domain.ValidateCurrency(currency); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	now := e.now()
	acct := &domain.Account{
		ID:        uuid.New(),
		Currency:  currency,
		Status:    domain.AccountActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.InTx(ctx, func(r repository.Repos) error {
		return r.Accounts.Create(ctx, acct)
	}); err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}
	return acct, nil
}
