package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/google/uuid"
)

// BalanceProjection is the display copy of an account balance. The ledger
// stays authoritative; this copy may briefly lag it.
type BalanceProjection struct {
	AccountID string    `json:"account_id"`
	Balance   int64     `json:"balance"`
	Currency  string    `json:"currency"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

const balanceTTL = 5 * time.Minute

func balanceKey(accountID string) string {
	return fmt.Sprintf("projection:balance:%s", accountID)
}

// UpdateBalance caches an account's balance unless a newer version is
// already stored. It reports whether the cache was written.
func UpdateBalance(ctx context.Context, store Store, p BalanceProjection) (bool, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("marshal projection: %w", err)
	}
	return store.SetIfNewer(ctx, balanceKey(p.AccountID), data, p.Version, balanceTTL)
}

// GetBalance retrieves a cached balance projection.
func GetBalance(ctx context.Context, store Store, accountID string) (*BalanceProjection, error) {
	var p BalanceProjection
	if err := GetJSON(ctx, store, balanceKey(accountID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// InvalidateBalance removes an account's cached balance.
func InvalidateBalance(ctx context.Context, store Store, accountID string) error {
	return store.Delete(ctx, balanceKey(accountID))
}

const (
	writeTimeout = 2 * time.Second
	drainTimeout = 5 * time.Second
)

// BalanceSink keeps the balance cache current from transaction.completed
// events. Emit only decodes and enqueues; a single Run loop writes to the
// store, so a slow cache never holds up a ledger request. When the buffer is
// full the update is dropped and the next newer balance repairs the cache.
type BalanceSink struct {
	store  Store
	buf    chan BalanceProjection
	logger *slog.Logger

	queued  atomic.Int64
	written atomic.Int64
	stale   atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewBalanceSink creates a sink writing to store with a buffer of size
// updates.
func NewBalanceSink(store Store, size int, logger *slog.Logger) *BalanceSink {
	return &BalanceSink{
		store:  store,
		buf:    make(chan BalanceProjection, max(size, 1)),
		logger: logger,
	}
}

// Emit enqueues the balance carried by every transaction.completed event.
func (s *BalanceSink) Emit(ctx context.Context, evts ...domain.Event) {
	for _, evt := range evts {
		if evt.EventType != domain.EventTransactionCompleted {
			continue
		}
		var tx domain.Transaction
		if err := json.Unmarshal(evt.Payload, &tx); err != nil {
			s.logger.WarnContext(ctx, "balance projection: bad payload", "event_id", evt.EventID, "error", err)
			continue
		}
		if tx.AccountID == uuid.Nil {
			continue
		}
		version := tx.CreatedAt
		if tx.ProcessedAt != nil {
			version = *tx.ProcessedAt
		}
		p := BalanceProjection{
			AccountID: tx.AccountID.String(),
			Balance:   tx.BalanceAfter,
			Currency:  tx.Currency,
			Version:   version.UnixNano(),
			UpdatedAt: time.Now().UTC(),
		}
		select {
		case s.buf <- p:
			s.queued.Add(1)
		default:
			s.dropped.Add(1)
			s.logger.WarnContext(ctx, "balance projection buffer full, dropping update",
				"account_id", p.AccountID, "version", p.Version)
		}
	}
}

// Run writes buffered updates until ctx is cancelled, then drains what is
// left with a bounded deadline.
func (s *BalanceSink) Run(ctx context.Context) error {
	s.logger.Info("balance projection started", "buffer", cap(s.buf))
	for {
		select {
		case <-ctx.Done():
			s.drain(context.WithoutCancel(ctx))
			s.logger.Info("balance projection stopped", "stats", s.Stats())
			return nil
		case p := <-s.buf:
			s.write(ctx, p)
		}
	}
}

func (s *BalanceSink) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	for {
		select {
		case p := <-s.buf:
			s.write(ctx, p)
		default:
			return
		}
	}
}

func (s *BalanceSink) write(ctx context.Context, p BalanceProjection) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	ok, err := UpdateBalance(wctx, s.store, p)
	switch {
	case err != nil:
		s.failed.Add(1)
		s.logger.WarnContext(ctx, "balance projection update failed", "account_id", p.AccountID, "error", err)
	case ok:
		s.written.Add(1)
	default:
		s.stale.Add(1)
	}
}

// BalanceSinkStats are the sink's running counters.
type BalanceSinkStats struct {
	Queued   int64 `json:"queued"`
	Written  int64 `json:"written"`
	Stale    int64 `json:"stale"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
	Buffered int   `json:"buffered"`
}

// Idle reports whether every queued update has been written, skipped as
// stale or failed.
func (st BalanceSinkStats) Idle() bool {
	return st.Written+st.Stale+st.Failed == st.Queued
}

// Stats returns a snapshot of the counters.
func (s *BalanceSink) Stats() BalanceSinkStats {
	return BalanceSinkStats{
		Queued:   s.queued.Load(),
		Written:  s.written.Load(),
		Stale:    s.stale.Load(),
		Dropped:  s.dropped.Load(),
		Failed:   s.failed.Load(),
		Buffered: len(s.buf),
	}
}
