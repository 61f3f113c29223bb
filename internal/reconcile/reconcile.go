// Package reconcile runs the periodic consistency sweep: ledger verification
// for every account, idle-session expiry and recovery of stuck rounds.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/ledger"
	"github.com/attaboy/casino-ledger/internal/session"
	"github.com/attaboy/casino-ledger/internal/settlement"
	"github.com/google/uuid"
)

const accountPageSize = 500

// Config holds the sweep cutoffs.
type Config struct {
	SessionIdleTimeout  time.Duration
	PendingRoundTimeout time.Duration
}

// Report summarizes one sweep.
type Report struct {
	AccountsChecked int           `json:"accounts_checked"`
	Inconsistent    []uuid.UUID   `json:"inconsistent"`
	SessionsExpired int           `json:"sessions_expired"`
	RoundsRecovered int           `json:"rounds_recovered"`
	Took            time.Duration `json:"took"`
}

// Reconciler runs sweeps.
type Reconciler struct {
	ledger     *ledger.Engine
	sessions   *session.Service
	settlement *settlement.Service
	cfg        Config
	logger     *slog.Logger
}

// New creates a Reconciler.
func New(eng *ledger.Engine, sessions *session.Service, settle *settlement.Service, cfg Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{ledger: eng, sessions: sessions, settlement: settle, cfg: cfg, logger: logger}
}

// RunOnce performs a full sweep. Stuck rounds are recovered before idle
// sessions are expired, so a resolved round is settled rather than voided
// by the session end. Per-account verification failures other than a
// mismatch abort the sweep.
func (r *Reconciler) RunOnce(ctx context.Context) (*Report, error) {
	start := time.Now()
	rep := &Report{}

	recovered, err := r.settlement.RecoverPending(ctx, r.cfg.PendingRoundTimeout)
	if err != nil {
		return nil, fmt.Errorf("recover pending rounds: %w", err)
	}
	rep.RoundsRecovered = recovered

	expired, err := r.sessions.ExpireIdle(ctx, r.cfg.SessionIdleTimeout)
	if err != nil {
		return nil, fmt.Errorf("expire idle sessions: %w", err)
	}
	rep.SessionsExpired = expired

	if err := r.verifyAll(ctx, rep); err != nil {
		return nil, err
	}

	rep.Took = time.Since(start)
	r.logger.InfoContext(ctx, "reconciliation sweep complete",
		"accounts_checked", rep.AccountsChecked,
		"inconsistent", len(rep.Inconsistent),
		"sessions_expired", rep.SessionsExpired,
		"rounds_recovered", rep.RoundsRecovered,
		"took_ms", rep.Took.Milliseconds(),
	)
	return rep, nil
}

func (r *Reconciler) verifyAll(ctx context.Context, rep *Report) error {
	accounts := r.ledger.Store().Reader().Accounts
	after := uuid.Nil
	for {
		ids, err := accounts.ListIDs(ctx, after, accountPageSize)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := r.ledger.Verify(ctx, id)
			rep.AccountsChecked++
			switch {
			case err == nil:
			case domain.IsCode(err, domain.CodeLedgerInconsistent):
				rep.Inconsistent = append(rep.Inconsistent, id)
			default:
				return fmt.Errorf("verify account %s: %w", id, err)
			}
		}
		if len(ids) < accountPageSize {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

// Run sweeps every interval until ctx is cancelled. A failed sweep is logged
// and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	r.logger.Info("reconciler starting", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler shutting down")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}
