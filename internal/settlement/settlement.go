// Package settlement turns bets and player actions into ledger entries and
// round-log appends.
//
// Every round settles in at most two units of work:
//
//	A: lock session -> run engine -> debit stake -> park the round as pending
//	B: lock session -> credit win -> append round -> clear pending
//
// If B fails after A committed, the round is compensated by reversing its
// debits. Compensation runs detached from the request context with bounded
// retries; whatever still fails is picked up by RecoverPending.
package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/game"
	"github.com/attaboy/casino-ledger/internal/ledger"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/attaboy/casino-ledger/internal/session"
	"github.com/google/uuid"
)

const recoverBatchSize = 100

// Service places bets and applies player actions.
type Service struct {
	ledger   *ledger.Engine
	store    repository.Store
	sessions *session.Service
	games    *game.Registry
	rng      game.Rand
	logger   *slog.Logger

	compensateAttempts int
	compensateBackoff  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithRand replaces the randomness source handed to round engines.
func WithRand(rng game.Rand) Option {
	return func(s *Service) { s.rng = rng }
}

// WithCompensation sets the retry budget for voiding a failed round.
func WithCompensation(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		s.compensateAttempts = max(attempts, 1)
		s.compensateBackoff = backoff
	}
}

// NewService creates a settlement service.
func NewService(eng *ledger.Engine, sessions *session.Service, games *game.Registry, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		ledger:             eng,
		store:              eng.Store(),
		sessions:           sessions,
		games:              games,
		rng:                game.DefaultRand,
		logger:             logger,
		compensateAttempts: 3,
		compensateBackoff:  50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome is returned by PlaceBet and Act.
type Outcome struct {
	SessionID   uuid.UUID           `json:"session_id"`
	RoundID     string              `json:"round_id"`
	RoundNumber int                 `json:"round_number,omitempty"`
	Result      *domain.RoundResult `json:"result,omitempty"`
	View        json.RawMessage     `json:"view,omitempty"`
	Balance     int64               `json:"balance"`
	Finished    bool                `json:"finished"`
}

// PlaceBet starts a round on the session and settles it when the engine
// resolves it immediately.
func (s *Service) PlaceBet(ctx context.Context, sessionID, accountID uuid.UUID, bet domain.Bet) (*Outcome, error) {
	if err := game.ValidateShape(bet); err != nil {
		return nil, err
	}

	out := &Outcome{SessionID: sessionID}
	var pending *domain.PendingRound
	var evts []domain.Event
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		sess, g, err := s.lockPlayable(ctx, r, sessionID, accountID)
		if err != nil {
			return err
		}
		if sess.Pending != nil {
			return domain.ErrInvalidState("a round is already in progress on this session")
		}
		if !g.IsActive() {
			return domain.ErrGameUnavailable(g.ID.String())
		}
		engine, err := s.games.Lookup(g.Type)
		if err != nil {
			return err
		}
		if err := engine.ValidateBet(bet, g.Settings); err != nil {
			return err
		}
		step, err := engine.Start(s.rng, bet, g.Settings)
		if err != nil {
			return fmt.Errorf("start round: %w", err)
		}

		now := s.ledger.Now()
		pending = &domain.PendingRound{
			RoundID:   ledger.NewReference(""),
			Bet:       bet,
			StartedAt: now,
		}
		res, err := s.applyStep(ctx, r, sess, pending, step)
		if err != nil {
			return err
		}
		out.Balance = res.Account.Balance
		evts = res.Events
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("place bet: %w", err)
	}
	s.ledger.Emit(ctx, evts...)

	out.RoundID = pending.RoundID
	out.View = pending.View
	if !pending.Resolved() {
		return out, nil
	}
	return s.settle(ctx, out)
}

// Act applies a player decision to the session's in-flight round.
func (s *Service) Act(ctx context.Context, sessionID, accountID uuid.UUID, action domain.Action) (*Outcome, error) {
	if !action.Valid() {
		return nil, domain.ErrValidation(fmt.Sprintf("unknown action %q", action))
	}

	out := &Outcome{SessionID: sessionID}
	var pending *domain.PendingRound
	var evts []domain.Event
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		sess, g, err := s.lockPlayable(ctx, r, sessionID, accountID)
		if err != nil {
			return err
		}
		pending = sess.Pending
		if pending == nil || pending.Resolved() {
			return domain.ErrInvalidState("no round in progress on this session")
		}
		engine, err := s.games.Lookup(g.Type)
		if err != nil {
			return err
		}
		interactive, ok := engine.(game.Interactive)
		if !ok {
			return domain.ErrInvalidState(fmt.Sprintf("%s rounds take no actions", g.Type))
		}
		step, err := interactive.Act(s.rng, pending.State, action)
		if err != nil {
			return err
		}

		res, err := s.applyStep(ctx, r, sess, pending, step)
		if err != nil {
			return err
		}
		out.Balance = res.Account.Balance
		evts = res.Events
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	s.ledger.Emit(ctx, evts...)

	out.RoundID = pending.RoundID
	out.View = pending.View
	if !pending.Resolved() {
		return out, nil
	}
	return s.settle(ctx, out)
}

func (s *Service) lockPlayable(ctx context.Context, r repository.Repos, sessionID, accountID uuid.UUID) (*domain.GameSession, *domain.Game, error) {
	sess, err := s.sessions.LockIn(ctx, r, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.AccountID != accountID {
		return nil, nil, domain.ErrForbidden("session belongs to another account")
	}
	if !sess.IsActive() {
		return nil, nil, domain.ErrSessionNotActive(sessionID.String())
	}
	g, err := r.Games.FindByID(ctx, sess.GameID)
	if err != nil {
		return nil, nil, fmt.Errorf("find game: %w", err)
	}
	if g == nil {
		return nil, nil, domain.ErrNotFound("game", sess.GameID.String())
	}
	return sess, g, nil
}

type stepResult struct {
	Account *domain.Account
	Events  []domain.Event
}

// applyStep debits the step's stake, if any, and stores the round as pending.
func (s *Service) applyStep(ctx context.Context, r repository.Repos, sess *domain.GameSession, p *domain.PendingRound, step game.Step) (*stepResult, error) {
	res := &stepResult{}
	if step.Stake > 0 {
		debit, err := s.ledger.Post(ctx, r, domain.PostParams{
			AccountID: sess.AccountID,
			Type:      domain.TxBet,
			Amount:    step.Stake,
			Reference: domain.BetReference(p.RoundID, len(p.Debits)+1),
			GameID:    &sess.GameID,
			SessionID: &sess.ID,
			RoundID:   &p.RoundID,
		})
		if err != nil {
			return nil, err
		}
		p.Debits = append(p.Debits, debit.Transaction.ID)
		p.Staked += step.Stake
		res.Account = debit.Account
		res.Events = debit.Events
	} else {
		acct, err := r.Accounts.FindByID(ctx, sess.AccountID)
		if err != nil {
			return nil, fmt.Errorf("find account: %w", err)
		}
		res.Account = acct
	}

	p.State = step.State
	p.View = step.View
	p.Result = step.Result
	p.UpdatedAt = s.ledger.Now()
	if err := r.Sessions.SavePending(ctx, sess.ID, p, p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("save pending: %w", err)
	}
	return res, nil
}

// settle runs unit of work B for a resolved round and compensates on failure.
func (s *Service) settle(ctx context.Context, out *Outcome) (*Outcome, error) {
	settled, balance, err := s.finalize(ctx, out.SessionID, out.RoundID)
	if err != nil {
		s.logger.WarnContext(ctx, "round settlement failed, compensating",
			"session_id", out.SessionID, "round_id", out.RoundID, "error", err)
		s.compensate(ctx, out.SessionID, out.RoundID, "round voided: settlement failed")
		return nil, fmt.Errorf("settle round: %w", err)
	}

	out.RoundNumber = settled.Round.RoundNumber
	out.Result = &settled.Round.Result
	out.Balance = balance
	out.Finished = true
	return out, nil
}

func (s *Service) finalize(ctx context.Context, sessionID uuid.UUID, roundID string) (*session.Settled, int64, error) {
	var settled *session.Settled
	var balance int64
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		sess, err := s.sessions.LockIn(ctx, r, sessionID)
		if err != nil {
			return err
		}
		if sess.Pending != nil && sess.Pending.RoundID == roundID {
			if settled, err = s.sessions.FinalizeIn(ctx, r, sess); err != nil {
				return err
			}
		} else {
			// An End or a game status cascade may have settled the round
			// between the two units of work.
			full, err := r.Sessions.FindByID(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("find session: %w", err)
			}
			round, ok := findRound(full, roundID)
			if !ok {
				return domain.ErrInvalidState("round was voided before it could settle")
			}
			settled = &session.Settled{Round: round}
		}
		acct, err := r.Accounts.FindByID(ctx, sess.AccountID)
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}
		balance = acct.Balance
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	s.ledger.Emit(ctx, settled.Events...)
	return settled, balance, nil
}

func findRound(sess *domain.GameSession, roundID string) (domain.Round, bool) {
	if sess == nil {
		return domain.Round{}, false
	}
	for i := len(sess.Rounds) - 1; i >= 0; i-- {
		if sess.Rounds[i].RoundID == roundID {
			return sess.Rounds[i], true
		}
	}
	return domain.Round{}, false
}

// compensate voids the round if it is still the session's pending round.
// It ignores ctx cancellation so a dropped client cannot strand a debit.
func (s *Service) compensate(ctx context.Context, sessionID uuid.UUID, roundID, reason string) bool {
	ctx = context.WithoutCancel(ctx)
	for attempt := 1; attempt <= s.compensateAttempts; attempt++ {
		var evts []domain.Event
		err := s.store.InTx(ctx, func(r repository.Repos) error {
			sess, err := s.sessions.LockIn(ctx, r, sessionID)
			if err != nil {
				return err
			}
			if sess.Pending == nil || sess.Pending.RoundID != roundID {
				return nil
			}
			evts, err = s.sessions.VoidIn(ctx, r, sess, reason)
			return err
		})
		if err == nil {
			s.ledger.Emit(ctx, evts...)
			s.logger.InfoContext(ctx, "round compensated", "session_id", sessionID, "round_id", roundID, "reversals", len(evts)/2)
			return true
		}
		s.logger.ErrorContext(ctx, "round compensation failed",
			"session_id", sessionID, "round_id", roundID, "attempt", attempt, "error", err)
		if attempt < s.compensateAttempts {
			time.Sleep(s.compensateBackoff * time.Duration(attempt))
		}
	}
	s.logger.ErrorContext(ctx, "round left pending for recovery", "session_id", sessionID, "round_id", roundID)
	return false
}

// RecoverPending settles or voids rounds left pending for longer than
// olderThan: resolved rounds are finalized, unresolved ones are voided.
// It returns how many rounds were cleared.
func (s *Service) RecoverPending(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.ledger.Now().Add(-olderThan)
	ids, err := s.store.Reader().Sessions.ListWithPending(ctx, cutoff, recoverBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending rounds: %w", err)
	}

	var cleared int
	for _, id := range ids {
		sess, err := s.store.Reader().Sessions.FindByID(ctx, id)
		if err != nil {
			return cleared, fmt.Errorf("read session: %w", err)
		}
		if sess == nil || sess.Pending == nil {
			continue
		}
		roundID := sess.Pending.RoundID

		if sess.Pending.Resolved() && sess.IsActive() {
			_, _, err := s.finalize(ctx, id, roundID)
			if err == nil {
				cleared++
				continue
			}
			s.logger.WarnContext(ctx, "recovery settlement failed, voiding", "session_id", id, "round_id", roundID, "error", err)
		}
		if s.compensate(ctx, id, roundID, "round voided: recovery") {
			cleared++
		}
	}
	return cleared, nil
}
