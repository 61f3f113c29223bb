// Package session implements the game-session state machine: start or
// resume, the append-only round log, suspension and ending.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/ledger"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/google/uuid"
)

const idleBatchSize = 100

// Service manages game sessions. Ledger writes made on behalf of a session
// (voiding or finalizing an in-flight round) share the session's unit of work.
type Service struct {
	ledger *ledger.Engine
	store  repository.Store
	logger *slog.Logger
}

// NewService creates a session service on top of the ledger engine's store.
func NewService(eng *ledger.Engine, logger *slog.Logger) *Service {
	return &Service{ledger: eng, store: eng.Store(), logger: logger}
}

// Get returns a session with its round log.
func (s *Service) Get(ctx context.Context, sessionID uuid.UUID) (*domain.GameSession, error) {
	sess, err := s.store.Reader().Sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, domain.ErrNotFound("session", sessionID.String())
	}
	return sess, nil
}

// StartOrResume returns the active session for the pair, creating one when
// none exists. created reports whether a new session was inserted.
func (s *Service) StartOrResume(ctx context.Context, accountID, gameID uuid.UUID, client domain.ClientInfo) (*domain.GameSession, bool, error) {
	for attempt := 0; ; attempt++ {
		sess, created, err := s.startOrResume(ctx, accountID, gameID, client)
		if errors.Is(err, repository.ErrActiveSessionExists) && attempt == 0 {
			// A concurrent start won the insert; the retry resumes it.
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("start session: %w", err)
		}
		if created {
			s.ledger.Emit(ctx, domain.NewSessionStartedEvent(sess))
			s.logger.InfoContext(ctx, "session started", "session_id", sess.ID, "account_id", accountID, "game_id", gameID)
		}
		return sess, created, nil
	}
}

func (s *Service) startOrResume(ctx context.Context, accountID, gameID uuid.UUID, client domain.ClientInfo) (*domain.GameSession, bool, error) {
	var sess *domain.GameSession
	var created bool
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		game, err := r.Games.FindByID(ctx, gameID)
		if err != nil {
			return fmt.Errorf("find game: %w", err)
		}
		if game == nil {
			return domain.ErrNotFound("game", gameID.String())
		}
		if !game.IsActive() {
			return domain.ErrGameUnavailable(gameID.String())
		}
		acct, err := r.Accounts.FindByID(ctx, accountID)
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}
		if acct == nil {
			return domain.ErrNotFound("account", accountID.String())
		}
		if !acct.IsActive() {
			return domain.ErrAccountNotActive(accountID.String())
		}

		existing, err := r.Sessions.FindActive(ctx, accountID, gameID)
		if err != nil {
			return fmt.Errorf("find active session: %w", err)
		}
		if existing != nil {
			sess, err = r.Sessions.FindByID(ctx, existing.ID)
			return err
		}

		now := s.ledger.Now()
		sess = &domain.GameSession{
			ID:             uuid.New(),
			AccountID:      accountID,
			GameID:         gameID,
			Status:         domain.SessionActive,
			StartedAt:      now,
			Rounds:         []domain.Round{},
			ClientInfo:     client,
			LastActivityAt: now,
		}
		if err := r.Sessions.Insert(ctx, sess); err != nil {
			return err
		}
		created = true
		return nil
	})
	return sess, created, err
}

// LockIn locks a session row inside the caller's unit of work.
func (s *Service) LockIn(ctx context.Context, r repository.Repos, sessionID uuid.UUID) (*domain.GameSession, error) {
	sess, err := r.Sessions.LockForUpdate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	if sess == nil {
		return nil, domain.ErrNotFound("session", sessionID.String())
	}
	return sess, nil
}

// AppendRoundIn adds a settled round to a locked, active session. The round
// number is assigned here, and the game's play counters move in the same
// unit of work. sess is updated in place.
func (s *Service) AppendRoundIn(ctx context.Context, r repository.Repos, sess *domain.GameSession, roundID string, bet domain.Bet, result domain.RoundResult) (domain.Round, error) {
	if !sess.IsActive() {
		return domain.Round{}, domain.ErrSessionNotActive(sess.ID.String())
	}
	now := s.ledger.Now()
	round := domain.Round{
		RoundNumber: sess.RoundCount + 1,
		RoundID:     roundID,
		Bet:         bet,
		Result:      result,
		PlayedAt:    now,
	}
	if err := r.Sessions.AppendRound(ctx, sess.ID, round, now); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return domain.Round{}, domain.ErrInvalidState("round log changed concurrently")
		}
		return domain.Round{}, fmt.Errorf("append round: %w", err)
	}
	if err := r.Games.RecordPlay(ctx, sess.GameID, bet.Amount, result.WinAmount); err != nil {
		return domain.Round{}, fmt.Errorf("record play: %w", err)
	}

	sess.RoundCount = round.RoundNumber
	sess.TotalWagered += bet.Amount
	sess.TotalWon += result.WinAmount
	sess.LastActivityAt = now
	sess.Rounds = append(sess.Rounds, round)
	return round, nil
}

// AppendRound adds a round in its own unit of work and returns its number.
func (s *Service) AppendRound(ctx context.Context, sessionID uuid.UUID, bet domain.Bet, result domain.RoundResult) (int, error) {
	var round domain.Round
	var sess *domain.GameSession
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		if sess, err = s.LockIn(ctx, r, sessionID); err != nil {
			return err
		}
		round, err = s.AppendRoundIn(ctx, r, sess, ledger.NewReference(""), bet, result)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("append round: %w", err)
	}
	s.ledger.Emit(ctx, domain.NewRoundAppendedEvent(sess, round))
	return round.RoundNumber, nil
}

// End closes a session. Ending an ended session is a no-op. An in-flight
// round is settled if its outcome is known and voided otherwise.
func (s *Service) End(ctx context.Context, sessionID uuid.UUID, endedBy domain.EndReason) (*domain.GameSession, error) {
	var sess *domain.GameSession
	var evts []domain.Event
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		sess, evts, err = s.EndIn(ctx, r, sessionID, endedBy)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	s.ledger.Emit(ctx, evts...)
	return sess, nil
}

// EndIn is End inside the caller's unit of work. Events are returned for
// emission after commit.
func (s *Service) EndIn(ctx context.Context, r repository.Repos, sessionID uuid.UUID, endedBy domain.EndReason) (*domain.GameSession, []domain.Event, error) {
	if !endedBy.Valid() {
		return nil, nil, domain.ErrValidation(fmt.Sprintf("unknown end reason %q", endedBy))
	}
	sess, err := s.LockIn(ctx, r, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status == domain.SessionEnded {
		return sess, nil, nil
	}

	var evts []domain.Event
	if p := sess.Pending; p != nil {
		// Settling needs an active session to append to.
		if p.Resolved() && sess.IsActive() {
			out, err := s.FinalizeIn(ctx, r, sess)
			if err != nil {
				return nil, nil, err
			}
			evts = append(evts, out.Events...)
		} else {
			voided, err := s.VoidIn(ctx, r, sess, "round voided: session ended")
			if err != nil {
				return nil, nil, err
			}
			evts = append(evts, voided...)
		}
	}

	now := s.ledger.Now()
	sess.Status = domain.SessionEnded
	sess.EndedAt = &now
	sess.EndedBy = &endedBy
	sess.Duration = now.Sub(sess.StartedAt)
	sess.LastActivityAt = now
	if err := r.Sessions.UpdateLifecycle(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("update session: %w", err)
	}
	evts = append(evts, domain.NewSessionEndedEvent(sess))
	return sess, evts, nil
}

// ForceEndAllForGameIn ends every active session of a game inside the
// caller's unit of work.
func (s *Service) ForceEndAllForGameIn(ctx context.Context, r repository.Repos, gameID uuid.UUID, endedBy domain.EndReason) (int, []domain.Event, error) {
	active, err := r.Sessions.LockActiveByGame(ctx, gameID)
	if err != nil {
		return 0, nil, fmt.Errorf("lock active sessions: %w", err)
	}
	var evts []domain.Event
	for _, sess := range active {
		_, out, err := s.EndIn(ctx, r, sess.ID, endedBy)
		if err != nil {
			return 0, nil, fmt.Errorf("end session %s: %w", sess.ID, err)
		}
		evts = append(evts, out...)
	}
	return len(active), evts, nil
}

// ForceEndAllForGame ends every active session of a game.
func (s *Service) ForceEndAllForGame(ctx context.Context, gameID uuid.UUID, endedBy domain.EndReason) (int, error) {
	var n int
	var evts []domain.Event
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		n, evts, err = s.ForceEndAllForGameIn(ctx, r, gameID, endedBy)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("force end sessions: %w", err)
	}
	s.ledger.Emit(ctx, evts...)
	return n, nil
}

// Suspend pauses an active session. Suspending a suspended session is a no-op.
func (s *Service) Suspend(ctx context.Context, sessionID uuid.UUID) (*domain.GameSession, error) {
	return s.transition(ctx, sessionID, domain.SessionActive, domain.SessionSuspended)
}

// Resume reactivates a suspended session. It fails when another session for
// the same account and game became active in the meantime.
func (s *Service) Resume(ctx context.Context, sessionID uuid.UUID) (*domain.GameSession, error) {
	return s.transition(ctx, sessionID, domain.SessionSuspended, domain.SessionActive)
}

func (s *Service) transition(ctx context.Context, sessionID uuid.UUID, from, to domain.SessionStatus) (*domain.GameSession, error) {
	var sess *domain.GameSession
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		if sess, err = s.LockIn(ctx, r, sessionID); err != nil {
			return err
		}
		if sess.Status == to {
			return nil
		}
		if sess.Status != from {
			return domain.ErrInvalidState(fmt.Sprintf("session is %s", sess.Status))
		}
		sess.Status = to
		sess.LastActivityAt = s.ledger.Now()
		if err := r.Sessions.UpdateLifecycle(ctx, sess); err != nil {
			if errors.Is(err, repository.ErrActiveSessionExists) {
				return domain.ErrInvalidState("another session for this game is active")
			}
			return fmt.Errorf("update session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s session: %w", to, err)
	}
	return sess, nil
}

// ExpireIdle ends active sessions with no activity for idleFor and returns
// how many were ended.
func (s *Service) ExpireIdle(ctx context.Context, idleFor time.Duration) (int, error) {
	cutoff := s.ledger.Now().Add(-idleFor)
	ids, err := s.store.Reader().Sessions.ListIdle(ctx, cutoff, idleBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list idle sessions: %w", err)
	}

	var ended int
	for _, id := range ids {
		var evts []domain.Event
		err := s.store.InTx(ctx, func(r repository.Repos) error {
			sess, err := s.LockIn(ctx, r, id)
			if err != nil {
				return err
			}
			// Activity may have happened since the listing.
			if !sess.IsActive() || !sess.LastActivityAt.Before(cutoff) {
				return nil
			}
			_, evts, err = s.EndIn(ctx, r, id, domain.EndedByTimeout)
			return err
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "expire idle session failed", "session_id", id, "error", err)
			continue
		}
		if len(evts) > 0 {
			ended++
			s.ledger.Emit(ctx, evts...)
		}
	}
	return ended, nil
}
