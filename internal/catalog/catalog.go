// Package catalog holds the consistency-relevant part of the game catalog:
// provisioning and status changes that cascade into live sessions.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/ledger"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/attaboy/casino-ledger/internal/session"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service manages catalog entries.
type Service struct {
	ledger   *ledger.Engine
	store    repository.Store
	sessions *session.Service
	logger   *slog.Logger
}

// NewService creates a catalog service.
func NewService(eng *ledger.Engine, sessions *session.Service, logger *slog.Logger) *Service {
	return &Service{ledger: eng, store: eng.Store(), sessions: sessions, logger: logger}
}

// CreateGameInput holds the fields of a new catalog entry.
type CreateGameInput struct {
	Name     string              `json:"name" validate:"required,max=100"`
	Type     domain.GameType     `json:"type" validate:"required,oneof=slot card table other"`
	Status   domain.GameStatus   `json:"status" validate:"omitempty,oneof=active inactive maintenance"`
	Settings domain.GameSettings `json:"settings"`
}

// Create provisions a game. Names are unique.
func (s *Service) Create(ctx context.Context, in CreateGameInput) (*domain.Game, error) {
	if err := validate.Struct(in); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := validateSettings(in.Settings); err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = domain.GameActive
	}

	now := s.ledger.Now()
	game := &domain.Game{
		ID:        uuid.New(),
		Name:      in.Name,
		Type:      in.Type,
		Status:    status,
		Settings:  in.Settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InTx(ctx, func(r repository.Repos) error {
		return r.Games.Create(ctx, game)
	}); err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}
	return game, nil
}

// Get returns a catalog entry.
func (s *Service) Get(ctx context.Context, gameID uuid.UUID) (*domain.Game, error) {
	game, err := s.store.Reader().Games.FindByID(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("get game: %w", err)
	}
	if game == nil {
		return nil, domain.ErrNotFound("game", gameID.String())
	}
	return game, nil
}

// SetStatus changes a game's status. When the game leaves active, every
// active session on it is ended by the system in the same unit of work.
// It returns the updated game and the number of sessions ended.
func (s *Service) SetStatus(ctx context.Context, gameID uuid.UUID, status domain.GameStatus) (*domain.Game, int, error) {
	if !status.Valid() {
		return nil, 0, domain.ErrValidation(fmt.Sprintf("unknown game status %q", status))
	}

	var game *domain.Game
	var ended int
	var evts []domain.Event
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		if game, err = r.Games.LockForUpdate(ctx, gameID); err != nil {
			return fmt.Errorf("lock game: %w", err)
		}
		if game == nil {
			return domain.ErrNotFound("game", gameID.String())
		}
		from := game.Status
		if from == status {
			return nil
		}
		if err := r.Games.UpdateStatus(ctx, gameID, status); err != nil {
			return fmt.Errorf("update game status: %w", err)
		}
		game.Status = status
		game.UpdatedAt = s.ledger.Now()

		if from == domain.GameActive {
			ended, evts, err = s.sessions.ForceEndAllForGameIn(ctx, r, gameID, domain.EndedBySystem)
			if err != nil {
				return err
			}
		}
		evts = append(evts, domain.NewGameStatusChangedEvent(game, from, ended))
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("set game status: %w", err)
	}

	if len(evts) > 0 {
		s.logger.InfoContext(ctx, "game status changed", "game_id", gameID, "status", status, "ended_sessions", ended)
	}
	s.ledger.Emit(ctx, evts...)
	return game, ended, nil
}

func validateSettings(st domain.GameSettings) error {
	switch {
	case st.MinBet <= 0:
		return domain.ErrValidation("min_bet must be positive")
	case st.MaxBet < st.MinBet:
		return domain.ErrValidation("max_bet must not be below min_bet")
	case st.MaxLines < 0 || st.MaxLines > 8:
		return domain.ErrValidation("max_lines must be between 0 and 8")
	case st.MaxMultiplier.IsNegative():
		return domain.ErrValidation("max_multiplier must not be negative")
	case st.RTP.IsNegative() || st.RTP.GreaterThan(decimal.NewFromInt(100)):
		return domain.ErrValidation("rtp must be between 0 and 100")
	}
	return nil
}
