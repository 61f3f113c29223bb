package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GameType selects the round engine for a game.
type GameType string

const (
	GameSlot  GameType = "slot"
	GameCard  GameType = "card"
	GameTable GameType = "table"
	GameOther GameType = "other"
)

// GameStatus is the catalog state of a game.
type GameStatus string

const (
	GameActive      GameStatus = "active"
	GameInactive    GameStatus = "inactive"
	GameMaintenance GameStatus = "maintenance"
)

// Valid reports whether s is a known game status.
func (s GameStatus) Valid() bool {
	switch s {
	case GameActive, GameInactive, GameMaintenance:
		return true
	}
	return false
}

// GameSettings are the per-game parameters used for bet validation and payout.
type GameSettings struct {
	MinBet        int64           `json:"min_bet"`
	MaxBet        int64           `json:"max_bet"`
	MaxLines      int             `json:"max_lines,omitempty"`
	MaxMultiplier decimal.Decimal `json:"max_multiplier"`
	RTP           decimal.Decimal `json:"rtp"`
}

// GameStats are monotonic counters updated once per settled round.
type GameStats struct {
	TotalPlays   int64 `json:"total_plays"`
	TotalWagered int64 `json:"total_wagered"`
	TotalWon     int64 `json:"total_won"`
}

// Game is a catalog entry.
type Game struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Type      GameType     `json:"type"`
	Status    GameStatus   `json:"status"`
	Settings  GameSettings `json:"settings"`
	Stats     GameStats    `json:"stats"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// IsActive reports whether the game accepts bets.
func (g *Game) IsActive() bool { return g.Status == GameActive }
