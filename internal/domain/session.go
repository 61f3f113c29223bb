package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a game session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionEnded     SessionStatus = "ended"
	SessionSuspended SessionStatus = "suspended"
)

// EndReason records who or what ended a session.
type EndReason string

const (
	EndedByUser    EndReason = "user"
	EndedByAdmin   EndReason = "admin"
	EndedBySystem  EndReason = "system"
	EndedByTimeout EndReason = "timeout"
)

// Valid reports whether r is a known end reason.
func (r EndReason) Valid() bool {
	switch r {
	case EndedByUser, EndedByAdmin, EndedBySystem, EndedByTimeout:
		return true
	}
	return false
}

// ClientInfo describes the client that opened a session.
type ClientInfo struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Device    string `json:"device,omitempty"`
}

// Bet is a wager request. Lines == 0 plays a single line.
type Bet struct {
	Amount     int64            `json:"amount" validate:"gt=0"`
	Lines      int              `json:"lines,omitempty" validate:"gte=0,lte=8"`
	Multiplier *decimal.Decimal `json:"multiplier,omitempty"`
}

// LineCount returns the number of paylines played.
func (b Bet) LineCount() int {
	if b.Lines <= 0 {
		return 1
	}
	return b.Lines
}

// MultiplierOrOne returns the bet multiplier, defaulting to 1.
func (b Bet) MultiplierOrOne() decimal.Decimal {
	if b.Multiplier == nil {
		return decimal.NewFromInt(1)
	}
	return *b.Multiplier
}

// Round outcomes.
const (
	OutcomeWin       = "win"
	OutcomeLoss      = "loss"
	OutcomePush      = "push"
	OutcomeBlackjack = "blackjack"
	OutcomeVoid      = "void"
)

// RoundResult is the settled outcome of a round.
type RoundResult struct {
	WinAmount int64           `json:"win_amount"`
	Outcome   string          `json:"outcome"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

// Round is one entry of a session's append-only round log.
// Bet.Amount is the total staked for the round, including doubles and splits.
type Round struct {
	RoundNumber int         `json:"round_number"`
	RoundID     string      `json:"round_id"`
	Bet         Bet         `json:"bet"`
	Result      RoundResult `json:"result"`
	PlayedAt    time.Time   `json:"played_at"`
}

// PendingRound is a round whose stake is debited but which is not yet in the
// round log. At most one exists per session.
type PendingRound struct {
	RoundID   string          `json:"round_id"`
	Bet       Bet             `json:"bet"`
	Debits    []uuid.UUID     `json:"debits"`
	Staked    int64           `json:"staked"`
	State     json.RawMessage `json:"state,omitempty"`
	View      json.RawMessage `json:"view,omitempty"`
	Result    *RoundResult    `json:"result,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Resolved reports whether the round outcome is known.
func (p *PendingRound) Resolved() bool { return p.Result != nil }

// GameSession is a player's live record of play on one game.
type GameSession struct {
	ID             uuid.UUID     `json:"id"`
	AccountID      uuid.UUID     `json:"account_id"`
	GameID         uuid.UUID     `json:"game_id"`
	Status         SessionStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	EndedBy        *EndReason    `json:"ended_by,omitempty"`
	Rounds         []Round       `json:"rounds"`
	RoundCount     int           `json:"round_count"`
	TotalWagered   int64         `json:"total_wagered"`
	TotalWon       int64         `json:"total_won"`
	Duration       time.Duration `json:"duration"`
	ClientInfo     ClientInfo    `json:"client_info"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	Pending        *PendingRound `json:"pending,omitempty"`
}

// IsActive reports whether rounds may be appended.
func (s *GameSession) IsActive() bool { return s.Status == SessionActive }

// Action is a player decision inside an interactive round.
type Action string

const (
	ActionHit        Action = "hit"
	ActionStand      Action = "stand"
	ActionDoubleDown Action = "doubleDown"
	ActionSplit      Action = "split"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionHit, ActionStand, ActionDoubleDown, ActionSplit:
		return true
	}
	return false
}
