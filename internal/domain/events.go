package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventTransactionCompleted EventType = "transaction.completed"
	EventTransactionReversed  EventType = "transaction.reversed"
	EventSessionStarted       EventType = "session.started"
	EventRoundAppended        EventType = "session.round_appended"
	EventSessionEnded         EventType = "session.ended"
	EventGameStatusChanged    EventType = "game.status_changed"
	EventLedgerInconsistent   EventType = "ledger.inconsistent"
)

// AggregateType enumerates the aggregate roots events are keyed by.
type AggregateType string

const (
	AggregateAccount AggregateType = "account"
	AggregateSession AggregateType = "session"
	AggregateGame    AggregateType = "game"
)

// Event is a committed state change published to sinks after the commit.
type Event struct {
	EventID       uuid.UUID       `json:"event_id"`
	AggregateType AggregateType   `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     EventType       `json:"event_type"`
	AccountID     string          `json:"account_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func newEvent(aggType AggregateType, aggID string, evtType EventType, accountID string, payload interface{}) Event {
	data, _ := json.Marshal(payload)
	return Event{
		EventID:       uuid.New(),
		AggregateType: aggType,
		AggregateID:   aggID,
		EventType:     evtType,
		AccountID:     accountID,
		Payload:       data,
		OccurredAt:    time.Now(),
	}
}

// NewTransactionCompletedEvent is emitted for every completed ledger row.
func NewTransactionCompletedEvent(tx *Transaction) Event {
	return newEvent(AggregateAccount, tx.AccountID.String(), EventTransactionCompleted, tx.AccountID.String(), tx)
}

// NewTransactionReversedEvent is emitted for the original row of a reversal.
func NewTransactionReversedEvent(original, reversal *Transaction) Event {
	return newEvent(AggregateAccount, original.AccountID.String(), EventTransactionReversed, original.AccountID.String(),
		map[string]interface{}{
			"original_transaction_id": original.ID,
			"reversal_transaction_id": reversal.ID,
			"amount":                  reversal.Amount,
			"balance_after":           reversal.BalanceAfter,
		})
}

// NewSessionStartedEvent is emitted when a new session row is created.
func NewSessionStartedEvent(s *GameSession) Event {
	return newEvent(AggregateSession, s.ID.String(), EventSessionStarted, s.AccountID.String(), map[string]interface{}{
		"session_id": s.ID,
		"game_id":    s.GameID,
		"started_at": s.StartedAt,
	})
}

// NewRoundAppendedEvent is emitted after a round is settled.
func NewRoundAppendedEvent(s *GameSession, r Round) Event {
	return newEvent(AggregateSession, s.ID.String(), EventRoundAppended, s.AccountID.String(), map[string]interface{}{
		"session_id":    s.ID,
		"game_id":       s.GameID,
		"round_number":  r.RoundNumber,
		"round_id":      r.RoundID,
		"bet_amount":    r.Bet.Amount,
		"win_amount":    r.Result.WinAmount,
		"outcome":       r.Result.Outcome,
		"total_wagered": s.TotalWagered,
		"total_won":     s.TotalWon,
	})
}

// NewSessionEndedEvent is emitted when a session is ended for any reason.
func NewSessionEndedEvent(s *GameSession) Event {
	return newEvent(AggregateSession, s.ID.String(), EventSessionEnded, s.AccountID.String(), map[string]interface{}{
		"session_id":    s.ID,
		"game_id":       s.GameID,
		"ended_by":      s.EndedBy,
		"rounds":        s.RoundCount,
		"total_wagered": s.TotalWagered,
		"total_won":     s.TotalWon,
		"duration_ms":   s.Duration.Milliseconds(),
	})
}

// NewGameStatusChangedEvent is emitted after a catalog status transition.
func NewGameStatusChangedEvent(g *Game, from GameStatus, endedSessions int) Event {
	return newEvent(AggregateGame, g.ID.String(), EventGameStatusChanged, "", map[string]interface{}{
		"game_id":        g.ID,
		"from":           from,
		"to":             g.Status,
		"ended_sessions": endedSessions,
	})
}

// NewLedgerInconsistentEvent is emitted when verification halts an account.
func NewLedgerInconsistentEvent(r Reconciliation) Event {
	return newEvent(AggregateAccount, r.AccountID.String(), EventLedgerInconsistent, r.AccountID.String(), r)
}
