// Package game dispatches rounds to the engine registered for a game type.
// Engines are pure: they turn a bet or an action into state and effects and
// never touch storage.
package game

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Rand is the randomness source engines draw from.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand draws from the process-wide math/rand/v2 source. It is not
// suitable for provably fair play.
var DefaultRand Rand = globalRand{}

// Step is the effect of starting a round or applying an action.
type Step struct {
	// Stake is the amount to debit before the step takes effect.
	Stake int64
	// State is the engine's private round state, persisted between actions.
	State json.RawMessage
	// View is what the player may see.
	View json.RawMessage
	// Result is set once the round is resolved.
	Result *domain.RoundResult
}

// RoundEngine runs one kind of game.
type RoundEngine interface {
	ValidateBet(bet domain.Bet, settings domain.GameSettings) error
	Start(rng Rand, bet domain.Bet, settings domain.GameSettings) (Step, error)
}

// Interactive is a RoundEngine whose rounds take player actions.
type Interactive interface {
	RoundEngine
	Act(rng Rand, state json.RawMessage, action domain.Action) (Step, error)
}

// Registry maps game types to engines. It is built once at startup and
// read-only afterwards.
type Registry struct {
	engines map[domain.GameType]RoundEngine
}

// NewRegistry creates a registry from the given engines.
func NewRegistry(engines map[domain.GameType]RoundEngine) *Registry {
	r := &Registry{engines: make(map[domain.GameType]RoundEngine, len(engines))}
	for t, e := range engines {
		r.engines[t] = e
	}
	return r
}

// Lookup returns the engine for t.
func (r *Registry) Lookup(t domain.GameType) (RoundEngine, error) {
	e, ok := r.engines[t]
	if !ok {
		return nil, domain.ErrUnsupportedGameType(t)
	}
	return e, nil
}

// ValidateShape checks the bet on its own, before any game is known.
func ValidateShape(bet domain.Bet) error {
	if err := validate.Struct(bet); err != nil {
		return domain.ErrInvalidBet(err.Error())
	}
	if !bet.MultiplierOrOne().IsPositive() {
		return domain.ErrInvalidBet("multiplier must be positive")
	}
	return nil
}

// ValidateBet checks the bet's shape and the game's configured limits.
// A zero MaxBet, MaxLines or MaxMultiplier leaves that bound open.
func ValidateBet(bet domain.Bet, st domain.GameSettings) error {
	if err := ValidateShape(bet); err != nil {
		return err
	}
	if bet.Amount < st.MinBet {
		return domain.ErrInvalidBet(fmt.Sprintf("amount %d is below the minimum bet %d", bet.Amount, st.MinBet))
	}
	if st.MaxBet > 0 && bet.Amount > st.MaxBet {
		return domain.ErrInvalidBet(fmt.Sprintf("amount %d is above the maximum bet %d", bet.Amount, st.MaxBet))
	}
	if st.MaxLines > 0 && bet.LineCount() > st.MaxLines {
		return domain.ErrInvalidBet(fmt.Sprintf("%d lines exceed the maximum of %d", bet.LineCount(), st.MaxLines))
	}
	m := bet.MultiplierOrOne()
	if st.MaxMultiplier.IsPositive() && m.GreaterThan(st.MaxMultiplier) {
		return domain.ErrInvalidBet(fmt.Sprintf("multiplier %s exceeds the maximum of %s", m, st.MaxMultiplier))
	}
	return nil
}

// Floor converts a decimal payout to minor units, rounding down.
func Floor(d decimal.Decimal) int64 {
	return d.Floor().IntPart()
}
