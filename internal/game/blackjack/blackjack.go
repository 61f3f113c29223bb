// Package blackjack implements a single-deck blackjack round as a pure state
// machine: waiting -> playing -> ended.
package blackjack

import (
	"encoding/json"
	"fmt"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/game"
)

// Phase is the round's position in the state machine.
type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhasePlaying Phase = "playing"
	PhaseEnded   Phase = "ended"
)

const dealerStandsOn = 17

// Hand is one player hand. A split round has two.
type Hand struct {
	Cards   []Card `json:"cards"`
	Stake   int64  `json:"stake"`
	Doubled bool   `json:"doubled,omitempty"`
	Done    bool   `json:"done,omitempty"`
}

// State is the private round state persisted between actions.
type State struct {
	Phase  Phase  `json:"phase"`
	Deck   []Card `json:"deck"`
	Hands  []Hand `json:"hands"`
	Active int    `json:"active"`
	Dealer []Card `json:"dealer"`
	Split  bool   `json:"split,omitempty"`
	Bet    int64  `json:"bet"`
}

// ShoeFactory produces the deck a round is dealt from.
type ShoeFactory func(rng game.Rand) []Card

// Engine is the blackjack RoundEngine.
type Engine struct {
	shoe ShoeFactory
}

// Option configures an Engine.
type Option func(*Engine)

// WithShoeFactory replaces the shuffled deck, for deterministic rounds.
func WithShoeFactory(f ShoeFactory) Option {
	return func(e *Engine) { e.shoe = f }
}

// New returns a blackjack engine.
func New(opts ...Option) *Engine {
	e := &Engine{shoe: Shuffled}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateBet applies the game limits and allows only a single hand with no
// bet multiplier.
func (e *Engine) ValidateBet(bet domain.Bet, st domain.GameSettings) error {
	if err := game.ValidateBet(bet, st); err != nil {
		return err
	}
	if bet.LineCount() != 1 {
		return domain.ErrInvalidBet("blackjack is played on a single hand")
	}
	if !bet.MultiplierOrOne().Equal(one) {
		return domain.ErrInvalidBet("blackjack does not take a multiplier")
	}
	return nil
}

// Start deals player, dealer, player, dealer. Naturals resolve immediately.
func (e *Engine) Start(rng game.Rand, bet domain.Bet, st domain.GameSettings) (game.Step, error) {
	if err := e.ValidateBet(bet, st); err != nil {
		return game.Step{}, err
	}

	s := &State{Phase: PhaseWaiting, Deck: e.shoe(rng), Bet: bet.Amount}
	s.Hands = []Hand{{Stake: bet.Amount}}
	for i := 0; i < 2; i++ {
		s.Hands[0].Cards = append(s.Hands[0].Cards, s.draw(rng))
		s.Dealer = append(s.Dealer, s.draw(rng))
	}
	s.Phase = PhasePlaying

	if IsNatural(s.Hands[0].Cards) || IsNatural(s.Dealer) {
		s.Hands[0].Done = true
		s.Phase = PhaseEnded
	}
	return s.step(bet.Amount)
}

// Act applies a player decision to the active hand.
func (e *Engine) Act(rng game.Rand, raw json.RawMessage, action domain.Action) (game.Step, error) {
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return game.Step{}, fmt.Errorf("decode blackjack state: %w", err)
	}
	if s.Phase != PhasePlaying {
		return game.Step{}, domain.ErrInvalidState("round is not in play")
	}
	hand := &s.Hands[s.Active]

	var stake int64
	switch action {
	case domain.ActionHit:
		hand.Cards = append(hand.Cards, s.draw(rng))
		if total, _ := Value(hand.Cards); total >= 21 {
			hand.Done = true
		}

	case domain.ActionStand:
		hand.Done = true

	case domain.ActionDoubleDown:
		if len(hand.Cards) != 2 {
			return game.Step{}, domain.ErrInvalidState("double down needs a two-card hand")
		}
		stake = hand.Stake
		hand.Stake *= 2
		hand.Doubled = true
		hand.Cards = append(hand.Cards, s.draw(rng))
		hand.Done = true

	case domain.ActionSplit:
		if s.Split || len(s.Hands) != 1 || len(hand.Cards) != 2 || hand.Cards[0].Rank != hand.Cards[1].Rank {
			return game.Step{}, domain.ErrInvalidState("split needs a first two-card hand of equal ranks")
		}
		stake = hand.Stake
		first, second := hand.Cards[0], hand.Cards[1]
		s.Split = true
		s.Hands = []Hand{
			{Cards: []Card{first, s.draw(rng)}, Stake: stake},
			{Cards: []Card{second, s.draw(rng)}, Stake: stake},
		}
		if first.Rank == Ace {
			s.Hands[0].Done = true
			s.Hands[1].Done = true
		}

	default:
		return game.Step{}, domain.ErrValidation(fmt.Sprintf("unknown action %q", action))
	}

	s.advance(rng)
	return s.step(stake)
}

// advance moves to the next unfinished hand and plays the dealer once every
// hand is done.
func (s *State) advance(rng game.Rand) {
	for s.Active < len(s.Hands) && s.Hands[s.Active].Done {
		s.Active++
	}
	if s.Active < len(s.Hands) {
		return
	}
	s.Active = len(s.Hands) - 1

	live := false
	for _, h := range s.Hands {
		if total, _ := Value(h.Cards); total <= 21 {
			live = true
		}
	}
	for live {
		if total, _ := Value(s.Dealer); total >= dealerStandsOn {
			break
		}
		s.Dealer = append(s.Dealer, s.draw(rng))
	}
	s.Phase = PhaseEnded
}

// draw deals the top card, opening a fresh deck if the shoe ran out.
func (s *State) draw(rng game.Rand) Card {
	if len(s.Deck) == 0 {
		s.Deck = Shuffled(rng)
	}
	c := s.Deck[0]
	s.Deck = s.Deck[1:]
	return c
}

func (s *State) step(stake int64) (game.Step, error) {
	state, err := json.Marshal(s)
	if err != nil {
		return game.Step{}, fmt.Errorf("encode blackjack state: %w", err)
	}
	view, err := json.Marshal(s.view())
	if err != nil {
		return game.Step{}, fmt.Errorf("encode blackjack view: %w", err)
	}
	out := game.Step{Stake: stake, State: state, View: view}
	if s.Phase == PhaseEnded {
		out.Result = s.settle(view)
	}
	return out, nil
}
