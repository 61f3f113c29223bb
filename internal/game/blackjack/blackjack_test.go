package blackjack

import (
	"encoding/json"
	"testing"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/game"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var settings = domain.GameSettings{MinBet: 1, MaxBet: 1000}

// stacked deals the given ranks first, then an ordinary deck.
func stacked(ranks ...Rank) *Engine {
	return New(WithShoeFactory(func(game.Rand) []Card {
		cards := make([]Card, 0, len(ranks)+52)
		for _, r := range ranks {
			cards = append(cards, Card{Rank: r, Suit: Hearts})
		}
		return append(cards, NewDeck()...)
	}))
}

func play(t *testing.T, e *Engine, bet int64, actions ...domain.Action) []game.Step {
	t.Helper()
	step, err := e.Start(game.DefaultRand, domain.Bet{Amount: bet}, settings)
	require.NoError(t, err)
	steps := []game.Step{step}
	for _, a := range actions {
		step, err = e.Act(game.DefaultRand, step.State, a)
		require.NoError(t, err, "action %s", a)
		steps = append(steps, step)
	}
	return steps
}

func TestValue(t *testing.T) {
	c := func(r Rank) Card { return Card{Rank: r} }
	tests := []struct {
		name     string
		cards    []Card
		want     int
		wantSoft bool
	}{
		{"hard twenty", []Card{c(King), c(Queen)}, 20, false},
		{"soft seventeen", []Card{c(Ace), c(Six)}, 17, true},
		{"ace drops to one", []Card{c(Ace), c(Six), c(Nine)}, 16, false},
		{"two aces", []Card{c(Ace), c(Ace)}, 12, true},
		{"natural", []Card{c(Ace), c(Jack)}, 21, true},
		{"bust", []Card{c(King), c(Queen), c(Two)}, 22, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, soft := Value(tt.cards)
			assert.Equal(t, tt.want, total)
			assert.Equal(t, tt.wantSoft, soft)
		})
	}
}

func TestShuffled_IsAFullDeck(t *testing.T) {
	deck := Shuffled(game.DefaultRand)
	require.Len(t, deck, 52)
	seen := make(map[Card]bool)
	for _, c := range deck {
		seen[c] = true
	}
	assert.Len(t, seen, 52)
}

func TestPushReturnsStake(t *testing.T) {
	steps := play(t, stacked(King, King, Queen, Queen), 10, domain.ActionStand)

	assert.Nil(t, steps[0].Result)
	final := steps[1]
	require.NotNil(t, final.Result)
	assert.Equal(t, int64(10), final.Result.WinAmount)
	assert.Equal(t, domain.OutcomePush, final.Result.Outcome)
	assert.Equal(t, int64(0), final.Stake)
}

func TestNaturals(t *testing.T) {
	tests := []struct {
		name        string
		ranks       []Rank
		bet         int64
		wantWin     int64
		wantOutcome string
	}{
		{"player natural pays 3:2", []Rank{Ace, Nine, King, Seven}, 10, 25, domain.OutcomeBlackjack},
		{"odd stake is floored", []Rank{Ace, Nine, King, Seven}, 5, 12, domain.OutcomeBlackjack},
		{"both natural push", []Rank{Ace, Ace, King, King}, 10, 10, domain.OutcomePush},
		{"dealer natural", []Rank{Nine, Ace, Seven, King}, 10, 0, domain.OutcomeLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, err := stacked(tt.ranks...).Start(game.DefaultRand, domain.Bet{Amount: tt.bet}, settings)
			require.NoError(t, err)
			assert.Equal(t, tt.bet, step.Stake)
			require.NotNil(t, step.Result, "naturals resolve on the deal")
			assert.Equal(t, tt.wantWin, step.Result.WinAmount)
			assert.Equal(t, tt.wantOutcome, step.Result.Outcome)
		})
	}
}

func TestHitAndBust(t *testing.T) {
	// Player K+6, dealer 9+8, hit draws a queen.
	steps := play(t, stacked(King, Nine, Six, Eight, Queen), 10, domain.ActionHit)
	final := steps[1]
	require.NotNil(t, final.Result)
	assert.Equal(t, int64(0), final.Result.WinAmount)
	assert.Equal(t, domain.OutcomeLoss, final.Result.Outcome)
}

func TestDealerHitsBelowSeventeen(t *testing.T) {
	// Player K+8 stands on 18, dealer 9+5 draws 2 then 4 to reach 20.
	steps := play(t, stacked(King, Nine, Eight, Five, Two, Four), 10, domain.ActionStand)
	final := steps[1]
	require.NotNil(t, final.Result)
	assert.Equal(t, domain.OutcomeLoss, final.Result.Outcome)

	var v roundView
	require.NoError(t, json.Unmarshal(final.View, &v))
	require.NotNil(t, v.DealerValue)
	assert.Equal(t, 20, *v.DealerValue)
	assert.Len(t, v.Dealer, 4)
}

func TestDoubleDown(t *testing.T) {
	// Player 5+6, dealer 9+7; double draws a ten, dealer draws 8 and busts.
	steps := play(t, stacked(Five, Nine, Six, Seven, Ten, Eight), 10, domain.ActionDoubleDown)
	final := steps[1]

	assert.Equal(t, int64(10), final.Stake, "double debits the extra stake")
	require.NotNil(t, final.Result)
	assert.Equal(t, int64(40), final.Result.WinAmount)
	assert.Equal(t, domain.OutcomeWin, final.Result.Outcome)
}

func TestDoubleDown_OnlyOnTwoCards(t *testing.T) {
	e := stacked(Two, Nine, Three, Seven, Four)
	steps := play(t, e, 10, domain.ActionHit)
	_, err := e.Act(game.DefaultRand, steps[1].State, domain.ActionDoubleDown)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidState))
}

func TestSplit(t *testing.T) {
	// Player 8+8, dealer T+7. Split hands get 3 and K, first hand hits a 9.
	e := stacked(Eight, Ten, Eight, Seven, Three, King, Nine)
	steps := play(t, e, 10, domain.ActionSplit, domain.ActionHit, domain.ActionStand, domain.ActionStand)

	assert.Equal(t, int64(10), steps[1].Stake, "split debits a second stake")
	assert.Nil(t, steps[1].Result)

	var v roundView
	require.NoError(t, json.Unmarshal(steps[1].View, &v))
	require.Len(t, v.Hands, 2)
	assert.NotContains(t, v.Actions, domain.ActionSplit, "one split per round")

	final := steps[4]
	require.NotNil(t, final.Result)
	assert.Equal(t, int64(40), final.Result.WinAmount)
	assert.Equal(t, domain.OutcomeWin, final.Result.Outcome)

	_, err := e.Act(game.DefaultRand, final.State, domain.ActionHit)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidState), "round is over")
}

func TestSplitAces_DrawOneCardEach(t *testing.T) {
	// Player A+A, dealer 5+K. Split hands get 9 and T, dealer draws 6 to 21.
	steps := play(t, stacked(Ace, Five, Ace, King, Nine, Ten, Six), 10, domain.ActionSplit)
	final := steps[1]

	require.NotNil(t, final.Result, "split aces stand automatically")
	// 20 loses to 21, 21 after a split is not a natural and pushes.
	assert.Equal(t, int64(10), final.Result.WinAmount)
	assert.Equal(t, domain.OutcomeLoss, final.Result.Outcome)
}

func TestSplit_RequiresEqualRanks(t *testing.T) {
	e := stacked(King, Nine, Queen, Seven)
	steps := play(t, e, 10)
	_, err := e.Act(game.DefaultRand, steps[0].State, domain.ActionSplit)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidState))
}

func TestUnknownAction(t *testing.T) {
	e := stacked(King, Nine, Six, Seven)
	steps := play(t, e, 10)
	_, err := e.Act(game.DefaultRand, steps[0].State, domain.Action("surrender"))
	assert.True(t, domain.IsCode(err, domain.CodeValidation))
}

func TestView_HidesDeckAndHoleCard(t *testing.T) {
	steps := play(t, stacked(King, Nine, Six, Seven), 10)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(steps[0].View, &raw))
	assert.NotContains(t, raw, "deck")

	var v roundView
	require.NoError(t, json.Unmarshal(steps[0].View, &v))
	assert.Equal(t, PhasePlaying, v.Phase)
	assert.Equal(t, []string{"9h", "??"}, v.Dealer)
	assert.Nil(t, v.DealerValue)
	assert.Equal(t, []domain.Action{domain.ActionHit, domain.ActionStand, domain.ActionDoubleDown}, v.Actions)
}

func TestValidateBet(t *testing.T) {
	e := New()
	assert.NoError(t, e.ValidateBet(domain.Bet{Amount: 10}, settings))
	assert.True(t, domain.IsCode(e.ValidateBet(domain.Bet{Amount: 10, Lines: 3}, settings), domain.CodeInvalidBet))

	m := decimal.NewFromInt(2)
	assert.True(t, domain.IsCode(e.ValidateBet(domain.Bet{Amount: 10, Multiplier: &m}, settings), domain.CodeInvalidBet))
}
