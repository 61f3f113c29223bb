// Package slots implements a 3x3, eight-payline slot machine.
package slots

import (
	"encoding/json"
	"fmt"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/game"
	"github.com/shopspring/decimal"
)

// Symbol is one reel symbol.
type Symbol string

const (
	Cherry  Symbol = "CHERRY"
	Lemon   Symbol = "LEMON"
	Orange  Symbol = "ORANGE"
	Bell    Symbol = "BELL"
	Seven   Symbol = "SEVEN"
	Diamond Symbol = "DIAMOND"
	Wild    Symbol = "WILD"
)

type symbolSpec struct {
	symbol     Symbol
	weight     int
	multiplier decimal.Decimal
}

var symbols = []symbolSpec{
	{Cherry, 30, decimal.RequireFromString("1.1")},
	{Lemon, 25, decimal.RequireFromString("1.2")},
	{Orange, 20, decimal.RequireFromString("1.3")},
	{Bell, 12, decimal.RequireFromString("1.4")},
	{Seven, 8, decimal.RequireFromString("1.5")},
	{Diamond, 4, decimal.RequireFromString("2.0")},
	{Wild, 1, decimal.RequireFromString("2.0")},
}

var (
	totalWeight    = sumWeights()
	wildMultiplier = Multiplier(Wild)
	two            = decimal.NewFromInt(2)
)

func sumWeights() int {
	total := 0
	for _, s := range symbols {
		total += s.weight
	}
	return total
}

// Multiplier returns the payout multiplier of s.
func Multiplier(s Symbol) decimal.Decimal {
	for _, spec := range symbols {
		if spec.symbol == s {
			return spec.multiplier
		}
	}
	return decimal.Zero
}

// Grid is indexed [row][column], row 0 on top.
type Grid [3][3]Symbol

type cell struct{ row, col int }

// Paylines in evaluation order. A bet on N lines plays the first N.
var Paylines = [8][3]cell{
	{{1, 0}, {1, 1}, {1, 2}}, // middle row
	{{0, 0}, {0, 1}, {0, 2}}, // top row
	{{2, 0}, {2, 1}, {2, 2}}, // bottom row
	{{0, 0}, {1, 1}, {2, 2}}, // diagonal down
	{{2, 0}, {1, 1}, {0, 2}}, // diagonal up
	{{0, 0}, {1, 1}, {0, 2}}, // V
	{{2, 0}, {1, 1}, {2, 2}}, // inverted V
	{{0, 1}, {1, 1}, {2, 1}}, // centre column
}

// Spin fills the grid row by row, drawing each cell independently.
func Spin(rng game.Rand) Grid {
	var g Grid
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			g[row][col] = draw(rng)
		}
	}
	return g
}

func draw(rng game.Rand) Symbol {
	n := rng.IntN(totalWeight)
	for _, s := range symbols {
		if n < s.weight {
			return s.symbol
		}
		n -= s.weight
	}
	return symbols[len(symbols)-1].symbol
}

// LineWin describes one winning payline.
type LineWin struct {
	Line   int             `json:"line"`
	Symbol Symbol          `json:"symbol"`
	Wilds  int             `json:"wilds"`
	Amount decimal.Decimal `json:"amount"`
}

// Evaluate returns the floored total payout of g for bet and the winning lines.
//
// A line wins when its non-wild cells share one symbol; an all-wild line pays
// as WILD. Each winning line pays
//
//	(amount / lines) * mult(symbol) * mult(WILD)^wilds * 2^(wilds-1 if wilds > 1)
//
// and the sum is scaled by the bet multiplier before flooring.
func Evaluate(g Grid, bet domain.Bet) (int64, []LineWin) {
	lines := bet.LineCount()
	perLine := decimal.NewFromInt(bet.Amount).Div(decimal.NewFromInt(int64(lines)))

	total := decimal.Zero
	var wins []LineWin
	for i := 0; i < lines && i < len(Paylines); i++ {
		sym, wilds, ok := match(g, Paylines[i])
		if !ok {
			continue
		}
		amount := perLine.Mul(Multiplier(sym))
		if wilds > 0 {
			amount = amount.Mul(wildMultiplier.Pow(decimal.NewFromInt(int64(wilds))))
		}
		if wilds > 1 {
			amount = amount.Mul(two.Pow(decimal.NewFromInt(int64(wilds - 1))))
		}
		total = total.Add(amount)
		wins = append(wins, LineWin{Line: i + 1, Symbol: sym, Wilds: wilds, Amount: amount})
	}
	return game.Floor(total.Mul(bet.MultiplierOrOne())), wins
}

// match reports the symbol a payline pays on and how many wilds it used.
// Wilds stand in at any position, so a line that opens with a wild pays at
// the first non-wild symbol's multiplier.
func match(g Grid, line [3]cell) (Symbol, int, bool) {
	var sym Symbol
	wilds := 0
	for _, c := range line {
		s := g[c.row][c.col]
		if s == Wild {
			wilds++
			continue
		}
		if sym == "" {
			// First non-wild cell fixes the line's symbol.
			sym = s
		} else if s != sym {
			return "", 0, false
		}
	}
	if sym == "" {
		sym = Wild
	}
	return sym, wilds, true
}

// Engine is the slot RoundEngine. Every round resolves on Start.
type Engine struct{}

// New returns a slot engine.
func New() *Engine { return &Engine{} }

type detail struct {
	Grid  Grid      `json:"grid"`
	Lines int       `json:"lines"`
	Wins  []LineWin `json:"wins"`
}

// ValidateBet checks the bet against the game's limits.
func (e *Engine) ValidateBet(bet domain.Bet, st domain.GameSettings) error {
	return game.ValidateBet(bet, st)
}

// Start spins the reels and resolves the round in one step.
func (e *Engine) Start(rng game.Rand, bet domain.Bet, st domain.GameSettings) (game.Step, error) {
	if err := e.ValidateBet(bet, st); err != nil {
		return game.Step{}, err
	}

	grid := Spin(rng)
	win, wins := Evaluate(grid, bet)
	if wins == nil {
		wins = []LineWin{}
	}
	data, err := json.Marshal(detail{Grid: grid, Lines: bet.LineCount(), Wins: wins})
	if err != nil {
		return game.Step{}, fmt.Errorf("marshal spin: %w", err)
	}

	outcome := domain.OutcomeLoss
	if win > 0 {
		outcome = domain.OutcomeWin
	}
	return game.Step{
		Stake:  bet.Amount,
		View:   data,
		Result: &domain.RoundResult{WinAmount: win, Outcome: outcome, Detail: data},
	}, nil
}
