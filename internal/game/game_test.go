package game

import (
	"testing"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct{}

func (stubEngine) ValidateBet(domain.Bet, domain.GameSettings) error { return nil }
func (stubEngine) Start(Rand, domain.Bet, domain.GameSettings) (Step, error) {
	return Step{}, nil
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(map[domain.GameType]RoundEngine{domain.GameSlot: stubEngine{}})

	e, err := r.Lookup(domain.GameSlot)
	require.NoError(t, err)
	assert.NotNil(t, e)

	for _, gt := range []domain.GameType{domain.GameTable, domain.GameOther, domain.GameCard} {
		_, err := r.Lookup(gt)
		assert.True(t, domain.IsCode(err, domain.CodeUnsupportedGameType), gt)
	}
}

func TestValidateBet(t *testing.T) {
	settings := domain.GameSettings{MinBet: 5, MaxBet: 100, MaxLines: 5, MaxMultiplier: decimal.NewFromInt(3)}
	dec := func(s string) *decimal.Decimal { d := decimal.RequireFromString(s); return &d }

	tests := []struct {
		name    string
		bet     domain.Bet
		wantErr bool
	}{
		{"within limits", domain.Bet{Amount: 10, Lines: 3, Multiplier: dec("2")}, false},
		{"defaults", domain.Bet{Amount: 5}, false},
		{"zero amount", domain.Bet{Amount: 0}, true},
		{"negative amount", domain.Bet{Amount: -10}, true},
		{"below minimum", domain.Bet{Amount: 4}, true},
		{"above maximum", domain.Bet{Amount: 101}, true},
		{"too many lines for game", domain.Bet{Amount: 10, Lines: 6}, true},
		{"more lines than paylines", domain.Bet{Amount: 10, Lines: 9}, true},
		{"multiplier above maximum", domain.Bet{Amount: 10, Multiplier: dec("3.5")}, true},
		{"zero multiplier", domain.Bet{Amount: 10, Multiplier: dec("0")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBet(tt.bet, settings)
			if tt.wantErr {
				assert.True(t, domain.IsCode(err, domain.CodeInvalidBet), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateBet_OpenBounds(t *testing.T) {
	assert.NoError(t, ValidateBet(domain.Bet{Amount: 1_000_000, Lines: 8}, domain.GameSettings{MinBet: 1}))
}

func TestFloor(t *testing.T) {
	assert.Equal(t, int64(15), Floor(decimal.RequireFromString("15.99")))
	assert.Equal(t, int64(0), Floor(decimal.RequireFromString("0.4")))
}

func TestDefaultRand(t *testing.T) {
	for i := 0; i < 100; i++ {
		n := DefaultRand.IntN(10)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 10)
	}
}
