package blackjack

import (
	"encoding/json"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	one        = decimal.NewFromInt(1)
	naturalPay = decimal.RequireFromString("1.5")
)

// settle pays each hand against the dealer. A push returns the stake, a win
// pays double and an unsplit natural pays 3:2 on top of the stake.
func (s *State) settle(view json.RawMessage) *domain.RoundResult {
	dealer, _ := Value(s.Dealer)
	dealerNatural := IsNatural(s.Dealer)

	var win, staked int64
	natural := false
	for _, h := range s.Hands {
		staked += h.Stake
		player, _ := Value(h.Cards)
		playerNatural := !s.Split && IsNatural(h.Cards)

		switch {
		case playerNatural && dealerNatural:
			win += h.Stake
		case playerNatural:
			natural = true
			win += h.Stake + decimal.NewFromInt(h.Stake).Mul(naturalPay).Floor().IntPart()
		case dealerNatural, player > 21:
		case dealer > 21, player > dealer:
			win += 2 * h.Stake
		case player == dealer:
			win += h.Stake
		}
	}

	outcome := domain.OutcomeLoss
	switch {
	case natural:
		outcome = domain.OutcomeBlackjack
	case win > staked:
		outcome = domain.OutcomeWin
	case win == staked:
		outcome = domain.OutcomePush
	}
	return &domain.RoundResult{WinAmount: win, Outcome: outcome, Detail: view}
}

type handView struct {
	Cards   []string `json:"cards"`
	Value   int      `json:"value"`
	Stake   int64    `json:"stake"`
	Doubled bool     `json:"doubled,omitempty"`
}

type roundView struct {
	Phase       Phase           `json:"phase"`
	Hands       []handView      `json:"hands"`
	ActiveHand  int             `json:"active_hand"`
	Dealer      []string        `json:"dealer"`
	DealerValue *int            `json:"dealer_value,omitempty"`
	Actions     []domain.Action `json:"actions"`
}

// view hides the deck and, while the round is in play, the dealer's hole card.
func (s *State) view() roundView {
	v := roundView{Phase: s.Phase, ActiveHand: s.Active, Actions: []domain.Action{}}
	for _, h := range s.Hands {
		total, _ := Value(h.Cards)
		v.Hands = append(v.Hands, handView{Cards: names(h.Cards), Value: total, Stake: h.Stake, Doubled: h.Doubled})
	}

	if s.Phase == PhaseEnded {
		v.Dealer = names(s.Dealer)
		total, _ := Value(s.Dealer)
		v.DealerValue = &total
		return v
	}

	v.Dealer = []string{s.Dealer[0].String(), "??"}
	hand := s.Hands[s.Active]
	v.Actions = append(v.Actions, domain.ActionHit, domain.ActionStand)
	if len(hand.Cards) == 2 {
		v.Actions = append(v.Actions, domain.ActionDoubleDown)
		if !s.Split && hand.Cards[0].Rank == hand.Cards[1].Rank {
			v.Actions = append(v.Actions, domain.ActionSplit)
		}
	}
	return v
}

func names(cards []Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.String()
	}
	return out
}
