package settlement

import (
	"context"
	"fmt"

	"github.com/attaboy/casino-ledger/internal/domain"
)

// RoundSummary aggregates all bets, wins and reversals recorded for a round.
// Amounts are reported as positive magnitudes.
func (s *Service) RoundSummary(ctx context.Context, roundID string) (*domain.RoundSummary, error) {
	txs, err := s.store.Reader().Transactions.ListByRound(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("get round transactions: %w", err)
	}
	if len(txs) == 0 {
		return nil, domain.ErrNotFound("round", roundID)
	}

	summary := &domain.RoundSummary{
		RoundID:      roundID,
		Transactions: txs,
	}
	reversedBets := 0
	for _, tx := range txs {
		switch tx.Type {
		case domain.TxBet:
			summary.TotalBet += -tx.Amount
			summary.BetCount++
			if tx.Status == domain.TxReversed {
				reversedBets++
			}
		case domain.TxWin:
			summary.TotalWin += tx.Amount
			summary.WinCount++
		case domain.TxReversal:
			summary.ReversalCount++
		}
	}
	summary.Voided = summary.BetCount > 0 && reversedBets == summary.BetCount
	return summary, nil
}
