package session

import (
	"context"
	"fmt"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/repository"
)

// Settled is the outcome of finalizing an in-flight round.
type Settled struct {
	Round  domain.Round
	Events []domain.Event
}

// FinalizeIn credits the payout of the locked session's resolved pending
// round, appends the round and clears the pending slot.
func (s *Service) FinalizeIn(ctx context.Context, r repository.Repos, sess *domain.GameSession) (*Settled, error) {
	p := sess.Pending
	if p == nil || !p.Resolved() {
		return nil, domain.ErrInvalidState("no resolved round to settle")
	}

	var evts []domain.Event
	if win := p.Result.WinAmount; win > 0 {
		res, err := s.ledger.Post(ctx, r, domain.PostParams{
			AccountID: sess.AccountID,
			Type:      domain.TxWin,
			Amount:    win,
			Reference: domain.WinReference(p.RoundID),
			GameID:    &sess.GameID,
			SessionID: &sess.ID,
			RoundID:   &p.RoundID,
		})
		if err != nil {
			return nil, fmt.Errorf("credit win: %w", err)
		}
		evts = append(evts, res.Events...)
	}

	bet := p.Bet
	bet.Amount = p.Staked
	round, err := s.AppendRoundIn(ctx, r, sess, p.RoundID, bet, *p.Result)
	if err != nil {
		return nil, err
	}
	if err := r.Sessions.SavePending(ctx, sess.ID, nil, round.PlayedAt); err != nil {
		return nil, fmt.Errorf("clear pending: %w", err)
	}
	sess.Pending = nil

	evts = append(evts, domain.NewRoundAppendedEvent(sess, round))
	return &Settled{Round: round, Events: evts}, nil
}

// VoidIn reverses every stake debit of the locked session's pending round
// that is still in effect and clears the pending slot. Debits already
// reversed are skipped, so a partially compensated round can be voided again.
func (s *Service) VoidIn(ctx context.Context, r repository.Repos, sess *domain.GameSession, reason string) ([]domain.Event, error) {
	p := sess.Pending
	if p == nil {
		return nil, nil
	}

	var evts []domain.Event
	for _, id := range p.Debits {
		tx, err := r.Transactions.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("find debit: %w", err)
		}
		if tx == nil || tx.Status != domain.TxCompleted {
			continue
		}
		res, err := s.ledger.ReverseIn(ctx, r, domain.ReverseParams{TransactionID: id, Reason: reason})
		if err != nil {
			return nil, fmt.Errorf("reverse debit %s: %w", id, err)
		}
		evts = append(evts, res.Events...)
	}

	if err := r.Sessions.SavePending(ctx, sess.ID, nil, s.ledger.Now()); err != nil {
		return nil, fmt.Errorf("clear pending: %w", err)
	}
	sess.Pending = nil
	return evts, nil
}
