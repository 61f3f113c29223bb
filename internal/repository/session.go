package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const sessionColumns = `id, account_id, game_id, status, started_at, ended_at, ended_by, round_count,
	total_wagered, total_won, duration_ms, client_info, last_activity_at, pending`

type sessionRepo struct {
	db DBTX
}

func (r *sessionRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.GameSession, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil || s == nil {
		return s, err
	}
	if s.Rounds, err = r.listRounds(ctx, id); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *sessionRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.GameSession, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1 FOR UPDATE`, id)
	return scanSession(row)
}

func (r *sessionRepo) FindActive(ctx context.Context, accountID, gameID uuid.UUID) (*domain.GameSession, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM game_sessions
		WHERE account_id = $1 AND game_id = $2 AND status = 'active'`, accountID, gameID)
	return scanSession(row)
}

func (r *sessionRepo) Insert(ctx context.Context, s *domain.GameSession) error {
	client, err := json.Marshal(s.ClientInfo)
	if err != nil {
		return fmt.Errorf("marshal client info: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO game_sessions (id, account_id, game_id, status, started_at, client_info, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.AccountID, s.GameID, string(s.Status), s.StartedAt, client, s.LastActivityAt)
	if err != nil {
		if isUniqueViolation(err, "game_sessions_one_active") {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionRepo) AppendRound(ctx context.Context, sessionID uuid.UUID, round domain.Round, at time.Time) error {
	bet, err := json.Marshal(round.Bet)
	if err != nil {
		return fmt.Errorf("marshal bet: %w", err)
	}
	result, err := json.Marshal(round.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	// The counter guard keeps round numbers gapless even if a caller skipped the lock.
	tag, err := r.db.Exec(ctx, `
		UPDATE game_sessions
		SET round_count = round_count + 1,
		    total_wagered = total_wagered + $3,
		    total_won = total_won + $4,
		    last_activity_at = $5
		WHERE id = $1 AND round_count = $2 - 1`,
		sessionID, round.RoundNumber,
		infra.Int64ToNumeric(round.Bet.Amount), infra.Int64ToNumeric(round.Result.WinAmount), at)
	if err != nil {
		return fmt.Errorf("bump session totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO game_rounds (session_id, round_number, round_id, bet, result, bet_amount, win_amount, played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sessionID, round.RoundNumber, round.RoundID, bet, result,
		infra.Int64ToNumeric(round.Bet.Amount), infra.Int64ToNumeric(round.Result.WinAmount), round.PlayedAt)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (r *sessionRepo) SavePending(ctx context.Context, sessionID uuid.UUID, pending *domain.PendingRound, at time.Time) error {
	var data []byte
	var pendingAt *time.Time
	if pending != nil {
		var err error
		if data, err = json.Marshal(pending); err != nil {
			return fmt.Errorf("marshal pending round: %w", err)
		}
		pendingAt = &at
	}
	_, err := r.db.Exec(ctx, `
		UPDATE game_sessions
		SET pending = $2, pending_updated_at = $3, last_activity_at = $4
		WHERE id = $1`, sessionID, data, pendingAt, at)
	if err != nil {
		return fmt.Errorf("save pending round: %w", err)
	}
	return nil
}

func (r *sessionRepo) UpdateLifecycle(ctx context.Context, s *domain.GameSession) error {
	var endedBy *string
	if s.EndedBy != nil {
		v := string(*s.EndedBy)
		endedBy = &v
	}
	_, err := r.db.Exec(ctx, `
		UPDATE game_sessions
		SET status = $2, ended_at = $3, ended_by = $4, duration_ms = $5, last_activity_at = $6
		WHERE id = $1`,
		s.ID, string(s.Status), s.EndedAt, endedBy, s.Duration.Milliseconds(), s.LastActivityAt)
	if err != nil {
		if isUniqueViolation(err, "game_sessions_one_active") {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("update session lifecycle: %w", err)
	}
	return nil
}

func (r *sessionRepo) LockActiveByGame(ctx context.Context, gameID uuid.UUID) ([]domain.GameSession, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM game_sessions
		WHERE game_id = $1 AND status = 'active'
		ORDER BY id
		FOR UPDATE`, gameID)
	if err != nil {
		return nil, fmt.Errorf("lock active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.GameSession
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *sessionRepo) ListIdle(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM game_sessions
		WHERE status = 'active' AND last_activity_at < $1
		ORDER BY last_activity_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *sessionRepo) ListWithPending(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM game_sessions
		WHERE pending IS NOT NULL AND pending_updated_at < $1
		ORDER BY pending_updated_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *sessionRepo) listRounds(ctx context.Context, sessionID uuid.UUID) ([]domain.Round, error) {
	rows, err := r.db.Query(ctx, `
		SELECT round_number, round_id, bet, result, played_at
		FROM game_rounds WHERE session_id = $1
		ORDER BY round_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	rounds := []domain.Round{}
	for rows.Next() {
		var rd domain.Round
		var bet, result []byte
		if err := rows.Scan(&rd.RoundNumber, &rd.RoundID, &bet, &result, &rd.PlayedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if err := json.Unmarshal(bet, &rd.Bet); err != nil {
			return nil, fmt.Errorf("decode bet: %w", err)
		}
		if err := json.Unmarshal(result, &rd.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		rounds = append(rounds, rd)
	}
	return rounds, rows.Err()
}

func scanSession(row pgx.Row) (*domain.GameSession, error) {
	s, err := scanSessionRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func scanSessionRow(row pgx.Row) (*domain.GameSession, error) {
	var s domain.GameSession
	var status string
	var endedBy *string
	var wageredNum, wonNum pgtype.Numeric
	var durationMs int64
	var client, pending []byte
	err := row.Scan(&s.ID, &s.AccountID, &s.GameID, &status, &s.StartedAt, &s.EndedAt, &endedBy,
		&s.RoundCount, &wageredNum, &wonNum, &durationMs, &client, &s.LastActivityAt, &pending)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.Status = domain.SessionStatus(status)
	if endedBy != nil {
		reason := domain.EndReason(*endedBy)
		s.EndedBy = &reason
	}
	s.Duration = time.Duration(durationMs) * time.Millisecond

	if s.TotalWagered, err = infra.NumericToInt64(wageredNum); err != nil {
		return nil, fmt.Errorf("convert total_wagered: %w", err)
	}
	if s.TotalWon, err = infra.NumericToInt64(wonNum); err != nil {
		return nil, fmt.Errorf("convert total_won: %w", err)
	}
	if err := json.Unmarshal(client, &s.ClientInfo); err != nil {
		return nil, fmt.Errorf("decode client info: %w", err)
	}
	if len(pending) > 0 {
		s.Pending = &domain.PendingRound{}
		if err := json.Unmarshal(pending, s.Pending); err != nil {
			return nil, fmt.Errorf("decode pending round: %w", err)
		}
	}
	return &s, nil
}
