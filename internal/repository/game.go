package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const gameColumns = `id, name, type, status, settings, total_plays, total_wagered, total_won, created_at, updated_at`

type gameRepo struct {
	db DBTX
}

func (r *gameRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Game, error) {
	row := r.db.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	return scanGame(row)
}

func (r *gameRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Game, error) {
	row := r.db.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1 FOR UPDATE`, id)
	return scanGame(row)
}

func (r *gameRepo) Create(ctx context.Context, g *domain.Game) error {
	settings, err := json.Marshal(g.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO games (id, name, type, status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		g.ID, g.Name, string(g.Type), string(g.Status), settings, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "games_name_key") {
			return domain.ErrConflict(fmt.Sprintf("game name %q already exists", g.Name))
		}
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

func (r *gameRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.GameStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE games SET status = $1, updated_at = now() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update game status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("game", id.String())
	}
	return nil
}

func (r *gameRepo) RecordPlay(ctx context.Context, id uuid.UUID, wagered, won int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE games
		SET total_plays = total_plays + 1,
		    total_wagered = total_wagered + $2,
		    total_won = total_won + $3,
		    updated_at = now()
		WHERE id = $1`,
		id, infra.Int64ToNumeric(wagered), infra.Int64ToNumeric(won))
	if err != nil {
		return fmt.Errorf("record game play: %w", err)
	}
	return nil
}

func scanGame(row pgx.Row) (*domain.Game, error) {
	var g domain.Game
	var gameType, status string
	var settings []byte
	var wageredNum, wonNum pgtype.Numeric
	err := row.Scan(&g.ID, &g.Name, &gameType, &status, &settings,
		&g.Stats.TotalPlays, &wageredNum, &wonNum, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan game: %w", err)
	}
	g.Type = domain.GameType(gameType)
	g.Status = domain.GameStatus(status)

	if err := json.Unmarshal(settings, &g.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if g.Stats.TotalWagered, err = infra.NumericToInt64(wageredNum); err != nil {
		return nil, fmt.Errorf("convert total_wagered: %w", err)
	}
	if g.Stats.TotalWon, err = infra.NumericToInt64(wonNum); err != nil {
		return nil, fmt.Errorf("convert total_won: %w", err)
	}
	return &g, nil
}
