package repository

import (
	"context"
	"errors"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// ErrActiveSessionExists is returned by SessionRepository.Insert when the
// (account, game) pair already has an active session.
var ErrActiveSessionExists = errors.New("active session already exists")

// ErrStaleState is returned by conditional updates whose precondition no
// longer holds (for example completing a transaction that is not pending).
var ErrStaleState = errors.New("row is not in the expected state")

// AccountRepository provides access to accounts.
// Lookups return (nil, nil) when the row does not exist.
type AccountRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// LockForUpdate acquires a row-level lock and returns the account.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	Create(ctx context.Context, account *domain.Account) error

	// UpdateBalance applies delta with server-side arithmetic and returns the updated row.
	UpdateBalance(ctx context.Context, id uuid.UUID, delta int64) (*domain.Account, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error

	// ListIDs pages through account ids in ascending order, starting after afterID.
	ListIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
}

// TransactionRepository provides access to the append-only ledger.
type TransactionRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)

	// LockForUpdate locks a ledger row so its status can be transitioned.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)

	// FindByReference checks the reference index for a duplicate.
	FindByReference(ctx context.Context, reference string) (*domain.Transaction, error)

	// Insert writes a new row. A reference collision yields DuplicateReference.
	Insert(ctx context.Context, tx *domain.Transaction) error

	// MarkCompleted moves a pending row to completed with its balance snapshot.
	MarkCompleted(ctx context.Context, id uuid.UUID, before, after int64, processedBy *uuid.UUID, at time.Time) error

	// MarkClosed moves a pending row to failed or cancelled.
	MarkClosed(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, processedBy *uuid.UUID, at time.Time) error

	// MarkReversed moves a completed row to reversed and sets the back-pointer.
	MarkReversed(ctx context.Context, id, reversedBy uuid.UUID, at time.Time) error

	AppendNote(ctx context.Context, id uuid.UUID, note domain.Note) error

	// ListByAccount returns transactions newest first with cursor pagination.
	ListByAccount(ctx context.Context, accountID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Transaction, error)

	// ListByRound returns all transactions of a game round, oldest first.
	ListByRound(ctx context.Context, roundID string) ([]domain.Transaction, error)

	// SumEffective returns the signed sum of completed and reversed rows.
	SumEffective(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// GameRepository provides access to the game catalog.
type GameRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Game, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Game, error)
	Create(ctx context.Context, game *domain.Game) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.GameStatus) error

	// RecordPlay increments the aggregate counters for one settled round.
	RecordPlay(ctx context.Context, id uuid.UUID, wagered, won int64) error
}

// SessionRepository provides access to game sessions and their round log.
type SessionRepository interface {
	// FindByID returns the session with its rounds loaded.
	FindByID(ctx context.Context, id uuid.UUID) (*domain.GameSession, error)

	// LockForUpdate locks the session row. Rounds are not loaded.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.GameSession, error)

	// FindActive returns the active session for the pair, if any.
	FindActive(ctx context.Context, accountID, gameID uuid.UUID) (*domain.GameSession, error)

	// Insert creates a session. Returns ErrActiveSessionExists on a pair conflict.
	Insert(ctx context.Context, s *domain.GameSession) error

	// AppendRound adds a round and bumps the counters and totals.
	AppendRound(ctx context.Context, sessionID uuid.UUID, round domain.Round, at time.Time) error

	// SavePending stores or clears (nil) the in-flight round.
	SavePending(ctx context.Context, sessionID uuid.UUID, pending *domain.PendingRound, at time.Time) error

	// UpdateLifecycle persists status, end fields and duration.
	UpdateLifecycle(ctx context.Context, s *domain.GameSession) error

	// LockActiveByGame locks and returns every active session of a game.
	LockActiveByGame(ctx context.Context, gameID uuid.UUID) ([]domain.GameSession, error)

	// ListIdle returns ids of active sessions with no activity since before.
	ListIdle(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)

	// ListWithPending returns ids of sessions whose in-flight round was last touched before the cutoff.
	ListWithPending(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

// Repos groups the repositories bound to one unit of work.
type Repos struct {
	Accounts     AccountRepository
	Transactions TransactionRepository
	Games        GameRepository
	Sessions     SessionRepository
}

// Store runs units of work. Everything fn writes through r commits together
// or not at all; a non-nil error from fn rolls back.
type Store interface {
	InTx(ctx context.Context, fn func(r Repos) error) error

	// Reader returns repositories outside any transaction, for reads.
	Reader() Repos
}
