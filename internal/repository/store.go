package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PgStore runs units of work as ReadCommitted Postgres transactions.
// Row locks (SELECT ... FOR UPDATE) taken through the tx-bound repositories
// serialize writers per account and per session.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by the given pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// InTx runs fn inside a single database transaction.
func (s *PgStore) InTx(ctx context.Context, fn func(r Repos) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(pgRepos(tx))
	})
}

// Reader returns pool-bound repositories.
func (s *PgStore) Reader() Repos {
	return pgRepos(s.pool)
}

func pgRepos(db DBTX) Repos {
	return Repos{
		Accounts:     &accountRepo{db: db},
		Transactions: &transactionRepo{db: db},
		Games:        &gameRepo{db: db},
		Sessions:     &sessionRepo{db: db},
	}
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
