package reconcile

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/attaboy/casino-ledger/internal/catalog"
	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/events"
	"github.com/attaboy/casino-ledger/internal/game"
	"github.com/attaboy/casino-ledger/internal/game/slots"
	"github.com/attaboy/casino-ledger/internal/ledger"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/attaboy/casino-ledger/internal/session"
	"github.com/attaboy/casino-ledger/internal/settlement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	now      time.Time
	store    *repository.MemoryStore
	ledger   *ledger.Engine
	sessions *session.Service
	catalog  *catalog.Service
	rec      *Reconciler
	events   *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		now:    time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
		store:  repository.NewMemoryStore(),
		events: events.NewRecorder(),
	}
	f.ledger = ledger.NewEngine(f.store, f.events, logger, ledger.WithClock(func() time.Time { return f.now }))
	f.sessions = session.NewService(f.ledger, logger)
	f.catalog = catalog.NewService(f.ledger, f.sessions, logger)
	settle := settlement.NewService(f.ledger, f.sessions,
		game.NewRegistry(map[domain.GameType]game.RoundEngine{domain.GameSlot: slots.New()}),
		logger, settlement.WithCompensation(1, 0))
	f.rec = New(f.ledger, f.sessions, settle, Config{
		SessionIdleTimeout:  30 * time.Minute,
		PendingRoundTimeout: 5 * time.Minute,
	}, logger)
	return f
}

func (f *fixture) fundedAccount(t *testing.T, amount int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	acct, err := f.ledger.OpenAccount(ctx, "EUR")
	require.NoError(t, err)
	_, err = f.ledger.RecordTransaction(ctx, domain.PostParams{
		AccountID: acct.ID, Type: domain.TxDeposit, Amount: amount, Reference: ledger.NewReference("dep"),
	})
	require.NoError(t, err)
	return acct.ID
}

// strandRound debits a stake and leaves the round pending, as a crash
// between the two settlement commits would.
func (f *fixture) strandRound(t *testing.T, sess *domain.GameSession, stake int64) {
	t.Helper()
	ctx := context.Background()
	roundID := ledger.NewReference("")
	err := f.store.InTx(ctx, func(r repository.Repos) error {
		res, err := f.ledger.Post(ctx, r, domain.PostParams{
			AccountID: sess.AccountID,
			Type:      domain.TxBet,
			Amount:    stake,
			Reference: domain.BetReference(roundID, 1),
			GameID:    &sess.GameID,
			SessionID: &sess.ID,
			RoundID:   &roundID,
		})
		if err != nil {
			return err
		}
		return r.Sessions.SavePending(ctx, sess.ID, &domain.PendingRound{
			RoundID:   roundID,
			Bet:       domain.Bet{Amount: stake},
			Debits:    []uuid.UUID{res.Transaction.ID},
			Staked:    stake,
			StartedAt: f.now,
			UpdatedAt: f.now,
		}, f.now)
	})
	require.NoError(t, err)
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	g, err := f.catalog.Create(ctx, catalog.CreateGameInput{
		Name: "Lucky Sevens",
		Type: domain.GameSlot,
		Settings: domain.GameSettings{
			MinBet: 1, MaxBet: 100, MaxLines: 8,
			MaxMultiplier: decimal.NewFromInt(10), RTP: decimal.NewFromInt(96),
		},
	})
	require.NoError(t, err)

	idle := f.fundedAccount(t, 100)
	stuck := f.fundedAccount(t, 100)
	tampered := f.fundedAccount(t, 100)

	idleSess, _, err := f.sessions.StartOrResume(ctx, idle, g.ID, domain.ClientInfo{})
	require.NoError(t, err)

	f.now = f.now.Add(50 * time.Minute)
	stuckSess, _, err := f.sessions.StartOrResume(ctx, stuck, g.ID, domain.ClientInfo{})
	require.NoError(t, err)
	f.strandRound(t, stuckSess, 25)

	require.NoError(t, f.store.InTx(ctx, func(r repository.Repos) error {
		_, err := r.Accounts.UpdateBalance(ctx, tampered, 7)
		return err
	}))

	f.now = f.now.Add(10 * time.Minute)
	rep, err := f.rec.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.RoundsRecovered)
	assert.Equal(t, 1, rep.SessionsExpired)
	assert.Equal(t, 3, rep.AccountsChecked)
	assert.Equal(t, []uuid.UUID{tampered}, rep.Inconsistent)

	t.Run("stranded stake is returned", func(t *testing.T) {
		bal, err := f.ledger.GetBalance(ctx, stuck)
		require.NoError(t, err)
		assert.Equal(t, int64(100), bal)

		sess, err := f.sessions.Get(ctx, stuckSess.ID)
		require.NoError(t, err)
		assert.Nil(t, sess.Pending)
		assert.True(t, sess.IsActive(), "recent activity keeps the session open")
	})

	t.Run("idle session ends by timeout", func(t *testing.T) {
		sess, err := f.sessions.Get(ctx, idleSess.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionEnded, sess.Status)
		require.NotNil(t, sess.EndedBy)
		assert.Equal(t, domain.EndedByTimeout, *sess.EndedBy)
	})

	t.Run("tampered account is suspended", func(t *testing.T) {
		acct, err := f.ledger.GetAccount(ctx, tampered)
		require.NoError(t, err)
		assert.Equal(t, domain.AccountSuspended, acct.Status)
		assert.Contains(t, f.events.Types(), domain.EventLedgerInconsistent)
	})

	t.Run("second sweep is quiet", func(t *testing.T) {
		rep, err := f.rec.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, rep.RoundsRecovered)
		assert.Zero(t, rep.SessionsExpired)
		assert.Equal(t, []uuid.UUID{tampered}, rep.Inconsistent, "suspension does not correct the balance")
	})
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.rec.Run(ctx, time.Millisecond) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
