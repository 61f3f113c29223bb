package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/events"
	"github.com/attaboy/casino-ledger/internal/ledger"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *repository.MemoryStore
	ledger  *ledger.Engine
	svc     *Service
	events  *events.Recorder
	account *domain.Account
	game    *domain.Game
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	rec := events.NewRecorder()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := ledger.NewEngine(store, rec, logger)

	acct, err := eng.OpenAccount(ctx, "EUR")
	require.NoError(t, err)
	_, err = eng.RecordTransaction(ctx, domain.PostParams{AccountID: acct.ID, Type: domain.TxDeposit, Amount: 100, Reference: ledger.NewReference("seed")})
	require.NoError(t, err)

	game := &domain.Game{ID: uuid.New(), Name: "Fruit Frenzy", Type: domain.GameSlot, Status: domain.GameActive}
	require.NoError(t, store.Reader().Games.Create(ctx, game))

	return &fixture{store: store, ledger: eng, svc: NewService(eng, logger), events: rec, account: acct, game: game}
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	bal, err := f.ledger.GetBalance(context.Background(), f.account.ID)
	require.NoError(t, err)
	return bal
}

// --- StartOrResume Tests ---

func TestStartOrResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := domain.ClientInfo{IP: "10.0.0.1", UserAgent: "test", Device: "desktop"}

	first, created, err := f.svc.StartOrResume(ctx, f.account.ID, f.game.ID, client)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.SessionActive, first.Status)
	assert.Equal(t, client, first.ClientInfo)

	again, created, err := f.svc.StartOrResume(ctx, f.account.ID, f.game.ID, client)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	assert.Equal(t, []domain.EventType{domain.EventTransactionCompleted, domain.EventSessionStarted}, f.events.Types())
}

func TestStartOrResume_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inactive := &domain.Game{ID: uuid.New(), Name: "Closed", Type: domain.GameSlot, Status: domain.GameMaintenance}
	require.NoError(t, f.store.Reader().Games.Create(ctx, inactive))

	banned, err := f.ledger.OpenAccount(ctx, "EUR")
	require.NoError(t, err)
	require.NoError(t, f.store.Reader().Accounts.UpdateStatus(ctx, banned.ID, domain.AccountBanned))

	tests := []struct {
		name      string
		accountID uuid.UUID
		gameID    uuid.UUID
		wantCode  string
	}{
		{"game in maintenance", f.account.ID, inactive.ID, domain.CodeGameUnavailable},
		{"unknown game", f.account.ID, uuid.New(), domain.CodeNotFound},
		{"banned account", banned.ID, f.game.ID, domain.CodeAccountNotActive},
		{"unknown account", uuid.New(), f.game.ID, domain.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.StartOrResume(ctx, tt.accountID, tt.gameID, domain.ClientInfo{})
			assert.True(t, domain.IsCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestStartOrResume_ConcurrentStartsYieldOneSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, _, err := f.svc.StartOrResume(ctx, f.account.ID, f.game.ID, domain.ClientInfo{})
			if assert.NoError(t, err) {
				ids[i] = sess.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var started int
	for _, typ := range f.events.Types() {
		if typ == domain.EventSessionStarted {
			started++
		}
	}
	assert.Equal(t, 1, started)
}

// --- AppendRound Tests ---

func TestAppendRound_ConcurrentAppendsAreGapless(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, _, err := f.svc.StartOrResume(ctx, f.account.ID, f.game.ID, domain.ClientInfo{})
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	numbers := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := f.svc.AppendRound(ctx, sess.ID, domain.Bet{Amount: 10}, domain.RoundResult{WinAmount: 2, Outcome: domain.OutcomeWin})
			if assert.NoError(t, err) {
				numbers <- num
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool)
	for num := range numbers {
		assert.False(t, seen[num], "duplicate round number %d", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)

	got, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Rounds, n)
	for i, r := range got.Rounds {
		assert.Equal(t, i+1, r.RoundNumber)
	}
	assert.Equal(t, int64(n*10), got.TotalWagered)
	assert.Equal(t, int64(n*2), got.TotalWon)

	game, err := f.store.Reader().Games.FindByID(ctx, f.game.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), game.Stats.TotalPlays)
	assert.Equal(t, int64(n*10), game.Stats.TotalWagered)
}

func TestAppendRound_SessionNotActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, _, err := f.svc.StartOrResume(ctx, f.account.ID, f.game.ID, domain.ClientInfo{})
	require.NoError(t, err)
	_, err = f.svc.End(ctx, sess.ID, domain.EndedByUser)
	require.NoError(t, err)

	_, err = f.svc.AppendRound(ctx, sess.ID, domain.Bet{Amount: 10}, domain.RoundResult{Outcome: domain.OutcomeLoss})
	assert.True(t, domain.IsCode(err, domain.CodeSessionNotActive))

	_, err = f.svc.AppendRound(ctx, uuid.New(), domain.Bet{Amount: 10}, domain.RoundResult{})
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))
}

// --- End Tests ---

func TestEnd_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, _, err := f.svc.StartOrResume(ctx, f.account.ID, f.game.ID, domain.ClientInfo{})
	require.NoError(t, err)

	ended, err := f.svc.End(ctx, sess.ID, domain.EndedByUser)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionEnded, ended.Status)
	require.NotNil(t, ended.EndedBy)
	assert.Equal(t, domain.EndedByUser, *ended.EndedBy)
	require.NotNil(t, ended.EndedAt)

	again, err := f.svc.End(ctx, sess.ID, domain.EndedByAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.EndedByUser, *again.EndedBy, "first end wins")
	assert.Equal(t, *ended.EndedAt, *again.EndedAt)

	var endedEvents int
	for _, typ := range f.events.Types() {
		if typ == domain.EventSessionEnded {
			endedEvents++
		}
	}
	assert.Equal(t, 1, endedEvents)

	_, err = f.svc.End(ctx, sess.ID, domain.EndReason("bored"))
	assert.True(t, domain.IsCode(err, domain.CodeValidation))
}

func TestEnd_NewSessionAfterEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, _, err := f.svc.StartOrResume(ctx, f.account.ID, f.game.ID, domain.ClientInfo{})
	require.NoError(t, err)
	_, err = f.svc.End(ctx, first.ID, domain.EndedByUser)
	require.NoError(t, err)

	second, created, err := f.svc.StartOrResume(ctx, f.account.ID, f.game.ID, domain.ClientInfo{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

// stagePending debits a stake and parks it as the session's in-flight round.
func stagePending(t *testing.T, f *fixture, sessionID uuid.UUID, stake int64, result *domain.RoundResult) string {
	t.Helper()
	ctx := context.Background()
	roundID := ledger.NewReference("")
	err := f.store.InTx(ctx, func(r repository.Repos) error {
		sess, err := f.svc.LockIn(ctx, r, sessionID)
		if err != nil {
			return err
		}
		res, err := f.ledger.Post(ctx, r, domain.PostParams{
			AccountID: sess.AccountID, Type: domain.TxBet, Amount: stake,
			Reference: domain.BetReference(roundID, 1), SessionID: &sess.ID, GameID: &sess.GameID, RoundID: &roundID,
		})
		if err != nil {
			return err
		}
		now := f.ledger.Now()
		return r.Sessions.SavePending(ctx, sess.ID, &domain.PendingRound{
			RoundID: roundID, Bet: domain.Bet{Amount: stake}, Debits: []uuid.UUID{res.Transaction.ID},
			Staked: stake, Result: result, StartedAt: now, UpdatedAt: now,
		}, now)
	})
	require.NoError(t, err)
	return roundID
}

func TestEnd_VoidsUnresolvedRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, _, err := f.svc.StartOrResume(ctx, f.account.ID, f.game.ID, domain.ClientInfo{})
	require.NoError(t, err)

	roundID := stagePending(t, f, sess.ID, 40, nil)
	assert.Equal(t, int64(60), f.balance(t))

	ended, err := f.svc.End(ctx, sess.ID, domain.EndedByUser)
	require.NoError(t, err)
	assert.Nil(t, ended.Pending)
	assert.Equal(t, 0, ended.RoundCount)
	assert.Equal(t, int64(100), f.balance(t), "stake is returned")

	txs, err := f.store.Reader().Transactions.ListByRound(ctx, roundID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, domain.TxReversed, txs[0].Status)
	assert.Equal(t, domain.TxReversal, txs[1].Type)

	check, err := f.ledger.Verify(ctx, f.account.ID)
	require.NoError(t, err)
	assert.True(t, check.Consistent)
}

func TestEnd_SettlesResolvedRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, _, err := f.svc.StartOrResume(ctx, f.account.ID, f.game.ID, domain.ClientInfo{})
	require.NoError(t, err)

	roundID := stagePending(t, f, sess.ID, 10, &domain.RoundResult{WinAmount: 25, Outcome: domain.OutcomeWin})

	_, err = f.svc.End(ctx, sess.ID, domain.EndedByTimeout)
	require.NoError(t, err)
	assert.Equal(t, int64(115), f.balance(t))

	got, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Rounds, 1)
	assert.Equal(t, roundID, got.Rounds[0].RoundID)
	assert.Equal(t, int64(25), got.Rounds[0].Result.WinAmount)
}

// --- Suspend / Resume Tests ---

func TestSuspendResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, _, err := f.svc.StartOrResume(ctx, f.account.ID, f.game.ID, domain.ClientInfo{})
	require.NoError(t, err)

	suspended, err := f.svc.Suspend(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionSuspended, suspended.Status)

	_, err = f.svc.AppendRound(ctx, sess.ID, domain.Bet{Amount: 1}, domain.RoundResult{})
	assert.True(t, domain.IsCode(err, domain.CodeSessionNotActive))

	// A new session may start while the first is suspended; resuming the
	// first would then break the one-active rule.
	other, created, err := f.svc.StartOrResume(ctx, f.account.ID, f.game.ID, domain.ClientInfo{})
	require.NoError(t, err)
	require.True(t, created)

	_, err = f.svc.Resume(ctx, sess.ID)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidState), "got %v", err)

	_, err = f.svc.End(ctx, other.ID, domain.EndedByUser)
	require.NoError(t, err)
	resumed, err := f.svc.Resume(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, resumed.Status)

	_, err = f.svc.Resume(ctx, other.ID)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidState))
}

// --- ForceEnd / ExpireIdle Tests ---

func TestForceEndAllForGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		acct, err := f.ledger.OpenAccount(ctx, "EUR")
		require.NoError(t, err)
		sess, _, err := f.svc.StartOrResume(ctx, acct.ID, f.game.ID, domain.ClientInfo{})
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	n, err := f.svc.ForceEndAllForGame(ctx, f.game.ID, domain.EndedBySystem)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range ids {
		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionEnded, got.Status)
		assert.Equal(t, domain.EndedBySystem, *got.EndedBy)
	}
}

func TestExpireIdle(t *testing.T) {
	store := repository.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	eng := ledger.NewEngine(store, nil, logger, ledger.WithClock(func() time.Time { return clock }))
	svc := NewService(eng, logger)
	ctx := context.Background()

	acct, err := eng.OpenAccount(ctx, "EUR")
	require.NoError(t, err)
	game := &domain.Game{ID: uuid.New(), Name: "Idle", Type: domain.GameSlot, Status: domain.GameActive}
	require.NoError(t, store.Reader().Games.Create(ctx, game))

	sess, _, err := svc.StartOrResume(ctx, acct.ID, game.ID, domain.ClientInfo{})
	require.NoError(t, err)

	n, err := svc.ExpireIdle(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock = clock.Add(time.Hour)
	n, err = svc.ExpireIdle(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EndedByTimeout, *got.EndedBy)
	assert.Equal(t, time.Hour, got.Duration)
}
