package catalog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/events"
	"github.com/attaboy/casino-ledger/internal/ledger"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/attaboy/casino-ledger/internal/session"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *session.Service, *ledger.Engine, *events.Recorder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := events.NewRecorder()
	eng := ledger.NewEngine(repository.NewMemoryStore(), rec, logger)
	sessions := session.NewService(eng, logger)
	return NewService(eng, sessions, logger), sessions, eng, rec
}

var slotSettings = domain.GameSettings{MinBet: 1, MaxBet: 100, MaxLines: 8, RTP: decimal.RequireFromString("96.5")}

func TestCreate(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	g, err := svc.Create(ctx, CreateGameInput{Name: "Fruit Frenzy", Type: domain.GameSlot, Settings: slotSettings})
	require.NoError(t, err)
	assert.Equal(t, domain.GameActive, g.Status)

	got, err := svc.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fruit Frenzy", got.Name)

	_, err = svc.Create(ctx, CreateGameInput{Name: "Fruit Frenzy", Type: domain.GameSlot, Settings: slotSettings})
	assert.True(t, domain.IsCode(err, domain.CodeConflict))

	_, err = svc.Get(ctx, uuid.New())
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	tests := []struct {
		name string
		in   CreateGameInput
	}{
		{"missing name", CreateGameInput{Type: domain.GameSlot, Settings: slotSettings}},
		{"unknown type", CreateGameInput{Name: "x", Type: "lottery", Settings: slotSettings}},
		{"unknown status", CreateGameInput{Name: "x", Type: domain.GameSlot, Status: "retired", Settings: slotSettings}},
		{"zero min bet", CreateGameInput{Name: "x", Type: domain.GameSlot, Settings: domain.GameSettings{MaxBet: 10}}},
		{"max below min", CreateGameInput{Name: "x", Type: domain.GameSlot, Settings: domain.GameSettings{MinBet: 10, MaxBet: 5}}},
		{"too many lines", CreateGameInput{Name: "x", Type: domain.GameSlot, Settings: domain.GameSettings{MinBet: 1, MaxBet: 5, MaxLines: 9}}},
		{"rtp above 100", CreateGameInput{Name: "x", Type: domain.GameSlot, Settings: domain.GameSettings{MinBet: 1, MaxBet: 5, RTP: decimal.NewFromInt(101)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in)
			assert.True(t, domain.IsCode(err, domain.CodeValidation), "got %v", err)
		})
	}
}

func TestSetStatus_EndsActiveSessions(t *testing.T) {
	svc, sessions, eng, rec := newTestService(t)
	ctx := context.Background()

	g, err := svc.Create(ctx, CreateGameInput{Name: "Fruit Frenzy", Type: domain.GameSlot, Settings: slotSettings})
	require.NoError(t, err)

	var ids []uuid.UUID
	for range 3 {
		acct, err := eng.OpenAccount(ctx, "EUR")
		require.NoError(t, err)
		sess, _, err := sessions.StartOrResume(ctx, acct.ID, g.ID, domain.ClientInfo{})
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	updated, ended, err := svc.SetStatus(ctx, g.ID, domain.GameMaintenance)
	require.NoError(t, err)
	assert.Equal(t, domain.GameMaintenance, updated.Status)
	assert.Equal(t, 3, ended)

	for _, id := range ids {
		sess, err := sessions.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionEnded, sess.Status)
		require.NotNil(t, sess.EndedBy)
		assert.Equal(t, domain.EndedBySystem, *sess.EndedBy)
	}

	evts := rec.Events()
	last := evts[len(evts)-1]
	assert.Equal(t, domain.EventGameStatusChanged, last.EventType)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	assert.Equal(t, float64(3), payload["ended_sessions"])

	t.Run("unchanged status is a no-op", func(t *testing.T) {
		before := len(rec.Events())
		_, ended, err := svc.SetStatus(ctx, g.ID, domain.GameMaintenance)
		require.NoError(t, err)
		assert.Zero(t, ended)
		assert.Len(t, rec.Events(), before)
	})

	t.Run("reactivating ends nothing", func(t *testing.T) {
		_, ended, err := svc.SetStatus(ctx, g.ID, domain.GameActive)
		require.NoError(t, err)
		assert.Zero(t, ended)
	})
}

func TestSetStatus_Errors(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, _, err := svc.SetStatus(context.Background(), uuid.New(), domain.GameInactive)
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))

	_, _, err = svc.SetStatus(context.Background(), uuid.New(), "retired")
	assert.True(t, domain.IsCode(err, domain.CodeValidation))
}
