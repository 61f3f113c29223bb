package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/attaboy/casino-ledger/internal/auth"
	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/guard"
	"github.com/attaboy/casino-ledger/internal/infra"
	"github.com/attaboy/casino-ledger/internal/ledger"
	"github.com/attaboy/casino-ledger/internal/projection"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- RespondJSON Tests ---

func TestRespondJSON(t *testing.T) {
	t.Run("200 with body", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("204 with nil body", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondJSON(w, http.StatusNoContent, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

// --- RespondError Tests ---

func TestRespondError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", domain.ErrNotFound("account", "123"), 404, domain.CodeNotFound},
		{"validation", domain.ErrValidation("bad input"), 400, domain.CodeValidation},
		{"invalid bet", domain.ErrInvalidBet("amount below minimum"), 400, domain.CodeInvalidBet},
		{"insufficient balance", domain.ErrInsufficientBalance(), 400, domain.CodeInsufficientBalance},
		{"duplicate reference", domain.ErrDuplicateReference("dep-1"), 409, domain.CodeDuplicateReference},
		{"unsupported game", domain.ErrUnsupportedGameType(domain.GameTable), 422, domain.CodeUnsupportedGameType},
		{"wrapped", fmt.Errorf("place bet: %w", domain.ErrSessionNotActive("s1")), 409, domain.CodeSessionNotActive},
		{"ledger inconsistent", domain.ErrLedgerInconsistent("a1", 10, 12), 500, domain.CodeLedgerInconsistent},
		{"plain error", errors.New("connection reset"), 500, domain.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondError(w, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body["code"])
		})
	}

	t.Run("internal cause is hidden", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondError(w, domain.ErrInternal("db", errors.New("password authentication failed for user casino")))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "password")
	})
}

// --- DecodeJSON Tests ---

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	t.Run("valid JSON body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"name":"test","value":42}`))
		var dst payload
		require.NoError(t, DecodeJSON(r, &dst))
		assert.Equal(t, "test", dst.Name)
		assert.Equal(t, 42, dst.Value)
	})

	t.Run("invalid JSON returns error", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{invalid`))
		var dst payload
		require.Error(t, DecodeJSON(r, &dst))
	})

	t.Run("unknown field returns error", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"name":"x","admin":true}`))
		var dst payload
		require.Error(t, DecodeJSON(r, &dst))
	})

	t.Run("body exceeding 1MiB returns error", func(t *testing.T) {
		big := `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(big))
		var dst payload
		require.Error(t, DecodeJSON(r, &dst))
	})
}

func TestDecodeValid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"ok", `{"amount":5,"reference":"wd-1"}`, ""},
		{"zero amount", `{"amount":0,"reference":"wd-1"}`, "amount failed gt"},
		{"missing reference", `{"amount":5}`, "reference failed required"},
		{"not json", `amount=5`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tt.body))
			var req withdrawRequest
			err := decodeValid(r, &req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, domain.IsCode(err, domain.CodeValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// --- Middleware Tests ---

func TestJSONContentType(t *testing.T) {
	h := JSONContentType(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestCORS(t *testing.T) {
	h := CORS("https://app.example, https://backoffice.example")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", http.MethodGet, "https://app.example", 200, "https://app.example"},
		{"second allowed origin", http.MethodGet, "https://backoffice.example", 200, "https://backoffice.example"},
		{"unknown origin", http.MethodGet, "https://evil.example", 200, ""},
		{"preflight", http.MethodOptions, "https://app.example", 204, "https://app.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/", nil)
			r.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRecovery(t *testing.T) {
	t.Run("recovers from panic", func(t *testing.T) {
		h := Recovery(noopLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("something went wrong")
		}))
		w := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), domain.CodeInternal)
	})

	t.Run("passes through without panic", func(t *testing.T) {
		h := Recovery(noopLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRateLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := guard.NewRateLimiter(1, 10*time.Second).WithClock(func() time.Time { return now })
	h := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	operator := uuid.New()
	call := func(sub *uuid.UUID) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/admin/accounts", nil)
		if sub != nil {
			claims := &auth.Claims{Realm: auth.RealmAdmin}
			claims.Subject = sub.String()
			r = r.WithContext(auth.WithClaims(r.Context(), claims))
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusNoContent, call(&operator).Code)

	now = now.Add(2500 * time.Millisecond)
	w := call(&operator)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "8", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), domain.CodeRateLimited)

	other := uuid.New()
	assert.Equal(t, http.StatusNoContent, call(&other).Code, "budget is per subject")
	assert.Equal(t, http.StatusNoContent, call(nil).Code, "anonymous callers are keyed by address")

	now = now.Add(10 * time.Second)
	assert.Equal(t, http.StatusNoContent, call(&operator).Code)
}

// --- Health Tests ---

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		deps       map[string]infra.Pinger
		wantStatus int
		wantState  string
	}{
		{"no dependencies", nil, http.StatusOK, "healthy"},
		{"all up", map[string]infra.Pinger{"database": stubPinger{}, "redis": stubPinger{}}, http.StatusOK, "healthy"},
		{"redis down", map[string]infra.Pinger{"database": stubPinger{}, "redis": stubPinger{errors.New("dial tcp: refused")}}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HealthHandler(tt.deps)(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantStatus, w.Code)
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantState, body.Status)
			assert.Len(t, body.Checks, len(tt.deps))
		})
	}
}

// --- Wallet Tests ---

type brokenStore struct{ projection.Store }

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("redis: connection pool timeout")
}

func (brokenStore) SetIfNewer(context.Context, string, []byte, int64, time.Duration) (bool, error) {
	return false, errors.New("redis: connection pool timeout")
}

func TestWalletHandler_GetBalance(t *testing.T) {
	ctx := context.Background()
	eng := ledger.NewEngine(repository.NewMemoryStore(), nil, noopLogger())
	acct, err := eng.OpenAccount(ctx, "EUR")
	require.NoError(t, err)
	_, err = eng.RecordTransaction(ctx, domain.PostParams{AccountID: acct.ID, Type: domain.TxDeposit, Amount: 250, Reference: "dep-1"})
	require.NoError(t, err)

	get := func(h *WalletHandler, sub uuid.UUID) map[string]any {
		claims := &auth.Claims{Realm: auth.RealmPlayer}
		claims.Subject = sub.String()
		r := httptest.NewRequest(http.MethodGet, "/wallet/balance", nil)
		r = r.WithContext(auth.WithClaims(r.Context(), claims))
		w := httptest.NewRecorder()
		h.GetBalance(w, r)
		var body map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		body["status"] = w.Code
		return body
	}

	t.Run("no cache reads the ledger", func(t *testing.T) {
		body := get(NewWalletHandler(eng, nil, noopLogger()), acct.ID)
		assert.Equal(t, float64(250), body["balance"])
		assert.Equal(t, "ledger", body["source"])
	})

	t.Run("miss warms the cache", func(t *testing.T) {
		h := NewWalletHandler(eng, projection.NewInMemoryStore(), noopLogger())
		assert.Equal(t, "ledger", get(h, acct.ID)["source"])
		body := get(h, acct.ID)
		assert.Equal(t, "cache", body["source"])
		assert.Equal(t, "EUR", body["currency"])
	})

	t.Run("cache failure falls back", func(t *testing.T) {
		body := get(NewWalletHandler(eng, brokenStore{}, noopLogger()), acct.ID)
		assert.Equal(t, http.StatusOK, body["status"])
		assert.Equal(t, float64(250), body["balance"])
	})

	t.Run("unknown account", func(t *testing.T) {
		body := get(NewWalletHandler(eng, nil, noopLogger()), uuid.New())
		assert.Equal(t, http.StatusNotFound, body["status"])
		assert.Equal(t, domain.CodeNotFound, body["code"])
	})
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
