package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/attaboy/casino-ledger/internal/auth"
	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/ledger"
	"github.com/attaboy/casino-ledger/internal/projection"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// WalletHandler handles wallet balance and transaction endpoints.
type WalletHandler struct {
	ledger   *ledger.Engine
	balances projection.Store
	logger   *slog.Logger
}

// NewWalletHandler creates a new WalletHandler. balances may be nil, in which
// case every balance read goes to the ledger.
func NewWalletHandler(eng *ledger.Engine, balances projection.Store, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{ledger: eng, balances: balances, logger: logger}
}

type balanceResponse struct {
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
	Source   string `json:"source"`
}

// GetBalance handles GET /wallet/balance. It serves the cached projection
// and falls back to the account row, warming the cache on the way out.
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := playerIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	if h.balances != nil {
		cached, err := projection.GetBalance(r.Context(), h.balances, accountID.String())
		switch {
		case err == nil:
			RespondJSON(w, http.StatusOK, balanceResponse{Balance: cached.Balance, Currency: cached.Currency, Source: "cache"})
			return
		case !errors.Is(err, projection.ErrNotFound):
			h.logger.WarnContext(r.Context(), "balance cache read failed", "account_id", accountID, "error", err)
		}
	}

	acct, err := h.ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		RespondError(w, err)
		return
	}
	if h.balances != nil {
		_, err := projection.UpdateBalance(r.Context(), h.balances, projection.BalanceProjection{
			AccountID: acct.ID.String(),
			Balance:   acct.Balance,
			Currency:  acct.Currency,
			Version:   acct.UpdatedAt.UnixNano(),
			UpdatedAt: h.ledger.Now(),
		})
		if err != nil {
			h.logger.WarnContext(r.Context(), "balance cache warm failed", "account_id", accountID, "error", err)
		}
	}
	RespondJSON(w, http.StatusOK, balanceResponse{Balance: acct.Balance, Currency: acct.Currency, Source: "ledger"})
}

type txListResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
	NextCursor   *string              `json:"next_cursor,omitempty"`
}

// GetTransactions handles GET /wallet/transactions with cursor-based pagination.
func (h *WalletHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, err := playerIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	listTransactions(w, r, h.ledger, accountID)
}

// listTransactions serves one page of history. The cursor is inclusive: it
// names the first row of the requested page.
func listTransactions(w http.ResponseWriter, r *http.Request, eng *ledger.Engine, accountID uuid.UUID) {
	limit := defaultPageSize
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxPageSize {
			RespondError(w, domain.ErrValidation("limit must be between 1 and 100"))
			return
		}
		limit = n
	}

	var cursor *uuid.UUID
	if c := r.URL.Query().Get("cursor"); c != "" {
		id, err := uuid.Parse(c)
		if err != nil {
			RespondError(w, domain.ErrValidation("invalid cursor"))
			return
		}
		cursor = &id
	}

	txs, err := eng.ListTransactions(r.Context(), accountID, cursor, limit+1)
	if err != nil {
		RespondError(w, err)
		return
	}

	resp := txListResponse{Transactions: txs}
	if resp.Transactions == nil {
		resp.Transactions = []domain.Transaction{}
	}
	if len(txs) > limit {
		resp.Transactions = txs[:limit]
		next := txs[limit].ID.String()
		resp.NextCursor = &next
	}
	RespondJSON(w, http.StatusOK, resp)
}

type withdrawRequest struct {
	Amount    int64  `json:"amount" validate:"gt=0"`
	Reference string `json:"reference" validate:"required,max=128"`
}

// Withdraw handles POST /wallet/withdrawals. The client reference makes
// retries safe: a replay fails with DUPLICATE_REFERENCE. It is stored under
// the player's own namespace.
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	accountID, err := playerIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req withdrawRequest
	if err := decodeValid(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	if err := domain.ValidateReference(req.Reference); err != nil {
		RespondError(w, domain.ErrValidation(err.Error()))
		return
	}

	res, err := h.ledger.RecordTransaction(r.Context(), domain.PostParams{
		AccountID: accountID,
		Type:      domain.TxWithdrawal,
		Amount:    req.Amount,
		Reference: domain.WithdrawalReference(accountID, req.Reference),
	})
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, res.Transaction)
}

// playerIDFromContext extracts the player's account id from auth context.
func playerIDFromContext(r *http.Request) (uuid.UUID, error) {
	id, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		return uuid.Nil, domain.ErrUnauthorized("no subject in context")
	}
	return id, nil
}
