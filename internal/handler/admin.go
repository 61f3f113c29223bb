package handler

import (
	"net/http"

	"github.com/attaboy/casino-ledger/internal/admin"
	"github.com/attaboy/casino-ledger/internal/auth"
	"github.com/attaboy/casino-ledger/internal/catalog"
	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/ledger"
	"github.com/attaboy/casino-ledger/internal/session"
	"github.com/attaboy/casino-ledger/internal/settlement"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AdminHandler serves operator routes. Role checks happen in the router.
type AdminHandler struct {
	admin      *admin.Service
	ledger     *ledger.Engine
	sessions   *session.Service
	catalog    *catalog.Service
	settlement *settlement.Service
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(adm *admin.Service, eng *ledger.Engine, sessions *session.Service, cat *catalog.Service, settle *settlement.Service) *AdminHandler {
	return &AdminHandler{admin: adm, ledger: eng, sessions: sessions, catalog: cat, settlement: settle}
}

// --- Accounts ---

type openAccountRequest struct {
	Currency string `json:"currency" validate:"required,len=3"`
}

// OpenAccount handles POST /admin/accounts.
func (h *AdminHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decodeValid(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	acct, err := h.ledger.OpenAccount(r.Context(), req.Currency)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, acct)
}

// GetAccount handles GET /admin/accounts/{id}.
func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	acct, err := h.ledger.GetAccount(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, acct)
}

// ListTransactions handles GET /admin/accounts/{id}/transactions.
func (h *AdminHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	listTransactions(w, r, h.ledger, id)
}

type adjustRequest struct {
	Direction domain.AdjustDirection `json:"direction"`
	Amount    int64                  `json:"amount"`
	Reason    string                 `json:"reason"`
	Reference string                 `json:"reference,omitempty"`
}

// AdjustBalance handles POST /admin/accounts/{id}/balance.
func (h *AdminHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req adjustRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	res, err := h.admin.AdjustBalance(r.Context(), domain.AdjustParams{
		AccountID: id,
		Direction: req.Direction,
		Amount:    req.Amount,
		Reason:    req.Reason,
		ActorID:   actorID(r),
		Reference: req.Reference,
	})
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, res.Transaction)
}

type depositRequest struct {
	Amount    int64  `json:"amount" validate:"gt=0"`
	Reference string `json:"reference" validate:"required,max=128"`
	Note      string `json:"note,omitempty" validate:"max=500"`
	Pending   bool   `json:"pending,omitempty"`
}

// Deposit handles POST /admin/accounts/{id}/deposits. With pending set the
// row is recorded without balance effect until completed.
func (h *AdminHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req depositRequest
	if err := decodeValid(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	if err := domain.ValidateReference(req.Reference); err != nil {
		RespondError(w, domain.ErrValidation(err.Error()))
		return
	}

	actor := actorID(r)
	p := domain.PostParams{
		AccountID:   id,
		Type:        domain.TxDeposit,
		Amount:      req.Amount,
		Reference:   req.Reference,
		ProcessedBy: &actor,
	}
	if req.Note != "" {
		p.Notes = []domain.Note{{At: h.ledger.Now(), Author: actor.String(), Text: req.Note}}
	}

	if req.Pending {
		tx, err := h.ledger.CreatePending(r.Context(), p)
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusAccepted, tx)
		return
	}
	res, err := h.ledger.RecordTransaction(r.Context(), p)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, res.Transaction)
}

type accountStatusRequest struct {
	Status domain.AccountStatus `json:"status" validate:"required"`
}

// SetAccountStatus handles PATCH /admin/accounts/{id}/status.
func (h *AdminHandler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req accountStatusRequest
	if err := decodeValid(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	acct, err := h.admin.SetAccountStatus(r.Context(), id, req.Status, actorID(r))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, acct)
}

// Verify handles POST /admin/accounts/{id}/verify. A mismatch answers 500
// LEDGER_INCONSISTENT; the account is suspended by the ledger.
func (h *AdminHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	rec, err := h.ledger.Verify(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

// --- Transactions ---

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Reverse handles POST /admin/transactions/{id}/reverse.
func (h *AdminHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req reasonRequest
	if err := decodeValid(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	res, err := h.admin.ReverseTransaction(r.Context(), domain.ReverseRequest{
		TransactionID: id,
		ActorID:       actorID(r),
		Reason:        req.Reason,
	})
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, res.Transaction)
}

type completeRequest struct {
	Note string `json:"note,omitempty" validate:"max=500"`
}

// Complete handles POST /admin/transactions/{id}/complete.
func (h *AdminHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req completeRequest
	if r.ContentLength != 0 {
		if err := decodeValid(r, &req); err != nil {
			RespondError(w, err)
			return
		}
	}
	actor := actorID(r)
	res, err := h.ledger.CompletePending(r.Context(), domain.CompletePendingParams{
		TransactionID: id,
		ActorID:       &actor,
		Note:          req.Note,
	})
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, res.Transaction)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
	Failed bool   `json:"failed,omitempty"`
}

// Cancel handles POST /admin/transactions/{id}/cancel. failed:true closes
// the row as failed instead of cancelled.
func (h *AdminHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req cancelRequest
	if err := decodeValid(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	status := domain.TxCancelled
	if req.Failed {
		status = domain.TxFailed
	}
	actor := actorID(r)
	tx, err := h.ledger.ClosePending(r.Context(), domain.ClosePendingParams{
		TransactionID: id,
		Status:        status,
		ActorID:       &actor,
		Reason:        req.Reason,
	})
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, tx)
}

// RoundSummary handles GET /admin/rounds/{roundID}.
func (h *AdminHandler) RoundSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.settlement.RoundSummary(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, sum)
}

// --- Games and sessions ---

// CreateGame handles POST /admin/games.
func (h *AdminHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var in catalog.CreateGameInput
	if err := DecodeJSON(r, &in); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	game, err := h.catalog.Create(r.Context(), in)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, game)
}

type gameStatusRequest struct {
	Status domain.GameStatus `json:"status" validate:"required"`
}

type gameStatusResponse struct {
	*domain.Game
	EndedSessions int `json:"ended_sessions"`
}

// SetGameStatus handles PATCH /admin/games/{id}/status. Taking a game out of
// active ends its open sessions in the same commit.
func (h *AdminHandler) SetGameStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req gameStatusRequest
	if err := decodeValid(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	game, ended, err := h.catalog.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, gameStatusResponse{Game: game, EndedSessions: ended})
}

// EndSession handles POST /admin/games/{gameID}/sessions/{sessionID}/end.
func (h *AdminHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.sessionCommand(w, r, func(sess *domain.GameSession) (*domain.GameSession, error) {
		return h.sessions.End(r.Context(), sess.ID, domain.EndedByAdmin)
	})
}

// SuspendSession handles POST /admin/games/{gameID}/sessions/{sessionID}/suspend.
func (h *AdminHandler) SuspendSession(w http.ResponseWriter, r *http.Request) {
	h.sessionCommand(w, r, func(sess *domain.GameSession) (*domain.GameSession, error) {
		return h.sessions.Suspend(r.Context(), sess.ID)
	})
}

// ResumeSession handles POST /admin/games/{gameID}/sessions/{sessionID}/resume.
func (h *AdminHandler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	h.sessionCommand(w, r, func(sess *domain.GameSession) (*domain.GameSession, error) {
		return h.sessions.Resume(r.Context(), sess.ID)
	})
}

func (h *AdminHandler) sessionCommand(w http.ResponseWriter, r *http.Request, fn func(*domain.GameSession) (*domain.GameSession, error)) {
	gameID, err := uuidParam(r, "gameID")
	if err != nil {
		RespondError(w, err)
		return
	}
	sessionID, err := uuidParam(r, "sessionID")
	if err != nil {
		RespondError(w, err)
		return
	}
	sess, err := sessionInGame(r.Context(), h.sessions, gameID, sessionID, nil)
	if err != nil {
		RespondError(w, err)
		return
	}
	updated, err := fn(sess)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, newSessionResponse(updated))
}

// actorID is the operator id from the admin token. The auth middleware has
// already rejected tokens without a uuid subject.
func actorID(r *http.Request) uuid.UUID {
	id, _ := auth.SubjectFromContext(r.Context())
	return id
}
