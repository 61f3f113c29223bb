package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/session"
	"github.com/attaboy/casino-ledger/internal/settlement"
	"github.com/google/uuid"
)

// SessionHandler serves a player's game sessions and wagers.
type SessionHandler struct {
	sessions   *session.Service
	settlement *settlement.Service
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *session.Service, settle *settlement.Service) *SessionHandler {
	return &SessionHandler{sessions: sessions, settlement: settle}
}

// pendingView is the client-safe part of an in-flight round. Engine state
// (the shuffled deck) stays server side.
type pendingView struct {
	RoundID   string          `json:"round_id"`
	Bet       domain.Bet      `json:"bet"`
	Staked    int64           `json:"staked"`
	View      json.RawMessage `json:"view,omitempty"`
	StartedAt time.Time       `json:"started_at"`
}

type sessionResponse struct {
	*domain.GameSession
	Pending *pendingView `json:"pending,omitempty"`
	Created bool         `json:"created,omitempty"`
}

func newSessionResponse(s *domain.GameSession) sessionResponse {
	resp := sessionResponse{GameSession: s}
	if s.Rounds == nil {
		s.Rounds = []domain.Round{}
	}
	if p := s.Pending; p != nil {
		resp.Pending = &pendingView{RoundID: p.RoundID, Bet: p.Bet, Staked: p.Staked, View: p.View, StartedAt: p.StartedAt}
	}
	return resp
}

type startSessionRequest struct {
	Device string `json:"device" validate:"max=64"`
}

// Start handles POST /games/{gameID}/sessions. A new session answers 201,
// a resumed one 200.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	accountID, err := playerIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	gameID, err := uuidParam(r, "gameID")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req startSessionRequest
	if r.ContentLength != 0 {
		if err := decodeValid(r, &req); err != nil {
			RespondError(w, err)
			return
		}
	}

	client := domain.ClientInfo{IP: r.RemoteAddr, UserAgent: r.UserAgent(), Device: req.Device}
	sess, created, err := h.sessions.StartOrResume(r.Context(), accountID, gameID, client)
	if err != nil {
		RespondError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	resp := newSessionResponse(sess)
	resp.Created = created
	RespondJSON(w, status, resp)
}

// Get handles GET /games/{gameID}/sessions/{sessionID}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ownedSession(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, newSessionResponse(sess))
}

// Bet handles POST /games/{gameID}/sessions/{sessionID}/bet.
func (h *SessionHandler) Bet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ownedSession(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var bet domain.Bet
	if err := DecodeJSON(r, &bet); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	out, err := h.settlement.PlaceBet(r.Context(), sess.ID, sess.AccountID, bet)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, out)
}

type actionRequest struct {
	Action domain.Action `json:"action" validate:"required"`
}

// Act handles POST /games/{gameID}/sessions/{sessionID}/actions.
func (h *SessionHandler) Act(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ownedSession(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req actionRequest
	if err := decodeValid(r, &req); err != nil {
		RespondError(w, err)
		return
	}

	out, err := h.settlement.Act(r.Context(), sess.ID, sess.AccountID, req.Action)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, out)
}

// End handles POST /games/{gameID}/sessions/{sessionID}/end.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ownedSession(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	ended, err := h.sessions.End(r.Context(), sess.ID, domain.EndedByUser)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, newSessionResponse(ended))
}

// ownedSession loads the session named by the path and checks that it
// belongs to the caller and to the game in the path. A mismatch reads as
// not found so session ids cannot be probed.
func (h *SessionHandler) ownedSession(r *http.Request) (*domain.GameSession, error) {
	accountID, err := playerIDFromContext(r)
	if err != nil {
		return nil, err
	}
	gameID, err := uuidParam(r, "gameID")
	if err != nil {
		return nil, err
	}
	sessionID, err := uuidParam(r, "sessionID")
	if err != nil {
		return nil, err
	}
	return sessionInGame(r.Context(), h.sessions, gameID, sessionID, &accountID)
}

func sessionInGame(ctx context.Context, sessions *session.Service, gameID, sessionID uuid.UUID, owner *uuid.UUID) (*domain.GameSession, error) {
	sess, err := sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.GameID != gameID || (owner != nil && sess.AccountID != *owner) {
		return nil, domain.ErrNotFound("session", sessionID.String())
	}
	return sess, nil
}
