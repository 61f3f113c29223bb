package handler

import (
	"net/http"

	"github.com/attaboy/casino-ledger/internal/infra"
)

// WSHandler upgrades authenticated requests to event streams.
type WSHandler struct {
	hub *infra.WSHub
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *infra.WSHub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Player handles GET /ws: events for the caller's own account.
func (h *WSHandler) Player(w http.ResponseWriter, r *http.Request) {
	accountID, err := playerIDFromContext(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	h.hub.ServeWS(w, r, infra.AccountRoom(accountID.String()))
}

// Monitor handles GET /admin/ws: every event, for operator dashboards.
func (h *WSHandler) Monitor(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r, infra.MonitorRoom)
}
