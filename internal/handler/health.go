package handler

import (
	"net/http"

	"github.com/attaboy/casino-ledger/internal/infra"
)

// HealthHandler pings each named dependency. With no dependencies (the
// in-memory store) it always reports healthy.
func HealthHandler(deps map[string]infra.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(deps))
		healthy := true
		for name, p := range deps {
			if err := infra.HealthCheck(r.Context(), p); err != nil {
				checks[name] = err.Error()
				healthy = false
				continue
			}
			checks[name] = "ok"
		}
		if !healthy {
			RespondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "checks": checks})
			return
		}
		RespondJSON(w, http.StatusOK, map[string]any{"status": "healthy", "checks": checks})
	}
}
