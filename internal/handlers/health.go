// internal/handlers/health.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/duelforge/duel-server/internal/session"
)

// HealthHandler exposes the process status plus live room and queue counts.
// Purely operational; it carries no protocol semantics.
func HealthHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, queued := mgr.Stats()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"rooms":  rooms,
			"queue":  queued,
		})
	}
}
