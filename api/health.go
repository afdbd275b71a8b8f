package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillworks/quill/internal/log"
)

// health is the liveness probe. Returns 200 as long as the process serves.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness pings the vector database pool when one is configured. A nil
// pool means retrieval runs degraded but the core service is still ready,
// so the probe reports ok with a hint.
func readiness(pool *pgxpool.Pool, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "retrieval": "unconfigured"})
			return
		}
		if err := pool.Ping(r.Context()); err != nil {
			logger.Error("readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "unavailable", "vector database not ready")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
