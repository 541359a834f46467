// internal/handler/poller_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/smsleopard-broadcast/internal/poller"
)

type Ticker interface {
	RunOnce(ctx context.Context) (poller.Stats, error)
}

// PollerHandler exposes a manual poll cycle for external schedulers or curl.
type PollerHandler struct {
	Poller Ticker
	Log    zerolog.Logger
}

func (h *PollerHandler) HandleTick(w http.ResponseWriter, r *http.Request) {
	h.Log.Info().Msg("poll cycle triggered via HTTP")

	stats, err := h.Poller.RunOnce(r.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("poll cycle failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "scheduler tick failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports whether the database is reachable.
type HealthHandler struct {
	DB Pinger
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
