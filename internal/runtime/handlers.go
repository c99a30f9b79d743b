package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-reader/internal/eventstore"
)

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.gateway != nil && r.gateway.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleSurfaces(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, http.StatusOK, r.registry.Snapshot(req.Context()))
}

func (r *Runtime) handleSessions(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			r.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	sessions, err := r.events.RecentSessions(req.Context(), limit)
	if err != nil {
		r.logger.Error("list sessions failed", slog.String("error", err.Error()))
		r.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if sessions == nil {
		sessions = []eventstore.Session{}
	}
	r.writeJSON(w, http.StatusOK, sessions)
}

type sessionDetail struct {
	eventstore.Session
	Events []eventstore.Event `json:"events"`
}

func (r *Runtime) handleSession(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	sess, err := r.events.GetSession(req.Context(), id)
	if errors.Is(err, eventstore.ErrNotFound) {
		r.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		r.logger.Error("get session failed", slog.String("session_id", id), slog.String("error", err.Error()))
		r.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	events, err := r.events.ListSessionEvents(req.Context(), id, 0)
	if err != nil {
		r.logger.Error("list session events failed", slog.String("session_id", id), slog.String("error", err.Error()))
		r.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	r.writeJSON(w, http.StatusOK, sessionDetail{Session: sess, Events: events})
}

func (r *Runtime) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}
