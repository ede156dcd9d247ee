// Package restapi is the agent-local REST surface for editing rules and
// inspecting the request log — the "external REST collaborator" that
// spec.md's rule-lifecycle section assumes exists, built here as a
// supplemented feature (see SPEC_FULL.md).
package restapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/chaostunnel/chaostunnel/internal/ruleset"
)

// Server exposes the agent's rule store over HTTP.
type Server struct {
	store *ruleset.Store
	feed  *feedHub
}

// New creates a REST server bound to store. Call BroadcastLogEntry after
// appending to the log so the live feed websocket stays in sync.
func New(store *ruleset.Store) *Server {
	s := &Server{store: store, feed: newFeedHub()}
	go s.feed.run()
	return s
}

// BroadcastLogEntry pushes a completed request to every connected live
// feed client. Best-effort: a full broadcast buffer silently drops it.
func (s *Server) BroadcastLogEntry(e ruleset.LogEntry) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("marshalling log entry for feed", "err", err)
		return
	}
	s.feed.broadcast(data)
}

// Mux builds the routed handler for the REST surface.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /feed", s.handleFeed)

	mux.HandleFunc("GET /rules/mock", s.listMock)
	mux.HandleFunc("POST /rules/mock", s.createMock)
	mux.HandleFunc("PUT /rules/mock/{id}", s.replaceMock)
	mux.HandleFunc("DELETE /rules/mock/{id}", s.deleteMock)

	mux.HandleFunc("GET /rules/chaos", s.listChaos)
	mux.HandleFunc("POST /rules/chaos", s.createChaos)
	mux.HandleFunc("PUT /rules/chaos/{id}", s.replaceChaos)
	mux.HandleFunc("DELETE /rules/chaos/{id}", s.deleteChaos)
	mux.HandleFunc("POST /rules/chaos/{id}/toggle", s.toggleChaos)

	mux.HandleFunc("GET /rules/routing", s.listRouting)
	mux.HandleFunc("POST /rules/routing", s.createRouting)
	mux.HandleFunc("PUT /rules/routing/{id}", s.replaceRouting)
	mux.HandleFunc("DELETE /rules/routing/{id}", s.deleteRouting)

	mux.HandleFunc("GET /log", s.getLog)
	mux.HandleFunc("DELETE /log", s.clearLog)

	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// --- mock rules ---

func (s *Server) listMock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.SnapshotMock())
}

func (s *Server) createMock(w http.ResponseWriter, r *http.Request) {
	var rule ruleset.MockRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	s.store.UpsertMock(rule)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) replaceMock(w http.ResponseWriter, r *http.Request) {
	var rule ruleset.MockRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	rule.ID = r.PathValue("id")
	if !s.store.ReplaceMock(rule) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) deleteMock(w http.ResponseWriter, r *http.Request) {
	if !s.store.DeleteMock(r.PathValue("id")) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- chaos rules ---

func (s *Server) listChaos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.SnapshotChaos())
}

func (s *Server) createChaos(w http.ResponseWriter, r *http.Request) {
	var rule ruleset.ChaosRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	s.store.UpsertChaos(rule)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) replaceChaos(w http.ResponseWriter, r *http.Request) {
	var rule ruleset.ChaosRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	rule.ID = r.PathValue("id")
	if !s.store.ReplaceChaos(rule) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) deleteChaos(w http.ResponseWriter, r *http.Request) {
	if !s.store.DeleteChaos(r.PathValue("id")) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleChaos(w http.ResponseWriter, r *http.Request) {
	enabled, ok := s.store.ToggleChaos(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

// --- routing rules ---

func (s *Server) listRouting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.SnapshotRouting())
}

func (s *Server) createRouting(w http.ResponseWriter, r *http.Request) {
	var rule ruleset.RoutingRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	s.store.UpsertRouting(rule)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) replaceRouting(w http.ResponseWriter, r *http.Request) {
	var rule ruleset.RoutingRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	rule.ID = r.PathValue("id")
	if !s.store.ReplaceRouting(rule) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) deleteRouting(w http.ResponseWriter, r *http.Request) {
	if !s.store.DeleteRouting(r.PathValue("id")) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- request log ---

func (s *Server) getLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.store.Log(limit))
}

func (s *Server) clearLog(w http.ResponseWriter, r *http.Request) {
	s.store.ClearLog()
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
