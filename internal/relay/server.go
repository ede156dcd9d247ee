package relay

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Server is the relay process: it accepts agent tunnel connections on
// cfg.Tunnel.Path, serves /healthz, and takes public HTTP traffic on
// every other path (spec.md §2).
type Server struct {
	cfg      *Config
	registry *Registry
	handler  *Handler
	upgrader websocket.Upgrader
}

// NewServer creates a configured relay server.
func NewServer(cfg *Config) *Server {
	registry := NewRegistry()
	return &Server{
		cfg:      cfg,
		registry: registry,
		handler:  NewHandler(registry, cfg.Tunnel.RequestTimeout),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the relay server and blocks until it exits.
func (s *Server) Run() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Tunnel.Path, s._handle_tunnel)
	mux.HandleFunc("/healthz", _handle_healthz)
	mux.Handle("/", s.handler)

	slog.Info("relay server starting", "addr", s.cfg.Listen.Addr, "tls", s.cfg.TLS.Enabled)

	if s.cfg.TLS.Enabled {
		return http.ListenAndServeTLS(
			s.cfg.Listen.Addr,
			s.cfg.TLS.CertFile,
			s.cfg.TLS.KeyFile,
			mux,
		)
	}
	return http.ListenAndServe(s.cfg.Listen.Addr, mux)
}

// _handle_tunnel upgrades an agent's connection request to a websocket and
// registers its Tunnel under the clientId query parameter (spec.md §9).
func (s *Server) _handle_tunnel(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("clientId")
	if agentID == "" {
		slog.Warn("tunnel upgrade missing clientId", "remote", r.RemoteAddr)
		http.Error(w, ErrInvalidUpgrade.Error(), http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Auth-Token")
	}
	if err := checkAuth(s.cfg.Auth.SharedSecret, token); err != nil {
		slog.Warn("agent auth failed", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorised", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "err", err)
		return
	}

	slog.Info("agent connected", "agent_id", agentID, "remote", r.RemoteAddr)
	tunnel := NewTunnel(agentID, conn, s.cfg.Tunnel.HeartbeatInterval, s.cfg.Tunnel.KeepAlive)
	s.registry.Register(agentID, tunnel)
}

func _handle_healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}
