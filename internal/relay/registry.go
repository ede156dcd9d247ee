package relay

import (
	"log/slog"
	"sync"
)

// Registry tracks the one live Tunnel per agent id (spec.md §2, §9). Unlike
// the teacher's round-robin Pool, agents are addressed by id (from the
// public Host header) rather than load-balanced, so the registry is a
// keyed map, not a slice.
type Registry struct {
	mu      sync.RWMutex
	tunnels map[string]*Tunnel
}

// NewRegistry creates an empty agent tunnel registry.
func NewRegistry() *Registry {
	return &Registry{tunnels: make(map[string]*Tunnel)}
}

// Register installs t as the tunnel for agentID. A prior tunnel under the
// same id is closed and displaced: last writer wins (spec.md §9 open
// question, resolved in DESIGN.md).
func (reg *Registry) Register(agentID string, t *Tunnel) {
	reg.mu.Lock()
	old, existed := reg.tunnels[agentID]
	reg.tunnels[agentID] = t
	reg.mu.Unlock()

	if existed && old != t {
		slog.Info("agent reconnected, displacing prior tunnel", "agent_id", agentID)
		old.Close()
	}

	go func() {
		<-t.Done()
		reg.Remove(agentID, t)
	}()
}

// Remove deletes t from the registry under agentID, but only if it is
// still the registered tunnel (a newer Register call may have already
// replaced it).
func (reg *Registry) Remove(agentID string, t *Tunnel) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if current, ok := reg.tunnels[agentID]; ok && current == t {
		delete(reg.tunnels, agentID)
		slog.Info("agent tunnel removed", "agent_id", agentID)
	}
}

// Get returns the live tunnel for agentID, if any.
func (reg *Registry) Get(agentID string) (*Tunnel, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	t, ok := reg.tunnels[agentID]
	return t, ok
}

// Size returns the number of connected agents.
func (reg *Registry) Size() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.tunnels)
}
