package ruleset

import "sync"

// logCapacity is the bounded FIFO capacity of the request log (spec.md §3).
const logCapacity = 200

// Store holds the three rule collections and the request log. All
// mutation methods take a whole-rule replace/insert under mu; readers
// (Snapshot*) return a copy of the current slice so that a pipeline
// invocation's view of the rules is stable for its whole run, per
// spec.md §5's "each invocation snapshots rule collections at stage
// entry".
type Store struct {
	mu sync.RWMutex

	mockOrder []string // insertion order, for MockEngine's "first match in insertion order"
	mock      map[string]MockRule

	chaosOrder []string
	chaos      map[string]ChaosRule

	routing map[string]RoutingRule

	log     []LogEntry // newest at index 0
}

// NewStore creates an empty rule store.
func NewStore() *Store {
	return &Store{
		mock:    make(map[string]MockRule),
		chaos:   make(map[string]ChaosRule),
		routing: make(map[string]RoutingRule),
	}
}

// --- Mock rules ---

// UpsertMock adds a new mock rule (appended to insertion order) or
// replaces an existing one in place (order unchanged).
func (s *Store) UpsertMock(r MockRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.mock[r.ID]; !exists {
		s.mockOrder = append(s.mockOrder, r.ID)
	}
	s.mock[r.ID] = r
}

// ReplaceMock replaces an existing mock rule by id. Returns false (no-op)
// if the id does not exist, per spec.md §4.5.
func (s *Store) ReplaceMock(r MockRule) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.mock[r.ID]; !exists {
		return false
	}
	s.mock[r.ID] = r
	return true
}

// DeleteMock removes a mock rule by id.
func (s *Store) DeleteMock(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.mock[id]; !exists {
		return false
	}
	delete(s.mock, id)
	s.mockOrder = removeID(s.mockOrder, id)
	return true
}

// SnapshotMock returns the mock rules in insertion order.
func (s *Store) SnapshotMock() []MockRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MockRule, 0, len(s.mockOrder))
	for _, id := range s.mockOrder {
		out = append(out, s.mock[id])
	}
	return out
}

// --- Chaos rules ---

func (s *Store) UpsertChaos(r ChaosRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chaos[r.ID]; !exists {
		s.chaosOrder = append(s.chaosOrder, r.ID)
	}
	s.chaos[r.ID] = r
}

func (s *Store) ReplaceChaos(r ChaosRule) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chaos[r.ID]; !exists {
		return false
	}
	s.chaos[r.ID] = r
	return true
}

func (s *Store) DeleteChaos(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chaos[id]; !exists {
		return false
	}
	delete(s.chaos, id)
	s.chaosOrder = removeID(s.chaosOrder, id)
	return true
}

// ToggleChaos atomically flips a chaos rule's Enabled flag and returns
// the new value. Ok is false if the rule does not exist.
func (s *Store) ToggleChaos(id string) (enabled, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, exists := s.chaos[id]
	if !exists {
		return false, false
	}
	r.Enabled = !r.Enabled
	s.chaos[id] = r
	return r.Enabled, true
}

func (s *Store) SnapshotChaos() []ChaosRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChaosRule, 0, len(s.chaosOrder))
	for _, id := range s.chaosOrder {
		out = append(out, s.chaos[id])
	}
	return out
}

// --- Routing rules ---

func (s *Store) UpsertRouting(r RoutingRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routing[r.ID] = r
}

func (s *Store) ReplaceRouting(r RoutingRule) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.routing[r.ID]; !exists {
		return false
	}
	s.routing[r.ID] = r
	return true
}

func (s *Store) DeleteRouting(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.routing[id]; !exists {
		return false
	}
	delete(s.routing, id)
	return true
}

// SnapshotRouting returns all routing rules sorted by priority ascending
// (spec.md §4.4.3).
func (s *Store) SnapshotRouting() []RoutingRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoutingRule, 0, len(s.routing))
	for _, r := range s.routing {
		out = append(out, r)
	}
	sortRoutingByPriority(out)
	return out
}

func sortRoutingByPriority(rules []RoutingRule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rules[j].Priority < rules[j-1].Priority; j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

// --- Request log ---

// AppendLog appends a completed request's snapshot, evicting the oldest
// entry if the log is over capacity (spec.md §3, §4.5).
func (s *Store) AppendLog(e LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append([]LogEntry{e}, s.log...)
	if len(s.log) > logCapacity {
		s.log = s.log[:logCapacity]
	}
}

// Log returns up to limit entries, newest-first. limit <= 0 means all.
func (s *Store) Log(limit int) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.log) {
		limit = len(s.log)
	}
	out := make([]LogEntry, limit)
	copy(out, s.log[:limit])
	return out
}

// ClearLog removes all log entries.
func (s *Store) ClearLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = nil
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
