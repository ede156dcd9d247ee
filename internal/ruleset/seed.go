package ruleset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the YAML envelope for an optional startup rule-seed file.
// Grounded on CirtusX-ctrl-ai-v1/internal/engine/rules.go's rulesFile
// envelope shape. Seeding is read-once at startup (spec.md explicitly
// does not persist rules across restarts); internal/config.Watcher can
// re-read this file and call LoadSeed again to hot-reload it, but the
// store never writes it back.
type seedFile struct {
	Mock    []MockRule    `yaml:"mock"`
	Chaos   []ChaosRule   `yaml:"chaos"`
	Routing []RoutingRule `yaml:"routing"`
}

// LoadSeed reads a YAML rule-seed file and replaces the store's contents
// wholesale. A missing file is not an error (empty store).
func LoadSeed(s *Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading rule seed %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing rule seed %s: %w", path, err)
	}

	s.mu.Lock()
	s.mock = make(map[string]MockRule)
	s.mockOrder = nil
	s.chaos = make(map[string]ChaosRule)
	s.chaosOrder = nil
	s.routing = make(map[string]RoutingRule)
	s.mu.Unlock()

	for _, r := range file.Mock {
		s.UpsertMock(r)
	}
	for _, r := range file.Chaos {
		s.UpsertChaos(r)
	}
	for _, r := range file.Routing {
		s.UpsertRouting(r)
	}
	return nil
}
