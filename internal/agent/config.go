package agent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the agent configuration.
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Backend BackendConfig `yaml:"backend"`
	Auth    AuthConfig    `yaml:"auth"`
	Tunnel  TunnelConfig  `yaml:"tunnel"`
	Rules   RulesConfig   `yaml:"rules"`
	RestAPI RestAPIConfig `yaml:"rest_api"`
}

// RelayConfig specifies the relay server websocket endpoint and this
// agent's id, sent as the clientId query parameter on connect
// (spec.md §9).
type RelayConfig struct {
	URL     string `yaml:"url"`
	AgentID string `yaml:"agent_id"`
}

// ProxyConfig controls the residential proxy settings used for the
// agent's outbound connection to the relay.
type ProxyConfig struct {
	URL           string        `yaml:"url"`
	VerifyRouting bool          `yaml:"verify_routing"`
	HealthTimeout time.Duration `yaml:"health_timeout"`
}

// BackendConfig specifies the local backend reached when no routing
// rule matches (spec.md §4.4.3).
type BackendConfig struct {
	LocalPort int `yaml:"local_port"`
}

// AuthConfig holds the optional shared secret for hmac authentication.
// Empty disables it, per the non-goal noted in internal/relay.
type AuthConfig struct {
	SharedSecret string `yaml:"shared_secret"`
}

// TunnelConfig controls reconnection and heartbeat behaviour.
type TunnelConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
}

// RulesConfig points at the YAML rule seed file, hot-reloaded via
// internal/config.Watcher.
type RulesConfig struct {
	SeedPath string `yaml:"seed_path"`
}

// RestAPIConfig controls the local rule-editing REST surface
// (supplemented feature, see SPEC_FULL.md).
type RestAPIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoadConfig reads and parses an agent configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := &Config{
		Backend: BackendConfig{LocalPort: 8080},
		Proxy: ProxyConfig{
			VerifyRouting: true,
			HealthTimeout: 10 * time.Second,
		},
		Tunnel: TunnelConfig{
			HeartbeatInterval: 5 * time.Second,
			ReconnectDelay:    3 * time.Second,
		},
		RestAPI: RestAPIConfig{ListenAddr: "127.0.0.1:7777"},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Relay.URL == "" {
		return nil, fmt.Errorf("relay.url is required")
	}
	if cfg.Relay.AgentID == "" {
		return nil, fmt.Errorf("relay.agent_id is required")
	}
	return cfg, nil
}
