// Package ruleset holds the Agent's in-memory rule collections (mock,
// chaos, routing) and the bounded request log, plus the path matcher the
// pipeline stages use to evaluate them. All types here are safe for
// concurrent mutation from the REST surface and concurrent reads from the
// pipeline (spec.md §4.5).
package ruleset

// ChaosRule injects latency and/or a probabilistic synthetic error.
type ChaosRule struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	PathPattern string  `json:"pathPattern" yaml:"path_pattern"`
	Method      string  `json:"method,omitempty" yaml:"method,omitempty"` // "" = any
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	LatencyMs   int     `json:"latencyMs" yaml:"latency_ms"`
	JitterMs    int     `json:"jitterMs" yaml:"jitter_ms"`
	ErrorRate   float64 `json:"errorRate" yaml:"error_rate"` // [0,1]
	ErrorStatus int     `json:"errorStatus" yaml:"error_status"`
	ErrorBody   string  `json:"errorBody" yaml:"error_body"`
}

// MockRule serves a canned response instead of reaching the local target.
type MockRule struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	PathPattern string `json:"pathPattern" yaml:"path_pattern"`
	Method      string `json:"method,omitempty" yaml:"method,omitempty"` // "" = any
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	StatusCode  int    `json:"statusCode" yaml:"status_code"`
	ContentType string `json:"contentType" yaml:"content_type"`
	Body        string `json:"body" yaml:"body"`
}

// RoutingRule overrides the local target base URL for matching paths.
type RoutingRule struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	PathPattern   string `json:"pathPattern" yaml:"path_pattern"`
	TargetBaseURL string `json:"targetBaseUrl" yaml:"target_base_url"`
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Priority      int    `json:"priority" yaml:"priority"` // lower matched first
}

// LogEntry is an immutable snapshot of one completed request, per spec.md §3.
type LogEntry struct {
	RequestID         string              `json:"requestId"`
	Timestamp         int64               `json:"timestamp"` // unix nanos
	Method            string              `json:"method"`
	Path              string              `json:"path"`
	Status            int                 `json:"status"`
	DurationMs        int64               `json:"durationMs"`
	AppliedChaosRule  string              `json:"appliedChaosRule,omitempty"`
	AppliedMockRule   string              `json:"appliedMockRule,omitempty"`
	TargetURL         string              `json:"targetUrl"`
	RequestHeaders    map[string][]string `json:"requestHeaders"`
	RequestBodyPreview string             `json:"requestBodyPreview,omitempty"`
	RequestContentLen int                 `json:"requestContentLength"`
	ResponseHeaders   map[string][]string `json:"responseHeaders"`
}
