package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/chaostunnel/chaostunnel/internal/pipeline"
	"github.com/chaostunnel/chaostunnel/internal/ruleset"
)

// Agent manages the lifecycle of the tunnel connection to the relay:
// an optional proxy-routing preflight check, then an indefinite
// reconnect loop running the request-interception pipeline against
// every tunnelled request (spec.md §2, §4, §7).
type Agent struct {
	cfg      *Config
	dialer   *ProxyDialer
	store    *ruleset.Store
	pipeline *pipeline.Pipeline
	logSink  func(ruleset.LogEntry)
}

// New creates a new agent from the given configuration. If cfg.Rules.SeedPath
// is set, the rule store is loaded from it (spec.md §3).
func New(cfg *Config) (*Agent, error) {
	var dialer *ProxyDialer
	if cfg.Proxy.URL != "" {
		var err error
		dialer, err = NewProxyDialer(cfg.Proxy.URL, cfg.Proxy.HealthTimeout)
		if err != nil {
			return nil, err
		}
	}

	store := ruleset.NewStore()
	if cfg.Rules.SeedPath != "" {
		if err := ruleset.LoadSeed(store, cfg.Rules.SeedPath); err != nil {
			return nil, err
		}
	}

	p := pipeline.New(
		pipeline.MockEngine(store.SnapshotMock),
		pipeline.ChaosEngine(store.SnapshotChaos),
		pipeline.RequestRouter(store.SnapshotRouting, cfg.Backend.LocalPort),
		pipeline.LocalForwarder(nil),
	)

	return &Agent{cfg: cfg, dialer: dialer, store: store, pipeline: p}, nil
}

// Store exposes the agent's rule store, e.g. for wiring the REST surface.
func (a *Agent) Store() *ruleset.Store { return a.store }

// SetLogSink registers a callback invoked with every completed request's
// log entry, in addition to it being appended to the store (e.g. to
// broadcast it over the REST surface's live feed).
func (a *Agent) SetLogSink(sink func(ruleset.LogEntry)) { a.logSink = sink }

// _record_completion builds a ruleset.LogEntry from a finished pipeline
// invocation, appends it to the store, and forwards it to the log sink.
func (a *Agent) _record_completion(pctx *pipeline.Context) {
	entry := ruleset.LogEntry{
		RequestID:          pctx.ID.String(),
		Timestamp:          time.Now().UnixNano(),
		Method:             pctx.Method,
		Path:               pctx.Path,
		Status:             pctx.StatusCode,
		DurationMs:         pctx.Elapsed().Milliseconds(),
		AppliedChaosRule:   pctx.AppliedChaosRule,
		AppliedMockRule:    pctx.AppliedMockRule,
		TargetURL:          pctx.TargetURL,
		RequestHeaders:     pctx.RequestHeaders,
		RequestBodyPreview: pctx.RequestBodyPreview,
		RequestContentLen:  pctx.RequestContentLength,
		ResponseHeaders:    pctx.ResponseHeaders,
	}
	a.store.AppendLog(entry)
	if a.logSink != nil {
		a.logSink(entry)
	}
}

// Run starts the agent: it verifies proxy routing if configured, then
// enters the reconnect loop. Blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if a.dialer != nil && a.cfg.Proxy.VerifyRouting {
		pf, err := NewPreflight(a.dialer, a.cfg.Relay.URL, a.cfg.Proxy.HealthTimeout)
		if err != nil {
			return err
		}
		if err := pf.Run(ctx); err != nil {
			return err
		}
	}

	return a._reconnect_loop(ctx)
}

// _reconnect_loop retries the tunnel connection on a fixed delay
// (spec.md §7: "sleep 3s and reconnect" — no exponential backoff).
func (a *Agent) _reconnect_loop(ctx context.Context) error {
	for {
		err := a._run_tunnel(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("tunnel disconnected, reconnecting", "err", err, "delay", a.cfg.Tunnel.ReconnectDelay)
		select {
		case <-time.After(a.cfg.Tunnel.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// _run_tunnel connects to the relay and processes frames until disconnection.
func (a *Agent) _run_tunnel(ctx context.Context) error {
	tunnel, err := ConnectTunnel(ctx, a.cfg, a.dialer, a.pipeline, a._record_completion)
	if err != nil {
		return err
	}
	defer tunnel.Close()

	tunnelErr := make(chan error, 1)
	go func() {
		tunnelErr <- tunnel.Run()
	}()

	select {
	case err := <-tunnelErr:
		return err
	case <-ctx.Done():
		tunnel.Close()
		return ctx.Err()
	}
}
