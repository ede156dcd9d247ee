package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Preflight checks that the agent can actually reach the relay through
// its configured proxy before committing to the reconnect loop. This
// replaces the teacher's public-IP comparison (which had nothing to do
// with a tunnel relay) with a direct-vs-proxied comparison against the
// relay's own /healthz endpoint: if the two routes behave identically,
// either the proxy is a no-op or the relay is unreachable either way,
// and the operator should know before the agent starts retrying forever.
type Preflight struct {
	dialer  *ProxyDialer
	target  string
	timeout time.Duration
}

// NewPreflight builds a preflight checker targeting the relay URL's
// origin (ws(s):// rewritten to http(s)://) plus /healthz.
func NewPreflight(dialer *ProxyDialer, relayURL string, timeout time.Duration) (*Preflight, error) {
	target, err := healthzURL(relayURL)
	if err != nil {
		return nil, err
	}
	return &Preflight{dialer: dialer, target: target, timeout: timeout}, nil
}

// Run confirms the proxied route reaches the relay. It does not require
// the direct route to fail — only that the proxied route succeeds,
// since an operator's proxy may legitimately share an egress IP.
func (p *Preflight) Run(ctx context.Context) error {
	directOK := p.probe(ctx, directTransport())
	proxiedOK := p.probe(ctx, proxiedTransport(p.dialer))

	slog.Info("preflight connectivity check", "target", p.target, "direct_ok", directOK, "proxied_ok", proxiedOK)

	if !proxiedOK {
		return fmt.Errorf("preflight: relay unreachable via proxy at %s", p.target)
	}
	return nil
}

func (p *Preflight) probe(ctx context.Context, transport http.RoundTripper) bool {
	client := &http.Client{Transport: transport, Timeout: p.timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func directTransport() http.RoundTripper {
	return http.DefaultTransport
}

func proxiedTransport(dialer *ProxyDialer) http.RoundTripper {
	return &http.Transport{DialContext: dialer.DialContext}
}

// healthzURL rewrites a relay websocket URL (ws://host/_tunnel/ws or
// wss://host/_tunnel/ws) into an http(s)://host/healthz URL.
func healthzURL(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("parsing relay url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/healthz"
	u.RawQuery = ""
	return u.String(), nil
}
