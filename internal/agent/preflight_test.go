package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func Test_healthzURL_rewrites_scheme_and_path(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ws://relay.example.com/_tunnel/ws?clientId=foo", "http://relay.example.com/healthz"},
		{"wss://relay.example.com/_tunnel/ws", "https://relay.example.com/healthz"},
	}
	for _, c := range cases {
		got, err := healthzURL(c.in)
		if err != nil {
			t.Fatalf("healthzURL(%q) error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("healthzURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func Test_preflight_probe_direct_succeeds_against_reachable_target(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pf := &Preflight{target: srv.URL + "/healthz", timeout: 2 * time.Second}
	if !pf.probe(context.Background(), directTransport()) {
		t.Error("expected direct probe to succeed against a reachable target")
	}
}

func Test_preflight_probe_direct_fails_against_unreachable_target(t *testing.T) {
	pf := &Preflight{target: "http://127.0.0.1:1/healthz", timeout: 200 * time.Millisecond}
	if pf.probe(context.Background(), directTransport()) {
		t.Error("expected direct probe to fail against an unreachable target")
	}
}

// startConnectProxy runs a minimal HTTP CONNECT proxy for tests, mirroring
// the wire behaviour ProxyDialer._dial_http_connect expects.
func startConnectProxy(t *testing.T) (addr string, stop func()) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start proxy listener: %v", err)
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveConnect(conn)
		}
	}()

	return listener.Addr().String(), func() { listener.Close() }
}

func serveConnect(client net.Conn) {
	defer client.Close()
	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	parts := strings.Fields(line)
	if len(parts) < 2 || parts[0] != "CONNECT" {
		return
	}
	target := parts[1]

	for {
		l, err := reader.ReadString('\n')
		if err != nil || strings.TrimSpace(l) == "" {
			break
		}
	}

	upstream, err := net.Dial("tcp", target)
	if err != nil {
		fmt.Fprintf(client, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	defer upstream.Close()

	fmt.Fprintf(client, "HTTP/1.1 200 Connection established\r\n\r\n")

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, reader); done <- struct{}{} }()
	go func() { io.Copy(client, upstream); done <- struct{}{} }()
	<-done
}

func Test_preflight_run_succeeds_through_http_connect_proxy(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	proxyAddr, stopProxy := startConnectProxy(t)
	defer stopProxy()

	dialer, err := NewProxyDialer("http://"+proxyAddr, 2*time.Second)
	if err != nil {
		t.Fatalf("NewProxyDialer: %v", err)
	}

	relayURL := "ws" + target.URL[len("http"):] + "/_tunnel/ws"
	pf, err := NewPreflight(dialer, relayURL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewPreflight: %v", err)
	}

	if err := pf.Run(context.Background()); err != nil {
		t.Errorf("expected preflight to succeed via the proxied route, got: %v", err)
	}
}

func Test_preflight_run_fails_when_proxy_unreachable(t *testing.T) {
	dialer, err := NewProxyDialer("http://127.0.0.1:1", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewProxyDialer: %v", err)
	}

	pf, err := NewPreflight(dialer, "ws://127.0.0.1:1/_tunnel/ws", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewPreflight: %v", err)
	}

	if err := pf.Run(context.Background()); err == nil {
		t.Error("expected preflight to fail when the proxy itself is unreachable")
	}
}
