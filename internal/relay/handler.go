package relay

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/chaostunnel/chaostunnel/internal/protocol"
)

const landingPageBody = "chaostunnel relay: no agent id in host\n"

// excludedRequestHeaders are dropped from the metadata sent to the agent
// (spec.md §4.2 — they are either connection-specific or reconstructed by
// the agent's own HTTP client).
var excludedRequestHeaders = map[string]bool{
	"Host":              true,
	"Transfer-Encoding": true,
	"Content-Length":    true,
}

// excludedResponseHeaders are not copied back verbatim from the agent's
// response: Content-Type is carried in ResponseHeaderMeta separately and
// Transfer-Encoding is an artifact of how the relay itself streams the
// body back to the public client.
var excludedResponseHeaders = map[string]bool{
	"Content-Type":      true,
	"Transfer-Encoding": true,
}

// Handler is the relay's public-facing HTTP entry point: it resolves an
// agent id from the Host header, tunnels the request through that
// agent's Tunnel, and streams the response back (spec.md §2, §4.2).
type Handler struct {
	registry       *Registry
	requestTimeout time.Duration
}

// NewHandler creates a forwarding handler bound to registry.
func NewHandler(registry *Registry, requestTimeout time.Duration) *Handler {
	return &Handler{registry: registry, requestTimeout: requestTimeout}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID := _extract_agent_id(r.Host)
	if agentID == "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, landingPageBody)
		return
	}

	tunnel, ok := h.registry.Get(agentID)
	if !ok {
		slog.Warn("request for unknown agent", "agent_id", agentID)
		http.Error(w, ErrUnknownAgent.Error(), http.StatusNotFound)
		return
	}

	id := protocol.NewRequestID()
	req := h._inflight(tunnel, id, r)
	if req == nil {
		http.Error(w, "tunnel error", http.StatusBadGateway)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var meta *protocol.ResponseHeaderMeta
	select {
	case meta = <-req.header:
	case <-ctx.Done():
		tunnel._unregister(id)
		slog.Warn("timed out waiting for agent response header", "agent_id", agentID)
		http.Error(w, ErrTimeout.Error(), http.StatusGatewayTimeout)
		return
	case <-tunnel.Done():
		http.Error(w, ErrUnknownAgent.Error(), http.StatusBadGateway)
		return
	}

	for k, values := range meta.Headers {
		if excludedResponseHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.WriteHeader(meta.Status)

	flusher, _ := w.(http.Flusher)
	for {
		select {
		case chunk, ok := <-req.chunks:
			if !ok {
				return
			}
			w.Write(chunk)
			if flusher != nil {
				flusher.Flush()
			}
		case <-ctx.Done():
			slog.Warn("timed out streaming agent response body", "agent_id", agentID)
			return
		case <-tunnel.Done():
			return
		}
	}
}

// _inflight registers id with tunnel and streams the whole request through
// it (header, body chunks, EOF). Returns nil if the initial header write
// fails.
func (h *Handler) _inflight(tunnel *Tunnel, id protocol.RequestID, r *http.Request) *inflightRequest {
	meta := protocol.RequestHeaderMeta{
		Method:  r.Method,
		Path:    _request_path(r),
		Headers: _flatten_headers(r.Header),
		HasBody: r.Body != nil && r.ContentLength != 0,
	}

	req := tunnel._register(id)

	if err := tunnel.SendRequestHeader(id, meta); err != nil {
		slog.Error("failed to send request header to agent", "err", err)
		tunnel._unregister(id)
		return nil
	}

	if meta.HasBody {
		buf := make([]byte, protocol.RecommendedChunkSize)
		for {
			n, err := r.Body.Read(buf)
			if n > 0 {
				if sendErr := tunnel.SendRequestBodyChunk(id, buf[:n]); sendErr != nil {
					slog.Error("failed to send request body chunk", "err", sendErr)
					break
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				slog.Error("failed to read request body", "err", err)
				break
			}
		}
	}

	if err := tunnel.SendRequestEOF(id); err != nil {
		slog.Error("failed to send request EOF", "err", err)
	}

	return req
}

func _request_path(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

// _flatten_headers collapses http.Header's multi-valued map into the
// single-valued wire format RequestHeaderMeta.Headers uses, comma-joining
// any header that arrived with more than one value (spec.md §4.2 step 4)
// rather than silently dropping all but the first.
func _flatten_headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if excludedRequestHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		if len(v) > 0 {
			out[k] = strings.Join(v, ", ")
		}
	}
	return out
}

// _extract_agent_id derives the agent id from the public Host header: the
// first dot-separated label. A host with no dots, a numeric-leading
// label (bare IP literal), or exactly "localhost" has no agent id and
// routes to the landing page instead (spec.md §4.2).
//
// The no-dot case is a deliberate interpretation, not an oversight: the
// relay itself is commonly reached by a bare hostname (a docker-compose
// service name, a bare internal DNS label, "relay" itself) with no agent
// subdomain attached, and spec.md §4.2 only ever illustrates agent ids as
// a subdomain label in front of a base domain. Treating a bare host as an
// agent id would make every such direct hit on the relay's own hostname
// look like a (nonexistent) agent lookup instead of landing on the
// landing page.
func _extract_agent_id(host string) string {
	host = _strip_port(host)
	if host == "" || strings.EqualFold(host, "localhost") {
		return ""
	}
	label := host
	if idx := strings.IndexByte(host, '.'); idx >= 0 {
		label = host[:idx]
	} else {
		return ""
	}
	if label == "" || unicode.IsDigit(rune(label[0])) {
		return ""
	}
	return label
}

func _strip_port(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
