package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/chaostunnel/chaostunnel/internal/pipeline"
	"github.com/chaostunnel/chaostunnel/internal/protocol"
	"github.com/chaostunnel/chaostunnel/internal/relay"
)

// bodyPreviewLimit is the size of the request body preview captured into
// the log entry (spec.md §3).
const bodyPreviewLimit = 4096

// incomingRequest accumulates one request's header and body chunks until
// its EOF frame arrives (spec.md §4.1, agent side of §6).
type incomingRequest struct {
	meta protocol.RequestHeaderMeta
	body bytes.Buffer
}

// Tunnel manages the agent-side websocket connection to the relay: one
// read loop dispatching inbound request frames, a heartbeat loop, and a
// per-request goroutine running the interception pipeline.
type Tunnel struct {
	conn  *websocket.Conn
	codec *protocol.Codec

	pipeline   *pipeline.Pipeline
	onComplete func(*pipeline.Context)

	heartbeatInterval time.Duration

	mu       sync.Mutex
	partials map[protocol.RequestID]*incomingRequest

	done      chan struct{}
	closeOnce sync.Once

	runCtx    context.Context
	runCancel context.CancelFunc
}

// ConnectTunnel establishes a websocket connection to the relay,
// optionally routing through a proxy, and identifies this agent via the
// clientId query parameter (spec.md §9).
func ConnectTunnel(ctx context.Context, cfg *Config, dialer *ProxyDialer, p *pipeline.Pipeline, onComplete func(*pipeline.Context)) (*Tunnel, error) {
	wsDialer := websocket.Dialer{}
	if dialer != nil {
		wsDialer.NetDialContext = dialer.DialContext
	}

	url := fmt.Sprintf("%s?clientId=%s", cfg.Relay.URL, cfg.Relay.AgentID)
	if cfg.Auth.SharedSecret != "" {
		url += "&token=" + relay.GenerateToken(cfg.Auth.SharedSecret)
	}

	slog.Info("connecting to relay", "url", cfg.Relay.URL)
	conn, _, err := wsDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialling relay: %w", err)
	}

	slog.Info("connected to relay")
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Tunnel{
		conn:              conn,
		codec:             protocol.NewCodec(conn),
		pipeline:          p,
		onComplete:        onComplete,
		heartbeatInterval: cfg.Tunnel.HeartbeatInterval,
		partials:          make(map[protocol.RequestID]*incomingRequest),
		done:              make(chan struct{}),
		runCtx:            runCtx,
		runCancel:         runCancel,
	}, nil
}

// Run processes frames from the relay until the tunnel closes.
func (t *Tunnel) Run() error {
	go t._heartbeat_loop()
	return t._read_loop()
}

// Close shuts down the tunnel connection and cancels every in-flight
// pipeline invocation it owns.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.runCancel()
		t.codec.Close()
		slog.Info("agent tunnel closed")
	})
}

// Done returns a channel that closes when the tunnel shuts down.
func (t *Tunnel) Done() <-chan struct{} { return t.done }

func (t *Tunnel) _read_loop() error {
	defer t.Close()
	for {
		frame, err := t.codec.ReadFrame()
		if err != nil {
			select {
			case <-t.done:
				return nil
			default:
				return fmt.Errorf("reading frame: %w", err)
			}
		}

		switch frame.Type {
		case protocol.TypeHeartbeat:
			// liveness only.

		case protocol.TypeReqHeader:
			meta, err := protocol.DecodeReqHeaderMeta(frame.Payload)
			if err != nil {
				slog.Warn("malformed request header from relay", "err", err)
				continue
			}
			t.mu.Lock()
			t.partials[frame.ID] = &incomingRequest{meta: meta}
			t.mu.Unlock()

		case protocol.TypeReqBodyChunk:
			t.mu.Lock()
			if req, ok := t.partials[frame.ID]; ok {
				req.body.Write(frame.Payload)
			}
			t.mu.Unlock()

		case protocol.TypeReqEOF:
			t.mu.Lock()
			req, ok := t.partials[frame.ID]
			delete(t.partials, frame.ID)
			t.mu.Unlock()
			if ok {
				go t._handle_request(frame.ID, req)
			}

		default:
			slog.Warn("unexpected frame type from relay", "type", frame.Type)
		}
	}
}

// _handle_request runs the interception pipeline for one request and
// streams the result back to the relay (spec.md §4.1, §4.4).
func (t *Tunnel) _handle_request(id protocol.RequestID, req *incomingRequest) {
	headers := make(http.Header, len(req.meta.Headers))
	for k, v := range req.meta.Headers {
		headers.Set(k, v)
	}

	var body io.Reader
	var preview string
	if req.body.Len() > 0 {
		preview = _truncate_body_preview(req.body.Bytes())
		body = &req.body
	}

	pctx := pipeline.NewContext(t.runCtx, id, req.meta.Method, req.meta.Path, headers, body, req.body.Len())
	pctx.RequestBodyPreview = preview
	t.pipeline.Run(pctx)

	if t.onComplete != nil {
		t.onComplete(pctx)
	}

	if closer, ok := pctx.ResponseBody.(io.Closer); ok {
		defer closer.Close()
	}

	meta := protocol.ResponseHeaderMeta{
		Status:      pctx.StatusCode,
		ContentType: pctx.ContentType,
		Headers:     pctx.ResponseHeaders,
	}
	raw, err := protocol.EncodeRespHeader(id, meta)
	if err != nil {
		slog.Error("failed to encode response header", "err", err)
		return
	}
	if err := t.codec.WriteRaw(raw); err != nil {
		slog.Error("failed to send response header", "err", err)
		return
	}

	if pctx.ResponseBody != nil {
		buf := make([]byte, protocol.RecommendedChunkSize)
		for {
			n, readErr := pctx.ResponseBody.Read(buf)
			if n > 0 {
				if err := t.codec.WriteRaw(protocol.EncodeRespBodyChunk(id, buf[:n])); err != nil {
					slog.Error("failed to send response body chunk", "err", err)
					return
				}
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				slog.Error("failed reading response body", "err", readErr)
				break
			}
		}
	}

	if err := t.codec.WriteRaw(protocol.EncodeRespEOF(id)); err != nil {
		slog.Error("failed to send response EOF", "err", err)
	}
}

// _truncate_body_preview returns a UTF-8 preview of the first bodyPreviewLimit
// bytes of data, backing off any trailing partial rune at the truncation
// boundary rather than emitting invalid UTF-8 into the log (spec.md §3).
func _truncate_body_preview(data []byte) string {
	if len(data) > bodyPreviewLimit {
		data = data[:bodyPreviewLimit]
	}
	for len(data) > 0 && !utf8.Valid(data) {
		data = data[:len(data)-1]
	}
	return string(data)
}

func (t *Tunnel) _heartbeat_loop() {
	if t.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(t.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.codec.WriteRaw(protocol.EncodeHeartbeat()); err != nil {
				slog.Error("agent heartbeat failed", "err", err)
				t.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}
