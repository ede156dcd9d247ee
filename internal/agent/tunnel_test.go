package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaostunnel/chaostunnel/internal/pipeline"
	"github.com/chaostunnel/chaostunnel/internal/protocol"
)

// echoPipeline replies 200 with the body "echo:" plus the request path.
func echoPipeline() *pipeline.Pipeline {
	return pipeline.New(func(ctx *pipeline.Context, next pipeline.Next) {
		ctx.SetMockResponse(http.StatusOK, "text/plain", "echo:"+ctx.Path)
	})
}

// dialAgentTunnel starts a websocket test server acting as the relay side
// of the connection and returns a Tunnel wrapping the agent-side conn
// with the given pipeline, plus the relay-side raw conn.
func dialAgentTunnel(t *testing.T, p *pipeline.Pipeline) (tunnel *Tunnel, relaySide *websocket.Conn, stop func()) {
	t.Helper()
	var upgrader websocket.Upgrader
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		connCh <- conn
	}))

	wsURL := "ws" + srv.URL[len("http"):]
	agentConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial failed: %v", err)
	}
	relaySide = <-connCh

	tunnel = &Tunnel{
		conn:              agentConn,
		codec:             protocol.NewCodec(agentConn),
		pipeline:          p,
		heartbeatInterval: 0,
		partials:          make(map[protocol.RequestID]*incomingRequest),
		done:              make(chan struct{}),
	}
	tunnel.runCtx, tunnel.runCancel = context.WithCancel(context.Background())

	return tunnel, relaySide, func() {
		tunnel.Close()
		srv.Close()
	}
}

func Test_agent_tunnel_handles_request_and_streams_response(t *testing.T) {
	tunnel, relaySide, stop := dialAgentTunnel(t, echoPipeline())
	defer stop()

	go tunnel._read_loop()

	id := protocol.NewRequestID()
	meta := protocol.RequestHeaderMeta{Method: "GET", Path: "/hello", Headers: map[string]string{}, HasBody: false}
	raw, err := protocol.EncodeReqHeader(id, meta)
	if err != nil {
		t.Fatalf("encoding request header: %v", err)
	}
	if err := relaySide.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		t.Fatalf("writing request header: %v", err)
	}
	if err := relaySide.WriteMessage(websocket.BinaryMessage, protocol.EncodeReqEOF(id)); err != nil {
		t.Fatalf("writing request EOF: %v", err)
	}

	relaySide.SetReadDeadline(time.Now().Add(2 * time.Second))

	var gotHeader bool
	var gotEOF bool
	var bodyBytes []byte
	for !gotEOF {
		_, data, err := relaySide.ReadMessage()
		if err != nil {
			t.Fatalf("reading from relay side: %v", err)
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decoding frame: %v", err)
		}
		if frame.ID != id {
			t.Fatalf("unexpected frame id")
		}
		switch frame.Type {
		case protocol.TypeRespHeader:
			respMeta, err := protocol.DecodeRespHeaderMeta(frame.Payload)
			if err != nil {
				t.Fatalf("decoding response header: %v", err)
			}
			if respMeta.Status != http.StatusOK {
				t.Errorf("expected status 200, got %d", respMeta.Status)
			}
			gotHeader = true
		case protocol.TypeRespBodyChunk:
			bodyBytes = append(bodyBytes, frame.Payload...)
		case protocol.TypeRespEOF:
			gotEOF = true
		default:
			t.Fatalf("unexpected frame type 0x%02x", frame.Type)
		}
	}

	if !gotHeader {
		t.Error("expected a response header frame")
	}
	if string(bodyBytes) != "echo:/hello" {
		t.Errorf("expected body %q, got %q", "echo:/hello", string(bodyBytes))
	}
}
