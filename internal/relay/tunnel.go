package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaostunnel/chaostunnel/internal/protocol"
)

// chunkQueueCapacity bounds how many unread response body chunks an
// in-flight request buffers before the tunnel's read loop blocks on it
// (spec.md §5, "bounded" open question resolved in DESIGN.md).
const chunkQueueCapacity = 256

// inflightRequest tracks one request awaiting its response across the
// multiplexed connection.
type inflightRequest struct {
	header chan *protocol.ResponseHeaderMeta
	chunks chan []byte

	closeOnce sync.Once
}

func newInflightRequest() *inflightRequest {
	return &inflightRequest{
		header: make(chan *protocol.ResponseHeaderMeta, 1),
		chunks: make(chan []byte, chunkQueueCapacity),
	}
}

// closeChunks is idempotent: the read loop closes it on RespEOF, and
// Close() on tunnel teardown may race it.
func (r *inflightRequest) closeChunks() {
	r.closeOnce.Do(func() { close(r.chunks) })
}

// Tunnel is one agent's websocket connection on the relay side,
// multiplexing many concurrent requests by RequestID (spec.md §2, §6).
type Tunnel struct {
	agentID string
	conn    *websocket.Conn
	codec   *protocol.Codec

	heartbeatInterval time.Duration
	keepAlive         time.Duration

	mu       sync.Mutex
	inflight map[protocol.RequestID]*inflightRequest

	done      chan struct{}
	closeOnce sync.Once
}

// NewTunnel wraps an accepted agent websocket connection and starts its
// read and heartbeat loops.
func NewTunnel(agentID string, conn *websocket.Conn, heartbeatInterval, keepAlive time.Duration) *Tunnel {
	t := &Tunnel{
		agentID:           agentID,
		conn:              conn,
		codec:             protocol.NewCodec(conn),
		heartbeatInterval: heartbeatInterval,
		keepAlive:         keepAlive,
		inflight:          make(map[protocol.RequestID]*inflightRequest),
		done:              make(chan struct{}),
	}
	go t._read_loop()
	go t._heartbeat_loop()
	return t
}

// ID returns the agent identifier this tunnel serves.
func (t *Tunnel) ID() string { return t.agentID }

// Done returns a channel closed when the tunnel has shut down.
func (t *Tunnel) Done() <-chan struct{} { return t.done }

// Close tears down the tunnel and releases every in-flight request
// waiting on it.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.codec.Close()

		t.mu.Lock()
		for id, req := range t.inflight {
			req.closeChunks()
			delete(t.inflight, id)
		}
		t.mu.Unlock()

		slog.Info("agent tunnel closed", "agent_id", t.agentID)
	})
}

// _register installs a fresh inflightRequest for id, replacing nothing
// (RequestIDs are unique per request; a collision would indicate a bug
// upstream rather than a legitimate retry).
func (t *Tunnel) _register(id protocol.RequestID) *inflightRequest {
	req := newInflightRequest()
	t.mu.Lock()
	t.inflight[id] = req
	t.mu.Unlock()
	return req
}

func (t *Tunnel) _unregister(id protocol.RequestID) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.mu.Unlock()
}

// SendRequestHeader writes a request-header frame for id.
func (t *Tunnel) SendRequestHeader(id protocol.RequestID, meta protocol.RequestHeaderMeta) error {
	raw, err := protocol.EncodeReqHeader(id, meta)
	if err != nil {
		return err
	}
	return t.codec.WriteRaw(raw)
}

// SendRequestBodyChunk writes one request body chunk frame for id.
func (t *Tunnel) SendRequestBodyChunk(id protocol.RequestID, chunk []byte) error {
	return t.codec.WriteRaw(protocol.EncodeReqBodyChunk(id, chunk))
}

// SendRequestEOF writes the end-of-request-body frame for id.
func (t *Tunnel) SendRequestEOF(id protocol.RequestID) error {
	return t.codec.WriteRaw(protocol.EncodeReqEOF(id))
}

// _read_loop dispatches response frames from the agent to the matching
// in-flight request's channels. One loop per tunnel, as in the teacher.
func (t *Tunnel) _read_loop() {
	defer t.Close()
	for {
		if t.keepAlive > 0 {
			t.conn.SetReadDeadline(time.Now().Add(t.keepAlive))
		}

		frame, err := t.codec.ReadFrame()
		if err != nil {
			select {
			case <-t.done:
			default:
				slog.Warn("agent tunnel read error", "agent_id", t.agentID, "err", err)
			}
			return
		}

		switch frame.Type {
		case protocol.TypeHeartbeat:
			// liveness only; SetReadDeadline above already renewed.
		case protocol.TypeRespHeader:
			meta, err := protocol.DecodeRespHeaderMeta(frame.Payload)
			if err != nil {
				slog.Warn("malformed response header from agent", "agent_id", t.agentID, "err", err)
				continue
			}
			t._dispatch_header(frame.ID, &meta)
		case protocol.TypeRespBodyChunk:
			t._dispatch_chunk(frame.ID, frame.Payload)
		case protocol.TypeRespEOF:
			t._dispatch_eof(frame.ID)
		default:
			slog.Warn("unexpected frame type from agent", "agent_id", t.agentID, "type", frame.Type)
		}
	}
}

func (t *Tunnel) _lookup(id protocol.RequestID) (*inflightRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.inflight[id]
	return req, ok
}

func (t *Tunnel) _dispatch_header(id protocol.RequestID, meta *protocol.ResponseHeaderMeta) {
	req, ok := t._lookup(id)
	if !ok {
		return
	}
	select {
	case req.header <- meta:
	default:
	}
}

func (t *Tunnel) _dispatch_chunk(id protocol.RequestID, payload []byte) {
	req, ok := t._lookup(id)
	if !ok {
		return
	}
	chunk := append([]byte(nil), payload...)
	select {
	case req.chunks <- chunk:
	case <-t.done:
	}
}

func (t *Tunnel) _dispatch_eof(id protocol.RequestID) {
	req, ok := t._lookup(id)
	if !ok {
		return
	}
	req.closeChunks()
	t._unregister(id)
}

// _heartbeat_loop sends periodic heartbeat frames so the agent (and any
// intermediary) can detect a dead connection (spec.md §7).
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
				slog.Warn("agent tunnel heartbeat failed", "agent_id", t.agentID, "err", err)
				t.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}
