package protocol

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Codec serializes frame writes over a websocket connection and parses
// frames out of the messages it reads. gorilla/websocket's ReadMessage
// already reassembles a fragmented logical message before returning it,
// which satisfies spec.md §3's "accumulate fragments until end-of-message"
// requirement without further bookkeeping here.
type Codec struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewCodec wraps a websocket connection with frame encoding/decoding.
func NewCodec(conn *websocket.Conn) *Codec {
	return &Codec{conn: conn}
}

// WriteRaw sends an already-encoded frame (as produced by one of the
// Encode* helpers).
func (c *Codec) WriteRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// ReadFrame reads and decodes one frame.
func (c *Codec) ReadFrame() (*Frame, error) {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading websocket message: %w", err)
	}
	if msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket message type: %d", msgType)
	}
	return Decode(data)
}

// Close closes the underlying websocket connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}
