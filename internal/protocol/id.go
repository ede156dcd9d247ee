// Package protocol implements the multiplexed binary frame wire format
// shared by the Relay and the Agent.
package protocol

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// RequestID is the 128-bit opaque correlator carried on every frame
// except the standalone heartbeat.
type RequestID [16]byte

// NewRequestID draws a fresh random (version 4 UUID) RequestID.
func NewRequestID() RequestID {
	return RequestID(uuid.New())
}

// String renders the id as lowercase hex, for logging.
func (id RequestID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value (used to detect a missing id).
func (id RequestID) IsZero() bool {
	return id == RequestID{}
}
