package relay

import "errors"

// Sentinel errors surfaced by the relay's public-facing handler (spec.md §7).
var (
	// ErrUnknownAgent means the Host header named an agent id with no
	// connected tunnel.
	ErrUnknownAgent = errors.New("relay: unknown or disconnected agent")

	// ErrInvalidUpgrade means an agent's websocket upgrade request was
	// missing required parameters (clientId) or failed the handshake.
	ErrInvalidUpgrade = errors.New("relay: invalid tunnel upgrade request")

	// ErrTimeout means no response arrived from the agent within the
	// configured request timeout.
	ErrTimeout = errors.New("relay: timed out waiting for agent response")
)
