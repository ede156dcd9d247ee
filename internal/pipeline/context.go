// Package pipeline implements the Agent's four-stage request-interception
// chain: MockEngine -> ChaosEngine -> RequestRouter -> LocalForwarder.
package pipeline

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chaostunnel/chaostunnel/internal/protocol"
)

// defaultContentType is used when no stage has set one (spec.md §3).
const defaultContentType = "application/octet-stream"

// Context is the per-request mutable record threaded through the
// pipeline stages (spec.md §3 "TunnelContext"). It is not safe for
// concurrent use — each request gets its own Context on its own
// goroutine.
type Context struct {
	// Ctx carries cancellation: process shutdown or Agent disconnect
	// propagates here so ChaosEngine's latency sleep and LocalForwarder's
	// outbound call can observe it (spec.md §5 "Cancellation").
	Ctx context.Context

	ID     protocol.RequestID
	Method string
	Path   string

	RequestHeaders       http.Header // case-insensitive by construction
	RequestBody          io.Reader   // nil if the request has no body
	RequestContentLength int
	RequestBodyPreview   string // UTF-8 preview of the first 4 KiB of the request body, for the log (spec.md §3)

	TargetURL string

	StatusCode      int
	ContentType     string
	ResponseBody    io.Reader
	ResponseHeaders http.Header // case-insensitive, multi-valued

	AppliedChaosRule string
	AppliedMockRule  string

	handled bool
	start   time.Time
}

// NewContext builds a fresh TunnelContext for one incoming request.
func NewContext(ctx context.Context, id protocol.RequestID, method, path string, headers http.Header, body io.Reader, contentLength int) *Context {
	return &Context{
		Ctx:                  ctx,
		ID:                   id,
		Method:               method,
		Path:                 path,
		RequestHeaders:       headers,
		RequestBody:          body,
		RequestContentLength: contentLength,
		StatusCode:           200,
		ContentType:          defaultContentType,
		ResponseHeaders:      make(http.Header),
		start:                time.Now(),
	}
}

// MarkHandled short-circuits the remaining pipeline stages.
func (c *Context) MarkHandled() { c.handled = true }

// IsHandled reports whether a stage has already produced the response.
func (c *Context) IsHandled() bool { return c.handled }

// Elapsed returns the time since the context was constructed.
func (c *Context) Elapsed() time.Duration { return time.Since(c.start) }

// SetMockResponse fills in a canned response and marks the context handled.
func (c *Context) SetMockResponse(status int, contentType, body string) {
	c.StatusCode = status
	if contentType != "" {
		c.ContentType = contentType
	}
	c.ResponseBody = strings.NewReader(body)
	c.MarkHandled()
}

// SetErrorResponse fills in a synthesized error response and marks the
// context handled. Used by ChaosEngine's error injection and by
// LocalForwarder's unreachable-target fallback.
func (c *Context) SetErrorResponse(status int, body string) {
	c.StatusCode = status
	c.ContentType = "text/plain"
	c.ResponseBody = strings.NewReader(body)
	c.MarkHandled()
}
