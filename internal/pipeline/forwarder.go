package pipeline

import (
	"net/http"
	"strings"
	"time"
)

// forwarderTimeout is the per-attempt outbound HTTP timeout (spec.md §4.4.4).
const forwarderTimeout = 30 * time.Second

// hopByHopHeaders are dropped before forwarding (spec.md §4.4.4). Go's
// net/http has no content-header/request-header distinction the way some
// HTTP client libraries do, so — per spec's fallback clause — every
// surviving header is emitted verbatim.
var hopByHopHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Te":                true,
}

// LocalForwarder performs the outbound call to ctx.TargetURL and
// populates the response fields of ctx (spec.md §4.4.4). It is the last
// pipeline stage and never has a "next" to call.
func LocalForwarder(client *http.Client) Stage {
	if client == nil {
		client = &http.Client{Timeout: forwarderTimeout}
	}
	return func(ctx *Context, _ Next) {
		req, err := http.NewRequestWithContext(ctx.Ctx, ctx.Method, ctx.TargetURL, ctx.RequestBody)
		if err != nil {
			ctx.SetErrorResponse(http.StatusBadGateway, "Bad Gateway: "+err.Error())
			return
		}
		copyForwardHeaders(req.Header, ctx.RequestHeaders)

		resp, err := client.Do(req)
		if err != nil {
			ctx.SetErrorResponse(http.StatusBadGateway, "Bad Gateway: "+err.Error())
			return
		}

		ctx.StatusCode = resp.StatusCode
		ctx.ContentType = resp.Header.Get("Content-Type")
		if ctx.ContentType == "" {
			ctx.ContentType = defaultContentType
		}
		ctx.ResponseBody = resp.Body

		headers := make(http.Header, len(resp.Header))
		for k, v := range resp.Header {
			if strings.EqualFold(k, "Content-Type") {
				continue
			}
			headers[k] = append([]string(nil), v...)
		}
		ctx.ResponseHeaders = headers
	}
}

func copyForwardHeaders(dst, src http.Header) {
	for k, values := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		if strings.HasPrefix(http.CanonicalHeaderKey(k), "Proxy-") {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
