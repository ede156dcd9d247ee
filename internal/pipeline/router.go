package pipeline

import (
	"fmt"
	"strings"

	"github.com/chaostunnel/chaostunnel/internal/ruleset"
)

// RequestRouter resolves ctx.TargetURL from routing rules (sorted by
// priority ascending) or the configured local default port, and always
// calls next (spec.md §4.4.3 — it never short-circuits).
func RequestRouter(rules func() []ruleset.RoutingRule, defaultLocalPort int) Stage {
	return func(ctx *Context, next Next) {
		for _, r := range rules() {
			if !r.Enabled {
				continue
			}
			if !ruleset.MatchPath(r.PathPattern, ctx.Path) {
				continue
			}
			ctx.TargetURL = strings.TrimSuffix(r.TargetBaseURL, "/") + ctx.Path
			next()
			return
		}
		ctx.TargetURL = fmt.Sprintf("http://localhost:%d%s", defaultLocalPort, ctx.Path)
		next()
	}
}
