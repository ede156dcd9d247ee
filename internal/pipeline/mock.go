package pipeline

import "github.com/chaostunnel/chaostunnel/internal/ruleset"

// MockEngine scans mock rules in insertion order and serves the first
// enabled rule whose method and path match (spec.md §4.4.1). On a hit it
// does not call next; on a miss it does.
func MockEngine(rules func() []ruleset.MockRule) Stage {
	return func(ctx *Context, next Next) {
		for _, r := range rules() {
			if !r.Enabled {
				continue
			}
			if !ruleset.MatchMethod(r.Method, ctx.Method) {
				continue
			}
			if !ruleset.MatchPath(r.PathPattern, ctx.Path) {
				continue
			}
			ctx.AppliedMockRule = r.Name
			ctx.SetMockResponse(r.StatusCode, r.ContentType, r.Body)
			return
		}
		next()
	}
}
