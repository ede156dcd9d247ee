package pipeline

import (
	"math/rand/v2"
	"time"

	"github.com/chaostunnel/chaostunnel/internal/ruleset"
)

// ChaosEngine matches chaos rules the same way MockEngine matches mock
// rules, then injects latency and/or a probabilistic synthetic error
// (spec.md §4.4.2). math/rand/v2's top-level functions draw from a
// per-goroutine source and need no external locking, satisfying the
// "per-thread or otherwise contention-free" requirement without a
// third-party RNG.
func ChaosEngine(rules func() []ruleset.ChaosRule) Stage {
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

			ctx.AppliedChaosRule = r.Name

			if r.LatencyMs > 0 {
				if !sleepJittered(ctx, r.LatencyMs, r.JitterMs) {
					return // cancelled mid-sleep
				}
			}

			if r.ErrorRate > 0 && rand.Float64() < r.ErrorRate {
				ctx.SetErrorResponse(r.ErrorStatus, r.ErrorBody)
				return
			}

			next()
			return
		}
		next()
	}
}

// sleepJittered draws delay = latencyMs + uniform(-jitterMs, +jitterMs)
// clamped to >= 0, and sleeps for it, observing ctx.Ctx's cancellation.
// Returns false if cancelled before the delay elapsed.
func sleepJittered(ctx *Context, latencyMs, jitterMs int) bool {
	delay := latencyMs
	if jitterMs > 0 {
		delay += rand.IntN(2*jitterMs+1) - jitterMs
	}
	if delay < 0 {
		delay = 0
	}

	timer := time.NewTimer(time.Duration(delay) * time.Millisecond)
	defer timer.Stop()

	done := ctx.Ctx.Done()
	select {
	case <-timer.C:
		return true
	case <-done:
		return false
	}
}
