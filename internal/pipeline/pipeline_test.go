package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chaostunnel/chaostunnel/internal/protocol"
	"github.com/chaostunnel/chaostunnel/internal/ruleset"
)

func newTestContext(method, path string) *Context {
	return NewContext(context.Background(), protocol.NewRequestID(), method, path, make(http.Header), nil, 0)
}

func Test_mock_short_circuits_before_chaos(t *testing.T) {
	store := ruleset.NewStore()
	store.UpsertMock(ruleset.MockRule{
		ID: "m1", Name: "users-mock", PathPattern: "/api/users", Method: "GET",
		Enabled: true, StatusCode: 200, ContentType: "application/json", Body: "[]",
	})
	store.UpsertChaos(ruleset.ChaosRule{
		ID: "c1", Name: "users-chaos", PathPattern: "/api/users",
		Enabled: true, ErrorRate: 1.0, ErrorStatus: 500, ErrorBody: "should not appear",
	})

	p := New(
		MockEngine(store.SnapshotMock),
		ChaosEngine(store.SnapshotChaos),
	)

	ctx := newTestContext("GET", "/api/users")
	p.Run(ctx)

	if ctx.StatusCode != 200 {
		t.Errorf("status = %d, want 200", ctx.StatusCode)
	}
	if ctx.AppliedMockRule != "users-mock" {
		t.Errorf("applied mock rule = %q", ctx.AppliedMockRule)
	}
	if ctx.AppliedChaosRule != "" {
		t.Errorf("chaos should not have run, got %q", ctx.AppliedChaosRule)
	}
}

func Test_chaos_error_injection_probability_one(t *testing.T) {
	store := ruleset.NewStore()
	store.UpsertChaos(ruleset.ChaosRule{
		ID: "c1", Name: "flaky", PathPattern: "/flaky",
		Enabled: true, ErrorRate: 1.0, ErrorStatus: 503, ErrorBody: "nope",
	})

	localCalled := false
	p := New(
		MockEngine(func() []ruleset.MockRule { return nil }),
		ChaosEngine(store.SnapshotChaos),
		Stage(func(ctx *Context, next Next) { localCalled = true; next() }),
	)

	for i := 0; i < 10; i++ {
		ctx := newTestContext("GET", "/flaky")
		p.Run(ctx)
		if ctx.StatusCode != 503 {
			t.Fatalf("iteration %d: status = %d, want 503", i, ctx.StatusCode)
		}
		body, _ := io.ReadAll(ctx.ResponseBody)
		if string(body) != "nope" {
			t.Fatalf("iteration %d: body = %q", i, body)
		}
	}
	if localCalled {
		t.Error("local forwarder stage should never run when errorRate=1.0")
	}
}

func Test_chaos_latency_bounds(t *testing.T) {
	store := ruleset.NewStore()
	store.UpsertChaos(ruleset.ChaosRule{
		ID: "c1", Name: "slow", PathPattern: "/slow",
		Enabled: true, LatencyMs: 100, JitterMs: 0,
	})

	p := New(ChaosEngine(store.SnapshotChaos))
	ctx := newTestContext("GET", "/slow")

	start := time.Now()
	p.Run(ctx)
	elapsed := time.Since(start)

	if elapsed < 90*time.Millisecond {
		t.Errorf("elapsed %v too short, want >= ~100ms", elapsed)
	}
	if elapsed > 400*time.Millisecond {
		t.Errorf("elapsed %v too long", elapsed)
	}
}

func Test_routing_priority_outranks_insertion_order(t *testing.T) {
	store := ruleset.NewStore()
	store.UpsertRouting(ruleset.RoutingRule{
		ID: "later", Name: "later", PathPattern: "/api/*", Enabled: true,
		TargetBaseURL: "http://localhost:9002", Priority: 1,
	})
	store.UpsertRouting(ruleset.RoutingRule{
		ID: "first", Name: "first", PathPattern: "/api/*", Enabled: true,
		TargetBaseURL: "http://localhost:9001", Priority: 0,
	})

	p := New(RequestRouter(store.SnapshotRouting, 9999))
	ctx := newTestContext("GET", "/api/v1/ping")
	p.Run(ctx)

	if ctx.TargetURL != "http://localhost:9001/api/v1/ping" {
		t.Errorf("target = %q, want priority-0 rule's target", ctx.TargetURL)
	}
}

func Test_routing_falls_back_to_default_local_port(t *testing.T) {
	store := ruleset.NewStore()
	p := New(RequestRouter(store.SnapshotRouting, 9002))
	ctx := newTestContext("GET", "/health")
	p.Run(ctx)

	if ctx.TargetURL != "http://localhost:9002/health" {
		t.Errorf("target = %q", ctx.TargetURL)
	}
}

func Test_local_forwarder_returns_502_on_unreachable_target(t *testing.T) {
	ctx := newTestContext("GET", "/x")
	ctx.TargetURL = "http://127.0.0.1:1" // nothing listens here

	stage := LocalForwarder(nil)
	stage(ctx, func() {})

	if ctx.StatusCode != 502 {
		t.Errorf("status = %d, want 502", ctx.StatusCode)
	}
	if ctx.ContentType != "text/plain" {
		t.Errorf("content type = %q, want text/plain", ctx.ContentType)
	}
}

func Test_local_forwarder_success(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "ok")
		w.WriteHeader(201)
		w.Write([]byte("created"))
	}))
	defer backend.Close()

	ctx := newTestContext("POST", "/things")
	ctx.TargetURL = backend.URL + "/things"

	stage := LocalForwarder(nil)
	stage(ctx, func() {})

	if ctx.StatusCode != 201 {
		t.Fatalf("status = %d, want 201", ctx.StatusCode)
	}
	if ctx.ResponseHeaders.Get("X-Test") != "ok" {
		t.Errorf("missing X-Test header")
	}
	body, _ := io.ReadAll(ctx.ResponseBody)
	if string(body) != "created" {
		t.Errorf("body = %q", body)
	}
}

func Test_pipeline_short_circuit_skips_remaining_stages(t *testing.T) {
	var ranSecond bool
	p := New(
		Stage(func(ctx *Context, next Next) { ctx.MarkHandled() }),
		Stage(func(ctx *Context, next Next) { ranSecond = true; next() }),
	)
	ctx := newTestContext("GET", "/x")
	p.Run(ctx)
	if ranSecond {
		t.Error("second stage should not run once handled")
	}
}
