package pipeline

// Next invokes the remaining pipeline stages.
type Next func()

// Stage is one element of the ordered chain. A stage may call next to
// continue, or skip it to short-circuit (spec.md §4.4).
type Stage func(ctx *Context, next Next)

// Pipeline is an ordered chain of stages; the agent builds it as
// MockEngine -> ChaosEngine -> RequestRouter -> LocalForwarder.
type Pipeline struct {
	stages []Stage
}

// New builds a pipeline from an ordered list of stages.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Run executes the chain against ctx. Before invoking each stage, the
// runner checks ctx.IsHandled(); once true, the remaining stages are
// bypassed (spec.md §4.4), even if an earlier stage sets it without
// bothering to stop calling next itself.
func (p *Pipeline) Run(ctx *Context) {
	var run func(i int)
	run = func(i int) {
		if i >= len(p.stages) || ctx.IsHandled() {
			return
		}
		p.stages[i](ctx, func() { run(i + 1) })
	}
	run(0)
}
