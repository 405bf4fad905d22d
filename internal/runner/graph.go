package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sourceplane/prestoflow/internal/graph"
	"github.com/sourceplane/prestoflow/internal/model"
)

type completion struct {
	nodeID string
	call
}

// graphRun is the bookkeeping of one DAG run. It is only touched by the
// coordinating goroutine; workers report back through done.
type graphRun struct {
	r        *Runner
	g        *graph.Graph
	order    []string
	position map[string]int
	inDegree map[string]int
	ready    []string
	outcomes map[string]*Outcome
	progress map[string]*BranchProgress
	failures []error
	done     chan completion
	inFlight int
}

// RunGraph runs nodes in dependency order with up to MaxParallel run calls
// in flight. A failed node blocks its descendants; independent branches
// keep going. Cancelling ctx stops new launches and blocks every node that
// has not started.
func (r *Runner) RunGraph(ctx context.Context, g *graph.Graph) (*GraphResult, error) {
	if g.Len() == 0 {
		return nil, ErrEmptyPipeline
	}
	order := g.TopoOrder()
	if order == nil {
		return nil, graph.ErrCycle
	}

	g.ResetStatuses()
	run := newGraphRun(r, g, order)
	r.logger.Info("running graph", "nodes", len(order), "max_parallel", r.opts.MaxParallel, "session", r.opts.SessionID)

	for {
		if ctx.Err() == nil {
			for run.inFlight < r.opts.MaxParallel && len(run.ready) > 0 {
				id := run.ready[0]
				run.ready = run.ready[1:]
				run.launch(ctx, id)
			}
		}
		if run.inFlight == 0 {
			break
		}

		c := <-run.done
		run.inFlight--
		if c.err != nil {
			run.fail(c)
		} else {
			run.succeed(ctx, c)
		}
	}

	if err := ctx.Err(); err != nil {
		run.blockRemaining()
		return run.result(), fmt.Errorf("graph run interrupted: %w", err)
	}

	result := run.result()
	if len(run.failures) > 0 {
		return result, errors.Join(run.failures...)
	}
	return result, nil
}

func newGraphRun(r *Runner, g *graph.Graph, order []string) *graphRun {
	run := &graphRun{
		r:        r,
		g:        g,
		order:    order,
		position: make(map[string]int, len(order)),
		inDegree: make(map[string]int, len(order)),
		outcomes: make(map[string]*Outcome, len(order)),
		progress: make(map[string]*BranchProgress),
		done:     make(chan completion, len(order)),
	}

	for i, id := range order {
		node, _ := g.Node(id)
		run.position[id] = i
		run.inDegree[id] = len(g.Dependencies(id))
		run.outcomes[id] = &Outcome{
			NodeID:    id,
			UnitID:    node.UnitID,
			Label:     node.Label,
			Branch:    node.Branch,
			Status:    model.StatusIdle,
			StepIndex: -1,
		}

		p, ok := run.progress[node.Branch]
		if !ok {
			p = &BranchProgress{Branch: node.Branch}
			run.progress[node.Branch] = p
		}
		p.Total++

		if run.inDegree[id] == 0 {
			run.ready = append(run.ready, id)
		}
	}
	return run
}

func (run *graphRun) launch(ctx context.Context, id string) {
	node, _ := run.g.Node(id)
	_ = run.g.SetNodeStatus(id, model.StatusRunning)

	out := run.outcomes[id]
	out.Status = model.StatusRunning
	run.r.opts.Observer.Observe(Event{Kind: EventStarted, Outcome: *out})

	run.inFlight++
	go func() {
		run.done <- completion{nodeID: id, call: run.r.invoke(ctx, node.UnitID, node.Params)}
	}()
}

func (run *graphRun) succeed(ctx context.Context, c completion) {
	current := run.r.record(ctx, c.result)
	_ = run.g.SetNodeStatus(c.nodeID, model.StatusDone)
	_ = run.g.RecordChannelArtifacts(c.nodeID, current)

	out := run.outcomes[c.nodeID]
	out.Status = model.StatusDone
	out.StepIndex = c.result.Step.StepIndex
	out.Log = c.log
	out.Duration = c.duration
	run.r.opts.Observer.Observe(Event{Kind: EventSucceeded, Outcome: *out})

	p := run.progress[out.Branch]
	p.Completed++
	run.r.opts.Observer.Observe(Event{Kind: EventProgress, Progress: copyProgress(p)})

	for _, dep := range run.g.Dependents(c.nodeID) {
		run.inDegree[dep]--
		if run.inDegree[dep] == 0 && run.outcomes[dep].Status == model.StatusIdle {
			run.ready = append(run.ready, dep)
		}
	}
	sort.SliceStable(run.ready, func(i, j int) bool {
		return run.position[run.ready[i]] < run.position[run.ready[j]]
	})
}

func (run *graphRun) fail(c completion) {
	out := run.outcomes[c.nodeID]
	out.Status = model.StatusError
	out.Error, out.LogTail = run.r.failure(c.err)
	out.Duration = c.duration
	_ = run.g.SetNodeError(c.nodeID, out.Error)

	run.r.logger.Error("node failed", "node", out.Label, "unit", out.UnitID, "branch", out.Branch, "error", out.Error)
	run.r.opts.Observer.Observe(Event{Kind: EventFailed, Outcome: *out, Err: c.err})

	run.failures = append(run.failures, &StepError{
		Position: run.position[c.nodeID] + 1,
		NodeID:   c.nodeID,
		UnitID:   out.UnitID,
		Label:    out.Label,
		Err:      c.err,
	})

	touched := map[string]bool{out.Branch: true}
	run.progress[out.Branch].Failed++
	for _, id := range run.g.Descendants(c.nodeID) {
		if run.block(id) {
			touched[run.outcomes[id].Branch] = true
		}
	}
	run.emitProgress(touched)
}

// block marks an idle node blocked and reports whether it changed
func (run *graphRun) block(id string) bool {
	out := run.outcomes[id]
	if out.Status != model.StatusIdle {
		return false
	}
	out.Status = model.StatusBlocked
	_ = run.g.SetNodeStatus(id, model.StatusBlocked)
	run.progress[out.Branch].Blocked++
	run.r.opts.Observer.Observe(Event{Kind: EventBlocked, Outcome: *out})
	return true
}

func (run *graphRun) blockRemaining() {
	touched := make(map[string]bool)
	for _, id := range run.order {
		if run.block(id) {
			touched[run.outcomes[id].Branch] = true
		}
	}
	run.ready = nil
	run.emitProgress(touched)
}

func (run *graphRun) emitProgress(branches map[string]bool) {
	for _, b := range run.branchOrder() {
		if branches[b] {
			run.r.opts.Observer.Observe(Event{Kind: EventProgress, Progress: copyProgress(run.progress[b])})
		}
	}
}

// branchOrder lists lanes in the order their first node runs
func (run *graphRun) branchOrder() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(run.progress))
	for _, id := range run.order {
		b := run.outcomes[id].Branch
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

func (run *graphRun) result() *GraphResult {
	res := &GraphResult{
		OK:       true,
		Order:    append([]string(nil), run.order...),
		Outcomes: make([]Outcome, 0, len(run.order)),
		Branches: make([]BranchProgress, 0, len(run.progress)),
	}
	for _, id := range run.order {
		out := *run.outcomes[id]
		if out.Status != model.StatusDone {
			res.OK = false
		}
		res.Outcomes = append(res.Outcomes, out)
	}
	for _, b := range run.branchOrder() {
		res.Branches = append(res.Branches, *run.progress[b])
	}
	return res
}

func copyProgress(p *BranchProgress) *BranchProgress {
	c := *p
	return &c
}
