// Package graph is the branching DAG model used for paired-end bulk data.
// Nodes sit on logical lanes (R1, R2, MERGED) and edges carry the channels
// their two ends share. Cycles are allowed while editing and detected by
// TopoOrder before a run.
package graph

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sourceplane/prestoflow/internal/model"
)

// Resolver looks units up by id
type Resolver interface {
	Unit(id string) (model.Unit, bool)
}

// Graph holds nodes, edges and the latest artifact per channel.
// It is not safe for concurrent use.
type Graph struct {
	units     Resolver
	nodes     map[string]*model.Node
	order     []string
	edges     []model.Edge
	artifacts map[string]model.ChannelArtifact
	seq       int
	newID     func() string
	autoHeal  bool
}

// Option configures a Graph
type Option func(*Graph)

// WithIDGenerator replaces the uuid node id generator
func WithIDGenerator(fn func() string) Option {
	return func(g *Graph) { g.newID = fn }
}

// WithAutoHeal controls whether RemoveNode reconnects a lane around the removed node
func WithAutoHeal(on bool) Option {
	return func(g *Graph) { g.autoHeal = on }
}

// New creates an empty graph over the given units
func New(units Resolver, opts ...Option) *Graph {
	g := &Graph{
		units:     units,
		nodes:     make(map[string]*model.Node),
		artifacts: make(map[string]model.ChannelArtifact),
		newID:     uuid.NewString,
		autoHeal:  true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddOptions are the caller supplied parts of a new node
type AddOptions struct {
	Label  string
	Params map[string]string
}

// AddNode places a unit on a lane. Merge-type units always land on their
// target lane. The new node is chained after the last node of its lane,
// and after the last node of every lane a merge-type unit consumes, when
// channels allow it.
func (g *Graph) AddNode(unitID, branch string, opts AddOptions) (model.Node, error) {
	unit, ok := g.units.Unit(unitID)
	if !ok {
		return model.Node{}, fmt.Errorf("%w: %s", ErrUnknownUnit, unitID)
	}
	meta := unit.Meta()

	branch, err := resolveBranch(meta, branch)
	if err != nil {
		return model.Node{}, fmt.Errorf("unit %s: %w", unitID, err)
	}
	consumes, produces := channelsFor(meta, branch)

	params := unit.DefaultParams()
	for k, v := range opts.Params {
		params[k] = v
	}

	label := opts.Label
	if label == "" {
		label = unit.Label
	}

	// chain sources are picked before the node joins its lane
	lanes := []string{branch}
	if meta.TargetBranch != "" {
		lanes = appendUnique(lanes, consumes...)
	}
	tails := make([]string, 0, len(lanes))
	for _, lane := range lanes {
		if tail := g.tail(lane); tail != "" {
			tails = appendUnique(tails, tail)
		}
	}

	g.seq++
	node := &model.Node{
		ID:       g.newID(),
		UnitID:   unitID,
		Label:    label,
		Branch:   branch,
		Consumes: consumes,
		Produces: produces,
		Params:   params,
		Incoming: []model.Incoming{},
		Status:   model.StatusIdle,
		Order:    g.seq,
	}
	g.nodes[node.ID] = node
	g.order = append(g.order, node.ID)

	for _, tail := range tails {
		// incompatible lanes simply stay unconnected
		_, _ = g.Connect(tail, node.ID)
	}

	return cloneNode(node), nil
}

// RemoveNode deletes a node and every edge touching it. With auto-heal on,
// a node with exactly one predecessor on its own lane has that predecessor
// reconnected to each of its same-lane successors.
func (g *Graph) RemoveNode(id string) error {
	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	var lanePreds, laneSuccs []string
	for _, e := range g.edges {
		switch {
		case e.To == id && g.nodes[e.From].Branch == node.Branch:
			lanePreds = append(lanePreds, e.From)
		case e.From == id && g.nodes[e.To].Branch == node.Branch:
			laneSuccs = append(laneSuccs, e.To)
		}
	}

	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.From == id || e.To == id {
			if e.From == id {
				g.dropIncoming(e.To, id)
			}
			continue
		}
		kept = append(kept, e)
	}
	g.edges = kept

	delete(g.nodes, id)
	for i, nid := range g.order {
		if nid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}

	if g.autoHeal && len(lanePreds) == 1 {
		for _, succ := range laneSuccs {
			_, _ = g.Connect(lanePreds[0], succ)
		}
	}
	return nil
}

// Connect draws an edge from one node to another. The edge carries the
// channels the source produces and the target consumes; with none in
// common the edge is rejected and nothing changes.
func (g *Graph) Connect(from, to string) (model.Edge, error) {
	if from == to {
		return model.Edge{}, fmt.Errorf("%w: %s", ErrSelfLoop, from)
	}
	src, ok := g.nodes[from]
	if !ok {
		return model.Edge{}, fmt.Errorf("%w: %s", ErrNodeNotFound, from)
	}
	dst, ok := g.nodes[to]
	if !ok {
		return model.Edge{}, fmt.Errorf("%w: %s", ErrNodeNotFound, to)
	}
	if g.edgeIndex(from, to) >= 0 {
		return model.Edge{}, fmt.Errorf("%w: %s -> %s", ErrDuplicateEdge, src.Label, dst.Label)
	}

	channels := intersect(src.Produces, dst.Consumes)
	if len(channels) == 0 {
		return model.Edge{}, fmt.Errorf("%w: %s produces %v, %s consumes %v",
			ErrIncompatibleChannels, src.Label, src.Produces, dst.Label, dst.Consumes)
	}

	edge := model.Edge{From: from, To: to, Channels: channels}
	g.edges = append(g.edges, edge)
	g.setIncoming(dst, src, channels)
	return cloneEdge(edge), nil
}

// Disconnect removes the edge between two nodes. It reports whether an edge was removed.
func (g *Graph) Disconnect(from, to string) bool {
	idx := g.edgeIndex(from, to)
	if idx < 0 {
		return false
	}
	g.edges = append(g.edges[:idx], g.edges[idx+1:]...)
	g.dropIncoming(to, from)
	return true
}

// SetBranch moves a node to another lane. Dynamic-lane units take the
// lane's channel as their only input and output; edges left without a
// shared channel are dropped.
func (g *Graph) SetBranch(id, branch string) error {
	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	unit, ok := g.units.Unit(node.UnitID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, node.UnitID)
	}
	meta := unit.Meta()

	if meta.TargetBranch != "" && branch != meta.TargetBranch {
		return fmt.Errorf("unit %s: %w: always runs on %s", node.UnitID, ErrBranchNotAllowed, meta.TargetBranch)
	}
	if !meta.AllowsBranch(branch) {
		return fmt.Errorf("unit %s: %w: %s", node.UnitID, ErrBranchNotAllowed, branch)
	}

	node.Branch = branch
	node.Consumes, node.Produces = channelsFor(meta, branch)

	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.From != id && e.To != id {
			kept = append(kept, e)
			continue
		}
		src, dst := g.nodes[e.From], g.nodes[e.To]
		channels := intersect(src.Produces, dst.Consumes)
		if len(channels) == 0 {
			g.dropIncoming(e.To, e.From)
			continue
		}
		e.Channels = channels
		g.setIncoming(dst, src, channels)
		kept = append(kept, e)
	}
	g.edges = kept
	return nil
}

// SetParams overlays parameter values on a node
func (g *Graph) SetParams(id string, overrides map[string]string) error {
	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	for k, v := range overrides {
		node.Params[k] = v
	}
	return nil
}

// TopoOrder returns node ids in dependency order using Kahn's algorithm.
// Ready nodes are taken in insertion order. A nil result means the graph
// has a cycle and must not run.
func (g *Graph) TopoOrder() []string {
	inDegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, id := range g.order {
		inDegree[id] = 0
	}
	for _, e := range g.edges {
		inDegree[e.To]++
		dependents[e.From] = append(dependents[e.From], e.To)
	}

	queue := make([]string, 0)
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, current)

		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
		g.sortByOrder(queue)
	}

	if len(sorted) != len(g.nodes) {
		return nil
	}
	return sorted
}

// Cycle returns the ids of one dependency cycle, or nil when the graph is acyclic
func (g *Graph) Cycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, next := range g.Dependents(id) {
			if !visited[next] {
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				for i, sid := range stack {
					if sid == next {
						return append([]string(nil), stack[i:]...)
					}
				}
			}
		}

		onStack[id] = false
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, id := range g.order {
		if !visited[id] {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// SetNodeStatus forces a node into a status
func (g *Graph) SetNodeStatus(id string, status model.Status) error {
	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	node.Status = status
	if status != model.StatusError {
		node.Error = ""
	}
	return nil
}

// SetNodeError marks a node failed with a message
func (g *Graph) SetNodeError(id, message string) error {
	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	node.Status = model.StatusError
	node.Error = message
	return nil
}

// ResetStatuses returns every node to idle
func (g *Graph) ResetStatuses() {
	for _, node := range g.nodes {
		node.Status = model.StatusIdle
		node.Error = ""
	}
}

// RecordChannelArtifacts stores, for each channel the node produces, the
// artifact the backend now reports as current for it.
func (g *Graph) RecordChannelArtifacts(nodeID string, current map[string]string) error {
	node, ok := g.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	st := model.SessionState{Current: current}
	for _, ch := range node.Produces {
		if value, ok := st.CurrentValue(ch); ok {
			g.artifacts[ch] = model.ChannelArtifact{NodeID: node.ID, Label: node.Label, Value: value}
		}
	}
	return nil
}

// Node returns a copy of a node
func (g *Graph) Node(id string) (model.Node, bool) {
	node, ok := g.nodes[id]
	if !ok {
		return model.Node{}, false
	}
	return cloneNode(node), true
}

// Nodes returns copies of every node in insertion order
func (g *Graph) Nodes() []model.Node {
	out := make([]model.Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, cloneNode(g.nodes[id]))
	}
	return out
}

// Edges returns copies of every edge
func (g *Graph) Edges() []model.Edge {
	out := make([]model.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, cloneEdge(e))
	}
	return out
}

// Branches returns the lanes in use, in order of first appearance
func (g *Graph) Branches() []string {
	out := make([]string, 0)
	for _, id := range g.order {
		out = appendUnique(out, g.nodes[id].Branch)
	}
	return out
}

// Dependencies returns the direct predecessors of a node
func (g *Graph) Dependencies(id string) []string {
	out := make([]string, 0)
	for _, e := range g.edges {
		if e.To == id {
			out = append(out, e.From)
		}
	}
	return out
}

// Dependents returns the direct successors of a node
func (g *Graph) Dependents(id string) []string {
	out := make([]string, 0)
	for _, e := range g.edges {
		if e.From == id {
			out = append(out, e.To)
		}
	}
	return out
}

// Descendants returns every node reachable from id, breadth first
func (g *Graph) Descendants(id string) []string {
	seen := map[string]bool{id: true}
	out := make([]string, 0)
	queue := g.Dependents(id)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if seen[current] {
			continue
		}
		seen[current] = true
		out = append(out, current)
		queue = append(queue, g.Dependents(current)...)
	}
	return out
}

// Artifacts returns the latest artifact per channel
func (g *Graph) Artifacts() map[string]model.ChannelArtifact {
	out := make(map[string]model.ChannelArtifact, len(g.artifacts))
	for k, v := range g.artifacts {
		out[k] = v
	}
	return out
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.nodes)
}

// View is a serialisable copy of the graph
type View struct {
	Nodes     []model.Node                     `json:"nodes" yaml:"nodes"`
	Edges     []model.Edge                     `json:"edges" yaml:"edges"`
	Branches  []string                         `json:"branches" yaml:"branches"`
	Artifacts map[string]model.ChannelArtifact `json:"artifacts" yaml:"artifacts"`
}

// View returns a copy of the whole graph
func (g *Graph) View() View {
	return View{
		Nodes:     g.Nodes(),
		Edges:     g.Edges(),
		Branches:  g.Branches(),
		Artifacts: g.Artifacts(),
	}
}

// tail returns the most recently added node on a lane
func (g *Graph) tail(lane string) string {
	for i := len(g.order) - 1; i >= 0; i-- {
		if g.nodes[g.order[i]].Branch == lane {
			return g.order[i]
		}
	}
	return ""
}

func (g *Graph) edgeIndex(from, to string) int {
	for i, e := range g.edges {
		if e.From == from && e.To == to {
			return i
		}
	}
	return -1
}

func (g *Graph) setIncoming(dst, src *model.Node, channels []string) {
	rec := model.Incoming{From: src.ID, Label: src.Label, Channels: append([]string(nil), channels...)}
	for i, in := range dst.Incoming {
		if in.From == src.ID {
			dst.Incoming[i] = rec
			return
		}
	}
	dst.Incoming = append(dst.Incoming, rec)
}

func (g *Graph) dropIncoming(to, from string) {
	dst, ok := g.nodes[to]
	if !ok {
		return
	}
	kept := dst.Incoming[:0]
	for _, in := range dst.Incoming {
		if in.From != from {
			kept = append(kept, in)
		}
	}
	dst.Incoming = kept
}

func (g *Graph) sortByOrder(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return g.nodes[ids[i]].Order < g.nodes[ids[j]].Order
	})
}

func resolveBranch(meta model.DagMeta, requested string) (string, error) {
	if meta.TargetBranch != "" {
		return meta.TargetBranch, nil
	}
	if requested == "" {
		if len(meta.Branches) == 0 {
			return model.ChannelMerged, nil
		}
		return meta.Branches[0], nil
	}
	if len(meta.Branches) > 0 && !meta.AllowsBranch(requested) {
		return "", fmt.Errorf("%w: %s (allowed %v)", ErrBranchNotAllowed, requested, meta.Branches)
	}
	return requested, nil
}

func channelsFor(meta model.DagMeta, branch string) ([]string, []string) {
	if meta.DynamicBranch {
		return []string{branch}, []string{branch}
	}
	consumes := append([]string(nil), meta.Consumes...)
	produces := append([]string(nil), meta.Produces...)
	if len(consumes) == 0 {
		consumes = []string{branch}
	}
	if len(produces) == 0 {
		produces = []string{branch}
	}
	return consumes, produces
}

func intersect(produces, consumes []string) []string {
	out := make([]string, 0)
	for _, p := range produces {
		for _, c := range consumes {
			if p == c {
				out = appendUnique(out, p)
			}
		}
	}
	return out
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}

func cloneNode(n *model.Node) model.Node {
	c := *n
	c.Consumes = append([]string(nil), n.Consumes...)
	c.Produces = append([]string(nil), n.Produces...)
	c.Params = make(map[string]string, len(n.Params))
	for k, v := range n.Params {
		c.Params[k] = v
	}
	c.Incoming = make([]model.Incoming, 0, len(n.Incoming))
	for _, in := range n.Incoming {
		in.Channels = append([]string(nil), in.Channels...)
		c.Incoming = append(c.Incoming, in)
	}
	return c
}

func cloneEdge(e model.Edge) model.Edge {
	e.Channels = append([]string(nil), e.Channels...)
	return e
}
