package validate

import (
	"fmt"
	"testing"

	"github.com/sourceplane/prestoflow/internal/backend/backendtest"
	"github.com/sourceplane/prestoflow/internal/catalog"
	"github.com/sourceplane/prestoflow/internal/graph"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func units(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(backendtest.Units())
	require.NoError(t, err)
	return c
}

func withReads(channels ...string) model.SessionState {
	st := model.SessionState{Current: map[string]string{}, Aux: map[string]string{}}
	for _, ch := range channels {
		st.Current[ch] = ch + "_raw"
	}
	return st
}

func steps(t *testing.T, c *catalog.Catalog, ids ...string) []model.Step {
	t.Helper()
	p := pipeline.New()
	for _, id := range ids {
		u, ok := c.Unit(id)
		require.True(t, ok, id)
		p.Add(u.ID, u.Label, u.DefaultParams(), nil)
	}
	return p.List()
}

func TestEmptyPipelineIsBlocked(t *testing.T) {
	e := New(units(t), model.GroupBulk)
	r := e.ValidateLinear(nil, withReads())

	assert.False(t, r.OK)
	require.Len(t, r.Blocking(), 1)
	assert.Contains(t, r.Blocking()[0].Text, "empty")
}

func TestLinearRequiresChannels(t *testing.T) {
	c := units(t)
	e := New(c, model.GroupBulk)

	r := e.ValidateLinear(steps(t, c, "filter_quality"), withReads("R1"))
	assert.True(t, r.OK)
	assert.Empty(t, r.Messages)

	r = e.ValidateLinear(steps(t, c, "filter_quality"), withReads())
	assert.False(t, r.OK)
	require.Len(t, r.Steps, 1)
	assert.Contains(t, r.Steps[0].Reason, "requires channel R1")
}

func TestPairingFeedsAssembly(t *testing.T) {
	c := units(t)
	e := New(c, model.GroupBulk)

	r := e.ValidateLinear(steps(t, c, "pairseq", "assemble_align", "collapse_seq"), withReads("R1", "R2"))
	assert.True(t, r.OK, "%+v", r)

	r = e.ValidateLinear(steps(t, c, "assemble_align"), withReads("R1", "R2"))
	assert.False(t, r.OK)
	assert.Contains(t, r.Steps[0].Reason, "both paired read channels")
}

func TestIncompatibleGroupBlocksPipeline(t *testing.T) {
	c := units(t)
	e := New(c, model.GroupBulk)

	r := e.ValidateLinear(steps(t, c, "filter_quality", "sc_merge_samples"), withReads("R1"))
	assert.False(t, r.OK)
	assert.True(t, r.Steps[0].OK)
	assert.False(t, r.Steps[1].OK)
	require.Len(t, r.Blocking(), 1)
	assert.Contains(t, r.Blocking()[0].Text, "incompatible")
}

func TestMaskPrimersNeedsReference(t *testing.T) {
	c := units(t)
	e := New(c, model.GroupBulk)
	st := withReads("R1")

	r := e.ValidateLinear(steps(t, c, "mask_primers"), st)
	assert.False(t, r.OK)
	assert.Contains(t, r.Steps[0].Reason, "V-primer")

	st.Aux["v_primers"] = "VPrimers.fasta"
	r = e.ValidateLinear(steps(t, c, "mask_primers"), st)
	assert.True(t, r.OK)

	p := pipeline.New()
	p.Add("mask_primers", "MaskPrimers", map[string]string{"variant": "extract", "start": "x", "length": "30"}, nil)
	r = e.ValidateLinear(p.List(), withReads("R1"))
	assert.False(t, r.OK)
	assert.Contains(t, r.Steps[0].Reason, "extract needs integer start and length")
}

func TestParamViolationsBlockStep(t *testing.T) {
	e := New(units(t), model.GroupBulk)
	p := pipeline.New()
	p.Add("filter_quality", "q", map[string]string{"qmin": "99"}, nil)

	r := e.ValidateLinear(p.List(), withReads("R1"))
	assert.False(t, r.OK)
	assert.Equal(t, "qmin must be at most 40", r.Steps[0].Reason)
}

func TestUnknownUnit(t *testing.T) {
	e := New(units(t), model.GroupBulk)
	p := pipeline.New()
	p.Add("ghost", "", nil, nil)

	r := e.ValidateLinear(p.List(), withReads("R1"))
	assert.False(t, r.OK)
	assert.Equal(t, "unknown unit ghost", r.Steps[0].Reason)
}

func TestOrderingAdvicesDoNotBlock(t *testing.T) {
	c := units(t)
	e := New(c, model.GroupSC)

	r := e.ValidateLinear(steps(t, c, "sc_remove_no_heavy", "sc_remove_multi_heavy", "sc_merge_samples"), withReads())
	assert.True(t, r.OK)
	assert.Empty(t, r.Blocking())
	assert.Len(t, r.Advisories(), 2)

	bulk := New(c, model.GroupBulk)
	r = bulk.ValidateLinear(steps(t, c, "assemble_align", "pairseq"), withReads("R1", "R2", "PAIR1", "PAIR2"))
	assert.True(t, r.OK)
	require.Len(t, r.Advisories(), 1)
	assert.Contains(t, r.Advisories()[0].Text, "before pairing")
}

func TestValidationIsIdempotent(t *testing.T) {
	c := units(t)
	e := New(c, model.GroupBulk)
	list := steps(t, c, "mask_primers", "assemble_align", "pairseq", "sc_merge_samples")
	st := withReads("R1")

	first := e.ValidateLinear(list, st)
	second := e.ValidateLinear(list, st)
	assert.Equal(t, first, second)
	assert.False(t, first.OK)
}

func newGraph(t *testing.T, c *catalog.Catalog) *graph.Graph {
	n := 0
	return graph.New(c, graph.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("n%d", n)
	}))
}

func TestGraphEmptyAndCycle(t *testing.T) {
	c := units(t)
	e := New(c, model.GroupBulk)
	g := newGraph(t, c)

	r := e.ValidateGraph(g, withReads())
	assert.False(t, r.OK)
	assert.Contains(t, r.Blocking()[0].Text, "empty")

	a, err := g.AddNode("filter_quality", "R1", graph.AddOptions{})
	require.NoError(t, err)
	b, err := g.AddNode("filter_length", "R1", graph.AddOptions{})
	require.NoError(t, err)
	_, err = g.Connect(b.ID, a.ID)
	require.NoError(t, err)

	r = e.ValidateGraph(g, withReads("R1"))
	assert.False(t, r.OK)
	require.Len(t, r.Blocking(), 1)
	assert.Contains(t, r.Blocking()[0].Text, "cycle")
	assert.Nil(t, r.Order)

	again := e.ValidateGraph(g, withReads("R1"))
	assert.Equal(t, r, again)
}

func TestGraphReportsOrder(t *testing.T) {
	c := units(t)
	e := New(c, model.GroupBulk)
	g := newGraph(t, c)

	for _, spec := range [][2]string{{"filter_quality", "R1"}, {"filter_quality", "R2"}, {"pairseq", ""}, {"assemble_align", ""}} {
		_, err := g.AddNode(spec[0], spec[1], graph.AddOptions{})
		require.NoError(t, err)
	}

	r := e.ValidateGraph(g, withReads("R1", "R2"))
	assert.True(t, r.OK, "%+v", r)
	assert.Equal(t, []string{"n1", "n2", "n3", "n4"}, r.Order)
	assert.Empty(t, r.Advisories())
	assert.Len(t, r.Steps, 4)
}

func TestGraphAdvisesUnfedChannel(t *testing.T) {
	c := units(t)
	e := New(c, model.GroupBulk)
	g := newGraph(t, c)
	_, err := g.AddNode("filter_quality", "R2", graph.AddOptions{})
	require.NoError(t, err)

	r := e.ValidateGraph(g, withReads("R1"))
	assert.True(t, r.OK)
	require.Len(t, r.Advisories(), 1)
	assert.Contains(t, r.Advisories()[0].Text, "R2")
}

func TestGraphParamViolation(t *testing.T) {
	c := units(t)
	e := New(c, model.GroupBulk)
	g := newGraph(t, c)
	_, err := g.AddNode("filter_quality", "R1", graph.AddOptions{Params: map[string]string{"qmin": "abc"}})
	require.NoError(t, err)

	r := e.ValidateGraph(g, withReads("R1"))
	assert.False(t, r.OK)
	assert.Equal(t, "qmin must be an integer", r.Steps[0].Reason)
	assert.Equal(t, []string{"n1"}, r.Order)
}
