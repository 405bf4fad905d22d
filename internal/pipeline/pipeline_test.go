package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitIDs(p *Pipeline) []string {
	ids := make([]string, 0)
	for _, s := range p.List() {
		ids = append(ids, s.UnitID)
	}
	return ids
}

func TestAddAssignsSequenceIDs(t *testing.T) {
	p := New()
	a := p.Add("filter_quality", "FilterSeq: quality", map[string]string{"qmin": "20"}, nil)
	b := p.Add("pairseq", "PairSeq", nil, nil)

	assert.Equal(t, 1, a.ID)
	assert.Equal(t, 2, b.ID)
	assert.NotNil(t, b.Params)
	assert.Equal(t, []string{"filter_quality", "pairseq"}, unitIDs(p))
}

func TestParamsAreSnapshotted(t *testing.T) {
	p := New()
	params := map[string]string{"qmin": "20"}
	step := p.Add("filter_quality", "q", params, nil)
	params["qmin"] = "30"

	got, ok := p.Get(step.ID)
	require.True(t, ok)
	assert.Equal(t, "20", got.Params["qmin"])

	listed := p.List()
	listed[0].Params["qmin"] = "99"
	got, _ = p.Get(step.ID)
	assert.Equal(t, "20", got.Params["qmin"])
}

func TestRemove(t *testing.T) {
	p := New()
	a := p.Add("a", "a", nil, nil)
	p.Add("b", "b", nil, nil)

	assert.True(t, p.Remove(a.ID))
	assert.False(t, p.Remove(a.ID))
	assert.Equal(t, []string{"b"}, unitIDs(p))

	c := p.Add("c", "c", nil, nil)
	assert.Equal(t, 3, c.ID)
}

func TestInactiveControlHidesStep(t *testing.T) {
	p := New()
	toggle := NewToggle(true)
	p.Add("a", "a", nil, nil)
	p.Add("b", "b", nil, toggle)
	p.Add("c", "c", nil, nil)

	toggle.Set(false)
	assert.Equal(t, []string{"a", "c"}, unitIDs(p))
	assert.Len(t, p.All(), 3)

	toggle.Set(true)
	assert.Equal(t, []string{"a", "b", "c"}, unitIDs(p))
}

func TestMove(t *testing.T) {
	p := New()
	p.Add("a", "a", nil, nil)
	p.Add("b", "b", nil, nil)
	c := p.Add("c", "c", nil, nil)

	require.NoError(t, p.Move(c.ID, 0))
	assert.Equal(t, []string{"c", "a", "b"}, unitIDs(p))

	require.NoError(t, p.Move(c.ID, 2))
	assert.Equal(t, []string{"a", "b", "c"}, unitIDs(p))

	assert.Error(t, p.Move(42, 0))
	assert.Error(t, p.Move(c.ID, 3))
}

func TestReset(t *testing.T) {
	p := New()
	p.Add("a", "a", nil, nil)
	p.Reset()
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 1, p.Add("b", "b", nil, nil).ID)
}
