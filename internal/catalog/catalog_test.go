package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/sourceplane/prestoflow/internal/backend/backendtest"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	units []model.Unit
	err   error
	group model.Group
}

func (s *staticSource) ListUnits(_ context.Context, _ string, group model.Group) ([]model.Unit, error) {
	s.group = group
	return s.units, s.err
}

func TestLoadKeepsEveryGroup(t *testing.T) {
	src := &staticSource{units: backendtest.Units()}

	c, err := Load(context.Background(), src, "s")
	require.NoError(t, err)
	assert.Equal(t, model.Group(""), src.group)
	assert.Equal(t, 9, c.Len())

	page := c.Page(model.GroupSC)
	assert.Equal(t, 3, page.Len())
	_, ok := page.Unit("filter_quality")
	assert.False(t, ok)

	u, ok := page.Unit("sc_merge_samples")
	require.True(t, ok)
	assert.Equal(t, "Merge samples", u.Label)

	assert.Same(t, c, c.Page(""))
}

func TestLoadKeepsBackendOrder(t *testing.T) {
	c, err := Load(context.Background(), &staticSource{units: backendtest.Units()}, "s")
	require.NoError(t, err)

	ids := make([]string, 0)
	for _, u := range c.Units() {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, "filter_quality", ids[0])
	assert.Equal(t, "sc_remove_no_heavy", ids[len(ids)-1])
	assert.Len(t, c.ByGroup(model.GroupBulk), 6)
}

func TestLoadError(t *testing.T) {
	_, err := Load(context.Background(), &staticSource{err: errors.New("boom")}, "s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestDuplicateUnit(t *testing.T) {
	_, err := New([]model.Unit{{ID: "a"}, {ID: "a"}})
	assert.Error(t, err)
}

func TestDefaultsAndMeta(t *testing.T) {
	c, err := New(backendtest.Units())
	require.NoError(t, err)

	params, ok := c.DefaultParams("filter_quality")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"qmin": "20"}, params)

	params, ok = c.DefaultParams("mask_primers")
	require.True(t, ok)
	_, hasFile := params["v_primers_fname"]
	assert.False(t, hasFile)
	assert.Equal(t, "align", params["variant"])

	meta, ok := c.Meta("pairseq")
	require.True(t, ok)
	assert.Equal(t, model.ChannelMerged, meta.TargetBranch)
	assert.Equal(t, []string{"R1", "R2"}, meta.Consumes)

	meta, ok = c.Meta("filter_length")
	require.True(t, ok)
	assert.True(t, meta.DynamicBranch)
	assert.True(t, meta.AllowsBranch("R2"))
	assert.False(t, meta.AllowsBranch(model.ChannelMerged))

	meta, ok = c.Meta("collapse_seq")
	require.True(t, ok)
	assert.Equal(t, []string{model.ChannelMerged}, meta.Produces)

	_, ok = c.Meta("nope")
	assert.False(t, ok)
}
