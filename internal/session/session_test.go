package session

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sourceplane/prestoflow/internal/backend"
	"github.com/sourceplane/prestoflow/internal/backend/backendtest"
	"github.com/sourceplane/prestoflow/internal/graph"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/pipeline"
	"github.com/sourceplane/prestoflow/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func start(t *testing.T, group model.Group) (*Session, *backendtest.Server) {
	t.Helper()
	srv := backendtest.New(backendtest.Units())
	t.Cleanup(srv.Close)

	s := New(backend.New(srv.URL), Options{MaxParallel: 2})
	require.NoError(t, s.Start(context.Background(), group))
	return s, srv
}

func TestNotStarted(t *testing.T) {
	s := New(backend.New("http://127.0.0.1:1"), Options{})
	_, err := s.ValidateLinear(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
	_, _, err = s.RunGraph(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = s.StepLog(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = s.Download(context.Background(), "R1_raw", io.Discard)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestStartRebuildsModels(t *testing.T) {
	s, _ := start(t, model.GroupBulk)
	first := s.ID()
	assert.Equal(t, 6, s.Catalog().Len())

	s.Pipeline().Add("filter_quality", "q", nil, nil)
	_, err := s.Graph().AddNode("filter_quality", "R1", graph.AddOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background(), model.GroupSC))
	assert.NotEqual(t, first, s.ID())
	assert.Equal(t, model.GroupSC, s.Group())
	assert.Equal(t, 0, s.Pipeline().Len())
	assert.Equal(t, 0, s.Graph().Len())
	assert.Equal(t, 3, s.Catalog().Len())
}

func TestRunLinearValidatesFirst(t *testing.T) {
	s, srv := start(t, model.GroupBulk)

	report, res, err := s.RunLinear(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Nil(t, res)
	assert.False(t, report.OK)
	assert.Empty(t, srv.Calls())

	s.Pipeline().Add("filter_quality", "q", map[string]string{"qmin": "20"}, nil)
	_, _, err = s.RunLinear(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalid, "R1 has not been uploaded")

	srv.SetCurrent(s.ID(), "R1", "R1_raw")
	srv.Produces("filter_quality", "R1")
	report, res, err = s.RunLinear(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"filter_quality"}, srv.Calls())
	assert.Equal(t, "R1_000", s.Reflector().Snapshot().Current["R1"])

	text, err := s.StepLog(context.Background(), 0)
	require.NoError(t, err)
	assert.Contains(t, text, "filter_quality")

	var buf bytes.Buffer
	n, err := s.Download(context.Background(), "R1_000", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.Contains(t, buf.String(), "@R1_000")
}

func TestRunGraphReportsBranches(t *testing.T) {
	s, srv := start(t, model.GroupBulk)
	srv.SetCurrent(s.ID(), "R1", "R1_raw")
	srv.SetCurrent(s.ID(), "R2", "R2_raw")
	srv.Produces("pairseq", "PAIR1", "PAIR2")
	srv.Fail("filter_length", "no reads left")

	g := s.Graph()
	for _, spec := range [][2]string{{"filter_quality", "R1"}, {"filter_quality", "R2"}, {"filter_length", "R2"}} {
		_, err := g.AddNode(spec[0], spec[1], graph.AddOptions{})
		require.NoError(t, err)
	}

	var events []runner.Event
	_, res, err := s.RunGraph(context.Background(), runner.ObserverFunc(func(e runner.Event) {
		events = append(events, e)
	}))
	require.Error(t, err)
	assert.False(t, res.OK)

	r1, _ := res.Branch("R1")
	r2, _ := res.Branch("R2")
	assert.Equal(t, runner.BranchComplete, r1.State())
	assert.Equal(t, runner.BranchError, r2.State())
	assert.NotEmpty(t, events)

	s.Reset()
	assert.Equal(t, 0, s.Graph().Len())
	assert.Equal(t, s.ID(), s.Reflector().SessionID())
}

func TestUseReplacesModels(t *testing.T) {
	s := New(backend.New("http://127.0.0.1:1"), Options{})
	assert.ErrorIs(t, s.UsePipeline(pipeline.New()), ErrNotStarted)

	s, _ = start(t, model.GroupBulk)
	p := pipeline.New()
	p.Add("filter_quality", "q", nil, nil)
	require.NoError(t, s.UsePipeline(p))
	assert.Equal(t, 1, s.Pipeline().Len())

	g := graph.New(s.Catalog())
	_, err := g.AddNode("pairseq", "", graph.AddOptions{})
	require.NoError(t, err)
	require.NoError(t, s.UseGraph(g))
	assert.Equal(t, 1, s.Graph().Len())
}

func TestOtherPageUnitIsIncompatible(t *testing.T) {
	s, _ := start(t, model.GroupBulk)
	_, ok := s.Catalog().Unit("sc_merge_samples")
	assert.False(t, ok)
	assert.Equal(t, 9, s.Registry().Len())

	s.Pipeline().Add("sc_merge_samples", "Merge samples", nil, nil)
	report, err := s.ValidateLinear(context.Background())
	require.NoError(t, err)
	assert.False(t, report.OK)

	blocking := report.Blocking()
	require.Len(t, blocking, 1)
	assert.Equal(t, "step 1 (Merge samples)", blocking[0].Subject)
	assert.Contains(t, blocking[0].Text, "sc unit is incompatible with this bulk page")
	assert.NotContains(t, blocking[0].Text, "unknown unit")
}
