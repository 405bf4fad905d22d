package state

import (
	"context"
	"errors"
	"testing"

	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	state   model.SessionState
	logs    map[int]string
	logHits map[int]int
	err     error
}

func (f *fakeSource) State(_ context.Context, _ string) (model.SessionState, error) {
	return f.state, f.err
}

func (f *fakeSource) Log(_ context.Context, _ string, idx int) (string, error) {
	f.logHits[idx]++
	text, ok := f.logs[idx]
	if !ok {
		return "", errors.New("Log not found")
	}
	return text, nil
}

func newSource() *fakeSource {
	return &fakeSource{
		state: model.SessionState{
			SessionID: "s",
			Steps:     []model.StepRecord{{StepIndex: 0, Unit: "filter_quality"}},
			Current:   map[string]string{"R1": "R1_000"},
		},
		logs:    map[int]string{0: "line1\nline2\n", 1: "ERROR> boom\n"},
		logHits: map[int]int{},
	}
}

func TestRefreshAndSnapshot(t *testing.T) {
	src := newSource()
	r, err := New(src, "s", Options{})
	require.NoError(t, err)

	before := r.Snapshot()
	assert.Empty(t, before.Current)
	assert.NotNil(t, before.Aux)

	st, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "R1_000", st.Current["R1"])
	assert.NotNil(t, st.Artifacts)

	snap := r.Snapshot()
	snap.Current["R1"] = "changed"
	assert.Equal(t, "R1_000", r.Snapshot().Current["R1"])
}

func TestRefreshError(t *testing.T) {
	src := newSource()
	src.err = errors.New("down")
	r, err := New(src, "s", Options{})
	require.NoError(t, err)

	_, err = r.Refresh(context.Background())
	assert.ErrorContains(t, err, "down")
}

func TestStepLogCachesRecordedSteps(t *testing.T) {
	src := newSource()
	r, err := New(src, "s", Options{LogCacheSize: 2})
	require.NoError(t, err)
	_, err = r.Refresh(context.Background())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		text, err := r.StepLog(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, "line1\nline2\n", text)
	}
	assert.Equal(t, 1, src.logHits[0])

	for i := 0; i < 2; i++ {
		_, err := r.StepLog(context.Background(), 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, src.logHits[1])

	_, err = r.StepLog(context.Background(), 7)
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	r, err := New(newSource(), "s", Options{})
	require.NoError(t, err)

	r.Apply(&model.RunResult{
		Step:    model.StepRecord{StepIndex: 0, Unit: "pairseq"},
		Current: map[string]string{"PAIR1": "PAIR1_000"},
	})
	snap := r.Snapshot()
	assert.Equal(t, "PAIR1_000", snap.Current["PAIR1"])
	assert.Len(t, snap.Steps, 1)

	r.Apply(nil)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", Tail("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a", Tail("a", 5))
	assert.Equal(t, "", Tail("", 5))
	assert.Equal(t, "", Tail("a\nb", 0))
}
