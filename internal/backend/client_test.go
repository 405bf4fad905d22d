package backend

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourceplane/prestoflow/internal/backend/backendtest"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	srv := backendtest.New(backendtest.Units())
	defer srv.Close()
	srv.Produces("filter_quality", "R1")

	ctx := context.Background()
	c := New(srv.URL)

	sid, err := c.StartSession(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sid)

	units, err := c.ListUnits(ctx, sid, model.GroupBulk)
	require.NoError(t, err)
	assert.Len(t, units, len(backendtest.Units()))
	assert.Equal(t, "filter_quality", units[0].ID)

	err = c.UploadReads(ctx, sid,
		Upload{Filename: "reads_R1.fastq", Content: strings.NewReader("@r1\nACGT\n+\nIIII\n")},
		&Upload{Filename: "reads_R2.fastq", Content: strings.NewReader("@r2\nTGCA\n+\nIIII\n")},
	)
	require.NoError(t, err)

	aux, err := c.UploadAux(ctx, sid, Upload{Filename: "VPrimers.fasta", Content: strings.NewReader(">v\nACGT\n")}, "")
	require.NoError(t, err)
	assert.Equal(t, "v_primers", aux.Role)
	assert.Equal(t, "VPrimers.fasta", aux.StoredAs)

	res, err := c.Run(ctx, sid, "filter_quality", map[string]string{"qmin": "25"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Step.StepIndex)
	assert.Equal(t, "filter_quality", res.Step.Unit)

	state, err := c.State(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "R1_000", state.Current["R1"])
	assert.Equal(t, "R2_raw", state.Current["R2"])
	assert.True(t, state.HasAux("v_primers"))
	assert.Len(t, state.Steps, 1)

	text, err := c.Log(ctx, sid, 0)
	require.NoError(t, err)
	assert.Contains(t, text, "filter_quality")

	var buf bytes.Buffer
	n, err := c.Download(ctx, sid, "R1_000", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.True(t, strings.HasPrefix(buf.String(), "@R1_000"))
}

func TestRunFailureCarriesLogTail(t *testing.T) {
	srv := backendtest.New(backendtest.Units())
	defer srv.Close()
	srv.Fail("pairseq", "Required channel 'R2' is not available.")

	ctx := context.Background()
	c := New(srv.URL)
	sid, err := c.StartSession(ctx)
	require.NoError(t, err)

	_, err = c.Run(ctx, sid, "pairseq", nil)
	require.Error(t, err)

	be, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindRemote, be.Kind)
	assert.Equal(t, http.StatusInternalServerError, be.Status)
	assert.Equal(t, "Required channel 'R2' is not available.", be.Message)
	assert.Contains(t, be.LogTail, "ERROR>")
	assert.False(t, be.Retryable())
}

func TestStringDetail(t *testing.T) {
	srv := backendtest.New(backendtest.Units())
	defer srv.Close()

	_, err := New(srv.URL, WithRetryPolicy(NoRetry())).State(context.Background(), "missing")
	be, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, be.Status)
	assert.Equal(t, "Session not found", be.Message)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Run(context.Background(), "sid", "filter_quality", nil)
	be, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindTransport, be.Kind)
	assert.True(t, be.Retryable())
}

func TestRunTimeout(t *testing.T) {
	srv := backendtest.New(backendtest.Units())
	defer srv.Close()
	srv.Delay(200 * time.Millisecond)

	c := New(srv.URL)
	sid, err := c.StartSession(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Run(ctx, sid, "filter_quality", nil)
	be, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, be.Kind)
}

func TestReadsAreRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"session_id":"s","current":{"R1":"R1_raw"}}`))
	}))
	defer srv.Close()

	policy := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaximumInterval: 5 * time.Millisecond, BackoffCoefficient: 2}
	state, err := New(srv.URL, WithRetryPolicy(policy)).State(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, "R1_raw", state.Current["R1"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestRunIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Run(context.Background(), "s", "filter_quality", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestBackoffIsBounded(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialInterval: 100 * time.Millisecond, MaximumInterval: 300 * time.Millisecond, BackoffCoefficient: 2}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	for attempt := 2; attempt <= 6; attempt++ {
		assert.LessOrEqual(t, p.Backoff(attempt), 300*time.Millisecond)
		assert.Greater(t, p.Backoff(attempt), time.Duration(0))
	}
}
