package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sourceplane/prestoflow/internal/backend/backendtest"
	"github.com/sourceplane/prestoflow/internal/catalog"
	"github.com/sourceplane/prestoflow/internal/graph"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func units(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(backendtest.Units())
	require.NoError(t, err)
	return c
}

const linearDoc = `
apiVersion: prestoflow.io/v1
kind: Pipeline
metadata:
  name: bulk-demo
spec:
  group: bulk
  inputs:
    r1: reads/R1.fastq
    r2: /data/R2.fastq
  steps:
    - unit: filter_quality
      params:
        qmin: 25
    - unit: mask_primers
      enabled: false
    - unit: pairseq
      label: Pair reads
`

func TestLoadPipelineDocument(t *testing.T) {
	path := write(t, "pipeline.yaml", linearDoc)
	doc, err := LoadDocument(path)
	require.NoError(t, err)

	assert.Equal(t, "bulk-demo", doc.Metadata.Name)
	assert.Equal(t, model.GroupBulk, doc.Spec.Group)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "reads/R1.fastq"), doc.Spec.Inputs.R1)
	assert.Equal(t, "/data/R2.fastq", doc.Spec.Inputs.R2)

	p, err := BuildPipeline(doc, units(t))
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())

	steps := p.List()
	require.Len(t, steps, 2)
	assert.Equal(t, "25", steps[0].Params["qmin"])
	assert.Equal(t, "FilterSeq: quality", steps[0].Label)
	assert.Equal(t, "Pair reads", steps[1].Label)
	assert.Equal(t, "illumina", steps[1].Params["coord"])

	_, _, err = BuildGraph(doc, units(t))
	assert.Error(t, err)
}

func TestLoadDocumentRejectsInvalid(t *testing.T) {
	_, err := LoadDocument(write(t, "bad.yaml", "apiVersion: v0\nkind: Pipeline\nspec:\n  steps: []\n"))
	assert.Error(t, err)

	_, err = LoadDocument(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

const graphDoc = `
apiVersion: prestoflow.io/v1
kind: Graph
spec:
  group: bulk
  nodes:
    - ref: q1
      unit: filter_quality
      branch: R1
    - ref: q2
      unit: filter_quality
      branch: R2
      params:
        qmin: 30
    - ref: pair
      unit: pairseq
    - ref: collapse
      unit: collapse_seq
      after: [pair]
`

func TestBuildGraph(t *testing.T) {
	doc, err := ParseDocument([]byte(graphDoc))
	require.NoError(t, err)

	n := 0
	g, refs, err := BuildGraph(doc, units(t), graph.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("n%d", n)
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"q1": "n1", "q2": "n2", "pair": "n3", "collapse": "n4"}, refs)
	assert.Len(t, g.Edges(), 3)
	assert.Equal(t, []string{"n1", "n2", "n3", "n4"}, g.TopoOrder())

	q2, _ := g.Node("n2")
	assert.Equal(t, "30", q2.Params["qmin"])
}

func TestBuildGraphErrors(t *testing.T) {
	unknownRef := `
apiVersion: prestoflow.io/v1
kind: Graph
spec:
  nodes:
    - ref: a
      unit: filter_quality
      after: [ghost]
`
	doc, err := ParseDocument([]byte(unknownRef))
	require.NoError(t, err)
	_, _, err = BuildGraph(doc, units(t))
	assert.ErrorContains(t, err, "ghost")

	incompatible := `
apiVersion: prestoflow.io/v1
kind: Graph
spec:
  nodes:
    - ref: a
      unit: filter_quality
      branch: R1
    - ref: b
      unit: collapse_seq
      after: [a]
`
	doc, err = ParseDocument([]byte(incompatible))
	require.NoError(t, err)
	_, _, err = BuildGraph(doc, units(t))
	assert.ErrorIs(t, err, graph.ErrIncompatibleChannels)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	path := write(t, "config.yaml", `
backend: http://backend:9000
stepTimeout: 10m
maxParallel: 1
retry:
  maxAttempts: 5
  initialInterval: 100ms
`)
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://backend:9000", cfg.Backend)
	assert.Equal(t, 10*time.Minute, cfg.StepTimeout)
	assert.Equal(t, 1, cfg.MaxParallel)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 5*time.Second, cfg.Retry.MaximumInterval)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)

	_, err = LoadConfig(write(t, "zero.yaml", "maxParallel: 0\n"))
	assert.Error(t, err)
}

func TestAssumeInputs(t *testing.T) {
	st := model.SessionState{Current: map[string]string{"PAIR1": "p1"}}
	out := AssumeInputs(st, model.Inputs{R1: "/data/a_R1.fastq", Aux: []string{"ref/VPrimers.fasta"}})

	assert.Equal(t, "a_R1.fastq", out.Current["R1"])
	assert.False(t, out.HasChannel("R2"))
	assert.True(t, out.HasAux("VPrimers.fasta"))
	assert.Equal(t, "VPrimers.fasta", out.Aux[model.AuxRoleVPrimers])
	assert.Len(t, st.Current, 1)
	assert.Empty(t, st.Aux)
}

func TestAssumedPrimerReferenceSatisfiesMasking(t *testing.T) {
	c := units(t)
	doc, err := ParseDocument([]byte(`
apiVersion: prestoflow.io/v1
kind: Pipeline
spec:
  group: bulk
  inputs:
    r1: reads_R1.fastq
    aux: [ref/VPrimers.fasta]
  steps:
    - unit: mask_primers
`))
	require.NoError(t, err)
	p, err := BuildPipeline(doc, c)
	require.NoError(t, err)

	st := AssumeInputs(model.SessionState{}, doc.Spec.Inputs)
	report := validate.New(c, model.GroupBulk).ValidateLinear(p.List(), st)
	assert.True(t, report.OK, "%v", report.Blocking())

	bare := AssumeInputs(model.SessionState{}, model.Inputs{R1: "reads_R1.fastq", Aux: []string{"notes.txt"}})
	assert.False(t, validate.New(c, model.GroupBulk).ValidateLinear(p.List(), bare).OK)
}
