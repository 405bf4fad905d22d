// Package state mirrors the backend session state after each run.
package state

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sourceplane/prestoflow/internal/model"
)

// Source is the part of the backend the reflector reads
type Source interface {
	State(ctx context.Context, sessionID string) (model.SessionState, error)
	Log(ctx context.Context, sessionID string, stepIndex int) (string, error)
}

// Options configures a Reflector
type Options struct {
	LogCacheSize int
	Logger       hclog.Logger
}

// Reflector holds the latest known session state. It is safe for concurrent use.
type Reflector struct {
	src       Source
	sessionID string
	logs      *lru.Cache
	logger    hclog.Logger

	mu       sync.RWMutex
	snapshot model.SessionState
}

// New creates a reflector for one session
func New(src Source, sessionID string, opts Options) (*Reflector, error) {
	size := opts.LogCacheSize
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create log cache: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Reflector{
		src:       src,
		sessionID: sessionID,
		logs:      cache,
		logger:    logger,
		snapshot:  empty(sessionID),
	}, nil
}

// SessionID returns the mirrored session
func (r *Reflector) SessionID() string {
	return r.sessionID
}

// Refresh fetches the session state and stores it as the current snapshot
func (r *Reflector) Refresh(ctx context.Context) (model.SessionState, error) {
	st, err := r.src.State(ctx, r.sessionID)
	if err != nil {
		return model.SessionState{}, fmt.Errorf("failed to refresh session state: %w", err)
	}
	normalize(&st)

	r.mu.Lock()
	r.snapshot = st
	r.mu.Unlock()

	r.logger.Debug("session state refreshed", "steps", len(st.Steps), "current", st.Current)
	return clone(st), nil
}

// Apply folds a successful run result into the snapshot without a round trip
func (r *Reflector) Apply(res *model.RunResult) {
	if res == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, v := range res.Current {
		r.snapshot.Current[k] = v
	}
	for k, v := range res.Artifacts {
		r.snapshot.Artifacts[k] = v
	}
	if res.Step.Unit != "" && res.Step.StepIndex >= len(r.snapshot.Steps) {
		r.snapshot.Steps = append(r.snapshot.Steps, res.Step)
	}
}

// Snapshot returns a copy of the latest state
func (r *Reflector) Snapshot() model.SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.snapshot)
}

// StepLog returns the log of a step. Logs of recorded steps never change and
// are cached; the log slot of a failed run is reused by the next run, so it
// is always fetched.
func (r *Reflector) StepLog(ctx context.Context, stepIndex int) (string, error) {
	if v, ok := r.logs.Get(stepIndex); ok {
		return v.(string), nil
	}

	text, err := r.src.Log(ctx, r.sessionID, stepIndex)
	if err != nil {
		return "", fmt.Errorf("failed to fetch log of step %d: %w", stepIndex, err)
	}

	r.mu.RLock()
	recorded := stepIndex < len(r.snapshot.Steps)
	r.mu.RUnlock()
	if recorded {
		r.logs.Add(stepIndex, text)
	}
	return text, nil
}

// Tail returns the last n lines of text
func Tail(text string, n int) string {
	text = strings.TrimRight(text, "\n")
	if n <= 0 || text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func empty(sessionID string) model.SessionState {
	st := model.SessionState{SessionID: sessionID}
	normalize(&st)
	return st
}

func normalize(st *model.SessionState) {
	if st.Steps == nil {
		st.Steps = []model.StepRecord{}
	}
	if st.Artifacts == nil {
		st.Artifacts = map[string]model.Artifact{}
	}
	if st.Current == nil {
		st.Current = map[string]string{}
	}
	if st.Aux == nil {
		st.Aux = map[string]string{}
	}
	if st.AuxFiles == nil {
		st.AuxFiles = []string{}
	}
}

func clone(st model.SessionState) model.SessionState {
	out := model.SessionState{
		SessionID: st.SessionID,
		Steps:     append([]model.StepRecord{}, st.Steps...),
		Artifacts: make(map[string]model.Artifact, len(st.Artifacts)),
		Current:   make(map[string]string, len(st.Current)),
		Aux:       make(map[string]string, len(st.Aux)),
		AuxFiles:  append([]string{}, st.AuxFiles...),
	}
	for k, v := range st.Artifacts {
		out.Artifacts[k] = v
	}
	for k, v := range st.Current {
		out.Current[k] = v
	}
	for k, v := range st.Aux {
		out.Aux[k] = v
	}
	return out
}
