// Package runner executes a validated linear pipeline or DAG against a
// backend session.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/sourceplane/prestoflow/internal/backend"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/state"
)

// ErrEmptyPipeline is returned before any run call when there is nothing to run
var ErrEmptyPipeline = errors.New("runner: nothing to run")

// Backend executes one unit against a session
type Backend interface {
	Run(ctx context.Context, sessionID, unitID string, params map[string]string) (*model.RunResult, error)
}

// Reflector mirrors session state between runs
type Reflector interface {
	Apply(res *model.RunResult)
	Refresh(ctx context.Context) (model.SessionState, error)
	StepLog(ctx context.Context, stepIndex int) (string, error)
}

// Options configures a Runner
type Options struct {
	SessionID string
	// StepTimeout bounds each run call; zero means no bound
	StepTimeout time.Duration
	// MaxParallel caps concurrent run calls in a graph run; 1 serializes
	// independent branches
	MaxParallel  int
	LogTailLines int
	Observer     Observer
	Logger       hclog.Logger
}

// Runner drives run calls and records their outcomes
type Runner struct {
	backend   Backend
	reflector Reflector
	opts      Options
	logger    hclog.Logger
}

// New creates a runner
func New(b Backend, r Reflector, opts Options) *Runner {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if opts.LogTailLines <= 0 {
		opts.LogTailLines = 20
	}
	if opts.Observer == nil {
		opts.Observer = ObserverFunc(func(Event) {})
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Runner{
		backend:   b,
		reflector: r,
		opts:      opts,
		logger:    logger,
	}
}

// StepError reports which step or node failed and why
type StepError struct {
	Position int
	StepID   int
	NodeID   string
	UnitID   string
	Label    string
	Err      error
}

func (e *StepError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %s (%s) failed: %v", e.Label, e.UnitID, e.Err)
	}
	return fmt.Sprintf("step %d (%s) failed: %v", e.Position, e.UnitID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// call is the remote part of one step: the run call and, on success, its log
type call struct {
	result   *model.RunResult
	log      string
	err      error
	duration time.Duration
}

// invoke performs the run call under the step timeout and fetches the step log
func (r *Runner) invoke(ctx context.Context, unitID string, params map[string]string) call {
	runCtx := ctx
	if r.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.StepTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := r.backend.Run(runCtx, r.opts.SessionID, unitID, params)
	c := call{result: res, err: err, duration: time.Since(start)}
	if err != nil {
		return c
	}
	if res == nil {
		res = &model.RunResult{}
		c.result = res
	}

	text, err := r.reflector.StepLog(ctx, res.Step.StepIndex)
	if err != nil {
		r.logger.Warn("could not fetch step log", "unit", unitID, "step_index", res.Step.StepIndex, "error", err)
	}
	c.log = text
	return c
}

// record folds a successful run into the mirrored state and returns the
// current channel mapping to attribute artifacts from.
func (r *Runner) record(ctx context.Context, res *model.RunResult) map[string]string {
	r.reflector.Apply(res)
	st, err := r.reflector.Refresh(ctx)
	if err != nil {
		r.logger.Warn("could not refresh session state", "error", err)
		return res.Current
	}
	if len(res.Current) > 0 {
		return res.Current
	}
	return st.Current
}

// failure extracts the display message and log tail of a failed call
func (r *Runner) failure(err error) (string, string) {
	if be, ok := backend.AsError(err); ok {
		msg := be.Message
		if be.Kind != backend.KindRemote {
			msg = be.Error()
		}
		return msg, state.Tail(be.LogTail, r.opts.LogTailLines)
	}
	return err.Error(), ""
}
