// Package session holds every model that belongs to one backend session.
// Starting a new session discards and rebuilds all of them.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/sourceplane/prestoflow/internal/catalog"
	"github.com/sourceplane/prestoflow/internal/graph"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/pipeline"
	"github.com/sourceplane/prestoflow/internal/runner"
	"github.com/sourceplane/prestoflow/internal/state"
	"github.com/sourceplane/prestoflow/internal/validate"
)

var (
	ErrNotStarted = errors.New("session: not started")
	ErrInvalid    = errors.New("session: pipeline failed validation")
)

// Client is the backend surface a session needs
type Client interface {
	catalog.Source
	state.Source
	runner.Backend
	StartSession(ctx context.Context) (string, error)
	Download(ctx context.Context, sessionID, name string, w io.Writer) (int64, error)
}

// Options configures a Session
type Options struct {
	StepTimeout  time.Duration
	MaxParallel  int
	LogCacheSize int
	Observer     runner.Observer
	Logger       hclog.Logger
	GraphOptions []graph.Option
}

// Session is the session-scoped context. It is not safe for concurrent use.
type Session struct {
	client Client
	opts   Options
	logger hclog.Logger

	id        string
	group     model.Group
	registry  *catalog.Catalog
	catalog   *catalog.Catalog
	pipeline  *pipeline.Pipeline
	graph     *graph.Graph
	reflector *state.Reflector
	validator *validate.Engine
}

// New creates a session that has not been started
func New(client Client, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Session{client: client, opts: opts, logger: logger}
}

// Start opens a new backend session for a page group and rebuilds every
// model from scratch.
func (s *Session) Start(ctx context.Context, group model.Group) error {
	id, err := s.client.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	registry, err := catalog.Load(ctx, s.client, id)
	if err != nil {
		return err
	}
	cat := registry.Page(group)

	refl, err := state.New(s.client, id, state.Options{
		LogCacheSize: s.opts.LogCacheSize,
		Logger:       s.logger.Named("state"),
	})
	if err != nil {
		return err
	}
	if _, err := refl.Refresh(ctx); err != nil {
		s.logger.Warn("initial state refresh failed", "session", id, "error", err)
	}

	s.id = id
	s.group = group
	s.registry = registry
	s.catalog = cat
	s.reflector = refl
	s.validator = validate.New(registry, group)
	s.Reset()

	s.logger.Info("session started", "session", id, "group", group, "units", cat.Len())
	return nil
}

// Reset empties the pipeline and graph of the current session
func (s *Session) Reset() {
	s.pipeline = pipeline.New()
	if s.catalog != nil {
		s.graph = graph.New(s.catalog, s.opts.GraphOptions...)
	}
}

// UsePipeline replaces the linear pipeline, e.g. with one built from a document
func (s *Session) UsePipeline(p *pipeline.Pipeline) error {
	if !s.Started() {
		return ErrNotStarted
	}
	s.pipeline = p
	return nil
}

// UseGraph replaces the DAG. g should resolve units against Registry.
func (s *Session) UseGraph(g *graph.Graph) error {
	if !s.Started() {
		return ErrNotStarted
	}
	s.graph = g
	return nil
}

// Started reports whether Start has succeeded
func (s *Session) Started() bool {
	return s.id != ""
}

// ID returns the backend session id
func (s *Session) ID() string { return s.id }

// Group returns the page group the session was started for
func (s *Session) Group() model.Group { return s.group }

// Catalog returns the units of the session's page group
func (s *Session) Catalog() *catalog.Catalog { return s.catalog }

// Registry returns every unit the backend registers, across groups. Models
// are validated against it so a unit from another page is reported as such.
func (s *Session) Registry() *catalog.Catalog { return s.registry }

// Pipeline returns the linear pipeline
func (s *Session) Pipeline() *pipeline.Pipeline { return s.pipeline }

// Graph returns the DAG
func (s *Session) Graph() *graph.Graph { return s.graph }

// Reflector returns the state mirror
func (s *Session) Reflector() *state.Reflector { return s.reflector }

// Refresh re-reads the backend state
func (s *Session) Refresh(ctx context.Context) (model.SessionState, error) {
	if !s.Started() {
		return model.SessionState{}, ErrNotStarted
	}
	return s.reflector.Refresh(ctx)
}

// StepLog returns the log of a recorded step
func (s *Session) StepLog(ctx context.Context, stepIndex int) (string, error) {
	if !s.Started() {
		return "", ErrNotStarted
	}
	return s.reflector.StepLog(ctx, stepIndex)
}

// Download streams an artifact of the session into w
func (s *Session) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	if !s.Started() {
		return 0, ErrNotStarted
	}
	return s.client.Download(ctx, s.id, name, w)
}

// ValidateLinear validates the active steps against fresh backend state
func (s *Session) ValidateLinear(ctx context.Context) (validate.Report, error) {
	if !s.Started() {
		return validate.Report{}, ErrNotStarted
	}
	return s.validator.ValidateLinear(s.pipeline.List(), s.currentState(ctx)), nil
}

// ValidateGraph validates the DAG against fresh backend state
func (s *Session) ValidateGraph(ctx context.Context) (validate.Report, error) {
	if !s.Started() {
		return validate.Report{}, ErrNotStarted
	}
	return s.validator.ValidateGraph(s.graph, s.currentState(ctx)), nil
}

// RunLinear validates the pipeline and runs it only when valid. obs may be nil.
func (s *Session) RunLinear(ctx context.Context, obs runner.Observer) (validate.Report, *runner.LinearResult, error) {
	report, err := s.ValidateLinear(ctx)
	if err != nil {
		return report, nil, err
	}
	if !report.OK {
		return report, nil, ErrInvalid
	}

	res, err := s.runner(obs).RunLinear(ctx, s.pipeline.List())
	return report, res, err
}

// RunGraph validates the DAG and runs it only when valid. obs may be nil.
func (s *Session) RunGraph(ctx context.Context, obs runner.Observer) (validate.Report, *runner.GraphResult, error) {
	report, err := s.ValidateGraph(ctx)
	if err != nil {
		return report, nil, err
	}
	if !report.OK {
		return report, nil, ErrInvalid
	}

	res, err := s.runner(obs).RunGraph(ctx, s.graph)
	return report, res, err
}

func (s *Session) runner(obs runner.Observer) *runner.Runner {
	if obs == nil {
		obs = s.opts.Observer
	}
	return runner.New(s.client, s.reflector, runner.Options{
		SessionID:   s.id,
		StepTimeout: s.opts.StepTimeout,
		MaxParallel: s.opts.MaxParallel,
		Observer:    obs,
		Logger:      s.logger.Named("runner"),
	})
}

// currentState refreshes the mirror, falling back to the last snapshot
func (s *Session) currentState(ctx context.Context) model.SessionState {
	st, err := s.reflector.Refresh(ctx)
	if err != nil {
		s.logger.Warn("state refresh failed, validating against last snapshot", "error", err)
		return s.reflector.Snapshot()
	}
	return st
}
