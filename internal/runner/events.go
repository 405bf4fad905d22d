package runner

import (
	"time"

	"github.com/sourceplane/prestoflow/internal/model"
)

// EventKind names what happened to a step or node
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
	EventBlocked   EventKind = "blocked"
	EventProgress  EventKind = "progress"
)

// Event is delivered to the Observer as a run advances. Graph events are
// delivered from the coordinating goroutine, one at a time.
type Event struct {
	Kind     EventKind
	Outcome  Outcome
	Progress *BranchProgress
	Err      error
}

// Observer receives run events
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// Observe calls f
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// Outcome is what happened to one step or node
type Outcome struct {
	Position  int           `json:"position,omitempty"`
	StepID    int           `json:"step_id,omitempty"`
	NodeID    string        `json:"node_id,omitempty"`
	UnitID    string        `json:"unit_id"`
	Label     string        `json:"label"`
	Branch    string        `json:"branch,omitempty"`
	Status    model.Status  `json:"status"`
	StepIndex int           `json:"step_index"`
	Error     string        `json:"error,omitempty"`
	LogTail   string        `json:"log_tail,omitempty"`
	Log       string        `json:"log,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// LinearResult is the outcome of a linear run. Steps after a failure are
// listed as blocked.
type LinearResult struct {
	OK       bool      `json:"ok"`
	FailedAt int       `json:"failed_at,omitempty"`
	Outcomes []Outcome `json:"outcomes"`
}

// GraphResult is the outcome of a DAG run, with outcomes in execution order
type GraphResult struct {
	OK       bool             `json:"ok"`
	Order    []string         `json:"order"`
	Outcomes []Outcome        `json:"outcomes"`
	Branches []BranchProgress `json:"branches"`
}

// Branch returns the progress of one lane
func (r *GraphResult) Branch(name string) (BranchProgress, bool) {
	for _, b := range r.Branches {
		if b.Branch == name {
			return b, true
		}
	}
	return BranchProgress{}, false
}

// BranchProgress counts node outcomes on one lane
type BranchProgress struct {
	Branch    string `json:"branch"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Blocked   int    `json:"blocked"`
}

// Branch display states
const (
	BranchNormal   = "normal"
	BranchComplete = "complete"
	BranchError    = "error"
	BranchBlocked  = "blocked"
)

// State derives the lane's display state
func (p BranchProgress) State() string {
	switch {
	case p.Failed > 0:
		return BranchError
	case p.Blocked > 0:
		return BranchBlocked
	case p.Total > 0 && p.Completed == p.Total:
		return BranchComplete
	default:
		return BranchNormal
	}
}
