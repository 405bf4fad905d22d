package runner

import (
	"context"
	"fmt"

	"github.com/sourceplane/prestoflow/internal/model"
)

// RunLinear runs steps strictly in order and stops at the first failure.
// A failure is returned as *StepError alongside the partial result.
func (r *Runner) RunLinear(ctx context.Context, steps []model.Step) (*LinearResult, error) {
	if len(steps) == 0 {
		return nil, ErrEmptyPipeline
	}

	result := &LinearResult{Outcomes: make([]Outcome, 0, len(steps))}
	r.logger.Info("running pipeline", "steps", len(steps), "session", r.opts.SessionID)

	for i, step := range steps {
		out := Outcome{
			Position:  i + 1,
			StepID:    step.ID,
			UnitID:    step.UnitID,
			Label:     step.Label,
			StepIndex: -1,
		}

		if err := ctx.Err(); err != nil {
			return r.haltLinear(result, steps, i, out, fmt.Errorf("run canceled: %w", err))
		}

		out.Status = model.StatusRunning
		r.opts.Observer.Observe(Event{Kind: EventStarted, Outcome: out})

		c := r.invoke(ctx, step.UnitID, step.Params)
		out.Duration = c.duration
		if c.err != nil {
			return r.haltLinear(result, steps, i, out, c.err)
		}

		r.record(ctx, c.result)
		out.Status = model.StatusDone
		out.StepIndex = c.result.Step.StepIndex
		out.Log = c.log
		result.Outcomes = append(result.Outcomes, out)

		r.logger.Debug("step finished", "position", out.Position, "unit", step.UnitID, "elapsed", c.duration)
		r.opts.Observer.Observe(Event{Kind: EventSucceeded, Outcome: out})
	}

	result.OK = true
	return result, nil
}

// haltLinear records the failure at position i and lists the remaining steps as blocked
func (r *Runner) haltLinear(result *LinearResult, steps []model.Step, i int, out Outcome, err error) (*LinearResult, error) {
	out.Status = model.StatusError
	out.Error, out.LogTail = r.failure(err)
	result.Outcomes = append(result.Outcomes, out)
	result.FailedAt = out.Position

	r.logger.Error("step failed", "position", out.Position, "unit", out.UnitID, "error", out.Error)
	r.opts.Observer.Observe(Event{Kind: EventFailed, Outcome: out, Err: err})

	for j := i + 1; j < len(steps); j++ {
		blocked := Outcome{
			Position:  j + 1,
			StepID:    steps[j].ID,
			UnitID:    steps[j].UnitID,
			Label:     steps[j].Label,
			Status:    model.StatusBlocked,
			StepIndex: -1,
		}
		result.Outcomes = append(result.Outcomes, blocked)
		r.opts.Observer.Observe(Event{Kind: EventBlocked, Outcome: blocked})
	}

	return result, &StepError{
		Position: out.Position,
		StepID:   out.StepID,
		UnitID:   out.UnitID,
		Label:    out.Label,
		Err:      err,
	}
}
