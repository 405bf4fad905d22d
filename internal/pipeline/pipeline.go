// Package pipeline is the ordered, linear list of selected units.
package pipeline

import (
	"fmt"

	"github.com/sourceplane/prestoflow/internal/model"
)

// Pipeline holds steps in the order they were added or arranged.
// It is not safe for concurrent use.
type Pipeline struct {
	steps []model.Step
	seq   int
}

// New creates an empty pipeline
func New() *Pipeline {
	return &Pipeline{}
}

// Add appends a step with a fresh sequence id. params is copied. src is
// the control that owns the step; nil means always active.
func (p *Pipeline) Add(unitID, label string, params map[string]string, src model.Control) model.Step {
	p.seq++
	step := model.Step{
		ID:     p.seq,
		UnitID: unitID,
		Label:  label,
		Params: copyParams(params),
		Source: src,
	}
	p.steps = append(p.steps, step)
	return step
}

// Remove deletes the step with the given id. It reports whether a step was removed.
func (p *Pipeline) Remove(id int) bool {
	for i, s := range p.steps {
		if s.ID == id {
			p.steps = append(p.steps[:i], p.steps[i+1:]...)
			return true
		}
	}
	return false
}

// List returns the active steps in order
func (p *Pipeline) List() []model.Step {
	out := make([]model.Step, 0, len(p.steps))
	for _, s := range p.steps {
		if s.Active() {
			out = append(out, cloneStep(s))
		}
	}
	return out
}

// All returns every step, including those whose control is inactive
func (p *Pipeline) All() []model.Step {
	out := make([]model.Step, 0, len(p.steps))
	for _, s := range p.steps {
		out = append(out, cloneStep(s))
	}
	return out
}

// Get returns the step with the given id
func (p *Pipeline) Get(id int) (model.Step, bool) {
	for _, s := range p.steps {
		if s.ID == id {
			return cloneStep(s), true
		}
	}
	return model.Step{}, false
}

// Move places the step with the given id at index, shifting the others
func (p *Pipeline) Move(id, index int) error {
	from := -1
	for i, s := range p.steps {
		if s.ID == id {
			from = i
			break
		}
	}
	if from < 0 {
		return fmt.Errorf("step %d not found", id)
	}
	if index < 0 || index >= len(p.steps) {
		return fmt.Errorf("index %d out of range [0,%d)", index, len(p.steps))
	}

	step := p.steps[from]
	p.steps = append(p.steps[:from], p.steps[from+1:]...)
	p.steps = append(p.steps[:index], append([]model.Step{step}, p.steps[index:]...)...)
	return nil
}

// Len returns the number of steps, active or not
func (p *Pipeline) Len() int {
	return len(p.steps)
}

// Reset drops every step and restarts the id sequence
func (p *Pipeline) Reset() {
	p.steps = nil
	p.seq = 0
}

func cloneStep(s model.Step) model.Step {
	s.Params = copyParams(s.Params)
	return s
}

func copyParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
