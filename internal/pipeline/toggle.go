package pipeline

import "sync/atomic"

// Toggle is a checkbox-style control. Unchecking hides its step without
// removing it; checking it again brings the step back in place.
type Toggle struct {
	on atomic.Bool
}

// NewToggle returns a toggle in the given state
func NewToggle(on bool) *Toggle {
	t := &Toggle{}
	t.on.Store(on)
	return t
}

// Active implements model.Control
func (t *Toggle) Active() bool {
	return t.on.Load()
}

// Set changes the toggle state
func (t *Toggle) Set(on bool) {
	t.on.Store(on)
}
