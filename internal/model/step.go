package model

// Control is the UI element that owns a linear step. A step whose control
// is no longer active is left out of the pipeline view.
type Control interface {
	Active() bool
}

// Step is one selected unit in the linear pipeline
type Step struct {
	ID     int               `json:"id"`
	UnitID string            `json:"unit_id"`
	Label  string            `json:"label"`
	Params map[string]string `json:"params"`
	Source Control           `json:"-"`
}

// Active reports whether the owning control is still present
func (s Step) Active() bool {
	return s.Source == nil || s.Source.Active()
}
