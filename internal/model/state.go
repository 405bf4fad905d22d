package model

import "strings"

// Auxiliary file roles the backend assigns on upload
const (
	AuxRoleVPrimers = "v_primers"
	AuxRoleCPrimers = "c_primers"
	AuxRoleOther    = "other"
)

// GuessAuxRole infers the role of an auxiliary file from its name the same
// way the backend does when the file is uploaded.
func GuessAuxRole(name string) string {
	low := strings.ToLower(name)
	switch {
	case strings.Contains(low, "vprimer"),
		strings.Contains(low, "v_") && strings.Contains(low, ".fa"):
		return AuxRoleVPrimers
	case strings.Contains(low, "cprimer"), strings.Contains(low, "constant"):
		return AuxRoleCPrimers
	default:
		return AuxRoleOther
	}
}

// Artifact is a file produced by a backend run
type Artifact struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Channel  string `json:"channel,omitempty"`
	FromStep int    `json:"from_step"`
}

// StepRecord is the backend's record of one executed unit
type StepRecord struct {
	StepIndex int                    `json:"step_index"`
	Unit      string                 `json:"unit"`
	Params    map[string]interface{} `json:"params"`
	Produced  []Artifact             `json:"produced"`
}

// SessionState mirrors GET /session/{id}/state
type SessionState struct {
	SessionID string              `json:"session_id"`
	Steps     []StepRecord        `json:"steps"`
	Artifacts map[string]Artifact `json:"artifacts"`
	Current   map[string]string   `json:"current"`
	Aux       map[string]string   `json:"aux"`
	AuxFiles  []string            `json:"aux_files"`
}

// HasChannel reports whether the backend has a current artifact for ch
func (s SessionState) HasChannel(ch string) bool {
	_, ok := s.Current[ch]
	return ok
}

// HasAux reports whether an auxiliary file with the given role or name was uploaded
func (s SessionState) HasAux(roleOrName string) bool {
	if _, ok := s.Aux[roleOrName]; ok {
		return true
	}
	for _, f := range s.AuxFiles {
		if f == roleOrName {
			return true
		}
	}
	return false
}

// CurrentValue resolves a logical channel against the backend's current mapping
func (s SessionState) CurrentValue(ch string) (string, bool) {
	for _, key := range BackendChannels(ch) {
		if v, ok := s.Current[key]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// RunResult is the success body of POST /session/{id}/run
type RunResult struct {
	Step      StepRecord          `json:"step"`
	Current   map[string]string   `json:"current"`
	Artifacts map[string]Artifact `json:"artifacts"`
}
