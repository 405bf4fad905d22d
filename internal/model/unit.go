package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Group tags a unit as belonging to the bulk or single-cell page
type Group string

const (
	GroupBulk Group = "bulk"
	GroupSC   Group = "sc"
)

// ParamType is the form control a parameter is rendered with
type ParamType string

const (
	ParamText     ParamType = "text"
	ParamNumber   ParamType = "number"
	ParamInt      ParamType = "int"
	ParamSelect   ParamType = "select"
	ParamCheckbox ParamType = "checkbox"
	ParamFile     ParamType = "file"
)

// Logical channels used by the DAG lanes
const (
	ChannelR1     = "R1"
	ChannelR2     = "R2"
	ChannelMerged = "MERGED"
)

// Unit is a processing step registered by the backend
type Unit struct {
	ID           string               `json:"id" yaml:"id"`
	Label        string               `json:"label" yaml:"label"`
	Group        Group                `json:"group" yaml:"group"`
	Requires     []string             `json:"requires" yaml:"requires"`
	ParamsSchema map[string]ParamSpec `json:"params_schema" yaml:"params_schema"`
	DagMeta      *DagMeta             `json:"dag_meta,omitempty" yaml:"dag_meta,omitempty"`
}

// ParamSpec describes one parameter of a unit
type ParamSpec struct {
	Type        ParamType     `json:"type" yaml:"type"`
	Default     interface{}   `json:"default,omitempty" yaml:"default,omitempty"`
	Options     []ParamOption `json:"options,omitempty" yaml:"options,omitempty"`
	Help        string        `json:"help,omitempty" yaml:"help,omitempty"`
	Placeholder string        `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Accept      string        `json:"accept,omitempty" yaml:"accept,omitempty"`
	Optional    bool          `json:"optional,omitempty" yaml:"optional,omitempty"`
	Min         *float64      `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64      `json:"max,omitempty" yaml:"max,omitempty"`
}

// ParamOption is a select option. The backend sends either a bare string
// or a {value, label} object.
type ParamOption struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// UnmarshalJSON accepts both option encodings
func (o *ParamOption) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Value = s
		o.Label = s
		return nil
	}

	var obj struct {
		Value string `json:"value"`
		Label string `json:"label"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid select option %s: %w", string(data), err)
	}
	o.Value = obj.Value
	o.Label = obj.Label
	if o.Label == "" {
		o.Label = o.Value
	}
	return nil
}

// DefaultString renders the default as the string a form would submit
func (p ParamSpec) DefaultString() string {
	switch v := p.Default.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// OptionValues returns the submit values of a select parameter
func (p ParamSpec) OptionValues() []string {
	values := make([]string, 0, len(p.Options))
	for _, o := range p.Options {
		values = append(values, o.Value)
	}
	return values
}

// DefaultParams seeds a parameter map from the schema defaults.
// Parameters without a default are left out.
func (u Unit) DefaultParams() map[string]string {
	params := make(map[string]string, len(u.ParamsSchema))
	for name, spec := range u.ParamsSchema {
		if spec.Default == nil {
			continue
		}
		params[name] = spec.DefaultString()
	}
	return params
}

// RequiresChannel reports whether ch is one of the unit's preconditions
func (u Unit) RequiresChannel(ch string) bool {
	for _, r := range u.Requires {
		if r == ch {
			return true
		}
	}
	return false
}
