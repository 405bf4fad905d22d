package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sourceplane/prestoflow/internal/model"
)

const (
	intPattern    = `^-?[0-9]+$`
	numberPattern = `^-?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][-+]?[0-9]+)?$`
)

// ParamsDocument builds the JSON schema of a unit's string-valued params
func ParamsDocument(unit model.Unit) map[string]interface{} {
	props := make(map[string]interface{}, len(unit.ParamsSchema))
	for name, spec := range unit.ParamsSchema {
		prop := map[string]interface{}{"type": "string"}
		switch spec.Type {
		case model.ParamInt:
			prop["pattern"] = intPattern
		case model.ParamNumber:
			prop["pattern"] = numberPattern
		case model.ParamCheckbox:
			prop["enum"] = []string{"true", "false"}
		case model.ParamSelect:
			if values := spec.OptionValues(); len(values) > 0 {
				prop["enum"] = values
			}
		}
		props[name] = prop
	}

	return map[string]interface{}{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": props,
	}
}

// CompileParams compiles the parameter schema of a unit
func CompileParams(unit model.Unit) (*jsonschema.Schema, error) {
	data, err := json.Marshal(ParamsDocument(unit))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params schema for %s: %w", unit.ID, err)
	}
	s, err := compileJSON(fmt.Sprintf("prestoflow://units/%s/params.json", unit.ID), data)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", unit.ID, err)
	}
	return s, nil
}

// ParamChecker validates step parameters, compiling each unit's schema once
type ParamChecker struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewParamChecker creates an empty checker
func NewParamChecker() *ParamChecker {
	return &ParamChecker{compiled: make(map[string]*jsonschema.Schema)}
}

// Check returns one problem per offending parameter, sorted by name.
// Empty values count as "not set" and are not checked.
func (c *ParamChecker) Check(unit model.Unit, params map[string]string) ([]string, error) {
	s, err := c.schemaFor(unit)
	if err != nil {
		return nil, err
	}

	instance := make(map[string]interface{}, len(params))
	for k, v := range params {
		if strings.TrimSpace(v) == "" {
			continue
		}
		instance[k] = v
	}

	bad := make(map[string]string)
	if err := s.Validate(instance); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return nil, fmt.Errorf("unit %s: %w", unit.ID, err)
		}
		for _, leaf := range leaves(ve) {
			name := strings.TrimPrefix(leaf.InstanceLocation, "/")
			if name == "" {
				continue
			}
			bad[name] = describe(unit.ParamsSchema[name], leaf.Message)
		}
	}

	for name, value := range instance {
		if _, done := bad[name]; done {
			continue
		}
		spec, ok := unit.ParamsSchema[name]
		if !ok || (spec.Min == nil && spec.Max == nil) {
			continue
		}
		if spec.Type != model.ParamInt && spec.Type != model.ParamNumber {
			continue
		}
		f, err := strconv.ParseFloat(value.(string), 64)
		if err != nil {
			continue
		}
		if spec.Min != nil && f < *spec.Min {
			bad[name] = fmt.Sprintf("must be at least %s", formatBound(*spec.Min))
		} else if spec.Max != nil && f > *spec.Max {
			bad[name] = fmt.Sprintf("must be at most %s", formatBound(*spec.Max))
		}
	}

	names := make([]string, 0, len(bad))
	for name := range bad {
		names = append(names, name)
	}
	sort.Strings(names)

	problems := make([]string, 0, len(names))
	for _, name := range names {
		problems = append(problems, fmt.Sprintf("%s %s", name, bad[name]))
	}
	return problems, nil
}

func (c *ParamChecker) schemaFor(unit model.Unit) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.compiled[unit.ID]; ok {
		return s, nil
	}
	s, err := CompileParams(unit)
	if err != nil {
		return nil, err
	}
	c.compiled[unit.ID] = s
	return s, nil
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	out := make([]*jsonschema.ValidationError, 0)
	for _, cause := range ve.Causes {
		out = append(out, leaves(cause)...)
	}
	return out
}

func describe(spec model.ParamSpec, fallback string) string {
	switch spec.Type {
	case model.ParamInt:
		return "must be an integer"
	case model.ParamNumber:
		return "must be a number"
	case model.ParamCheckbox:
		return "must be true or false"
	case model.ParamSelect:
		return fmt.Sprintf("must be one of %s", strings.Join(spec.OptionValues(), ", "))
	default:
		return fallback
	}
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
