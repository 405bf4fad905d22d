// Package schema compiles JSON schemas for pipeline documents and for the
// parameters a unit declares.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed pipeline.schema.yaml
var pipelineSchemaYAML []byte

const pipelineSchemaURI = "prestoflow://schemas/pipeline.schema.json"

// Validator checks pipeline documents against the embedded schema
type Validator struct {
	pipelineSchema *jsonschema.Schema
}

// NewValidator compiles the embedded pipeline document schema
func NewValidator() (*Validator, error) {
	s, err := compileYAML(pipelineSchemaURI, pipelineSchemaYAML)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline schema: %w", err)
	}
	return &Validator{pipelineSchema: s}, nil
}

// ValidateDocument validates raw YAML or JSON document bytes
func (v *Validator) ValidateDocument(data []byte) error {
	if v.pipelineSchema == nil {
		return fmt.Errorf("pipeline schema not loaded")
	}

	doc, err := toJSONValue(data)
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	if err := v.pipelineSchema.Validate(doc); err != nil {
		return fmt.Errorf("document failed schema validation: %w", err)
	}
	return nil
}

// compileYAML compiles a schema given as YAML or JSON under uri
func compileYAML(uri string, data []byte) (*jsonschema.Schema, error) {
	var schemaData interface{}
	if err := yaml.Unmarshal(data, &schemaData); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	jsonData, err := json.Marshal(schemaData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return compileJSON(uri, jsonData)
}

func compileJSON(uri string, jsonData []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.LoadURL = func(url string) (io.ReadCloser, error) {
		if url == uri {
			return io.NopCloser(bytes.NewReader(jsonData)), nil
		}
		return nil, fmt.Errorf("external schema reference not supported: %s", url)
	}

	s, err := compiler.Compile(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return s, nil
}

// toJSONValue decodes YAML (a superset of JSON) into the value shapes the
// schema validator expects.
func toJSONValue(data []byte) (interface{}, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
