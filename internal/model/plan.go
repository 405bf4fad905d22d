package model

// Document kinds
const (
	KindPipeline = "Pipeline"
	KindGraph    = "Graph"
)

// Document is a declarative pipeline definition
type Document struct {
	APIVersion string       `yaml:"apiVersion" json:"apiVersion"`
	Kind       string       `yaml:"kind" json:"kind"`
	Metadata   Metadata     `yaml:"metadata" json:"metadata"`
	Spec       DocumentSpec `yaml:"spec" json:"spec"`
}

// Metadata holds standard object metadata
type Metadata struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// DocumentSpec holds the inputs and the steps or nodes of a pipeline
type DocumentSpec struct {
	Group  Group      `yaml:"group" json:"group"`
	Inputs Inputs     `yaml:"inputs" json:"inputs"`
	Steps  []StepSpec `yaml:"steps,omitempty" json:"steps,omitempty"`
	Nodes  []NodeSpec `yaml:"nodes,omitempty" json:"nodes,omitempty"`
}

// Inputs lists the read files and auxiliary files to upload before running
type Inputs struct {
	R1  string   `yaml:"r1,omitempty" json:"r1,omitempty"`
	R2  string   `yaml:"r2,omitempty" json:"r2,omitempty"`
	Aux []string `yaml:"aux,omitempty" json:"aux,omitempty"`
}

// StepSpec declares one linear step
type StepSpec struct {
	Unit    string            `yaml:"unit" json:"unit"`
	Label   string            `yaml:"label,omitempty" json:"label,omitempty"`
	Params  map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	Enabled *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// NodeSpec declares one DAG node. After lists refs of nodes to connect from
// in addition to the automatic same-branch chaining.
type NodeSpec struct {
	Ref    string            `yaml:"ref" json:"ref"`
	Unit   string            `yaml:"unit" json:"unit"`
	Branch string            `yaml:"branch,omitempty" json:"branch,omitempty"`
	Label  string            `yaml:"label,omitempty" json:"label,omitempty"`
	Params map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	After  []string          `yaml:"after,omitempty" json:"after,omitempty"`
}
