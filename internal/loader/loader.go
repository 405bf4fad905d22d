// Package loader reads pipeline documents and turns them into models.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sourceplane/prestoflow/internal/graph"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/pipeline"
	"github.com/sourceplane/prestoflow/internal/schema"
	"gopkg.in/yaml.v3"
)

// LoadDocument reads, schema-validates and decodes a pipeline document.
// Relative input paths are resolved against the document's directory.
func LoadDocument(path string) (*model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	doc.Spec.Inputs.R1 = resolve(base, doc.Spec.Inputs.R1)
	doc.Spec.Inputs.R2 = resolve(base, doc.Spec.Inputs.R2)
	for i, aux := range doc.Spec.Inputs.Aux {
		doc.Spec.Inputs.Aux[i] = resolve(base, aux)
	}
	return doc, nil
}

// ParseDocument validates and decodes document bytes
func ParseDocument(data []byte) (*model.Document, error) {
	v, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}
	if err := v.ValidateDocument(data); err != nil {
		return nil, err
	}

	var doc model.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline YAML: %w", err)
	}
	return &doc, nil
}

// BuildPipeline materialises the steps of a Pipeline document. Params are
// the unit defaults overlaid with the document's values; disabled steps
// stay in the model behind an unchecked toggle.
func BuildPipeline(doc *model.Document, units graph.Resolver) (*pipeline.Pipeline, error) {
	if doc.Kind != model.KindPipeline {
		return nil, fmt.Errorf("document kind %s is not %s", doc.Kind, model.KindPipeline)
	}

	p := pipeline.New()
	for _, spec := range doc.Spec.Steps {
		params := map[string]string{}
		label := spec.Label

		if unit, ok := units.Unit(spec.Unit); ok {
			params = unit.DefaultParams()
			if label == "" {
				label = unit.Label
			}
		}
		for k, v := range spec.Params {
			params[k] = v
		}

		var src model.Control
		if spec.Enabled != nil {
			src = pipeline.NewToggle(*spec.Enabled)
		}
		p.Add(spec.Unit, label, params, src)
	}
	return p, nil
}

// BuildGraph materialises the nodes of a Graph document and returns the
// node id of every ref. Nodes are added in document order, so same-lane
// chaining applies first; each after ref then adds an explicit edge.
func BuildGraph(doc *model.Document, units graph.Resolver, opts ...graph.Option) (*graph.Graph, map[string]string, error) {
	if doc.Kind != model.KindGraph {
		return nil, nil, fmt.Errorf("document kind %s is not %s", doc.Kind, model.KindGraph)
	}

	g := graph.New(units, opts...)
	refs := make(map[string]string, len(doc.Spec.Nodes))

	for _, spec := range doc.Spec.Nodes {
		if _, dup := refs[spec.Ref]; dup {
			return nil, nil, fmt.Errorf("duplicate node ref %s", spec.Ref)
		}
		node, err := g.AddNode(spec.Unit, spec.Branch, graph.AddOptions{Label: spec.Label, Params: spec.Params})
		if err != nil {
			return nil, nil, fmt.Errorf("node %s: %w", spec.Ref, err)
		}
		refs[spec.Ref] = node.ID
	}

	for _, spec := range doc.Spec.Nodes {
		for _, after := range spec.After {
			from, ok := refs[after]
			if !ok {
				return nil, nil, fmt.Errorf("node %s: after refers to unknown node %s", spec.Ref, after)
			}
			if _, err := g.Connect(from, refs[spec.Ref]); err != nil && !errors.Is(err, graph.ErrDuplicateEdge) {
				return nil, nil, fmt.Errorf("node %s: %w", spec.Ref, err)
			}
		}
	}
	return g, refs, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// AssumeInputs returns a copy of st in which the document's inputs count as
// uploaded, so a document can be checked before any file is sent.
func AssumeInputs(st model.SessionState, in model.Inputs) model.SessionState {
	out := st
	out.Current = make(map[string]string, len(st.Current)+2)
	for k, v := range st.Current {
		out.Current[k] = v
	}
	if in.R1 != "" {
		out.Current[model.ChannelR1] = filepath.Base(in.R1)
	}
	if in.R2 != "" {
		out.Current[model.ChannelR2] = filepath.Base(in.R2)
	}

	out.Aux = make(map[string]string, len(st.Aux)+len(in.Aux))
	for k, v := range st.Aux {
		out.Aux[k] = v
	}
	out.AuxFiles = append([]string(nil), st.AuxFiles...)
	for _, aux := range in.Aux {
		name := filepath.Base(aux)
		if role := model.GuessAuxRole(name); role != model.AuxRoleOther {
			out.Aux[role] = name
		}
		out.AuxFiles = append(out.AuxFiles, name)
	}
	return out
}
