// Package validate checks a linear pipeline or a DAG before it runs.
// Validation never changes the models it inspects.
package validate

import (
	"fmt"
	"strings"

	"github.com/sourceplane/prestoflow/internal/graph"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/schema"
)

// Units looks units up by id
type Units interface {
	Unit(id string) (model.Unit, bool)
}

// Engine validates models for one page group
type Engine struct {
	units  Units
	group  model.Group
	params *schema.ParamChecker
}

// New creates an engine. An empty group accepts units of every group.
func New(units Units, group model.Group) *Engine {
	return &Engine{
		units:  units,
		group:  group,
		params: schema.NewParamChecker(),
	}
}

// ValidateLinear checks steps in list order against the session state.
// Channels a step makes available count for the steps after it.
func (e *Engine) ValidateLinear(steps []model.Step, st model.SessionState) Report {
	var r Report
	if len(steps) == 0 {
		r.block("", "pipeline is empty: add at least one step")
		r.settle()
		return r
	}

	available := currentChannels(st)
	known := make([]model.Unit, 0, len(steps))

	for i, step := range steps {
		check := StepCheck{StepID: step.ID, UnitID: step.UnitID, Label: step.Label, OK: true}
		subject := fmt.Sprintf("step %d (%s)", i+1, labelOf(step.Label, step.UnitID))

		unit, ok := e.units.Unit(step.UnitID)
		if !ok {
			check.OK = false
			check.Reason = fmt.Sprintf("unknown unit %s", step.UnitID)
			r.block(subject, check.Reason)
			r.Steps = append(r.Steps, check)
			continue
		}
		known = append(known, unit)

		reasons := e.unitReasons(unit, step.Params, st)

		missing := make([]string, 0)
		for _, ch := range unit.Requires {
			if !available[ch] {
				missing = append(missing, ch)
			}
		}
		if len(missing) > 0 {
			reasons = append(reasons, missingReason(unit, missing))
		}
		for _, ch := range provides(unit) {
			available[ch] = true
		}

		if len(reasons) > 0 {
			check.OK = false
			check.Reason = strings.Join(reasons, "; ")
			r.block(subject, check.Reason)
		}
		r.Steps = append(r.Steps, check)
	}

	r.Messages = append(r.Messages, orderingAdvice(known)...)
	r.settle()
	return r
}

// ValidateGraph checks a DAG. A valid report carries the execution order.
func (e *Engine) ValidateGraph(g *graph.Graph, st model.SessionState) Report {
	var r Report
	if g.Len() == 0 {
		r.block("", "graph is empty: add at least one node")
		r.settle()
		return r
	}

	order := g.TopoOrder()
	if order == nil {
		labels := make([]string, 0)
		for _, id := range g.Cycle() {
			if n, ok := g.Node(id); ok {
				labels = append(labels, n.Label)
			}
		}
		text := "graph has a cycle and cannot run"
		if len(labels) > 0 {
			text = fmt.Sprintf("%s: %s", text, strings.Join(append(labels, labels[0]), " -> "))
		}
		r.block("", text)
		r.settle()
		return r
	}

	artifacts := g.Artifacts()
	for _, id := range order {
		node, _ := g.Node(id)
		check := StepCheck{NodeID: node.ID, UnitID: node.UnitID, Label: node.Label, OK: true}
		subject := fmt.Sprintf("%s [%s]", node.Label, node.Branch)

		unit, ok := e.units.Unit(node.UnitID)
		if !ok {
			check.OK = false
			check.Reason = fmt.Sprintf("unknown unit %s", node.UnitID)
			r.block(subject, check.Reason)
			r.Steps = append(r.Steps, check)
			continue
		}

		reasons := e.unitReasons(unit, node.Params, st)
		if len(reasons) > 0 {
			check.OK = false
			check.Reason = strings.Join(reasons, "; ")
			r.block(subject, check.Reason)
		}
		r.Steps = append(r.Steps, check)

		fed := make(map[string]bool)
		for _, in := range node.Incoming {
			for _, ch := range in.Channels {
				fed[ch] = true
			}
		}
		for _, ch := range node.Consumes {
			if fed[ch] {
				continue
			}
			if _, ok := artifacts[ch]; ok {
				continue
			}
			if _, ok := st.CurrentValue(ch); ok {
				continue
			}
			r.advise(subject, fmt.Sprintf("nothing feeds channel %s yet; upload reads or connect a producer", ch))
		}
	}

	r.Order = order
	r.settle()
	return r
}

// unitReasons runs the group, parameter and domain checks shared by both models
func (e *Engine) unitReasons(unit model.Unit, params map[string]string, st model.SessionState) []string {
	reasons := make([]string, 0)

	if e.group != "" && unit.Group != "" && unit.Group != e.group {
		reasons = append(reasons, fmt.Sprintf("%s unit is incompatible with this %s page; remove it", unit.Group, e.group))
	}

	problems, err := e.params.Check(unit, params)
	if err != nil {
		reasons = append(reasons, err.Error())
	}
	reasons = append(reasons, problems...)
	reasons = append(reasons, checkUnitRules(unit, params, st)...)
	return reasons
}

func currentChannels(st model.SessionState) map[string]bool {
	out := make(map[string]bool, len(st.Current))
	for ch, v := range st.Current {
		if v != "" {
			out[ch] = true
		}
	}
	return out
}

func labelOf(label, unitID string) string {
	if label != "" {
		return label
	}
	return unitID
}
