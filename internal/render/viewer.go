// Package render turns graphs, validation reports and run results into
// terminal text, JSON or YAML.
package render

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sourceplane/prestoflow/internal/graph"
	"github.com/sourceplane/prestoflow/internal/model"
)

const rule = "═══════════════════════════════════════════════════════════\n"

var (
	okMark      = color.New(color.FgGreen).SprintFunc()
	errMark     = color.New(color.FgRed).SprintFunc()
	blockedMark = color.New(color.FgYellow).SprintFunc()
	branchName  = color.New(color.FgCyan, color.Bold).SprintFunc()
)

// GraphViewer provides human-readable views of a DAG
type GraphViewer struct {
	g *graph.Graph
}

// NewGraphViewer creates a viewer over g
func NewGraphViewer(g *graph.Graph) *GraphViewer {
	return &GraphViewer{g: g}
}

// ViewDAG returns a tree of nodes grouped by lane, with each node's
// dependencies listed beneath it.
func (gv *GraphViewer) ViewDAG() string {
	nodes := gv.g.Nodes()
	if len(nodes) == 0 {
		return "No nodes in graph"
	}

	byBranch := make(map[string][]model.Node)
	for _, n := range nodes {
		byBranch[n.Branch] = append(byBranch[n.Branch], n)
	}
	branches := gv.g.Branches()

	var sb strings.Builder
	for i, branch := range branches {
		lastBranch := i == len(branches)-1

		prefix, connector := "├─ ", "│  "
		if lastBranch {
			prefix, connector = "└─ ", "   "
		}
		sb.WriteString(fmt.Sprintf("%s%s\n", prefix, branchName(branch)))

		lane := byBranch[branch]
		for j, n := range lane {
			nodePrefix, nodeConnector := connector+"├─ ", connector+"│  "
			if j == len(lane)-1 {
				nodePrefix, nodeConnector = connector+"└─ ", connector+"   "
			}
			sb.WriteString(fmt.Sprintf("%s%s %s [%s]\n", nodePrefix, statusMark(n.Status), n.Label, n.UnitID))

			deps := gv.g.Dependencies(n.ID)
			for k, dep := range deps {
				depPrefix := nodeConnector + "├─ "
				if k == len(deps)-1 {
					depPrefix = nodeConnector + "└─ "
				}
				sb.WriteString(fmt.Sprintf("%s(depends on) %s\n", depPrefix, gv.label(dep)))
			}
			if n.Error != "" {
				sb.WriteString(fmt.Sprintf("%s%s\n", nodeConnector, errMark(n.Error)))
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString(rule)
	sb.WriteString(fmt.Sprintf("Summary: %d branches, %d nodes, %d edges\n", len(branches), len(nodes), len(gv.g.Edges())))
	return sb.String()
}

// ViewOrder lists nodes in execution order, or names the cycle that
// prevents one.
func (gv *GraphViewer) ViewOrder() string {
	order := gv.g.TopoOrder()
	if order == nil {
		cycle := gv.g.Cycle()
		labels := make([]string, 0, len(cycle))
		for _, id := range cycle {
			labels = append(labels, gv.label(id))
		}
		return errMark("Graph has a cycle: "+strings.Join(labels, " -> ")) + "\n"
	}

	var sb strings.Builder
	sb.WriteString("Execution order\n")
	sb.WriteString(rule)
	for i, id := range order {
		n, _ := gv.g.Node(id)
		sb.WriteString(fmt.Sprintf("%3d. %s [%s] on %s\n", i+1, n.Label, n.UnitID, n.Branch))
	}
	return sb.String()
}

// ViewArtifacts lists the latest artifact recorded per channel
func (gv *GraphViewer) ViewArtifacts() string {
	artifacts := gv.g.Artifacts()
	if len(artifacts) == 0 {
		return "No artifacts recorded"
	}

	var sb strings.Builder
	for _, ch := range []string{model.ChannelR1, model.ChannelR2, model.ChannelMerged} {
		a, ok := artifacts[ch]
		if !ok {
			continue
		}
		sb.WriteString(fmt.Sprintf("%-7s %s (from %s)\n", ch, a.Value, a.Label))
	}
	return sb.String()
}

func (gv *GraphViewer) label(id string) string {
	if n, ok := gv.g.Node(id); ok {
		return n.Label
	}
	return id
}

func statusMark(s model.Status) string {
	switch s {
	case model.StatusDone:
		return okMark("✓")
	case model.StatusError:
		return errMark("✗")
	case model.StatusBlocked:
		return blockedMark("⊘")
	case model.StatusRunning:
		return blockedMark("…")
	default:
		return "□"
	}
}
