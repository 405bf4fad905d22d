package model

// DagMeta declares how a unit participates in the DAG model
type DagMeta struct {
	Consumes      []string `json:"consumes" yaml:"consumes"`
	Produces      []string `json:"produces" yaml:"produces"`
	Branches      []string `json:"branches" yaml:"branches"`
	DynamicBranch bool     `json:"dynamic_branch" yaml:"dynamic_branch"`
	TargetBranch  string   `json:"target_branch,omitempty" yaml:"target_branch,omitempty"`
}

// AllowsBranch reports whether branch is one of the declared branches or the fixed target
func (m DagMeta) AllowsBranch(branch string) bool {
	if m.TargetBranch != "" && branch == m.TargetBranch {
		return true
	}
	for _, b := range m.Branches {
		if b == branch {
			return true
		}
	}
	return false
}

// Meta returns the unit's declared DAG metadata, or metadata derived from
// its required channels when the backend declares none.
func (u Unit) Meta() DagMeta {
	if u.DagMeta != nil {
		m := *u.DagMeta
		if len(m.Branches) == 0 && m.TargetBranch != "" {
			m.Branches = []string{m.TargetBranch}
		}
		return m
	}
	return deriveMeta(u)
}

func deriveMeta(u Unit) DagMeta {
	hasR1 := u.RequiresChannel(ChannelR1)
	hasR2 := u.RequiresChannel(ChannelR2)

	switch {
	case hasR1 && hasR2:
		// pairing joins both lanes
		return DagMeta{
			Consumes:     []string{ChannelR1, ChannelR2},
			Produces:     []string{ChannelMerged},
			Branches:     []string{ChannelMerged},
			TargetBranch: ChannelMerged,
		}
	case hasR1:
		return DagMeta{
			Consumes:      []string{ChannelR1},
			Produces:      []string{ChannelR1},
			Branches:      []string{ChannelR1, ChannelR2},
			DynamicBranch: true,
		}
	default:
		return DagMeta{
			Consumes: []string{ChannelMerged},
			Produces: []string{ChannelMerged},
			Branches: []string{ChannelMerged},
		}
	}
}

// Status is the execution state of a DAG node
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	StatusBlocked Status = "blocked"
)

// Incoming records an edge terminating at a node, keyed by its source
type Incoming struct {
	From     string   `json:"from" yaml:"from"`
	Label    string   `json:"label" yaml:"label"`
	Channels []string `json:"channels" yaml:"channels"`
}

// Node is one instantiated unit in the DAG
type Node struct {
	ID       string            `json:"id" yaml:"id"`
	UnitID   string            `json:"unit_id" yaml:"unit_id"`
	Label    string            `json:"label" yaml:"label"`
	Branch   string            `json:"branch" yaml:"branch"`
	Consumes []string          `json:"consumes" yaml:"consumes"`
	Produces []string          `json:"produces" yaml:"produces"`
	Params   map[string]string `json:"params" yaml:"params"`
	Incoming []Incoming        `json:"incoming" yaml:"incoming"`
	Status   Status            `json:"status" yaml:"status"`
	Order    int               `json:"order" yaml:"order"`
	Error    string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// Edge is a directed dependency carrying the channels both ends share
type Edge struct {
	From     string   `json:"from" yaml:"from"`
	To       string   `json:"to" yaml:"to"`
	Channels []string `json:"channels" yaml:"channels"`
}

// ChannelArtifact is the latest artifact produced on a channel
type ChannelArtifact struct {
	NodeID string `json:"node_id" yaml:"node_id"`
	Label  string `json:"label" yaml:"label"`
	Value  string `json:"value" yaml:"value"`
}

// backendAliases maps logical DAG channels to the keys the backend uses in
// its "current" mapping.
var backendAliases = map[string][]string{
	ChannelMerged: {"ASSEMBLED", "PAIR1", "PAIR2"},
}

// BackendChannels returns the backend state keys that carry a logical channel,
// in lookup order.
func BackendChannels(ch string) []string {
	if aliases, ok := backendAliases[ch]; ok {
		out := make([]string, 0, len(aliases)+1)
		out = append(out, ch)
		return append(out, aliases...)
	}
	return []string{ch}
}
