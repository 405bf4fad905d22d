package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/sourceplane/prestoflow/internal/graph"
	"github.com/sourceplane/prestoflow/internal/model"
	"github.com/sourceplane/prestoflow/internal/runner"
	"github.com/sourceplane/prestoflow/internal/validate"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report writes the validation findings, blocking ones first
func Report(w io.Writer, r validate.Report) {
	for _, s := range r.Steps {
		if s.OK {
			fmt.Fprintf(w, "%s %s\n", okMark("✓"), s.Label)
			continue
		}
		fmt.Fprintf(w, "%s %s: %s\n", errMark("✗"), s.Label, s.Reason)
	}
	for _, m := range r.Blocking() {
		fmt.Fprintf(w, "%s %s\n", errMark("error:"), subject(m))
	}
	for _, m := range r.Advisories() {
		fmt.Fprintf(w, "%s %s\n", blockedMark("hint:"), subject(m))
	}
	if r.OK {
		fmt.Fprintln(w, okMark("pipeline is valid"))
	}
}

func subject(m validate.Message) string {
	if m.Subject == "" {
		return m.Text
	}
	return m.Subject + ": " + m.Text
}

// Progress returns an observer that prints one line per started and
// finished step.
func Progress(w io.Writer) runner.Observer {
	return runner.ObserverFunc(func(e runner.Event) {
		o := e.Outcome
		switch e.Kind {
		case runner.EventStarted:
			fmt.Fprintf(w, "□ %s%s\n", o.Label, lane(o.Branch))
		case runner.EventSucceeded:
			fmt.Fprintf(w, "%s %s%s (%s)\n", okMark("✓"), o.Label, lane(o.Branch), o.Duration.Round(time.Millisecond))
		case runner.EventFailed:
			fmt.Fprintf(w, "%s %s%s: %s\n", errMark("✗"), o.Label, lane(o.Branch), o.Error)
			if o.LogTail != "" {
				for _, line := range strings.Split(strings.TrimRight(o.LogTail, "\n"), "\n") {
					fmt.Fprintf(w, "    %s\n", color.HiBlackString(line))
				}
			}
		case runner.EventBlocked:
			fmt.Fprintf(w, "%s %s%s\n", blockedMark("⊘"), o.Label, lane(o.Branch))
		}
	})
}

func lane(branch string) string {
	if branch == "" {
		return ""
	}
	return " [" + branch + "]"
}

// LinearSummary writes the per-step outcome of a linear run
func LinearSummary(w io.Writer, res *runner.LinearResult) {
	fmt.Fprint(w, rule)
	for _, o := range res.Outcomes {
		fmt.Fprintf(w, "%s %d. %s\n", statusMark(o.Status), o.Position, o.Label)
	}
	if res.OK {
		fmt.Fprintln(w, okMark(fmt.Sprintf("Completed %d steps", len(res.Outcomes))))
		return
	}
	fmt.Fprintln(w, errMark(fmt.Sprintf("Stopped at step %d", res.FailedAt)))
}

// GraphSummary writes the per-lane outcome of a graph run
func GraphSummary(w io.Writer, res *runner.GraphResult) {
	fmt.Fprint(w, rule)
	for _, b := range res.Branches {
		line := fmt.Sprintf("%s: %d/%d done", b.Branch, b.Completed, b.Total)
		if b.Failed > 0 {
			line += fmt.Sprintf(", %d failed", b.Failed)
		}
		if b.Blocked > 0 {
			line += fmt.Sprintf(", %d blocked", b.Blocked)
		}
		switch b.State() {
		case runner.BranchComplete:
			line = okMark(line)
		case runner.BranchError:
			line = errMark(line)
		case runner.BranchBlocked:
			line = blockedMark(line)
		}
		fmt.Fprintln(w, line)
	}
}

// Catalog writes one line per unit
func Catalog(w io.Writer, units []model.Unit) {
	for _, u := range units {
		req := "-"
		if len(u.Requires) > 0 {
			req = strings.Join(u.Requires, ",")
		}
		fmt.Fprintf(w, "%-24s %-40s requires %s\n", u.ID, u.Label, req)
	}
}

// RenderJSON renders v as indented JSON
func RenderJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// RenderYAML renders v as YAML
func RenderYAML(v interface{}) ([]byte, error) {
	return yaml.Marshal(v)
}

// GraphDocument renders a graph as JSON or YAML
func GraphDocument(g *graph.Graph, format string) ([]byte, error) {
	switch format {
	case "json":
		return RenderJSON(g.View())
	case "yaml", "yml":
		return RenderYAML(g.View())
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}
