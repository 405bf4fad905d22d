package validate

// Severity tells whether a message stops a run
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityAdvisory Severity = "advisory"
)

// Message is one finding. Subject names the step or node it is about,
// empty for pipeline-wide findings.
type Message struct {
	Severity Severity `json:"severity"`
	Subject  string   `json:"subject,omitempty"`
	Text     string   `json:"text"`
}

// StepCheck is the outcome of the per-unit checks for one step or node
type StepCheck struct {
	StepID int    `json:"step_id,omitempty"`
	NodeID string `json:"node_id,omitempty"`
	UnitID string `json:"unit_id"`
	Label  string `json:"label"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Report is the result of validating a pipeline or graph
type Report struct {
	OK       bool        `json:"ok"`
	Messages []Message   `json:"messages"`
	Steps    []StepCheck `json:"steps"`
	Order    []string    `json:"order,omitempty"`
}

// Blocking returns the messages that prevent a run
func (r Report) Blocking() []Message {
	return r.filter(SeverityBlocking)
}

// Advisories returns the non-blocking suggestions
func (r Report) Advisories() []Message {
	return r.filter(SeverityAdvisory)
}

func (r Report) filter(sev Severity) []Message {
	out := make([]Message, 0)
	for _, m := range r.Messages {
		if m.Severity == sev {
			out = append(out, m)
		}
	}
	return out
}

func (r *Report) block(subject, text string) {
	r.Messages = append(r.Messages, Message{Severity: SeverityBlocking, Subject: subject, Text: text})
}

func (r *Report) advise(subject, text string) {
	r.Messages = append(r.Messages, Message{Severity: SeverityAdvisory, Subject: subject, Text: text})
}

// settle derives OK from the blocking messages and step checks
func (r *Report) settle() {
	r.OK = len(r.Blocking()) == 0
	for _, s := range r.Steps {
		if !s.OK {
			r.OK = false
		}
	}
	if r.Messages == nil {
		r.Messages = []Message{}
	}
	if r.Steps == nil {
		r.Steps = []StepCheck{}
	}
}
