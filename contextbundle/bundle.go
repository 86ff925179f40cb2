// Package contextbundle assembles what the model responder sees on each
// turn and keeps it within a token budget.
package contextbundle

import (
	"encoding/json"

	"github.com/contenox/analyst/agentsession"
	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/dataset"
	"github.com/contenox/analyst/guard"
)

const (
	DefaultBudget       = 6000
	DefaultObservations = 8
	DefaultTraces       = 8
	DefaultSampleRows   = 5
)

// Bundle is the model's view of the session for one turn.
type Bundle struct {
	History        []agenttypes.Message              `json:"history"`
	Plan           *agenttypes.PlanState             `json:"plan"`
	Clarifications []agenttypes.ClarificationRequest `json:"clarifications,omitempty"`
	Observations   []agenttypes.Observation          `json:"observations,omitempty"`
	Traces         []agenttypes.ActionTrace          `json:"traces,omitempty"`
	Intent         *agenttypes.DetectedIntent        `json:"intent,omitempty"`
	UI             agenttypes.UIState                `json:"ui"`
	Columns        []agenttypes.ColumnProfile        `json:"columns,omitempty"`
	Sample         []dataset.Row                     `json:"sample,omitempty"`
	PendingChange  *dataset.Delta                    `json:"pendingChange,omitempty"`
	// Instructions carries corrective text from rejected attempts.
	Instructions []string `json:"instructions,omitempty"`
	TurnBudget   int      `json:"turnBudget"`
	NextStateTag string   `json:"nextStateTag"`

	Tokens  int `json:"-"`
	Trimmed int `json:"-"`
}

func (b Bundle) JSON() ([]byte, error) { return json.Marshal(b) }

type Builder struct {
	counter      Counter
	budget       int
	observations int
	traces       int
	sampleRows   int
}

// NewBuilder returns a builder using the default limits. A non-positive
// budget disables trimming.
func NewBuilder(counter Counter, budget int) *Builder {
	if counter == nil {
		counter = CounterFunc(func(s string) int { return len(s) / 4 })
	}
	return &Builder{
		counter:      counter,
		budget:       budget,
		observations: DefaultObservations,
		traces:       DefaultTraces,
		sampleRows:   DefaultSampleRows,
	}
}

// Build reads s without mutating it. The tag hint previews the next tag the
// session would mint.
func (b *Builder) Build(s *agentsession.Session, instructions []string) Bundle {
	bundle := Bundle{
		History:        s.History(),
		Plan:           s.Plan.Get(),
		Clarifications: s.Clarifications.Pending(),
		Observations:   s.Ledger.RecentObservations(b.observations),
		Traces:         s.Ledger.RecentTraces(b.traces),
		Intent:         s.Intent.Detected,
		UI:             s.UI,
		Instructions:   instructions,
		TurnBudget:     guard.TurnBudget,
		NextStateTag:   peekTag(s),
	}
	if s.Data.Loaded() {
		bundle.Columns = s.Data.Profiles()
		bundle.Sample = s.Data.Sample(b.sampleRows)
	}
	if p, ok := s.Data.Pending(); ok {
		d := p.Delta
		bundle.PendingChange = &d
	}
	b.fit(&bundle)
	return bundle
}

func peekTag(s *agentsession.Session) string {
	src := guard.NewTagSource(s.Now)
	src.Reset(s.Tags.Last())
	return src.Next()
}

// fit drops the oldest history first, then the sample, then older
// observations and traces. The latest message is always kept.
func (b *Builder) fit(bundle *Bundle) {
	bundle.Tokens = b.count(bundle)
	if b.budget <= 0 {
		return
	}
	for bundle.Tokens > b.budget {
		switch {
		case len(bundle.History) > 1:
			bundle.History = bundle.History[1:]
		case len(bundle.Sample) > 0:
			bundle.Sample = nil
		case len(bundle.Observations) > 1:
			bundle.Observations = bundle.Observations[1:]
		case len(bundle.Traces) > 1:
			bundle.Traces = bundle.Traces[1:]
		default:
			return
		}
		bundle.Trimmed++
		bundle.Tokens = b.count(bundle)
	}
}

func (b *Builder) count(bundle *Bundle) int {
	raw, err := bundle.JSON()
	if err != nil {
		return 0
	}
	return b.counter.Count(string(raw))
}
