// Package ledger is the append-only record of every attempted action, its
// observation and every validation event of a session. Traces are the only
// entries updated after creation, and only to resolve their status.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/libbus"
	"github.com/contenox/analyst/libtracker"
)

var (
	ErrTraceNotFound = errors.New("trace not found")
	ErrTraceResolved = errors.New("trace already resolved")
)

func TraceSubject(sessionID string) string { return "analyst." + sessionID + ".trace" }
func PlanSubject(sessionID string) string  { return "analyst." + sessionID + ".plan" }

// Entries is a copy of a ledger's contents.
type Entries struct {
	Traces       []agenttypes.ActionTrace    `json:"traces"`
	Observations []agenttypes.Observation    `json:"observations"`
	Events       []agenttypes.ValidationEvent `json:"events"`
}

type Ledger struct {
	sessionID string
	bus       libbus.Messenger
	tracker   libtracker.ActivityTracker
	now       func() time.Time

	entries Entries
	index   map[string]int

	dirtyTraces   map[string]struct{}
	flushedObs    int
	flushedEvents int
}

// New returns an empty ledger. bus may be nil, in which case nothing is published.
func New(sessionID string, bus libbus.Messenger, tracker libtracker.ActivityTracker) *Ledger {
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	return &Ledger{
		sessionID:   sessionID,
		bus:         bus,
		tracker:     tracker,
		now:         func() time.Time { return time.Now().UTC() },
		index:       map[string]int{},
		dirtyTraces: map[string]struct{}{},
	}
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Begin opens a trace. Tool actions start executing; actions handled in
// process start observing.
func (l *Ledger) Begin(ctx context.Context, a agenttypes.Action, source string) agenttypes.ActionTrace {
	status := agenttypes.TraceObserving
	if a.ResponseType.IsTool() {
		status = agenttypes.TraceExecuting
	}
	meta := map[string]string{"stepId": a.StepID, "stateTag": a.StateTag}
	if a.AutoInserted {
		meta["autoInserted"] = "true"
	}
	tr := agenttypes.ActionTrace{
		ID:         agenttypes.NewID("trace"),
		ActionType: a.ResponseType,
		Status:     status,
		Summary:    summarize(a),
		Timestamp:  l.now(),
		Source:     source,
		Metadata:   meta,
	}
	l.index[tr.ID] = len(l.entries.Traces)
	l.entries.Traces = append(l.entries.Traces, tr)
	l.dirtyTraces[tr.ID] = struct{}{}
	l.publish(ctx, TraceSubject(l.sessionID), tr)
	return tr
}

// Resolve finishes a trace in place.
func (l *Ledger) Resolve(ctx context.Context, traceID string, succeeded bool, summary string) (agenttypes.ActionTrace, error) {
	i, ok := l.index[traceID]
	if !ok {
		return agenttypes.ActionTrace{}, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}
	tr := &l.entries.Traces[i]
	if tr.Status == agenttypes.TraceSucceeded || tr.Status == agenttypes.TraceFailed {
		return *tr, fmt.Errorf("%w: %s", ErrTraceResolved, traceID)
	}
	tr.Status = agenttypes.TraceFailed
	if succeeded {
		tr.Status = agenttypes.TraceSucceeded
	}
	if summary != "" {
		tr.Summary = summary
	}
	tr.Timestamp = l.now()
	l.dirtyTraces[traceID] = struct{}{}
	l.publish(ctx, TraceSubject(l.sessionID), *tr)
	return *tr, nil
}

// RecordRunEnd appends an already failed trace for a run that stopped before
// completing. It carries no action type.
func (l *Ledger) RecordRunEnd(ctx context.Context, runID, state string, cause error) agenttypes.ActionTrace {
	summary := "run " + state
	if cause != nil {
		summary += ": " + cause.Error()
	}
	tr := agenttypes.ActionTrace{
		ID:        agenttypes.NewID("trace"),
		Status:    agenttypes.TraceFailed,
		Summary:   summary,
		Timestamp: l.now(),
		Source:    "workflow",
		Metadata:  map[string]string{"runId": runID, "state": state},
	}
	l.index[tr.ID] = len(l.entries.Traces)
	l.entries.Traces = append(l.entries.Traces, tr)
	l.dirtyTraces[tr.ID] = struct{}{}
	l.publish(ctx, TraceSubject(l.sessionID), tr)
	return tr
}

func (l *Ledger) RecordObservation(o agenttypes.Observation) agenttypes.Observation {
	if o.ID == "" {
		o.ID = agenttypes.NewID("obs")
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = l.now()
	}
	l.entries.Observations = append(l.entries.Observations, o)
	return o
}

func (l *Ledger) RecordEvents(events ...agenttypes.ValidationEvent) {
	l.entries.Events = append(l.entries.Events, events...)
}

// PublishPlan announces a plan replacement.
func (l *Ledger) PublishPlan(ctx context.Context, plan *agenttypes.PlanState) {
	l.publish(ctx, PlanSubject(l.sessionID), plan)
}

func (l *Ledger) Traces() []agenttypes.ActionTrace {
	return append([]agenttypes.ActionTrace(nil), l.entries.Traces...)
}

func (l *Ledger) Observations() []agenttypes.Observation {
	return append([]agenttypes.Observation(nil), l.entries.Observations...)
}

func (l *Ledger) Events() []agenttypes.ValidationEvent {
	return append([]agenttypes.ValidationEvent(nil), l.entries.Events...)
}

func (l *Ledger) RecentTraces(n int) []agenttypes.ActionTrace {
	return tail(l.entries.Traces, n)
}

func (l *Ledger) RecentObservations(n int) []agenttypes.Observation {
	return tail(l.entries.Observations, n)
}

func (l *Ledger) RecentEvents(n int) []agenttypes.ValidationEvent {
	return tail(l.entries.Events, n)
}

func (l *Ledger) Observation(id string) (agenttypes.Observation, bool) {
	for _, o := range l.entries.Observations {
		if o.ID == id {
			return o, true
		}
	}
	return agenttypes.Observation{}, false
}

// Export returns a deep copy of all entries.
func (l *Ledger) Export() Entries {
	raw, _ := json.Marshal(l.entries)
	var out Entries
	_ = json.Unmarshal(raw, &out)
	return out
}

// Load replaces the contents with e. Entries loaded this way count as
// already persisted.
func (l *Ledger) Load(e Entries) {
	l.entries = e
	l.index = make(map[string]int, len(e.Traces))
	for i, tr := range e.Traces {
		l.index[tr.ID] = i
	}
	clear(l.dirtyTraces)
	l.flushedObs = len(e.Observations)
	l.flushedEvents = len(e.Events)
}

// Checkpoint captures the ledger including its persistence cursors.
type Checkpoint struct {
	entries       Entries
	dirty         []string
	flushedObs    int
	flushedEvents int
}

func (l *Ledger) Checkpoint() Checkpoint {
	c := Checkpoint{entries: l.Export(), flushedObs: l.flushedObs, flushedEvents: l.flushedEvents}
	for id := range l.dirtyTraces {
		c.dirty = append(c.dirty, id)
	}
	return c
}

// Rewind returns the ledger to c, dropping everything recorded since.
func (l *Ledger) Rewind(c Checkpoint) {
	l.Load(c.entries)
	for _, id := range c.dirty {
		l.dirtyTraces[id] = struct{}{}
	}
	l.flushedObs = c.flushedObs
	l.flushedEvents = c.flushedEvents
}

// Pending returns the entries changed since the last MarkPersisted.
func (l *Ledger) Pending() Entries {
	var out Entries
	for _, tr := range l.entries.Traces {
		if _, ok := l.dirtyTraces[tr.ID]; ok {
			out.Traces = append(out.Traces, tr)
		}
	}
	out.Observations = append(out.Observations, l.entries.Observations[min(l.flushedObs, len(l.entries.Observations)):]...)
	out.Events = append(out.Events, l.entries.Events[min(l.flushedEvents, len(l.entries.Events)):]...)
	return out
}

func (l *Ledger) MarkPersisted() {
	clear(l.dirtyTraces)
	l.flushedObs = len(l.entries.Observations)
	l.flushedEvents = len(l.entries.Events)
}

func (l *Ledger) publish(ctx context.Context, subject string, v any) {
	if l.bus == nil {
		return
	}
	reportErr, _, end := l.tracker.Start(ctx, "publish", "ledger", "subject", subject)
	defer end()
	data, err := json.Marshal(v)
	if err != nil {
		reportErr(err)
		return
	}
	if err := l.bus.Publish(ctx, subject, data); err != nil {
		reportErr(err)
	}
}

func tail[T any](s []T, n int) []T {
	if n <= 0 || n >= len(s) {
		return append([]T(nil), s...)
	}
	return append([]T(nil), s[len(s)-n:]...)
}

func summarize(a agenttypes.Action) string {
	switch p := a.Payload.(type) {
	case *agenttypes.PlanStateUpdate:
		return "plan: " + p.Progress
	case *agenttypes.TextResponse:
		return clip(p.Text, 80)
	case *agenttypes.DOMAction:
		target := p.ToolCall.Target.ByID
		if target == "" {
			target = p.ToolCall.Target.ByTitle
		}
		return p.ToolCall.Tool + " " + target
	case *agenttypes.ExecuteJSCode:
		if p.Description != "" {
			return "transform: " + p.Description
		}
		return "transform"
	case *agenttypes.FilterSpreadsheet:
		return "filter: " + clip(p.Query, 60)
	case *agenttypes.ClarificationRequestAction:
		return "ask: " + clip(p.Question, 60)
	case *agenttypes.PlanCreation:
		return "plan created: " + clip(p.Goal, 60)
	case *agenttypes.AwaitUser:
		return "waiting: " + clip(p.Prompt, 60)
	case *agenttypes.CreateChart:
		return p.ChartType + " chart: " + p.Title
	}
	return string(a.ResponseType)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
