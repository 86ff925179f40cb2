// Package agentsession is the single-writer owner of everything a chat
// session mutates: guard state, plan slot, clarification registry, ledger,
// dataset and chat history. Only the workflow holding the session's run
// slot may call its methods.
package agentsession

import (
	"time"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/clarification"
	"github.com/contenox/analyst/dataset"
	"github.com/contenox/analyst/guard"
	"github.com/contenox/analyst/ledger"
	"github.com/contenox/analyst/libbus"
	"github.com/contenox/analyst/libtracker"
	"github.com/contenox/analyst/planstore"
)

// IntentState tracks the classified intent of the current user request.
type IntentState struct {
	Detected *agenttypes.DetectedIntent `json:"detected,omitempty"`
	// Satisfied turns true only once the required tool executed successfully.
	Satisfied bool `json:"satisfied"`
}

func (i IntentState) RequiredTool() *agenttypes.RequiredTool {
	if i.Detected == nil {
		return nil
	}
	return i.Detected.RequiredTool
}

type Session struct {
	ID string

	Guard          guard.State
	Tags           *guard.TagSource
	Plan           *planstore.Slot
	Clarifications *clarification.Registry
	Ledger         *ledger.Ledger
	Data           *dataset.Dataset
	UI             agenttypes.UIState
	Intent         IntentState
	// CurrentRequest is the user message that started the active run.
	CurrentRequest string

	history       []agenttypes.Message
	persistedMsgs int
	now           func() time.Time
}

type Option func(*options)

type options struct {
	bus     libbus.Messenger
	tracker libtracker.ActivityTracker
	now     func() time.Time
	data    *dataset.Dataset
	ui      agenttypes.UIState
}

func WithBus(bus libbus.Messenger) Option { return func(o *options) { o.bus = bus } }

func WithTracker(t libtracker.ActivityTracker) Option { return func(o *options) { o.tracker = t } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithDataset(d *dataset.Dataset) Option { return func(o *options) { o.data = d } }

func WithCards(cards ...agenttypes.Card) Option {
	return func(o *options) { o.ui.Cards = append(o.ui.Cards, cards...) }
}

func New(id string, opts ...Option) *Session {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	if o.data == nil {
		o.data = dataset.New("", nil, nil)
	}
	s := &Session{
		ID:    id,
		Guard: guard.New(id),
		Tags:  guard.NewTagSource(o.now),
		Plan:  planstore.NewSlot(),
		Data:  o.data,
		UI:    o.ui,
		now:   o.now,
	}
	s.Ledger = ledger.New(id, o.bus, o.tracker)
	s.Ledger.SetClock(o.now)
	s.Clarifications = clarification.New(s.AppendMessage, o.now)
	return s
}

func (s *Session) Now() time.Time { return s.now() }

func (s *Session) AppendMessage(m agenttypes.Message) {
	if m.ID == "" {
		m.ID = agenttypes.NewID("msg")
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	s.history = append(s.history, m)
}

func (s *Session) History() []agenttypes.Message {
	return append([]agenttypes.Message(nil), s.history...)
}

// BeginRequest starts a new user request: open questions are skipped, the
// guard is reset and the user's message is appended to history.
func (s *Session) BeginRequest(userMessage string, intent *agenttypes.DetectedIntent) []agenttypes.ClarificationRequest {
	skipped := s.Clarifications.SkipAll()
	s.Guard = guard.New(s.ID)
	s.Guard.StateTagSeq = s.Tags.Last()
	s.Intent = IntentState{Detected: intent}
	s.CurrentRequest = userMessage
	s.AppendMessage(agenttypes.Message{Role: agenttypes.RoleUser, Content: userMessage})
	return skipped
}

// Snapshot is a deep copy of a session's mutable state. The ledger is not
// part of it: traces, observations and events are never taken back.
type Snapshot struct {
	guard          guard.State
	tag            guard.Tag
	plan           planstore.SlotState
	clarifications []agenttypes.ClarificationRequest
	data           dataset.State
	ui             agenttypes.UIState
	intent         IntentState
	request        string
	history        []agenttypes.Message
	persistedMsgs  int
}

func (s *Session) Snapshot() Snapshot {
	ui := s.UI
	ui.Cards = append([]agenttypes.Card(nil), s.UI.Cards...)
	return Snapshot{
		guard:          s.Guard,
		tag:            s.Tags.Last(),
		plan:           s.Plan.State(),
		clarifications: s.Clarifications.Pending(),
		data:           s.Data.Export(),
		ui:             ui,
		intent:         s.Intent,
		request:        s.CurrentRequest,
		history:        s.History(),
		persistedMsgs:  s.persistedMsgs,
	}
}

// Restore returns the session to snap, discarding everything since except
// ledger entries.
func (s *Session) Restore(snap Snapshot) {
	s.Guard = snap.guard
	s.Tags.Reset(snap.tag)
	s.Plan.Restore(snap.plan)
	s.Clarifications.Load(snap.clarifications)
	s.Data.Load(snap.data)
	s.UI = snap.ui
	s.Intent = snap.intent
	s.CurrentRequest = snap.request
	s.history = append([]agenttypes.Message(nil), snap.history...)
	s.persistedMsgs = snap.persistedMsgs
}
