// Package workflow is the planner loop: it plans with the model responder,
// validates through the turn orchestrator, executes accepted actions, and
// decides after every turn whether to continue, pause for the user, or stop.
//
// A session runs at most one request at a time. Cancellation is checked
// between turns. A cancelled or failed run rolls back only the turn it was
// in; executed turns and every ledger entry are kept.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/contenox/analyst/agentsession"
	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/contextbundle"
	"github.com/contenox/analyst/dataset"
	"github.com/contenox/analyst/libdbexec"
	"github.com/contenox/analyst/libtracker"
	"github.com/contenox/analyst/metrics"
	"github.com/contenox/analyst/toolexec"
	"github.com/contenox/analyst/turnorchestrator"
	"golang.org/x/sync/semaphore"
)

type State string

const (
	Idle                  State = "Idle"
	Planning              State = "Planning"
	Validating            State = "Validating"
	Executing             State = "Executing"
	Continuing            State = "Continuing"
	AwaitingClarification State = "AwaitingClarification"
	AwaitingApproval      State = "AwaitingApproval"
	Completed             State = "Completed"
	Failed                State = "Failed"
	Cancelled             State = "Cancelled"
)

// Terminal reports whether no further turn follows without user input.
func (s State) Terminal() bool {
	switch s {
	case AwaitingClarification, AwaitingApproval, Completed, Failed, Cancelled:
		return true
	}
	return false
}

var (
	ErrRunInProgress         = errors.New("a run is already active for this session")
	ErrRunCancelled          = errors.New("run cancelled")
	ErrTurnCeiling           = errors.New("maximum total turns per run exceeded")
	ErrNoPlanTracker         = errors.New("no plan tracker after all repair attempts")
	ErrNoPendingTransform    = errors.New("no transform is awaiting approval")
	ErrResponderUnavailable  = errors.New("model responder failed")
	ErrClarificationRequired = errors.New("a clarification id is required")
)

// FallbackText is sent when the model keeps proposing invalid batches.
const FallbackText = "I couldn't work out a valid next step for that. Could you rephrase the request or tell me which part to start with?"

// Responder is the model: it proposes the next batch of actions.
type Responder interface {
	Respond(ctx context.Context, bundle contextbundle.Bundle) (agenttypes.Envelope, error)
}

// ToolExecutor executes tool-kind actions. Implementations that also expose
// UIState() keep the session's view of the board current.
type ToolExecutor interface {
	Execute(ctx context.Context, req toolexec.Request) (toolexec.Result, error)
}

// IntentClassifier is consulted once per user message.
type IntentClassifier interface {
	Classify(ctx context.Context, userMessage string, ui agenttypes.UIState) (*agenttypes.DetectedIntent, error)
}

type uiSource interface {
	UIState() agenttypes.UIState
}

type Config struct {
	MaxTotalTurns        int `yaml:"max_total_turns"`
	MaxValidationRetries int `yaml:"max_validation_retries"`
	MaxExecutionRetries  int `yaml:"max_execution_retries"`
	MinFilterQueryChars  int `yaml:"min_filter_query_chars"`
	ContextTokenBudget   int `yaml:"context_token_budget"`
}

func DefaultConfig() Config {
	return Config{
		MaxTotalTurns:        8,
		MaxValidationRetries: 2,
		MaxExecutionRetries:  1,
		MinFilterQueryChars:  8,
		ContextTokenBudget:   contextbundle.DefaultBudget,
	}
}

// Report describes how a run ended.
type Report struct {
	RunID string
	State State
	Turns int
	Plan  *agenttypes.PlanState
	// Clarification is the question the run is waiting on.
	Clarification *agenttypes.ClarificationRequest
	PendingChange *dataset.PendingChange
	// Messages were appended to the session history during the run.
	Messages     []agenttypes.Message
	Observations []agenttypes.Observation
	Skipped      []agenttypes.ClarificationRequest
}

type Workflow struct {
	cfg          Config
	responder    Responder
	tools        ToolExecutor
	classifier   IntentClassifier
	orchestrator *turnorchestrator.Orchestrator
	bundles      *contextbundle.Builder
	db           libdbexec.DBManager
	tracker      libtracker.ActivityTracker
	metrics      metrics.Recorder
	counter      contextbundle.Counter

	mu    sync.Mutex
	slots map[string]*semaphore.Weighted
	runs  map[string]*runHandle
}

type Option func(*Workflow)

func WithClassifier(c IntentClassifier) Option { return func(w *Workflow) { w.classifier = c } }

// WithDB enables persistence of the session when a run ends without failing.
func WithDB(db libdbexec.DBManager) Option { return func(w *Workflow) { w.db = db } }

func WithTracker(t libtracker.ActivityTracker) Option { return func(w *Workflow) { w.tracker = t } }

func WithMetrics(m metrics.Recorder) Option { return func(w *Workflow) { w.metrics = m } }

func WithTokenCounter(c contextbundle.Counter) Option { return func(w *Workflow) { w.counter = c } }

func New(cfg Config, responder Responder, tools ToolExecutor, opts ...Option) *Workflow {
	def := DefaultConfig()
	if cfg.MaxTotalTurns <= 0 {
		cfg.MaxTotalTurns = def.MaxTotalTurns
	}
	if cfg.MaxValidationRetries < 0 {
		cfg.MaxValidationRetries = 0
	}
	if cfg.MaxExecutionRetries < 0 {
		cfg.MaxExecutionRetries = 0
	}
	if cfg.MinFilterQueryChars <= 0 {
		cfg.MinFilterQueryChars = def.MinFilterQueryChars
	}
	w := &Workflow{
		cfg:       cfg,
		responder: responder,
		tools:     tools,
		tracker:   libtracker.NoopTracker{},
		metrics:   metrics.Nop(),
		slots:     map[string]*semaphore.Weighted{},
		runs:      map[string]*runHandle{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.tracker == nil {
		w.tracker = libtracker.NoopTracker{}
	}
	if w.metrics == nil {
		w.metrics = metrics.Nop()
	}
	w.orchestrator = turnorchestrator.New(
		turnorchestrator.WithTracker(w.tracker),
		turnorchestrator.WithMetrics(w.metrics),
		turnorchestrator.WithMinFilterQueryChars(cfg.MinFilterQueryChars),
	)
	w.bundles = contextbundle.NewBuilder(w.counter, cfg.ContextTokenBudget)
	return w
}

func (w *Workflow) Config() Config { return w.cfg }

type runHandle struct {
	id        string
	sessionID string
	cancelled atomic.Bool
}

// Cancel asks the run to stop before its next turn. It reports whether the
// run was active.
func (w *Workflow) Cancel(runID string) bool {
	w.mu.Lock()
	h, ok := w.runs[runID]
	w.mu.Unlock()
	if ok {
		h.cancelled.Store(true)
	}
	return ok
}

// ActiveRun returns the id of the session's active run, if any.
func (w *Workflow) ActiveRun(sessionID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, h := range w.runs {
		if h.sessionID == sessionID {
			return id, true
		}
	}
	return "", false
}

// begin claims the session's run slot and registers a run. The run id is
// taken from ctx when the caller set one with libtracker.WithRunID.
func (w *Workflow) begin(ctx context.Context, sessionID string) (context.Context, *runHandle, func(), error) {
	w.mu.Lock()
	slot, ok := w.slots[sessionID]
	if !ok {
		slot = semaphore.NewWeighted(1)
		w.slots[sessionID] = slot
	}
	w.mu.Unlock()
	if !slot.TryAcquire(1) {
		return ctx, nil, nil, fmt.Errorf("%w: %s", ErrRunInProgress, sessionID)
	}

	runID := libtracker.RunIDFromContext(ctx)
	if runID == "" {
		runID = agenttypes.NewID("run")
		ctx = libtracker.WithRunID(ctx, runID)
	}
	if libtracker.RequestIDFromContext(ctx) == "" {
		ctx = libtracker.WithNewRequestID(ctx)
	}
	ctx = libtracker.WithSessionID(ctx, sessionID)

	h := &runHandle{id: runID, sessionID: sessionID}
	w.mu.Lock()
	w.runs[runID] = h
	w.mu.Unlock()
	return ctx, h, func() {
		w.mu.Lock()
		delete(w.runs, runID)
		w.mu.Unlock()
		slot.Release(1)
	}, nil
}

func (w *Workflow) refreshUI(s *agentsession.Session) {
	if src, ok := w.tools.(uiSource); ok {
		s.UI = src.UIState()
	}
}

// Run handles one user message to completion, pause or failure.
func (w *Workflow) Run(ctx context.Context, s *agentsession.Session, userMessage string) (Report, error) {
	ctx, h, done, err := w.begin(ctx, s.ID)
	if err != nil {
		return Report{State: Idle}, err
	}
	defer done()

	reportErr, reportChange, end := w.tracker.Start(ctx, "run", "workflow", "session_id", s.ID)
	defer end()

	r := w.newRun(s, h)
	w.refreshUI(s)
	var intent *agenttypes.DetectedIntent
	if w.classifier != nil {
		intent, err = w.classifier.Classify(ctx, userMessage, s.UI)
		if err != nil {
			reportErr(err)
			return r.abort(ctx, Failed, fmt.Errorf("classify intent: %w", err))
		}
	}
	r.report.Skipped = s.BeginRequest(userMessage, intent)

	rep, err := r.loop(ctx, nil, nil)
	if err != nil {
		reportErr(err)
	}
	reportChange(h.id, rep.State)
	return rep, err
}

// ResolveClarification answers a pending question and resumes the run. When
// the completed pending plan is an executable action it runs as the next
// turn under the current plan; otherwise it is handed to the model.
func (w *Workflow) ResolveClarification(ctx context.Context, s *agentsession.Session, clarificationID, choice string) (Report, error) {
	if clarificationID == "" {
		return Report{State: Idle}, ErrClarificationRequired
	}
	ctx, h, done, err := w.begin(ctx, s.ID)
	if err != nil {
		return Report{State: Idle}, err
	}
	defer done()

	reportErr, reportChange, end := w.tracker.Start(ctx, "resolve_clarification", "workflow", "clarification_id", clarificationID)
	defer end()

	r := w.newRun(s, h)
	res, err := s.Clarifications.Resolve(clarificationID, choice)
	if err != nil {
		reportErr(err)
		return Report{RunID: h.id, State: AwaitingClarification}, err
	}
	s.Guard = s.Guard.Release()

	first, _ := resumeBatch(s.Plan.Get(), res.CompletedPlan)
	rep, err := r.loop(ctx, []string{resumeInstruction(res.TargetProperty, res.Value, res.CompletedPlan)}, first)
	if err != nil {
		reportErr(err)
	}
	reportChange(clarificationID, rep.State)
	return rep, err
}

// ResolveTransform approves or discards the staged transform and lets the
// plan continue with the resulting data.
func (w *Workflow) ResolveTransform(ctx context.Context, s *agentsession.Session, approve bool) (Report, error) {
	ctx, h, done, err := w.begin(ctx, s.ID)
	if err != nil {
		return Report{State: Idle}, err
	}
	defer done()

	reportErr, reportChange, end := w.tracker.Start(ctx, "resolve_transform", "workflow", "approve", approve)
	defer end()

	r := w.newRun(s, h)
	change, ok := s.Data.Pending()
	if !ok {
		reportErr(ErrNoPendingTransform)
		return Report{RunID: h.id, State: Idle}, ErrNoPendingTransform
	}

	obs := agenttypes.Observation{
		ActionID:     change.ActionID,
		ResponseType: agenttypes.ResponseExecuteJSCode,
		Status:       agenttypes.ObservationSuccess,
	}
	var note string
	if approve {
		delta, err := s.Data.Approve(change.ID)
		if err != nil {
			reportErr(err)
			return r.abort(ctx, Failed, fmt.Errorf("approve transform: %w", err))
		}
		obs.Outputs = delta.Map()
		obs.Outputs["decision"] = "approved"
		note = "Approved the proposed data change."
	} else {
		if err := s.Data.Discard(change.ID); err != nil {
			reportErr(err)
			return r.abort(ctx, Failed, fmt.Errorf("discard transform: %w", err))
		}
		obs.Outputs = map[string]any{"decision": "discarded", "rowsAfter": s.Data.Len()}
		note = "Discarded the proposed data change."
	}
	r.report.Observations = append(r.report.Observations, s.Ledger.RecordObservation(obs))
	s.AppendMessage(agenttypes.Message{Role: agenttypes.RoleUser, Content: note, Synthetic: true})
	r.commit()

	var rep Report
	if plan := s.Plan.Get(); plan != nil && len(plan.NextSteps) > 0 && !agenttypes.IsHaltingTag(plan.StateTag) {
		rep, err = r.loop(ctx, nil, nil)
	} else {
		rep, err = r.finish(ctx, Completed)
	}
	if err != nil {
		reportErr(err)
	}
	reportChange(change.ID, rep.State)
	return rep, err
}
