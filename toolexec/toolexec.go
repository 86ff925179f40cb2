// Package toolexec is the default tool-execution layer. It executes the tool
// kinds of action (dom_action, execute_js_code, filter_spreadsheet,
// create_chart) against a card board and a read-only copy of the dataset.
package toolexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/dataset"
	"github.com/contenox/analyst/jseval"
	"github.com/contenox/analyst/libtracker"
)

var ErrNotATool = errors.New("action kind is not executed by the tool layer")

// Request carries one accepted action and the data it may read.
type Request struct {
	Action   agenttypes.Action
	ActionID string
	Columns  []string
	Rows     []dataset.Row
}

// Table is a transform result waiting to be staged by the caller.
type Table struct {
	Columns []string
	Rows    []dataset.Row
}

type Result struct {
	Observation agenttypes.Observation
	Transformed *Table
}

// Registry executes actions. It is not safe for concurrent use; the
// workflow never runs two actions of a session at once.
type Registry struct {
	board   *Board
	js      *jseval.Env
	tracker libtracker.ActivityTracker
	now     func() time.Time
}

func New(tracker libtracker.ActivityTracker, cards ...agenttypes.Card) *Registry {
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	return &Registry{
		board:   NewBoard(cards...),
		js:      jseval.NewEnv(tracker, jseval.DefaultBuiltins()),
		tracker: tracker,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithTransformTimeout bounds execute_js_code runs.
func (r *Registry) WithTransformTimeout(d time.Duration) *Registry {
	r.js.WithTimeout(d)
	return r
}

func (r *Registry) Board() *Board { return r.board }

// UIState reports the board as the user currently sees it.
func (r *Registry) UIState() agenttypes.UIState { return r.board.State() }

func (r *Registry) Execute(ctx context.Context, req Request) (Result, error) {
	reportErr, reportChange, end := r.tracker.Start(ctx, "execute", string(req.Action.ResponseType), "action_id", req.ActionID)
	defer end()

	if req.Action.Payload == nil {
		err := fmt.Errorf("action %s has no payload", req.ActionID)
		reportErr(err)
		return Result{}, err
	}
	d := &dispatch{r: r, ctx: ctx, req: req}
	if err := req.Action.Payload.Accept(d); err != nil {
		reportErr(err)
		return Result{}, err
	}
	if d.res.Observation.ActionID == "" {
		d.res.Observation.ActionID = req.ActionID
	}
	if d.res.Observation.ResponseType == "" {
		d.res.Observation.ResponseType = req.Action.ResponseType
	}
	if d.res.Observation.Timestamp.IsZero() {
		d.res.Observation.Timestamp = r.now()
	}
	if d.res.Observation.Failed() {
		reportErr(fmt.Errorf("%s: %s", d.res.Observation.ErrorCode, d.res.Observation.ErrorMessage))
	} else {
		reportChange(req.ActionID, d.res.Observation.Outputs)
	}
	return d.res, nil
}

func success(outputs map[string]any) Result {
	return Result{Observation: agenttypes.Observation{Status: agenttypes.ObservationSuccess, Outputs: outputs}}
}

func failure(code string, err error) Result {
	return Result{Observation: agenttypes.Observation{
		Status:       agenttypes.ObservationError,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
	}}
}

// dispatch implements agenttypes.PayloadVisitor, one tool per tool kind.
type dispatch struct {
	r   *Registry
	ctx context.Context
	req Request
	res Result
}

var _ agenttypes.PayloadVisitor = (*dispatch)(nil)

func (d *dispatch) notTool(rt agenttypes.ResponseType) error {
	return fmt.Errorf("%w: %s", ErrNotATool, rt)
}

func (d *dispatch) VisitPlanStateUpdate(*agenttypes.PlanStateUpdate) error {
	return d.notTool(agenttypes.ResponsePlanStateUpdate)
}

func (d *dispatch) VisitTextResponse(*agenttypes.TextResponse) error {
	return d.notTool(agenttypes.ResponseTextResponse)
}

func (d *dispatch) VisitClarificationRequest(*agenttypes.ClarificationRequestAction) error {
	return d.notTool(agenttypes.ResponseClarificationRequest)
}

func (d *dispatch) VisitPlanCreation(*agenttypes.PlanCreation) error {
	return d.notTool(agenttypes.ResponsePlanCreation)
}

func (d *dispatch) VisitAwaitUser(*agenttypes.AwaitUser) error {
	return d.notTool(agenttypes.ResponseAwaitUser)
}

func (d *dispatch) VisitDOMAction(p *agenttypes.DOMAction) error {
	d.res = d.r.board.Apply(p.ToolCall)
	return nil
}

func (d *dispatch) VisitExecuteJSCode(p *agenttypes.ExecuteJSCode) error {
	d.res = d.r.transform(d.ctx, d.req, p)
	return nil
}

func (d *dispatch) VisitFilterSpreadsheet(p *agenttypes.FilterSpreadsheet) error {
	d.res = filter(d.req, p)
	return nil
}

func (d *dispatch) VisitCreateChart(p *agenttypes.CreateChart) error {
	d.res = d.r.chart(d.req, p)
	return nil
}
