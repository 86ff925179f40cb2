package actionvalidator

import (
	"strings"

	"github.com/contenox/analyst/agenttypes"
)

// rules implements agenttypes.PayloadVisitor over a cloned action.
type rules struct {
	vc          Context
	action      *agenttypes.Action
	repairs     []string
	replacement agenttypes.Payload
}

var _ agenttypes.PayloadVisitor = (*rules)(nil)

func (r *rules) repair(reason string) { r.repairs = append(r.repairs, reason) }

func (r *rules) defaultStepID() string {
	if r.vc.CurrentStepID != "" {
		return r.vc.CurrentStepID
	}
	if r.vc.Plan != nil && r.vc.Plan.CurrentStepID != "" {
		return r.vc.Plan.CurrentStepID
	}
	if r.vc.NewStepID != nil {
		return r.vc.NewStepID()
	}
	return StepIDFromText(r.vc.UserMessage)
}

func (r *rules) VisitPlanStateUpdate(p *agenttypes.PlanStateUpdate) error {
	if strings.TrimSpace(p.Goal) == "" {
		switch {
		case r.vc.Plan != nil && r.vc.Plan.Goal != "":
			p.Goal = r.vc.Plan.Goal
		case strings.TrimSpace(r.vc.UserMessage) != "":
			p.Goal = "Respond to: " + strings.TrimSpace(r.vc.UserMessage)
		default:
			return reject("missing_goal", "Include a non-empty goal in plan_state_update.")
		}
		r.repair("auto_plan_goal_filled")
	}
	if p.PlanID == "" && r.vc.Plan != nil {
		p.PlanID = r.vc.Plan.PlanID
	}
	if strings.TrimSpace(p.Progress) == "" {
		p.Progress = "Not started"
		r.repair("auto_plan_progress_filled")
	}

	if len(p.NextSteps) == 0 && len(p.Steps) == 0 && p.BlockedBy == "" {
		step := agenttypes.PlanStep{ID: r.defaultStepID(), Label: "Respond to the user", Status: agenttypes.StepReady}
		p.NextSteps = []agenttypes.PlanStep{step}
		r.repair("auto_plan_seeded")
	}

	var err error
	if p.NextSteps, err = r.normalizeSteps(p.NextSteps); err != nil {
		return err
	}
	if p.Steps, err = r.normalizeSteps(p.Steps); err != nil {
		return err
	}
	if p.CurrentStepID != "" && !agenttypes.ValidStepID(p.CurrentStepID) {
		p.CurrentStepID = NormalizeStepID(p.CurrentStepID)
		r.repair("auto_step_id_normalized")
	}

	// steps is the full history, so every next step must appear in it.
	known := map[string]bool{}
	for _, s := range p.Steps {
		known[s.ID] = true
	}
	added := false
	for _, s := range p.NextSteps {
		if !known[s.ID] {
			p.Steps = append(p.Steps, s)
			known[s.ID] = true
			added = true
		}
	}
	if added {
		r.repair("auto_plan_steps_merged")
	}

	if !known[p.CurrentStepID] {
		switch {
		case len(p.NextSteps) > 0:
			p.CurrentStepID = p.NextSteps[0].ID
		case len(p.Steps) > 0:
			p.CurrentStepID = p.Steps[len(p.Steps)-1].ID
		default:
			return reject("missing_current_step", "Set currentStepId to a step listed in steps.")
		}
		r.repair("auto_current_step_assigned")
	}
	if len(p.NextSteps) == 0 && p.BlockedBy == "" && !allDone(p.Steps) && r.action.StateTag != agenttypes.TagPlanComplete {
		return reject("missing_next_steps", "nextSteps may only be empty when every step is done or the plan is blocked.")
	}
	if p.ObservationIDs == nil {
		p.ObservationIDs = []string{}
		r.repair("auto_observation_ids_filled")
	}
	if p.Confidence != nil && (*p.Confidence < 0 || *p.Confidence > 1) {
		c := min(max(*p.Confidence, 0), 1)
		p.Confidence = &c
		r.repair("auto_confidence_clamped")
	}
	if r.action.StepID == "" {
		r.action.StepID = p.CurrentStepID
		r.repair("auto_step_id_assigned")
	}
	return nil
}

func allDone(steps []agenttypes.PlanStep) bool {
	if len(steps) == 0 {
		return false
	}
	for _, s := range steps {
		if s.Status != agenttypes.StepDone {
			return false
		}
	}
	return true
}

func (r *rules) normalizeSteps(steps []agenttypes.PlanStep) ([]agenttypes.PlanStep, error) {
	out := make([]agenttypes.PlanStep, 0, len(steps))
	for _, s := range steps {
		if !agenttypes.ValidStepID(s.ID) {
			fixed := NormalizeStepID(s.ID)
			if fixed == "" && s.Label != "" {
				fixed = StepIDFromText(s.Label)
			}
			if !agenttypes.ValidStepID(fixed) {
				return nil, reject("invalid_step_id", "Step ids must be kebab-case and at least 3 characters; got %q.", s.ID)
			}
			s.ID = fixed
			r.repair("auto_step_id_normalized")
		}
		if strings.TrimSpace(s.Label) == "" {
			s.Label = strings.ReplaceAll(s.ID, "-", " ")
			r.repair("auto_step_label_filled")
		}
		switch s.Status {
		case agenttypes.StepReady, agenttypes.StepInProgress, agenttypes.StepDone:
		case "":
			s.Status = agenttypes.StepReady
			r.repair("auto_step_status_filled")
		default:
			return nil, reject("invalid_step_status", "Step %q has status %q; use ready, in_progress or done.", s.ID, s.Status)
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *rules) VisitTextResponse(p *agenttypes.TextResponse) error {
	if strings.TrimSpace(p.Text) == "" {
		return reject("empty_text", "text_response needs non-empty text.")
	}
	return nil
}

func (r *rules) VisitDOMAction(p *agenttypes.DOMAction) error {
	call := &p.ToolCall
	if call.Tool == "" {
		if rt := r.requiredTool(agenttypes.ResponseDOMAction); rt != nil && rt.DOMToolName != "" {
			call.Tool = rt.DOMToolName
			r.repair("auto_dom_tool_filled")
		} else {
			return reject("missing_tool", "dom_action needs toolCall.tool.")
		}
	}

	if call.Target.Empty() {
		id, _ := call.Args["cardId"].(string)
		title, _ := call.Args["cardTitle"].(string)
		if id == "" && title == "" {
			id, title = r.vc.Intent.Hint("cardId"), r.vc.Intent.Hint("cardTitle")
		}
		if id != "" || title != "" {
			call.Target = agenttypes.DOMTarget{ByID: id, ByTitle: title}
			r.repair("auto_dom_target_filled")
		}
	}

	if call.Target.ByID != "" {
		if _, ok := r.vc.UI.CardByID(call.Target.ByID); ok {
			return nil
		}
	}
	if call.Target.ByTitle != "" {
		if card, ok := r.vc.UI.CardByTitle(call.Target.ByTitle); ok {
			call.Target.ByID = card.ID
			r.repair("auto_dom_target_resolved")
			return nil
		}
	}
	r.replacement = &agenttypes.TextResponse{Text: TargetNotFoundText}
	r.repair("auto_dom_downgraded_to_text")
	return nil
}

func (r *rules) requiredTool(rt agenttypes.ResponseType) *agenttypes.RequiredTool {
	if r.vc.Intent == nil || r.vc.Intent.RequiredTool == nil || r.vc.Intent.RequiredTool.ResponseType != rt {
		return nil
	}
	return r.vc.Intent.RequiredTool
}

func (r *rules) VisitFilterSpreadsheet(p *agenttypes.FilterSpreadsheet) error {
	if strings.TrimSpace(p.Query) == "" {
		hint := r.vc.Intent.Hint("query")
		if hint == "" {
			hint = r.vc.Intent.Hint("userMessage")
		}
		if hint == "" {
			return reject("missing_query", "filter_spreadsheet needs a query describing which rows to keep.")
		}
		p.Query = hint
		r.repair("auto_query_filled")
	}
	minChars := r.vc.MinFilterQueryChars
	if minChars <= 0 {
		minChars = DefaultMinFilterQueryChars
	}
	q := strings.TrimSpace(p.Query)
	if len(q) < minChars || len(strings.Fields(q)) < 2 {
		return reject("filter_query_too_short",
			"The filter query %q is too short; describe the condition in at least %d characters and two words.", q, minChars)
	}
	return nil
}

func (r *rules) VisitExecuteJSCode(p *agenttypes.ExecuteJSCode) error {
	if strings.TrimSpace(p.Code) == "" {
		return reject("missing_code", "execute_js_code needs a transformation body.")
	}
	return checkReturnPath(p.Code)
}

func (r *rules) VisitClarificationRequest(p *agenttypes.ClarificationRequestAction) error {
	if strings.TrimSpace(p.Question) == "" {
		return reject("missing_question", "clarification_request needs a question.")
	}
	if len(p.Options) == 0 {
		return reject("missing_options", "clarification_request needs at least one option.")
	}
	if p.TargetProperty == "" {
		return reject("missing_target_property", "clarification_request needs targetProperty naming the field the answer fills.")
	}
	if p.PendingPlan == nil {
		return reject("missing_pending_plan", "clarification_request needs pendingPlan, the action to complete once answered.")
	}
	filled := false
	for i := range p.Options {
		if p.Options[i].Label == "" && p.Options[i].Value == "" {
			return reject("empty_option", "Option %d has neither label nor value.", i)
		}
		if p.Options[i].Value == "" {
			p.Options[i].Value = p.Options[i].Label
			filled = true
		}
		if p.Options[i].Label == "" {
			p.Options[i].Label = p.Options[i].Value
			filled = true
		}
	}
	if filled {
		r.repair("auto_option_value_filled")
	}
	return nil
}

func (r *rules) VisitPlanCreation(p *agenttypes.PlanCreation) error {
	if strings.TrimSpace(p.Goal) == "" {
		return reject("missing_goal", "plan_creation needs a goal.")
	}
	if len(p.Steps) == 0 {
		return reject("missing_steps", "plan_creation needs at least one step.")
	}
	steps, err := r.normalizeSteps(p.Steps)
	if err != nil {
		return err
	}
	p.Steps = steps
	if r.action.StepID == "" {
		r.action.StepID = steps[0].ID
		r.repair("auto_step_id_assigned")
	}
	return nil
}

func (r *rules) VisitAwaitUser(p *agenttypes.AwaitUser) error {
	if strings.TrimSpace(p.Prompt) == "" {
		return reject("missing_prompt", "await_user needs a prompt telling the user what is needed.")
	}
	return nil
}

var chartTypes = map[string]bool{
	"bar": true, "line": true, "pie": true, "scatter": true, "histogram": true, "area": true,
}

func (r *rules) VisitCreateChart(p *agenttypes.CreateChart) error {
	p.ChartType = strings.ToLower(strings.TrimSpace(p.ChartType))
	if !chartTypes[p.ChartType] {
		return reject("unknown_chart_type", "chartType %q is not supported; use bar, line, pie, scatter, histogram or area.", p.ChartType)
	}
	if len(r.vc.Columns) == 0 {
		return reject("no_dataset", "No dataset is loaded; ask the user to upload data before charting.")
	}
	x, err := r.resolveColumn(p.XColumn, true)
	if err != nil {
		return err
	}
	p.XColumn = x
	if p.YColumn != "" {
		y, err := r.resolveColumn(p.YColumn, false)
		if err != nil {
			return err
		}
		p.YColumn = y
	}
	if strings.TrimSpace(p.Title) == "" {
		if p.YColumn != "" {
			p.Title = p.YColumn + " by " + p.XColumn
		} else {
			p.Title = p.XColumn
		}
		r.repair("auto_chart_title_filled")
	}
	return nil
}

func (r *rules) resolveColumn(name string, required bool) (string, error) {
	if name == "" {
		if required {
			return "", reject("missing_column", "create_chart needs an x column.")
		}
		return "", nil
	}
	for _, c := range r.vc.Columns {
		if c.Name == name {
			return name, nil
		}
	}
	for _, c := range r.vc.Columns {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			r.repair("auto_column_resolved")
			return c.Name, nil
		}
	}
	names := make([]string, 0, len(r.vc.Columns))
	for _, c := range r.vc.Columns {
		names = append(names, c.Name)
	}
	return "", reject("unknown_column", "Column %q does not exist; available columns: %s.", name, strings.Join(names, ", "))
}
