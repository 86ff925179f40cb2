package agenttypes

type PlanStateUpdate struct {
	PlanID         string     `json:"planId,omitempty"`
	Goal           string     `json:"goal"`
	ContextSummary string     `json:"contextSummary,omitempty"`
	Progress       string     `json:"progress"`
	NextSteps      []PlanStep `json:"nextSteps"`
	Steps          []PlanStep `json:"steps"`
	CurrentStepID  string     `json:"currentStepId"`
	BlockedBy      string     `json:"blockedBy,omitempty"`
	ObservationIDs []string   `json:"observationIds"`
	Confidence     *float64   `json:"confidence,omitempty"`
}

type TextResponse struct {
	Text string `json:"text"`
}

type DOMTarget struct {
	ByID    string `json:"byId,omitempty"`
	ByTitle string `json:"byTitle,omitempty"`
}

func (t DOMTarget) Empty() bool { return t.ByID == "" && t.ByTitle == "" }

type DOMToolCall struct {
	Tool   string         `json:"tool"`
	Target DOMTarget      `json:"target"`
	Args   map[string]any `json:"args,omitempty"`
}

type DOMAction struct {
	ToolCall DOMToolCall `json:"toolCall"`
}

type ExecuteJSCode struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

type FilterSpreadsheet struct {
	Query string `json:"query"`
}

type ClarificationOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type ClarificationRequestAction struct {
	Question       string                `json:"question"`
	Options        []ClarificationOption `json:"options"`
	PendingPlan    map[string]any        `json:"pendingPlan"`
	TargetProperty string                `json:"targetProperty"`
}

type PlanCreation struct {
	Goal  string     `json:"goal"`
	Steps []PlanStep `json:"steps"`
}

type AwaitUser struct {
	Prompt    string `json:"prompt"`
	BlockedBy string `json:"blockedBy,omitempty"`
}

type CreateChart struct {
	ChartType   string `json:"chartType"`
	Title       string `json:"title"`
	XColumn     string `json:"x"`
	YColumn     string `json:"y,omitempty"`
	Aggregation string `json:"aggregation,omitempty"`
}

func (*PlanStateUpdate) Kind() ResponseType            { return ResponsePlanStateUpdate }
func (*TextResponse) Kind() ResponseType               { return ResponseTextResponse }
func (*DOMAction) Kind() ResponseType                  { return ResponseDOMAction }
func (*ExecuteJSCode) Kind() ResponseType              { return ResponseExecuteJSCode }
func (*FilterSpreadsheet) Kind() ResponseType          { return ResponseFilterSpreadsheet }
func (*ClarificationRequestAction) Kind() ResponseType { return ResponseClarificationRequest }
func (*PlanCreation) Kind() ResponseType               { return ResponsePlanCreation }
func (*AwaitUser) Kind() ResponseType                  { return ResponseAwaitUser }
func (*CreateChart) Kind() ResponseType                { return ResponseCreateChart }

func (p *PlanStateUpdate) Accept(v PayloadVisitor) error   { return v.VisitPlanStateUpdate(p) }
func (p *TextResponse) Accept(v PayloadVisitor) error      { return v.VisitTextResponse(p) }
func (p *DOMAction) Accept(v PayloadVisitor) error         { return v.VisitDOMAction(p) }
func (p *ExecuteJSCode) Accept(v PayloadVisitor) error     { return v.VisitExecuteJSCode(p) }
func (p *FilterSpreadsheet) Accept(v PayloadVisitor) error { return v.VisitFilterSpreadsheet(p) }
func (p *ClarificationRequestAction) Accept(v PayloadVisitor) error {
	return v.VisitClarificationRequest(p)
}
func (p *PlanCreation) Accept(v PayloadVisitor) error { return v.VisitPlanCreation(p) }
func (p *AwaitUser) Accept(v PayloadVisitor) error    { return v.VisitAwaitUser(p) }
func (p *CreateChart) Accept(v PayloadVisitor) error  { return v.VisitCreateChart(p) }

func (*PlanStateUpdate) sealed()            {}
func (*TextResponse) sealed()               {}
func (*DOMAction) sealed()                  {}
func (*ExecuteJSCode) sealed()              {}
func (*FilterSpreadsheet) sealed()          {}
func (*ClarificationRequestAction) sealed() {}
func (*PlanCreation) sealed()               {}
func (*AwaitUser) sealed()                  {}
func (*CreateChart) sealed()                {}
