package agenttypes

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a prefixed random identifier.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

type TraceStatus string

const (
	TraceObserving TraceStatus = "observing"
	TraceExecuting TraceStatus = "executing"
	TraceSucceeded TraceStatus = "succeeded"
	TraceFailed    TraceStatus = "failed"
)

type ActionTrace struct {
	ID         string            `json:"id"`
	ActionType ResponseType      `json:"actionType"`
	Status     TraceStatus       `json:"status"`
	Summary    string            `json:"summary"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     string            `json:"source"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type ObservationStatus string

const (
	ObservationSuccess ObservationStatus = "success"
	ObservationError   ObservationStatus = "error"
	ObservationPending ObservationStatus = "pending"
)

// Observation is the outcome of one tool execution as the model sees it.
type Observation struct {
	ID           string            `json:"id"`
	ActionID     string            `json:"actionId"`
	ResponseType ResponseType      `json:"responseType"`
	Status       ObservationStatus `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Outputs      map[string]any    `json:"outputs,omitempty"`
	ErrorCode    string            `json:"errorCode,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
}

func (o Observation) Failed() bool { return o.Status == ObservationError }

type ValidationEvent struct {
	ID               string       `json:"id"`
	ActionType       ResponseType `json:"actionType"`
	Reason           string       `json:"reason"`
	ActionIndex      int          `json:"actionIndex"`
	Timestamp        time.Time    `json:"timestamp"`
	RetryInstruction string       `json:"retryInstruction,omitempty"`
}

// AutoRepair reports whether the event records a repair rather than a rejection.
func (e ValidationEvent) AutoRepair() bool {
	return len(e.Reason) > 5 && e.Reason[:5] == "auto_"
}

type ClarificationStatus string

const (
	ClarificationPending   ClarificationStatus = "pending"
	ClarificationResolving ClarificationStatus = "resolving"
	ClarificationResolved  ClarificationStatus = "resolved"
	ClarificationSkipped   ClarificationStatus = "skipped"
)

type ClarificationRequest struct {
	ID             string                `json:"id"`
	Question       string                `json:"question"`
	Options        []ClarificationOption `json:"options"`
	PendingPlan    map[string]any        `json:"pendingPlan"`
	TargetProperty string                `json:"targetProperty"`
	Status         ClarificationStatus   `json:"status"`
	CreatedAt      time.Time             `json:"createdAt"`
}

type RequiredTool struct {
	ResponseType ResponseType   `json:"responseType"`
	DOMToolName  string         `json:"domToolName,omitempty"`
	PayloadHints map[string]any `json:"payloadHints,omitempty"`
}

// DetectedIntent is computed once per user message and read only afterwards.
type DetectedIntent struct {
	Intent       string         `json:"intent"`
	Confidence   float64        `json:"confidence"`
	RequiredTool *RequiredTool  `json:"requiredTool,omitempty"`
	PayloadHints map[string]any `json:"payloadHints,omitempty"`
}

// Hint returns a string hint, preferring the required tool's hints.
func (d *DetectedIntent) Hint(key string) string {
	if d == nil {
		return ""
	}
	if d.RequiredTool != nil {
		if s, ok := d.RequiredTool.PayloadHints[key].(string); ok && s != "" {
			return s
		}
	}
	s, _ := d.PayloadHints[key].(string)
	return s
}

// Card is one visualization currently on the user's board.
type Card struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Kind  string `json:"kind,omitempty"`
}

type UIState struct {
	Cards          []Card `json:"cards"`
	SelectedCardID string `json:"selectedCardId,omitempty"`
}

func (u UIState) CardByTitle(title string) (Card, bool) {
	for _, c := range u.Cards {
		if c.Title == title {
			return c, true
		}
	}
	return Card{}, false
}

func (u UIState) CardByID(id string) (Card, bool) {
	for _, c := range u.Cards {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Synthetic bool      `json:"synthetic,omitempty"`
	Error     bool      `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ColumnProfile is the read-only metadata the profiling collaborator exposes.
type ColumnProfile struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Distinct int    `json:"distinct,omitempty"`
	Nulls    int    `json:"nulls,omitempty"`
}
