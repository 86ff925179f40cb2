// Package intent classifies a user message into a DetectedIntent with
// keyword rules. Messages that name a board operation get a required tool so
// the orchestrator can insert it when the model forgets.
package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/contenox/analyst/agenttypes"
)

const (
	RemoveCard   = "remove_card"
	RenameCard   = "rename_card"
	CreateChart  = "create_chart"
	FilterRows   = "filter_rows"
	Transform    = "transform_data"
	Conversation = "conversation"
)

var (
	removeWords    = []string{"remove", "delete", "drop the chart", "get rid of", "close"}
	renameWords    = []string{"rename", "retitle", "change the title"}
	chartWords     = []string{"chart", "plot", "graph", "visualize", "visualise"}
	filterWords    = []string{"filter", "only rows", "rows where", "show me rows", "keep rows"}
	transformWords = []string{"add a column", "add column", "compute", "calculate", "derive", "convert", "normalize", "clean"}
	cardWords      = []string{"chart", "card", "graph", "plot", "visualization"}
	deictic        = []string{"this", "that", "selected", "current"}

	renameTarget = regexp.MustCompile(`(?i)\bto\s+["']?([^"']+?)["']?\s*$`)
)

// Keywords is a rule-based classifier. The zero value is ready to use.
type Keywords struct{}

func (Keywords) Classify(_ context.Context, userMessage string, ui agenttypes.UIState) (*agenttypes.DetectedIntent, error) {
	msg := strings.ToLower(strings.TrimSpace(userMessage))
	if msg == "" {
		return &agenttypes.DetectedIntent{Intent: Conversation}, nil
	}

	mentionsCard := containsAny(msg, cardWords) || cardIn(msg, ui) != nil
	switch {
	case containsAny(msg, renameWords) && mentionsCard:
		hints := targetHints(msg, ui)
		if m := renameTarget.FindStringSubmatch(strings.TrimSpace(userMessage)); m != nil {
			hints["title"] = strings.TrimSpace(m[1])
		}
		return domIntent(RenameCard, "renameCard", hints), nil
	case containsAny(msg, filterWords):
		return &agenttypes.DetectedIntent{
			Intent:     FilterRows,
			Confidence: 0.7,
			RequiredTool: &agenttypes.RequiredTool{
				ResponseType: agenttypes.ResponseFilterSpreadsheet,
				PayloadHints: map[string]any{"query": strings.TrimSpace(userMessage)},
			},
			PayloadHints: map[string]any{"userMessage": strings.TrimSpace(userMessage)},
		}, nil
	case containsAny(msg, removeWords) && mentionsCard:
		return domIntent(RemoveCard, "removeCard", targetHints(msg, ui)), nil
	case containsAny(msg, chartWords):
		// Columns are unknown here, so the model has to propose the chart.
		return &agenttypes.DetectedIntent{Intent: CreateChart, Confidence: 0.6}, nil
	case containsAny(msg, transformWords):
		return &agenttypes.DetectedIntent{Intent: Transform, Confidence: 0.5}, nil
	}
	return &agenttypes.DetectedIntent{Intent: Conversation, Confidence: 0.3}, nil
}

func domIntent(name, tool string, hints map[string]any) *agenttypes.DetectedIntent {
	return &agenttypes.DetectedIntent{
		Intent:     name,
		Confidence: 0.8,
		RequiredTool: &agenttypes.RequiredTool{
			ResponseType: agenttypes.ResponseDOMAction,
			DOMToolName:  tool,
			PayloadHints: hints,
		},
	}
}

// targetHints names the card a message refers to: a card whose title is in
// the message, else the selected card when the message points at "this".
func targetHints(msg string, ui agenttypes.UIState) map[string]any {
	hints := map[string]any{}
	if c := cardIn(msg, ui); c != nil {
		hints["cardTitle"] = c.Title
		return hints
	}
	if ui.SelectedCardID != "" && containsAny(msg, deictic) {
		hints["cardId"] = "$.selectedCardId"
	}
	return hints
}

// cardIn returns the card with the longest title contained in msg.
func cardIn(msg string, ui agenttypes.UIState) *agenttypes.Card {
	var best *agenttypes.Card
	for i, c := range ui.Cards {
		t := strings.ToLower(strings.TrimSpace(c.Title))
		if t == "" || !strings.Contains(msg, t) {
			continue
		}
		if best == nil || len(t) > len(best.Title) {
			best = &ui.Cards[i]
		}
	}
	return best
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
