package intent_test

import (
	"context"
	"testing"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/intent"
	"github.com/stretchr/testify/require"
)

var board = agenttypes.UIState{
	Cards: []agenttypes.Card{
		{ID: "card-1", Title: "Revenue"},
		{ID: "card-2", Title: "Revenue by region"},
	},
	SelectedCardID: "card-1",
}

func classify(t *testing.T, msg string) *agenttypes.DetectedIntent {
	t.Helper()
	d, err := intent.Keywords{}.Classify(context.Background(), msg, board)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

func TestUnit_Keywords_RemoveNamedCard(t *testing.T) {
	d := classify(t, "Please remove the revenue by region chart")
	require.Equal(t, intent.RemoveCard, d.Intent)
	require.Equal(t, agenttypes.ResponseDOMAction, d.RequiredTool.ResponseType)
	require.Equal(t, "removeCard", d.RequiredTool.DOMToolName)
	require.Equal(t, "Revenue by region", d.RequiredTool.PayloadHints["cardTitle"])
}

func TestUnit_Keywords_RemoveSelectedCard(t *testing.T) {
	d := classify(t, "delete this chart")
	require.Equal(t, intent.RemoveCard, d.Intent)
	require.Equal(t, "$.selectedCardId", d.RequiredTool.PayloadHints["cardId"])
}

func TestUnit_Keywords_Rename(t *testing.T) {
	d := classify(t, `rename the revenue chart to "Income"`)
	require.Equal(t, intent.RenameCard, d.Intent)
	require.Equal(t, "renameCard", d.RequiredTool.DOMToolName)
	require.Equal(t, "Revenue", d.RequiredTool.PayloadHints["cardTitle"])
	require.Equal(t, "Income", d.RequiredTool.PayloadHints["title"])
}

func TestUnit_Keywords_FilterBeatsRemove(t *testing.T) {
	d := classify(t, "remove rows where revenue is below 10")
	require.Equal(t, intent.FilterRows, d.Intent)
	require.Equal(t, agenttypes.ResponseFilterSpreadsheet, d.RequiredTool.ResponseType)
	require.Equal(t, "remove rows where revenue is below 10", d.Hint("query"))
}

func TestUnit_Keywords_NoRequiredTool(t *testing.T) {
	for msg, want := range map[string]string{
		"plot revenue per month":       intent.CreateChart,
		"add a column with the margin": intent.Transform,
		"hi there":                     intent.Conversation,
		"":                             intent.Conversation,
	} {
		d := classify(t, msg)
		require.Equal(t, want, d.Intent, msg)
		require.Nil(t, d.RequiredTool, msg)
	}
}
