package toolexec_test

import (
	"context"
	"strings"
	"testing"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/dataset"
	"github.com/contenox/analyst/toolexec"
	"github.com/stretchr/testify/require"
)

func salesRequest(p agenttypes.Payload) toolexec.Request {
	return toolexec.Request{
		Action:   agenttypes.NewAction(p, "inspect-sales", "1-0", ""),
		ActionID: "act-1",
		Columns:  []string{"month", "revenue"},
		Rows: []dataset.Row{
			{"month": "jan", "revenue": 100.0},
			{"month": "feb", "revenue": 80.0},
			{"month": "mar", "revenue": 120.0},
		},
	}
}

func TestUnit_Board_RemoveByTitle(t *testing.T) {
	r := toolexec.New(nil, agenttypes.Card{ID: "c1", Title: "Revenue"}, agenttypes.Card{ID: "c2", Title: "Costs"})
	res, err := r.Execute(context.Background(), salesRequest(&agenttypes.DOMAction{ToolCall: agenttypes.DOMToolCall{
		Tool:   "removeCard",
		Target: agenttypes.DOMTarget{ByTitle: "Revenue"},
	}}))
	require.NoError(t, err)
	require.Equal(t, agenttypes.ObservationSuccess, res.Observation.Status)
	require.Equal(t, "act-1", res.Observation.ActionID)
	require.Equal(t, agenttypes.ResponseDOMAction, res.Observation.ResponseType)
	require.False(t, res.Observation.Timestamp.IsZero())
	require.Equal(t, "c1", res.Observation.Outputs["removedCardId"])

	ui := r.UIState()
	require.Len(t, ui.Cards, 1)
	require.Equal(t, "c2", ui.Cards[0].ID)
}

func TestUnit_Board_Failures(t *testing.T) {
	r := toolexec.New(nil, agenttypes.Card{ID: "c1", Title: "Revenue"})

	t.Run("unknown tool", func(t *testing.T) {
		res, err := r.Execute(context.Background(), salesRequest(&agenttypes.DOMAction{ToolCall: agenttypes.DOMToolCall{
			Tool:   "explode",
			Target: agenttypes.DOMTarget{ByID: "c1"},
		}}))
		require.NoError(t, err)
		require.True(t, res.Observation.Failed())
		require.Equal(t, "unknown_tool", res.Observation.ErrorCode)
	})

	t.Run("missing target", func(t *testing.T) {
		res, err := r.Execute(context.Background(), salesRequest(&agenttypes.DOMAction{ToolCall: agenttypes.DOMToolCall{
			Tool:   "removeCard",
			Target: agenttypes.DOMTarget{ByID: "nope"},
		}}))
		require.NoError(t, err)
		require.Equal(t, "target_not_found", res.Observation.ErrorCode)
		require.Len(t, r.UIState().Cards, 1)
	})

	t.Run("rename needs a title", func(t *testing.T) {
		res, err := r.Execute(context.Background(), salesRequest(&agenttypes.DOMAction{ToolCall: agenttypes.DOMToolCall{
			Tool:   "renameCard",
			Target: agenttypes.DOMTarget{ByID: "c1"},
		}}))
		require.NoError(t, err)
		require.Equal(t, "missing_argument", res.Observation.ErrorCode)
	})
}

func TestUnit_Transform_ReturnsPendingResult(t *testing.T) {
	r := toolexec.New(nil)
	req := salesRequest(&agenttypes.ExecuteJSCode{
		Code: "return rows.filter(function (r) { return r.revenue > 90; });",
	})
	res, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, agenttypes.ObservationPending, res.Observation.Status)
	require.Equal(t, 1, res.Observation.Outputs["rowsRemoved"])
	require.NotNil(t, res.Transformed)
	require.Len(t, res.Transformed.Rows, 2)
	require.Equal(t, []string{"month", "revenue"}, res.Transformed.Columns)
	require.Len(t, req.Rows, 3, "input rows are never modified")
}

func TestUnit_Transform_Failures(t *testing.T) {
	r := toolexec.New(nil)
	cases := map[string]string{
		"return rows;":               "no_observable_changes",
		"return 5;":                  "non_array_result",
		"throw new Error('broken');": "transform_failed",
		"return rows.map(function (r) { return 1; });": "non_array_result",
	}
	for code, want := range cases {
		t.Run(want+" "+code, func(t *testing.T) {
			res, err := r.Execute(context.Background(), salesRequest(&agenttypes.ExecuteJSCode{Code: code}))
			require.NoError(t, err)
			require.True(t, res.Observation.Failed())
			require.Equal(t, want, res.Observation.ErrorCode)
			require.Nil(t, res.Transformed)
		})
	}
}

func TestUnit_Filter(t *testing.T) {
	r := toolexec.New(nil)

	res, err := r.Execute(context.Background(), salesRequest(&agenttypes.FilterSpreadsheet{Query: "show rows where revenue above 90"}))
	require.NoError(t, err)
	require.Equal(t, agenttypes.ObservationSuccess, res.Observation.Status)
	require.Equal(t, "revenue", res.Observation.Outputs["column"])
	require.Equal(t, ">", res.Observation.Outputs["operator"])
	require.Equal(t, 2, res.Observation.Outputs["matchedRows"])
	require.Equal(t, 3, res.Observation.Outputs["totalRows"])
	require.Nil(t, res.Transformed)

	res, err = r.Execute(context.Background(), salesRequest(&agenttypes.FilterSpreadsheet{Query: "only rows where month is feb"}))
	require.NoError(t, err)
	require.Equal(t, 1, res.Observation.Outputs["matchedRows"])

	res, err = r.Execute(context.Background(), salesRequest(&agenttypes.FilterSpreadsheet{Query: "show me something nice please"}))
	require.NoError(t, err)
	require.Equal(t, "unparseable_query", res.Observation.ErrorCode)
}

func TestUnit_Filter_NonASCIIQuery(t *testing.T) {
	r := toolexec.New(nil)

	req := salesRequest(&agenttypes.FilterSpreadsheet{Query: strings.Repeat("İ", 40) + " revenue above 5"})
	req.Rows = []dataset.Row{{"month": "jan", "revenue": 100.0}, {"month": "feb", "revenue": 10.0}}
	res, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, agenttypes.ObservationSuccess, res.Observation.Status)
	require.Equal(t, "5", res.Observation.Outputs["value"])
	require.Equal(t, 2, res.Observation.Outputs["matchedRows"])

	req = salesRequest(&agenttypes.FilterSpreadsheet{Query: "nur ÜMSATZ above 50"})
	req.Columns = []string{"month", "Ümsatz"}
	req.Rows = []dataset.Row{{"month": "jan", "Ümsatz": 100.0}, {"month": "feb", "Ümsatz": 10.0}}
	res, err = r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "Ümsatz", res.Observation.Outputs["column"])
	require.Equal(t, "50", res.Observation.Outputs["value"])
	require.Equal(t, 1, res.Observation.Outputs["matchedRows"])
}

func TestUnit_Chart_AddsCard(t *testing.T) {
	r := toolexec.New(nil)
	res, err := r.Execute(context.Background(), salesRequest(&agenttypes.CreateChart{
		ChartType: "bar",
		Title:     "Revenue by month",
		XColumn:   "month",
		YColumn:   "revenue",
	}))
	require.NoError(t, err)
	require.Equal(t, agenttypes.ObservationSuccess, res.Observation.Status)
	require.Equal(t, 3, res.Observation.Outputs["points"])

	ui := r.UIState()
	require.Len(t, ui.Cards, 1)
	require.Equal(t, "Revenue by month", ui.Cards[0].Title)
	require.Equal(t, "bar", ui.Cards[0].Kind)
	require.Equal(t, ui.Cards[0].ID, res.Observation.Outputs["cardId"])
}

func TestUnit_NonToolKinds(t *testing.T) {
	r := toolexec.New(nil)
	_, err := r.Execute(context.Background(), salesRequest(&agenttypes.TextResponse{Text: "hello"}))
	require.ErrorIs(t, err, toolexec.ErrNotATool)
}
