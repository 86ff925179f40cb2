package contextbundle_test

import (
	"strings"
	"testing"

	"github.com/contenox/analyst/agentsession"
	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/contextbundle"
	"github.com/contenox/analyst/dataset"
	"github.com/contenox/analyst/guard"
	"github.com/stretchr/testify/require"
)

func session() *agentsession.Session {
	data := dataset.New("sales", []string{"month", "revenue"}, []dataset.Row{
		{"month": "jan", "revenue": 100.0},
		{"month": "feb", "revenue": 80.0},
	})
	return agentsession.New("s1",
		agentsession.WithDataset(data),
		agentsession.WithCards(agenttypes.Card{ID: "card-1", Title: "Revenue"}),
	)
}

func TestUnit_Build_CollectsSessionView(t *testing.T) {
	s := session()
	s.BeginRequest("chart revenue by month", &agenttypes.DetectedIntent{Intent: "create_chart", Confidence: 0.9})

	b := contextbundle.NewBuilder(nil, 0).Build(s, []string{"fix the query"})
	require.Len(t, b.History, 1)
	require.Nil(t, b.Plan)
	require.Equal(t, "create_chart", b.Intent.Intent)
	require.Len(t, b.Columns, 2)
	require.Len(t, b.Sample, 2)
	require.Len(t, b.UI.Cards, 1)
	require.Equal(t, []string{"fix the query"}, b.Instructions)
	require.Equal(t, guard.TurnBudget, b.TurnBudget)
	require.True(t, guard.WellFormed(b.NextStateTag))
	require.Positive(t, b.Tokens)
}

func TestUnit_Build_TrimsOldestHistory(t *testing.T) {
	s := session()
	for i := 0; i < 20; i++ {
		s.AppendMessage(agenttypes.Message{Role: agenttypes.RoleAssistant, Content: strings.Repeat("word ", 50)})
	}
	s.BeginRequest("latest question", nil)

	counter := contextbundle.CounterFunc(func(text string) int { return len(text) })
	full := contextbundle.NewBuilder(counter, 0).Build(s, nil)
	require.Len(t, full.History, 21)

	trimmed := contextbundle.NewBuilder(counter, full.Tokens/2).Build(s, nil)
	require.Less(t, len(trimmed.History), 21)
	require.Positive(t, trimmed.Trimmed)
	require.LessOrEqual(t, trimmed.Tokens, full.Tokens/2)
	require.Equal(t, "latest question", trimmed.History[len(trimmed.History)-1].Content)
	require.Len(t, s.History(), 21, "building never mutates the session")
}

func TestUnit_TokenCounter(t *testing.T) {
	c, err := contextbundle.NewTokenCounter("not-a-real-model")
	require.NoError(t, err)
	require.Positive(t, c.Count("how many rows have revenue above 100?"))
}
