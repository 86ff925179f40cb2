package jseval_test

import (
	"context"
	"testing"
	"time"

	"github.com/contenox/analyst/jseval"
	"github.com/stretchr/testify/require"
)

func rows() []map[string]any {
	return []map[string]any{
		{"month": "jan", "revenue": 100.0},
		{"month": "feb", "revenue": 80.0},
	}
}

func TestUnit_RunTransform_FiltersRows(t *testing.T) {
	env := jseval.NewEnv(nil, jseval.DefaultBuiltins())
	res, err := env.RunTransform(context.Background(),
		`console.log("columns", columns.length); return rows.filter(function(r) { return r.revenue > 90; });`,
		[]string{"month", "revenue"}, rows())
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "jan", res.Rows[0]["month"])
	require.Equal(t, 100.0, res.Rows[0]["revenue"])
	require.Len(t, res.Logs, 1)
	require.Equal(t, "console", res.Logs[0].Kind)
}

func TestUnit_RunTransform_DoesNotMutateInput(t *testing.T) {
	in := rows()
	env := jseval.NewEnv(nil, jseval.DefaultBuiltins())
	_, err := env.RunTransform(context.Background(),
		`rows.forEach(function(r) { r.revenue = 0; }); return rows;`, nil, in)
	require.NoError(t, err)
	require.Equal(t, 100.0, in[0]["revenue"])
}

func TestUnit_RunTransform_Errors(t *testing.T) {
	env := jseval.NewEnv(nil, jseval.DefaultBuiltins())
	ctx := context.Background()

	_, err := env.RunTransform(ctx, `return 5;`, nil, rows())
	require.ErrorIs(t, err, jseval.ErrNotArray)

	_, err = env.RunTransform(ctx, `rows.length;`, nil, rows())
	require.ErrorIs(t, err, jseval.ErrNotArray)

	_, err = env.RunTransform(ctx, `return [1, 2];`, nil, rows())
	require.ErrorIs(t, err, jseval.ErrRowNotObject)

	_, err = env.RunTransform(ctx, `throw new Error("boom");`, nil, rows())
	require.ErrorContains(t, err, "boom")
}

func TestUnit_RunTransform_Timeout(t *testing.T) {
	env := jseval.NewEnv(nil, jseval.DefaultBuiltins()).WithTimeout(50 * time.Millisecond)
	_, err := env.RunTransform(context.Background(), `while (true) {}`, nil, rows())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnit_GroupByBuiltin(t *testing.T) {
	env := jseval.NewEnv(nil, jseval.DefaultBuiltins())
	res, err := env.RunTransform(context.Background(), `
		var g = groupBy(rows, "month");
		return Object.keys(g).map(function(k) { return { month: k, n: g[k].length }; });`,
		nil, rows())
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.Equal(t, 1.0, res.Rows[0]["n"])
}
