package toolexec

import (
	"context"
	"errors"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/dataset"
	"github.com/contenox/analyst/jseval"
)

// transform runs the body and reports the delta. The result is returned for
// staging and never applied here.
func (r *Registry) transform(ctx context.Context, req Request, p *agenttypes.ExecuteJSCode) Result {
	in := make([]map[string]any, len(req.Rows))
	for i, row := range req.Rows {
		in[i] = row
	}
	out, err := r.js.RunTransform(ctx, p.Code, req.Columns, in)
	if err != nil {
		code := "transform_failed"
		switch {
		case errors.Is(err, jseval.ErrNotArray), errors.Is(err, jseval.ErrRowNotObject):
			code = "non_array_result"
		case errors.Is(err, context.DeadlineExceeded):
			code = "transform_timeout"
		}
		return failure(code, err)
	}

	rows := make([]dataset.Row, len(out.Rows))
	for i, row := range out.Rows {
		rows[i] = row
	}
	columns := dataset.InferColumns(rows, req.Columns)
	delta := dataset.Diff(req.Columns, req.Rows, columns, rows)
	if delta.Empty() {
		return failure("no_observable_changes", dataset.ErrNoObservableChange)
	}

	outputs := delta.Map()
	outputs["logs"] = len(out.Logs)
	return Result{
		Observation: agenttypes.Observation{Status: agenttypes.ObservationPending, Outputs: outputs},
		Transformed: &Table{Columns: columns, Rows: rows},
	}
}
