// output.go holds CLI output helpers.
package analystcli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/workflow"
)

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printUser(w io.Writer, msg string) {
	fmt.Fprintf(w, "> %s\n", msg)
}

// printReport prints what a run said and did.
func printReport(w io.Writer, rep workflow.Report) {
	for _, m := range rep.Messages {
		if m.Role != agenttypes.RoleAssistant {
			continue
		}
		prefix := "  "
		if m.Error {
			prefix = "! "
		}
		fmt.Fprintf(w, "%s%s\n", prefix, m.Content)
	}
	for _, o := range rep.Observations {
		fmt.Fprintf(w, "  [%s %s] %s\n", o.ResponseType, o.Status, outputsLine(o))
	}
	line := fmt.Sprintf("  -- %s after %d turn(s)", rep.State, rep.Turns)
	if rep.Plan != nil {
		line += fmt.Sprintf(", plan %q step %s", rep.Plan.Goal, rep.Plan.CurrentStepID)
	}
	fmt.Fprintln(w, line)
	if q := rep.Clarification; q != nil && rep.State == workflow.AwaitingClarification {
		labels := make([]string, 0, len(q.Options))
		for _, o := range q.Options {
			labels = append(labels, o.Label)
		}
		fmt.Fprintf(w, "  ? %s [%s]\n", q.Question, strings.Join(labels, " | "))
	}
	if c := rep.PendingChange; c != nil {
		fmt.Fprintf(w, "  ~ pending change %s: %d -> %d rows\n", c.ID, c.Delta.RowsBefore, c.Delta.RowsAfter)
	}
}

func outputsLine(o agenttypes.Observation) string {
	if o.Failed() {
		return o.ErrorCode + ": " + o.ErrorMessage
	}
	if len(o.Outputs) == 0 {
		return ""
	}
	b, err := json.Marshal(o.Outputs)
	if err != nil {
		return fmt.Sprint(o.Outputs)
	}
	return string(b)
}
