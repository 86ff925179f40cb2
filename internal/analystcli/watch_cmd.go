// watch_cmd.go implements `trace watch`, which follows a session's live events on NATS.
package analystcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/ledger"
	"github.com/contenox/analyst/libbus"
	"github.com/spf13/cobra"
)

var traceWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print a session's trace and plan events as another process publishes them.",
	Long: `Follows the trace and plan subjects of one session on the NATS server given by
--nats-url until interrupted or --timeout passes.`,
	Args: cobra.NoArgs,
	RunE: runTraceWatch,
}

func init() {
	traceWatchCmd.Flags().String("session", "", "Session id")
	_ = traceWatchCmd.MarkFlagRequired("session")
	traceCmd.AddCommand(traceWatchCmd)
}

func runTraceWatch(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd, func(ctx context.Context, e *engine, id string) error {
		if e.cfg.NATSURL == "" {
			return errors.New("trace watch needs --nats-url; the in-memory bus only sees this process")
		}
		w, err := watchSession(ctx, e.bus, id)
		if err != nil {
			return err
		}
		defer w.close()
		fmt.Fprintf(cmd.OutOrStdout(), "watching session %s\n", id)
		w.print(ctx, cmd.OutOrStdout())
		return nil
	})
}

// sessionWatch holds the bus subscriptions for one session.
type sessionWatch struct {
	traces chan []byte
	plans  chan []byte
	subs   []libbus.Subscription
}

func watchSession(ctx context.Context, bus libbus.Messenger, sessionID string) (*sessionWatch, error) {
	w := &sessionWatch{traces: make(chan []byte, 64), plans: make(chan []byte, 16)}
	for subject, ch := range map[string]chan []byte{
		ledger.TraceSubject(sessionID): w.traces,
		ledger.PlanSubject(sessionID):  w.plans,
	} {
		sub, err := bus.Stream(ctx, subject, ch)
		if err != nil {
			w.close()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		w.subs = append(w.subs, sub)
	}
	return w, nil
}

// print writes one line per event until ctx is done, then writes whatever is
// still buffered.
func (w *sessionWatch) print(ctx context.Context, out io.Writer) {
	for {
		select {
		case msg := <-w.traces:
			printTraceEvent(out, msg)
		case msg := <-w.plans:
			printPlanEvent(out, msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-w.traces:
					printTraceEvent(out, msg)
				case msg := <-w.plans:
					printPlanEvent(out, msg)
				default:
					return
				}
			}
		}
	}
}

func (w *sessionWatch) close() {
	for _, sub := range w.subs {
		_ = sub.Unsubscribe()
	}
}

func printTraceEvent(out io.Writer, msg []byte) {
	var tr agenttypes.ActionTrace
	if err := json.Unmarshal(msg, &tr); err != nil {
		slog.Warn("Skipping undecodable trace event", "error", err)
		return
	}
	kind := string(tr.ActionType)
	if kind == "" {
		kind = tr.Source
	}
	fmt.Fprintf(out, "%s  trace  %-22s %-10s %s\n", tr.Timestamp.Format(time.TimeOnly), kind, tr.Status, tr.Summary)
}

func printPlanEvent(out io.Writer, msg []byte) {
	var plan agenttypes.PlanState
	if err := json.Unmarshal(msg, &plan); err != nil {
		slog.Warn("Skipping undecodable plan event", "error", err)
		return
	}
	fmt.Fprintf(out, "%s  plan   %-22s step %s: %s\n", plan.UpdatedAt.Format(time.TimeOnly), plan.Goal, plan.CurrentStepID, plan.Progress)
}
