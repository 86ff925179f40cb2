// inspect_cmd.go implements the read-only `plan`, `trace` and `session` commands.
package analystcli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/contenox/analyst/ledger"
	"github.com/contenox/analyst/messagestore"
	"github.com/contenox/analyst/planstore"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect persisted plans.",
}

var planShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a session's current plan.",
	Args:  cobra.NoArgs,
	RunE:  runPlanShow,
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect persisted action traces.",
}

var traceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a session's action traces, observations and validation events.",
	Args:  cobra.NoArgs,
	RunE:  runTraceList,
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "List persisted sessions, or print one session's messages with --session.",
	Args:  cobra.NoArgs,
	RunE:  runSession,
}

func init() {
	for _, c := range []*cobra.Command{planShowCmd, traceListCmd, sessionCmd} {
		c.Flags().String("session", "", "Session id")
	}
	_ = planShowCmd.MarkFlagRequired("session")
	_ = traceListCmd.MarkFlagRequired("session")
	planShowCmd.Flags().Bool("history", false, "Also print replaced plan snapshots")
	traceListCmd.Flags().Bool("json", false, "Print JSON instead of a table")
}

// withEngine opens the engine for a read-only command.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine, sessionID string) error) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cfg)
	defer cancel()
	e, err := openEngine(ctx, cfg, configPath, traceEnabled(cmd))
	if err != nil {
		return err
	}
	defer e.Close()
	id, _ := cmd.Flags().GetString("session")
	return fn(ctx, e, id)
}

func runPlanShow(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd, func(ctx context.Context, e *engine, id string) error {
		store := planstore.New(e.db.WithoutTransaction())
		plan, err := store.GetLatest(ctx, id)
		if errors.Is(err, planstore.ErrNotFound) {
			fmt.Fprintf(cmd.OutOrStdout(), "session %s has no plan\n", id)
			return nil
		}
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), plan); err != nil {
			return err
		}
		if history, _ := cmd.Flags().GetBool("history"); !history {
			return nil
		}
		replaced, err := store.ListHistory(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), replaced)
	})
}

func runTraceList(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd, func(ctx context.Context, e *engine, id string) error {
		store := ledger.NewStore(e.db.WithoutTransaction())
		traces, err := store.ListTraces(ctx, id)
		if err != nil {
			return err
		}
		observations, err := store.ListObservations(ctx, id)
		if err != nil {
			return err
		}
		events, err := store.ListEvents(ctx, id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(out, map[string]any{"traces": traces, "observations": observations, "events": events})
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tTYPE\tSTATUS\tSOURCE\tSUMMARY")
		for _, tr := range traces {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", tr.Timestamp.Format(time.TimeOnly), tr.ActionType, tr.Status, tr.Source, tr.Summary)
		}
		if len(events) > 0 {
			fmt.Fprintln(tw, "\nTIME\tTYPE\tEVENT\tINDEX\t")
			for _, ev := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t\n", ev.Timestamp.Format(time.TimeOnly), ev.ActionType, ev.Reason, ev.ActionIndex)
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d traces, %d observations, %d validation events\n", len(traces), len(observations), len(events))
		return nil
	})
}

func runSession(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd, func(ctx context.Context, e *engine, id string) error {
		store := messagestore.New(e.db.WithoutTransaction())
		out := cmd.OutOrStdout()
		if id == "" {
			sessions, err := store.ListSessions(ctx)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				n, err := store.CountMessages(ctx, s.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%s\t%d messages\n", s.ID, s.CreatedAt.Format(time.DateTime), n)
			}
			return nil
		}
		msgs, err := store.ListMessages(ctx, id)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
		}
		return nil
	})
}
