// validate_cmd.go implements `analyst validate`, one orchestrator pass over a proposed batch.
package analystcli

import (
	"fmt"
	"os"
	"strings"

	"github.com/contenox/analyst/agentsession"
	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/dataset"
	"github.com/contenox/analyst/intent"
	"github.com/contenox/analyst/modelresponder"
	"github.com/contenox/analyst/turnorchestrator"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <batch.json>",
	Short: "Run one guard and validation pass over a proposed action batch.",
	Long: `Reads a batch ({"actions": [...]}, a bare array or one action) and prints the
accepted actions, repairs and rejections. Nothing is executed or persisted.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	fl := validateCmd.Flags()
	fl.StringP("message", "m", "", "User message the batch answers")
	fl.String("session", "", "Start from a persisted session's plan and history")
	fl.String("csv", "", "Dataset to validate column references against")
	fl.StringArray("card", nil, "Board card as id=title (repeatable)")
}

type validateOutput struct {
	Outcome      turnorchestrator.Outcome         `json:"outcome"`
	Instructions string                           `json:"instructions,omitempty"`
	Actions      []agenttypes.Action              `json:"actions,omitempty"`
	Deferred     []agenttypes.Action              `json:"deferred,omitempty"`
	Events       []agenttypes.ValidationEvent     `json:"events,omitempty"`
	Plan         *agenttypes.PlanState            `json:"plan,omitempty"`
	Intent       *agenttypes.DetectedIntent       `json:"intent,omitempty"`
	Clarify      *agenttypes.ClarificationRequest `json:"clarification,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	env, err := modelresponder.DecodeReply(string(raw))
	if err != nil {
		return err
	}

	fl := cmd.Flags()
	message, _ := fl.GetString("message")
	sessionID, _ := fl.GetString("session")
	csvPath, _ := fl.GetString("csv")
	cardFlags, _ := fl.GetStringArray("card")

	cards, err := parseCards(cardFlags)
	if err != nil {
		return err
	}
	opts := []agentsession.Option{agentsession.WithCards(cards...)}
	if csvPath != "" {
		f, err := os.Open(csvPath)
		if err != nil {
			return err
		}
		data, err := dataset.FromCSV(csvPath, f)
		f.Close()
		if err != nil {
			return err
		}
		opts = append(opts, agentsession.WithDataset(data))
	}

	var s *agentsession.Session
	if sessionID != "" {
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
		if s, err = e.session(ctx, sessionID, opts...); err != nil {
			return err
		}
	} else {
		s = agentsession.New(agenttypes.NewID("session"), opts...)
	}

	detected, err := intent.Keywords{}.Classify(cmd.Context(), message, s.UI)
	if err != nil {
		return err
	}
	s.BeginRequest(message, detected)

	turn, err := turnorchestrator.New().ProcessTurn(cmd.Context(), s, env.Actions)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), validateOutput{
		Outcome:      turn.Outcome,
		Instructions: turn.Instructions,
		Actions:      turn.Actions,
		Deferred:     turn.Deferred,
		Events:       turn.Events,
		Plan:         turn.Plan,
		Intent:       detected,
		Clarify:      turn.Clarification,
	})
}

func parseCards(pairs []string) ([]agenttypes.Card, error) {
	cards := make([]agenttypes.Card, 0, len(pairs))
	for _, pair := range pairs {
		id, title, ok := strings.Cut(pair, "=")
		if !ok || id == "" || title == "" {
			return nil, fmt.Errorf("invalid --card %q, want id=title", pair)
		}
		cards = append(cards, agenttypes.Card{ID: id, Title: title})
	}
	return cards, nil
}
