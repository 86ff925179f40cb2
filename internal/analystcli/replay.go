// replay.go implements `analyst replay`, driving recorded requests through the planner loop.
package analystcli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/contenox/analyst/agentsession"
	"github.com/contenox/analyst/agenttypes"
	"github.com/contenox/analyst/dataset"
	"github.com/contenox/analyst/intent"
	"github.com/contenox/analyst/modelresponder"
	"github.com/contenox/analyst/toolexec"
	"github.com/contenox/analyst/workflow"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// replayFile is a replay script: the workspace, the user requests, and the
// model turns to play back. turns is ignored with --live.
type replayFile struct {
	Session  string             `yaml:"session"`
	Dataset  datasetSource      `yaml:"dataset"`
	Cards    []agenttypes.Card  `yaml:"cards"`
	Requests []replayRequest    `yaml:"requests"`
	Turns    [][]map[string]any `yaml:"turns"`
}

type datasetSource struct {
	Name    string           `yaml:"name"`
	CSV     string           `yaml:"csv"`
	Columns []string         `yaml:"columns"`
	Rows    []map[string]any `yaml:"rows"`
}

type replayRequest struct {
	Message string `yaml:"message"`
	// Answers are given, in order, to clarifications the run pauses on.
	Answers []string `yaml:"answers"`
	// Transforms is "approve" or "discard"; empty leaves a staged change pending.
	Transforms string `yaml:"transforms"`
}

var replayCmd = &cobra.Command{
	Use:   "replay <script.yaml>",
	Short: "Replay user requests against recorded model turns (or a live model).",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().Bool("live", false, "Ask the configured Ollama model instead of the recorded turns")
	replayCmd.Flags().String("session", "", "Session id (overrides the script)")
}

func loadReplay(path string) (replayFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return replayFile{}, err
	}
	var f replayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return replayFile{}, fmt.Errorf("parse replay %s: %w", path, err)
	}
	if len(f.Requests) == 0 {
		return replayFile{}, fmt.Errorf("replay %s: no requests", path)
	}
	return f, nil
}

// load builds the dataset; a relative csv path is resolved against dir.
func (d datasetSource) load(dir string) (*dataset.Dataset, error) {
	name := d.Name
	if name == "" {
		name = "dataset"
	}
	if d.CSV != "" {
		p := d.CSV
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return dataset.FromCSV(name, f)
	}
	rows := make([]dataset.Row, 0, len(d.Rows))
	for _, r := range d.Rows {
		rows = append(rows, dataset.Row(r))
	}
	cols := d.Columns
	if len(cols) == 0 {
		cols = dataset.InferColumns(rows, nil)
	}
	return dataset.New(name, cols, rows), nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	script, err := loadReplay(args[0])
	if err != nil {
		return err
	}
	if id, _ := cmd.Flags().GetString("session"); id != "" {
		script.Session = id
	}
	if script.Session == "" {
		script.Session = agenttypes.NewID("session")
	}
	data, err := script.Dataset.load(filepath.Dir(args[0]))
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	ctx, cancel := commandContext(cfg)
	defer cancel()

	e, err := openEngine(ctx, cfg, configPath, traceEnabled(cmd))
	if err != nil {
		return err
	}
	defer e.Close()

	var responder modelresponder.Responder
	if live, _ := cmd.Flags().GetBool("live"); live {
		if responder, err = e.liveResponder(); err != nil {
			return err
		}
	} else {
		if responder, err = modelresponder.FromScript(modelresponder.Script{Turns: script.Turns}); err != nil {
			return err
		}
	}

	tools := toolexec.New(e.tracker, script.Cards...)
	s, err := e.session(ctx, script.Session, agentsession.WithDataset(data), agentsession.WithCards(script.Cards...))
	if err != nil {
		return err
	}
	w := workflow.New(cfg.workflowConfig(), responder, tools,
		workflow.WithClassifier(intent.Keywords{}),
		workflow.WithDB(e.db),
		workflow.WithTracker(e.tracker),
		workflow.WithMetrics(e.metrics),
		workflow.WithTokenCounter(e.counter),
	)

	out := cmd.OutOrStdout()
	for i, req := range script.Requests {
		slog.Debug("Replaying request", "index", i, "message", req.Message)
		printUser(out, req.Message)
		rep, err := drive(ctx, out, w, s, req)
		printReport(out, rep)
		if err != nil {
			return fmt.Errorf("request %d: %w", i+1, err)
		}
	}
	fmt.Fprintf(out, "session %s: %d messages, %d cards, %d rows\n", s.ID, len(s.History()), len(tools.UIState().Cards), s.Data.Len())
	return nil
}

// drive runs one request, answering clarifications and transform approvals
// from the script until the run ends or the script has no answer.
func drive(ctx context.Context, out io.Writer, w *workflow.Workflow, s *agentsession.Session, req replayRequest) (workflow.Report, error) {
	rep, err := w.Run(ctx, s, req.Message)
	answers := req.Answers
	for err == nil {
		switch {
		case rep.State == workflow.AwaitingClarification && rep.Clarification != nil && len(answers) > 0:
			printReport(out, rep)
			rep, err = w.ResolveClarification(ctx, s, rep.Clarification.ID, answers[0])
			answers = answers[1:]
		case rep.State == workflow.AwaitingApproval && req.Transforms != "":
			printReport(out, rep)
			rep, err = w.ResolveTransform(ctx, s, req.Transforms == "approve")
		default:
			return rep, nil
		}
	}
	return rep, err
}
