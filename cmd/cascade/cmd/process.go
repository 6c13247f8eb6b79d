package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/cascade/internal/core/db"
	"github.com/solatis/cascade/internal/core/pipeline"
	"github.com/solatis/cascade/internal/dispatch"
	"github.com/solatis/cascade/internal/metrics"
	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/types"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one event through the rules and print the audit trail",
	Long: `Reads a JSON payload object from --file (or stdin), wraps it in an event
of --type and processes it synchronously. With --dry-run nothing is dispatched.`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().String("type", "", "event type (required)")
	processCmd.Flags().String("file", "-", "payload JSON file, - for stdin")
	processCmd.Flags().Bool("dry-run", false, "evaluate rules without dispatching")
	processCmd.Flags().String("rules-dir", "", "rules directory (overrides engine.rules_dir)")
	_ = processCmd.MarkFlagRequired("type")
}

type auditRequest struct {
	Rule        string      `json:"rule"`
	ActionIndex int         `json:"action_index"`
	ExecutorID  string      `json:"executor_id"`
	Payload     types.Value `json:"payload"`
	Gaps        []string    `json:"gaps,omitempty"`
}

type auditTrail struct {
	EventID        string              `json:"event_id"`
	Generation     uint64              `json:"generation"`
	Matched        []string            `json:"matched"`
	Rules          []rules.RuleOutcome `json:"rules"`
	Requests       []auditRequest      `json:"requests"`
	DispatchErrors []string            `json:"dispatch_errors,omitempty"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("rules-dir") {
		cfg.Engine.RulesDir, _ = cmd.Flags().GetString("rules-dir")
	}
	logger := newLogger(cfg)

	eventType, _ := cmd.Flags().GetString("type")
	file, _ := cmd.Flags().GetString("file")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	payload, err := readPayload(cmd.InOrStdin(), file)
	if err != nil {
		return err
	}

	var queries *db.Queries
	if cfg.DB.URL != "" {
		database, q, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		queries = q
	}

	ctx := cmd.Context()
	m := metrics.New()
	rt, err := newRuntime(ctx, cfg, queries, m, logger)
	if err != nil {
		return err
	}

	m.IncReceived("cli")
	res, err := rt.pipeline.Process(ctx, types.NewEvent(eventType, payload), pipeline.Options{SkipActions: dryRun})
	shutdownErr := rt.pipeline.Shutdown(context.Background())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(newAuditTrail(res)); err != nil {
		return err
	}
	if res.DispatchErr != nil {
		return res.DispatchErr
	}
	return shutdownErr
}

func readPayload(stdin io.Reader, file string) (types.Value, error) {
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return types.Value{}, fmt.Errorf("reading payload: %w", err)
	}
	payload, err := types.ParseJSON(data)
	if err != nil {
		return types.Value{}, fmt.Errorf("parsing payload: %w", err)
	}
	if payload.Kind() != types.KindObject {
		return types.Value{}, types.ErrPayloadNotObject
	}
	return payload, nil
}

func newAuditTrail(res *pipeline.Result) auditTrail {
	p := res.Processed
	trail := auditTrail{
		EventID:    string(p.Event.ID),
		Generation: p.Generation,
		Matched:    p.Matched(),
		Rules:      p.Rules,
		Requests:   make([]auditRequest, 0, len(p.Requests)),
	}
	if trail.Matched == nil {
		trail.Matched = []string{}
	}
	for _, r := range p.Requests {
		trail.Requests = append(trail.Requests, auditRequest{
			Rule:        r.Rule,
			ActionIndex: r.ActionIndex,
			ExecutorID:  r.ExecutorID,
			Payload:     r.Payload,
			Gaps:        r.Gaps,
		})
	}
	for _, e := range dispatch.Errors(res.DispatchErr) {
		trail.DispatchErrors = append(trail.DispatchErrors, e.Error())
	}
	return trail
}
