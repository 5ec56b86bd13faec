package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/operon/internal/agent"
	"github.com/haasonsaas/operon/internal/config"
	"github.com/haasonsaas/operon/pkg/models"
)

func buildRunPlanCmd() *cobra.Command {
	var (
		configPath    string
		planPath      string
		recordDir     string
		replayDir     string
		executionMode string
		workspaceDir  string
	)

	cmd := &cobra.Command{
		Use:   "run-plan",
		Short: "Execute a JSON plan of tool-call steps",
		Long: `run-plan loads a JSON plan file and drives it through the tool-policy
pipeline and scheduler: steps with no depends_on run sequentially in order,
steps that declare dependencies run leveled as a DAG.`,
		Example: `  operon run-plan --file plan.json
  operon run-plan --file plan.json --record ./fixtures/run-1
  operon run-plan --file plan.json --replay ./fixtures/run-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if recordDir != "" && replayDir != "" {
				return fmt.Errorf("--record and --replay are mutually exclusive")
			}

			plan, err := loadPlan(planPath)
			if err != nil {
				return err
			}

			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			dryRun, err := resolveExecutionMode(executionMode, cfg.Tools.Execution.DryRun)
			if err != nil {
				return err
			}
			cfg.Tools.Execution.DryRun = dryRun

			logger := slogFromConfig(cfg.Logging)

			var execCtx *agent.ExecutionContext
			switch {
			case recordDir != "":
				execCtx = &agent.ExecutionContext{Mode: agent.ExecutionRecord, Dir: recordDir}
			case replayDir != "":
				execCtx = &agent.ExecutionContext{Mode: agent.ExecutionReplay, Dir: replayDir}
			}

			runtime := buildRuntime(cfg.Tools, workspaceDir, logger, execCtx)

			sessionID := uuid.NewString()
			result, err := runtime.RunPlan(cmd.Context(), sessionID, plan, models.PermissionExecute)
			if err != nil {
				return fmt.Errorf("run plan: %w", err)
			}

			return printPlanResult(cmd, result)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: operon.yaml)")
	cmd.Flags().StringVar(&planPath, "file", "", "Path to the JSON plan file (required)")
	cmd.Flags().StringVar(&recordDir, "record", "", "Record this run's tool outputs as a fixture into this directory")
	cmd.Flags().StringVar(&replayDir, "replay", "", "Replay tool outputs from a fixture in this directory instead of executing live")
	cmd.Flags().StringVar(&executionMode, "execution-mode", "auto", "One of: auto, dry-run, execute")
	cmd.Flags().StringVar(&workspaceDir, "workspace", ".", "Working directory for exec/process tools")
	cmd.MarkFlagRequired("file")

	return cmd
}

func loadPlan(path string) (models.Plan, error) {
	if path == "" {
		return models.Plan{}, fmt.Errorf("--file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Plan{}, fmt.Errorf("read plan file: %w", err)
	}
	var plan models.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return models.Plan{}, fmt.Errorf("parse plan file: %w", err)
	}
	return plan, nil
}

// resolveExecutionMode reconciles --execution-mode with the config's
// tools.execution.dry_run: "auto" leaves the config's own setting alone,
// "dry-run" and "execute" pin it one way or the other.
func resolveExecutionMode(mode string, configDryRun bool) (bool, error) {
	switch mode {
	case "auto", "":
		return configDryRun, nil
	case "dry-run":
		return true, nil
	case "execute":
		return false, nil
	default:
		return false, fmt.Errorf("invalid --execution-mode %q: must be auto, dry-run, or execute", mode)
	}
}

type stepResultView struct {
	Index      int             `json:"index"`
	ID         string          `json:"id"`
	Tool       string          `json:"tool"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

func printPlanResult(cmd *cobra.Command, result *agent.PlanResult) error {
	view := struct {
		PlanID string           `json:"plan_id"`
		Steps  []stepResultView `json:"steps"`
	}{PlanID: result.PlanID}

	for _, step := range result.Steps {
		sv := stepResultView{
			Index:      step.Index,
			ID:         step.ID,
			Tool:       step.Tool,
			Output:     step.Output,
			DurationMs: step.DurationMs,
		}
		if step.Err != nil {
			sv.Error = step.Err.Error()
		}
		view.Steps = append(view.Steps, sv)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
