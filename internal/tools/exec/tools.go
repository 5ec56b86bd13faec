package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/operon/pkg/models"
)

// ExecTool runs shell commands.
type ExecTool struct {
	name    string
	manager *Manager
}

// NewExecTool creates an exec tool with the given name.
func NewExecTool(name string, manager *Manager) *ExecTool {
	if strings.TrimSpace(name) == "" {
		name = "exec"
	}
	return &ExecTool{name: name, manager: manager}
}

func (t *ExecTool) Name() string { return t.name }

// PermissionLevel requires Execute: this tool runs arbitrary shell commands.
func (t *ExecTool) PermissionLevel() models.PermissionLevel { return models.PermissionExecute }

func (t *ExecTool) Schema() models.ToolSchema {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"cwd": map[string]interface{}{
				"type":        "string",
				"description": "Working directory (relative to workspace).",
			},
			"env": map[string]interface{}{
				"type":        "object",
				"description": "Environment overrides (string values).",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Stdin content to pass to the command.",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (0 = no timeout).",
				"minimum":     0,
			},
			"background": map[string]interface{}{
				"type":        "boolean",
				"description": "Run in background and return a process id.",
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		payload = json.RawMessage(`{"type":"object"}`)
	}
	return models.ToolSchema{
		Name:        t.name,
		Description: "Run a shell command in the workspace (supports optional background execution).",
		InputSchema: payload,
	}
}

func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	if t.manager == nil {
		return nil, fmt.Errorf("exec manager unavailable")
	}
	var input struct {
		Command        string            `json:"command"`
		Cwd            string            `json:"cwd"`
		Env            map[string]string `json:"env"`
		Input          string            `json:"input"`
		TimeoutSeconds int               `json:"timeout_seconds"`
		Background     bool              `json:"background"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}

	timeout := time.Duration(input.TimeoutSeconds) * time.Second

	if input.Background {
		proc, err := t.manager.startBackground(ctx, command, input.Cwd, input.Env, input.Input, timeout)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]interface{}{
			"status":     "running",
			"process_id": proc.id,
		})
	}

	result, err := t.manager.runSync(ctx, command, input.Cwd, input.Env, input.Input, timeout)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// ProcessTool inspects and manages background exec processes.
type ProcessTool struct {
	manager *Manager
}

// NewProcessTool creates a process tool.
func NewProcessTool(manager *Manager) *ProcessTool {
	return &ProcessTool{manager: manager}
}

func (t *ProcessTool) Name() string { return "process" }

// PermissionLevel requires Execute: killing or writing to a process's stdin
// is as privileged as starting it.
func (t *ProcessTool) PermissionLevel() models.PermissionLevel { return models.PermissionExecute }

func (t *ProcessTool) Schema() models.ToolSchema {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "Action: list, status, log, write, kill, remove.",
			},
			"process_id": map[string]interface{}{
				"type":        "string",
				"description": "Process id for actions that target a process.",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Input for write action.",
			},
		},
		"required": []string{"action"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		payload = json.RawMessage(`{"type":"object"}`)
	}
	return models.ToolSchema{
		Name:        "process",
		Description: "Manage background exec processes (list, status, log, write, kill, remove).",
		InputSchema: payload,
	}
}

func (t *ProcessTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	_ = ctx
	if t.manager == nil {
		return nil, fmt.Errorf("process manager unavailable")
	}
	var input struct {
		Action    string `json:"action"`
		ProcessID string `json:"process_id"`
		Input     string `json:"input"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	action := strings.ToLower(strings.TrimSpace(input.Action))
	if action == "" {
		return nil, fmt.Errorf("action is required")
	}

	switch action {
	case "list":
		return json.Marshal(map[string]interface{}{"processes": t.manager.list()})
	case "status", "log", "write", "kill", "remove":
		if strings.TrimSpace(input.ProcessID) == "" {
			return nil, fmt.Errorf("process_id is required")
		}
		proc, ok := t.manager.get(strings.TrimSpace(input.ProcessID))
		if !ok {
			return nil, fmt.Errorf("process not found")
		}
		switch action {
		case "status":
			return json.Marshal(proc.info())
		case "log":
			return json.Marshal(map[string]interface{}{
				"stdout": proc.stdout.String(),
				"stderr": proc.stderr.String(),
				"status": proc.status(),
			})
		case "write":
			if proc.stdin == nil {
				return nil, fmt.Errorf("process stdin unavailable")
			}
			if input.Input == "" {
				return nil, fmt.Errorf("input is required")
			}
			if _, err := proc.stdin.Write([]byte(input.Input)); err != nil {
				return nil, fmt.Errorf("write stdin: %w", err)
			}
			return json.Marshal(map[string]interface{}{"status": "written"})
		case "kill":
			if proc.cmd.Process == nil {
				return nil, fmt.Errorf("process not running")
			}
			if err := proc.cmd.Process.Kill(); err != nil {
				return nil, fmt.Errorf("kill process: %w", err)
			}
			return json.Marshal(map[string]interface{}{"status": "killed"})
		case "remove":
			if proc.status() == "running" {
				return nil, fmt.Errorf("process still running")
			}
			if !t.manager.remove(proc.id) {
				return nil, fmt.Errorf("remove failed")
			}
			return json.Marshal(map[string]interface{}{"status": "removed"})
		}
	}
	return nil, fmt.Errorf("unsupported action")
}
