package exec

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestExecToolRunsCommand(t *testing.T) {
	mgr := NewManager(t.TempDir())
	tool := NewExecTool("exec", mgr)
	params, _ := json.Marshal(map[string]interface{}{
		"command": "echo hello",
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(string(result), "hello") {
		t.Fatalf("expected stdout in result: %s", result)
	}
}

func TestExecToolSchemaRequiresCommand(t *testing.T) {
	tool := NewExecTool("exec", NewManager(t.TempDir()))
	schema := tool.Schema()
	if schema.Name != "exec" {
		t.Fatalf("Name = %q, want exec", schema.Name)
	}
	var parsed struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema.InputSchema, &parsed); err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	if len(parsed.Required) != 1 || parsed.Required[0] != "command" {
		t.Fatalf("required = %v, want [command]", parsed.Required)
	}
}

func TestExecToolMissingCommandErrors(t *testing.T) {
	tool := NewExecTool("exec", NewManager(t.TempDir()))
	params, _ := json.Marshal(map[string]interface{}{})
	if _, err := tool.Execute(context.Background(), params); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestProcessToolLifecycle(t *testing.T) {
	mgr := NewManager(t.TempDir())
	execTool := NewExecTool("exec", mgr)
	procTool := NewProcessTool(mgr)

	params, _ := json.Marshal(map[string]interface{}{
		"command":    "echo background",
		"background": true,
	})
	result, err := execTool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	var payload struct {
		ProcessID string `json:"process_id"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if payload.ProcessID == "" {
		t.Fatalf("expected process_id")
	}

	time.Sleep(50 * time.Millisecond)
	statusParams, _ := json.Marshal(map[string]interface{}{
		"action":     "status",
		"process_id": payload.ProcessID,
	})
	if _, err := procTool.Execute(context.Background(), statusParams); err != nil {
		t.Fatalf("status: %v", err)
	}

	removeParams, _ := json.Marshal(map[string]interface{}{
		"action":     "remove",
		"process_id": payload.ProcessID,
	})
	if _, err := procTool.Execute(context.Background(), removeParams); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestProcessToolUnknownProcessErrors(t *testing.T) {
	mgr := NewManager(t.TempDir())
	procTool := NewProcessTool(mgr)
	params, _ := json.Marshal(map[string]interface{}{
		"action":     "status",
		"process_id": "ghost",
	})
	if _, err := procTool.Execute(context.Background(), params); err == nil {
		t.Fatal("expected error for unknown process")
	}
}
