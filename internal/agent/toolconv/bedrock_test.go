package toolconv

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/haasonsaas/operon/pkg/models"
)

func TestToBedrockToolsEmpty(t *testing.T) {
	if got := ToBedrockTools(nil); got != nil {
		t.Fatalf("expected nil ToolConfiguration for no tools, got %#v", got)
	}
}

func TestToBedrockToolsConvertsSchema(t *testing.T) {
	tools := []models.ToolSchema{
		{
			Name:        "get_weather",
			Description: "Look up the current weather for a city.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
		},
	}

	cfg := ToBedrockTools(tools)
	if cfg == nil || len(cfg.Tools) != 1 {
		t.Fatalf("expected one bedrock tool, got %#v", cfg)
	}

	spec, ok := cfg.Tools[0].(*types.ToolMemberToolSpec)
	if !ok {
		t.Fatalf("expected *types.ToolMemberToolSpec, got %T", cfg.Tools[0])
	}
	if got := *spec.Value.Name; got != "get_weather" {
		t.Errorf("Name = %q, want get_weather", got)
	}
	if got := *spec.Value.Description; got != tools[0].Description {
		t.Errorf("Description = %q, want %q", got, tools[0].Description)
	}
	if spec.Value.InputSchema == nil {
		t.Error("expected InputSchema to be set")
	}
}

func TestToBedrockToolsInvalidSchemaFallsBack(t *testing.T) {
	tools := []models.ToolSchema{
		{Name: "broken", Description: "has invalid schema json", InputSchema: json.RawMessage(`not json`)},
	}

	cfg := ToBedrockTools(tools)
	spec, ok := cfg.Tools[0].(*types.ToolMemberToolSpec)
	if !ok {
		t.Fatalf("expected *types.ToolMemberToolSpec, got %T", cfg.Tools[0])
	}
	if spec.Value.InputSchema == nil {
		t.Error("expected a fallback InputSchema even when unmarshal fails")
	}
}
