package providers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/operon/internal/agent"
	"github.com/haasonsaas/operon/pkg/models"
)

type fakeBedrockRuntime struct {
	output *bedrockruntime.ConverseOutput
	err    error
}

func (f *fakeBedrockRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return f.output, f.err
}

func (f *fakeBedrockRuntime) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, f.err
}

func TestBedrockGenerateText(t *testing.T) {
	fake := &fakeBedrockRuntime{
		output: &bedrockruntime.ConverseOutput{
			Output: &types.ConverseOutputMemberMessage{
				Value: types.Message{Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: "hello there"},
				}},
			},
			StopReason: types.StopReasonEndTurn,
			Usage:      &types.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(5)},
		},
	}
	p := &BedrockProvider{runtime: fake, model: "anthropic.claude-3-sonnet-20240229-v1:0"}

	resp, err := p.Generate(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: models.NewTextContent("hi")},
	}, nil, agent.DefaultGenerateConfig())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content.Text != "hello there" {
		t.Errorf("Content.Text = %q, want %q", resp.Content.Text, "hello there")
	}
	if resp.StopReason != models.StopEndTurn {
		t.Errorf("StopReason = %q, want end_turn", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("Usage = %+v, want {10 5}", resp.Usage)
	}
}

func TestBedrockGenerateToolCall(t *testing.T) {
	fake := &fakeBedrockRuntime{
		output: &bedrockruntime.ConverseOutput{
			Output: &types.ConverseOutputMemberMessage{
				Value: types.Message{Content: []types.ContentBlock{
					&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
						ToolUseId: aws.String("call_1"),
						Name:      aws.String("get_weather"),
					}},
				}},
			},
			StopReason: types.StopReasonToolUse,
		},
	}
	p := &BedrockProvider{runtime: fake, model: "m"}

	resp, err := p.Generate(context.Background(), nil, nil, agent.DefaultGenerateConfig())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.StopReason != models.StopToolUse {
		t.Errorf("StopReason = %q, want tool_use", resp.StopReason)
	}
	calls := resp.Content.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Name != "get_weather" {
		t.Errorf("unexpected tool calls: %+v", calls)
	}
}

func TestBedrockBlocksFromToolResult(t *testing.T) {
	c := models.NewToolResultContent("call_1", "get_weather", "72F", false)
	blocks := bedrockBlocksFrom(c)
	if len(blocks) != 1 {
		t.Fatalf("expected one block, got %d", len(blocks))
	}
	tr, ok := blocks[0].(*types.ContentBlockMemberToolResult)
	if !ok {
		t.Fatalf("expected *types.ContentBlockMemberToolResult, got %T", blocks[0])
	}
	if aws.ToString(tr.Value.ToolUseId) != "call_1" {
		t.Errorf("ToolUseId = %q, want call_1", aws.ToString(tr.Value.ToolUseId))
	}
}

func TestBedrockImageFormat(t *testing.T) {
	cases := map[string]types.ImageFormat{
		"image/jpeg":  types.ImageFormatJpeg,
		"image/png":   types.ImageFormatPng,
		"image/gif":   types.ImageFormatGif,
		"image/webp":  types.ImageFormatWebp,
		"image/weird": types.ImageFormatPng,
	}
	for mime, want := range cases {
		if got := bedrockImageFormat(mime); got != want {
			t.Errorf("bedrockImageFormat(%q) = %v, want %v", mime, got, want)
		}
	}
}

func TestBedrockRawSchemaFallback(t *testing.T) {
	if got := bedrockRawSchema(json.RawMessage(`not json`)); got == nil {
		t.Error("expected a non-nil fallback schema for invalid JSON")
	}
	if got := bedrockRawSchema(nil); got == nil {
		t.Error("expected a non-nil fallback schema for empty input")
	}
}

func TestBedrockStopReasonFallsThroughToToolCallCheck(t *testing.T) {
	if got := bedrockStopReason(types.StopReason("guardrail_intervened"), true); got != models.StopToolUse {
		t.Errorf("got %q, want tool_use when a tool call is present", got)
	}
	if got := bedrockStopReason(types.StopReason("guardrail_intervened"), false); got != models.StopEndTurn {
		t.Errorf("got %q, want end_turn when no tool call is present", got)
	}
}
