package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/haasonsaas/operon/internal/agent"
	"github.com/haasonsaas/operon/internal/agent/toolconv"
	"github.com/haasonsaas/operon/pkg/models"
)

const bedrockDefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"

// runtimeClient is the subset of *bedrockruntime.Client the provider needs,
// so tests can substitute a fake without touching AWS.
type runtimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockProvider speaks AWS Bedrock's Converse API, the one core provider
// that cannot be a plain net/http client: request signing and the streaming
// event-stream envelope are carried entirely by the AWS SDK.
type BedrockProvider struct {
	runtime runtimeClient
	model   string
	logger  *slog.Logger
}

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Model           string
	Logger          *slog.Logger
}

// NewBedrockProvider builds a Bedrock client from explicit credentials, or
// the default AWS credential chain (env vars, shared config, instance role)
// when AccessKeyID/SecretAccessKey are both empty.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	model := cfg.Model
	if model == "" {
		model = bedrockDefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &BedrockProvider{
		runtime: bedrockruntime.NewFromConfig(awsCfg),
		model:   model,
		logger:  logger,
	}, nil
}

func (p *BedrockProvider) ModelName() string    { return p.model }
func (p *BedrockProvider) SupportsVision() bool { return true }

// bedrockParts splits messages into Bedrock's Converse shape: a dedicated
// System slice plus a Messages slice holding only user/assistant turns.
func bedrockParts(messages []models.Message, tools []models.ToolSchema) ([]types.Message, []types.SystemContentBlock, *types.ToolConfiguration) {
	var system []types.SystemContentBlock
	var out []types.Message

	for _, m := range messages {
		if m.Role == models.RoleSystem {
			if text := m.Content.TextOrConcat(); text != "" {
				system = append(system, &types.SystemContentBlockMemberText{Value: text})
			}
			continue
		}

		blocks := bedrockBlocksFrom(m.Content)
		if len(blocks) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}

	return out, system, toolconv.ToBedrockTools(tools)
}

func bedrockBlocksFrom(c models.Content) []types.ContentBlock {
	switch c.Kind {
	case models.ContentText:
		if c.Text == "" {
			return nil
		}
		return []types.ContentBlock{&types.ContentBlockMemberText{Value: c.Text}}
	case models.ContentImage:
		return []types.ContentBlock{&types.ContentBlockMemberImage{Value: types.ImageBlock{
			Format: bedrockImageFormat(c.Image.Mime),
			Source: &types.ImageSourceMemberBytes{Value: c.Image.Bytes},
		}}}
	case models.ContentToolCall:
		return []types.ContentBlock{&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
			ToolUseId: aws.String(c.ToolCall.ID),
			Name:      aws.String(c.ToolCall.Name),
			Input:     document.NewLazyDocument(bedrockRawSchema(c.ToolCall.Input)),
		}}}
	case models.ContentToolResult:
		tr := c.ToolResult
		block := types.ToolResultBlock{
			ToolUseId: aws.String(tr.ToolUseID),
			Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: tr.Output}},
		}
		if tr.IsError {
			block.Status = types.ToolResultStatusError
		}
		return []types.ContentBlock{&types.ContentBlockMemberToolResult{Value: block}}
	case models.ContentMixed:
		var blocks []types.ContentBlock
		for _, part := range c.Parts {
			blocks = append(blocks, bedrockBlocksFrom(part)...)
		}
		return blocks
	default:
		return nil
	}
}

func bedrockRawSchema(raw json.RawMessage) any {
	var v any
	if len(raw) == 0 {
		return map[string]any{}
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}
	}
	return v
}

// bedrockImageFormat maps a MIME type to Bedrock's closed set of image
// formats; anything unrecognized falls back to png since Bedrock rejects an
// empty format outright.
func bedrockImageFormat(mime string) types.ImageFormat {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg
	case "image/gif":
		return types.ImageFormatGif
	case "image/webp":
		return types.ImageFormatWebp
	default:
		return types.ImageFormatPng
	}
}

func bedrockInferenceConfig(cfg agent.GenerateConfig) *types.InferenceConfiguration {
	ic := &types.InferenceConfiguration{}
	if cfg.MaxTokens > 0 {
		ic.MaxTokens = aws.Int32(int32(cfg.MaxTokens))
	}
	if cfg.Temperature > 0 {
		ic.Temperature = aws.Float32(float32(cfg.Temperature))
	}
	return ic
}

// Generate calls Bedrock's synchronous Converse API.
func (p *BedrockProvider) Generate(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) (agent.GenerateResponse, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	msgs, system, toolCfg := bedrockParts(messages, tools)

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(model),
		Messages:        msgs,
		System:          system,
		ToolConfig:      toolCfg,
		InferenceConfig: bedrockInferenceConfig(cfg),
	}

	output, err := p.runtime.Converse(ctx, input)
	if err != nil {
		return agent.GenerateResponse{}, bedrockWrapErr(err)
	}
	return bedrockParseOutput(output, model)
}

func bedrockParseOutput(output *bedrockruntime.ConverseOutput, model string) (agent.GenerateResponse, error) {
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return agent.GenerateResponse{}, errors.New("bedrock: response carried no message")
	}

	var parts []models.Content
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			if v.Value != "" {
				parts = append(parts, models.NewTextContent(v.Value))
			}
		case *types.ContentBlockMemberToolUse:
			parts = append(parts, models.NewToolCallContent(
				aws.ToString(v.Value.ToolUseId), aws.ToString(v.Value.Name), bedrockDecodeDocument(v.Value.Input),
			))
		}
	}

	var content models.Content
	switch len(parts) {
	case 0:
		content = models.NewTextContent("")
	case 1:
		content = parts[0]
	default:
		mixed, err := models.NewMixedContent(parts...)
		if err != nil {
			return agent.GenerateResponse{}, fmt.Errorf("bedrock: %w", err)
		}
		content = mixed
	}

	var usage models.Usage
	if output.Usage != nil {
		usage = models.Usage{
			InputTokens:  int(aws.ToInt32(output.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
		}
	}

	return agent.GenerateResponse{
		Content:    content,
		StopReason: bedrockStopReason(output.StopReason, len(content.ToolCalls()) > 0),
		Usage:      usage,
		Model:      model,
	}, nil
}

func bedrockDecodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return json.RawMessage(`{}`)
	}
	raw, err := doc.MarshalSmithyDocument()
	if err != nil || len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

func bedrockStopReason(reason types.StopReason, hasToolCall bool) models.StopReason {
	switch reason {
	case types.StopReasonToolUse:
		return models.StopToolUse
	case types.StopReasonMaxTokens:
		return models.StopMaxTokens
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return models.StopEndTurn
	default:
		if hasToolCall {
			return models.StopToolUse
		}
		return models.StopEndTurn
	}
}

// GenerateStream drives Bedrock's ConverseStream event stream, reducing its
// content_block_start/delta/stop events into agent.StreamChunk the same way
// the other providers reduce SSE frames.
func (p *BedrockProvider) GenerateStream(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) (<-chan agent.StreamChunk, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	msgs, system, toolCfg := bedrockParts(messages, tools)

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(model),
		Messages:        msgs,
		System:          system,
		ToolConfig:      toolCfg,
		InferenceConfig: bedrockInferenceConfig(cfg),
	}

	output, err := p.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, bedrockWrapErr(err)
	}

	out := make(chan agent.StreamChunk, 16)
	go p.reduceStream(ctx, output, out)
	return out, nil
}

// bedrockToolState tracks the in-flight tool_use block at a given content
// index, since ConverseStream's delta events only carry fragments and the
// id/name arrive once, on the content_block_start event.
type bedrockToolState struct {
	id   string
	name string
}

func (p *BedrockProvider) reduceStream(ctx context.Context, output *bedrockruntime.ConverseStreamOutput, out chan<- agent.StreamChunk) {
	defer close(out)
	stream := output.GetStream()
	defer stream.Close()

	send := func(c agent.StreamChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	toolBlocks := map[int32]*bedrockToolState{}
	sawToolCall := false

	for event := range stream.Events() {
		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				st := &bedrockToolState{id: aws.ToString(toolUse.Value.ToolUseId), name: aws.ToString(toolUse.Value.Name)}
				toolBlocks[ev.Value.ContentBlockIndex] = st
				sawToolCall = true
				if !send(agent.StreamChunk{Kind: agent.ChunkToolCallStart, ToolCallID: st.id, ToolCallName: st.name}) {
					return
				}
			}
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if delta.Value != "" && !send(agent.StreamChunk{Kind: agent.ChunkTextDelta, Text: delta.Value}) {
					return
				}
			case *types.ContentBlockDeltaMemberToolUse:
				if st := toolBlocks[ev.Value.ContentBlockIndex]; st != nil && delta.Value.Input != nil {
					if !send(agent.StreamChunk{Kind: agent.ChunkToolCallDelta, ToolCallID: st.id, InputDelta: *delta.Value.Input}) {
						return
					}
				}
			}
		case *types.ConverseStreamOutputMemberContentBlockStop:
			delete(toolBlocks, ev.Value.ContentBlockIndex)
		case *types.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				usage := models.Usage{
					InputTokens:  int(aws.ToInt32(ev.Value.Usage.InputTokens)),
					OutputTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
				}
				send(agent.StreamChunk{Kind: agent.ChunkDone, StopReason: models.StopEndTurn, Usage: usage})
			}
		case *types.ConverseStreamOutputMemberMessageStop:
			send(agent.StreamChunk{Kind: agent.ChunkDone, StopReason: bedrockStopReason(ev.Value.StopReason, sawToolCall)})
			return
		}
	}

	if err := stream.Err(); err != nil {
		p.logger.Error("bedrock stream ended with error", "error", err)
	}
}

// bedrockWrapErr classifies AWS throttling/rate-limit exceptions as
// retryable alongside the string-matching rule every other provider uses.
func bedrockWrapErr(err error) *agent.ProviderError {
	retryable := agent.IsRetryableProviderError(err)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceUnavailableException", "ModelTimeoutException":
			retryable = true
		}
	}
	return &agent.ProviderError{Provider: "bedrock", Cause: err, Retryable: retryable}
}
