package agent

import (
	"context"

	"github.com/haasonsaas/operon/pkg/models"
)

// GenerateConfig carries the generation parameters for a single Provider
// call. Zero values are replaced with DefaultGenerateConfig's defaults by
// callers that build a config from agent-loop settings.
type GenerateConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// DefaultGenerateConfig returns the spec-mandated defaults: temperature 0.7,
// max_tokens 4096.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{Temperature: 0.7, MaxTokens: 4096}
}

// GenerateResponse is a provider's complete, non-streaming turn.
type GenerateResponse struct {
	Content    models.Content
	StopReason models.StopReason
	Usage      models.Usage
	Model      string
}

// StreamChunkKind discriminates StreamChunk's tagged variants.
type StreamChunkKind string

const (
	ChunkTextDelta     StreamChunkKind = "text_delta"
	ChunkToolCallStart StreamChunkKind = "tool_call_start"
	ChunkToolCallDelta StreamChunkKind = "tool_call_delta"
	ChunkDone          StreamChunkKind = "done"
)

// StreamChunk is one increment of a streamed generation.
type StreamChunk struct {
	Kind StreamChunkKind

	// TextDelta
	Text string

	// ToolCallStart
	ToolCallID   string
	ToolCallName string

	// ToolCallDelta
	InputDelta string

	// Done
	StopReason models.StopReason
	Usage      models.Usage
}

// Provider is the common interface every LLM wire client implements.
// Implementations must be safe for concurrent use: the provider chain and
// agent loop may call the same Provider from multiple goroutines serving
// different sessions.
type Provider interface {
	// Generate sends messages and available tools to the model and returns
	// its complete response.
	Generate(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg GenerateConfig) (GenerateResponse, error)

	// GenerateStream returns a channel of StreamChunk values. The channel is
	// closed after a Done chunk is sent or ctx is cancelled. Providers
	// lacking native streaming synthesize text-then-tool-calls-then-Done.
	GenerateStream(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg GenerateConfig) (<-chan StreamChunk, error)

	// SupportsVision reports whether this provider accepts Image content blocks.
	SupportsVision() bool

	// ModelName returns the model identifier this provider targets.
	ModelName() string
}

// SyntheticStream wraps a non-streaming Generate call into the default
// streaming shape spec.md describes for providers lacking native streaming:
// text first, then one ToolCallStart+ToolCallDelta pair per tool call, then
// Done.
func SyntheticStream(ctx context.Context, gen func(context.Context) (GenerateResponse, error)) (<-chan StreamChunk, error) {
	resp, err := gen(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk, 4)
	go func() {
		defer close(out)

		if text := resp.Content.TextOrConcat(); text != "" {
			select {
			case out <- StreamChunk{Kind: ChunkTextDelta, Text: text}:
			case <-ctx.Done():
				return
			}
		}

		for _, tc := range resp.Content.ToolCalls() {
			select {
			case out <- StreamChunk{Kind: ChunkToolCallStart, ToolCallID: tc.ID, ToolCallName: tc.Name}:
			case <-ctx.Done():
				return
			}
			select {
			case out <- StreamChunk{Kind: ChunkToolCallDelta, ToolCallID: tc.ID, InputDelta: string(tc.Input)}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case out <- StreamChunk{Kind: ChunkDone, StopReason: resp.StopReason, Usage: resp.Usage}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}
