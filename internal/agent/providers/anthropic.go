package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/haasonsaas/operon/internal/agent"
	"github.com/haasonsaas/operon/pkg/models"
)

const (
	anthropicAPIURL       = "https://api.anthropic.com/v1/messages"
	anthropicVersion      = "2023-06-01"
	anthropicDefaultModel = "claude-sonnet-4-20250514"
)

// AnthropicProvider speaks the Anthropic Messages API directly over
// net/http: spec.md's wire rules (block-shape translation, system prompt as
// a top-level field, x-api-key/anthropic-version headers, byte-buffered SSE
// decoding) require request/response control no SDK's abstraction leaves
// available, so the client is hand-rolled the way original_source's
// AnthropicClient is.
//
// Thread Safety:
// AnthropicProvider is safe for concurrent use; it holds no mutable state
// beyond its configuration.
type AnthropicProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
	logger     *slog.Logger
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey string
	Model  string
	Logger *slog.Logger
}

// NewAnthropicProvider constructs a provider reading ANTHROPIC_API_KEY when
// Config.APIKey is empty, per spec.md §6's environment variable table.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	return &AnthropicProvider{
		httpClient: newVendorHTTPClient(),
		apiKey:     key,
		model:      model,
		logger:     cfg.Logger,
	}, nil
}

func (p *AnthropicProvider) ModelName() string    { return p.model }
func (p *AnthropicProvider) SupportsVision() bool { return true }

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// buildRequest translates messages/tools/config into the Anthropic wire
// shape: Mixed content becomes an array of typed blocks, system-role
// messages are filtered out of the transcript and placed in the top-level
// "system" field, and the last system message wins if there are several.
func (p *AnthropicProvider) buildRequest(messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) anthropicRequest {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = agent.DefaultGenerateConfig().MaxTokens
	}

	req := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
	}

	var system string
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			system = m.Content.TextOrConcat()
			continue
		}
		req.Messages = append(req.Messages, anthropicMessageFrom(m))
	}
	req.System = system

	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return req
}

func anthropicMessageFrom(m models.Message) anthropicMessage {
	role := "user"
	if m.Role == models.RoleAssistant {
		role = "assistant"
	}
	return anthropicMessage{Role: role, Content: anthropicBlocksFrom(m.Content)}
}

func anthropicBlocksFrom(c models.Content) []anthropicContentBlock {
	switch c.Kind {
	case models.ContentText:
		return []anthropicContentBlock{{Type: "text", Text: c.Text}}
	case models.ContentToolCall:
		return []anthropicContentBlock{{
			Type: "tool_use", ID: c.ToolCall.ID, Name: c.ToolCall.Name, Input: c.ToolCall.Input,
		}}
	case models.ContentToolResult:
		return []anthropicContentBlock{{
			Type: "tool_result", ToolUseID: c.ToolResult.ToolUseID,
			Content: c.ToolResult.Output, IsError: c.ToolResult.IsError,
		}}
	case models.ContentImage:
		return []anthropicContentBlock{{
			Type: "image",
			Source: &anthropicImageSource{
				Type: "base64", MediaType: c.Image.Mime,
				Data: base64.StdEncoding.EncodeToString(c.Image.Bytes),
			},
		}}
	case models.ContentMixed:
		var blocks []anthropicContentBlock
		for _, part := range c.Parts {
			blocks = append(blocks, anthropicBlocksFrom(part)...)
		}
		return blocks
	default:
		return nil
	}
}

func anthropicStopReason(s string) models.StopReason {
	switch s {
	case "tool_use":
		return models.StopToolUse
	case "max_tokens":
		return models.StopMaxTokens
	default:
		return models.StopEndTurn
	}
}

func anthropicParseResponse(resp anthropicResponse) agent.GenerateResponse {
	var parts []models.Content
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, models.NewTextContent(block.Text))
		case "tool_use":
			parts = append(parts, models.NewToolCallContent(block.ID, block.Name, block.Input))
		}
	}

	var content models.Content
	switch len(parts) {
	case 0:
		content = models.NewTextContent("")
	case 1:
		content = parts[0]
	default:
		// response parsing only ever mixes text/tool_call, both legal in Mixed.
		mixed, _ := models.NewMixedContent(parts...)
		content = mixed
	}

	return agent.GenerateResponse{
		Content:    content,
		StopReason: anthropicStopReason(resp.StopReason),
		Usage:      models.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		Model:      resp.Model,
	}
}

func (p *AnthropicProvider) Generate(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) (agent.GenerateResponse, error) {
	reqBody := p.buildRequest(messages, tools, cfg)
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return agent.GenerateResponse{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIURL, bytes.NewReader(payload))
	if err != nil {
		return agent.GenerateResponse{}, err
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return agent.GenerateResponse{}, &agent.ProviderError{Provider: "anthropic", Cause: err, Retryable: agent.IsRetryableProviderError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("anthropic API error (%d): %s", resp.StatusCode, redactSecret(string(body), p.apiKey))
		cause := fmt.Errorf("%s", msg)
		return agent.GenerateResponse{}, &agent.ProviderError{
			Provider: "anthropic", Cause: cause, Retryable: agent.IsRetryableProviderError(cause),
		}
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return agent.GenerateResponse{}, fmt.Errorf("anthropic: decode response: %w", err)
	}

	return anthropicParseResponse(apiResp), nil
}

func (p *AnthropicProvider) GenerateStream(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) (<-chan agent.StreamChunk, error) {
	reqBody := p.buildRequest(messages, tools, cfg)
	reqBody.Stream = true
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &agent.ProviderError{Provider: "anthropic", Cause: err, Retryable: agent.IsRetryableProviderError(err)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cause := fmt.Errorf("anthropic API error (%d): %s", resp.StatusCode, redactSecret(string(body), p.apiKey))
		return nil, &agent.ProviderError{Provider: "anthropic", Cause: cause, Retryable: agent.IsRetryableProviderError(cause)}
	}

	out := make(chan agent.StreamChunk, 16)
	state := &anthropicStreamState{}
	go func() {
		defer resp.Body.Close()
		driveSSEStream(ctx, resp.Body, state.parse, out, p.logger)
	}()
	return out, nil
}

// anthropicStreamState tracks which tool_use block is currently open so that
// input_json_delta events (which carry no id of their own) can be attributed
// to the right ToolCallDelta.
type anthropicStreamState struct {
	openToolCallID string
}

type anthropicSSEEvent struct {
	Type         string                 `json:"type"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
	Delta        *anthropicSSEDelta     `json:"delta,omitempty"`
	Usage        *anthropicUsage        `json:"usage,omitempty"`
}

type anthropicSSEDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

func (s *anthropicStreamState) parse(data []byte) []agent.StreamChunk {
	var ev anthropicSSEEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil
	}

	switch ev.Type {
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			s.openToolCallID = ev.ContentBlock.ID
			return []agent.StreamChunk{{Kind: agent.ChunkToolCallStart, ToolCallID: ev.ContentBlock.ID, ToolCallName: ev.ContentBlock.Name}}
		}
		return nil
	case "content_block_delta":
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []agent.StreamChunk{{Kind: agent.ChunkTextDelta, Text: ev.Delta.Text}}
		case "input_json_delta":
			return []agent.StreamChunk{{Kind: agent.ChunkToolCallDelta, ToolCallID: s.openToolCallID, InputDelta: ev.Delta.PartialJSON}}
		}
		return nil
	case "message_delta":
		var stopReason models.StopReason = models.StopEndTurn
		if ev.Delta != nil {
			stopReason = anthropicStopReason(ev.Delta.StopReason)
		}
		usage := models.Usage{}
		if ev.Usage != nil {
			usage.OutputTokens = ev.Usage.OutputTokens
		}
		return []agent.StreamChunk{{Kind: agent.ChunkDone, StopReason: stopReason, Usage: usage}}
	default:
		return nil
	}
}
