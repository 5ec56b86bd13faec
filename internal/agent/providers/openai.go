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
	"strings"

	"github.com/haasonsaas/operon/internal/agent"
	"github.com/haasonsaas/operon/pkg/models"
)

const (
	openAIAPIURL       = "https://api.openai.com/v1/chat/completions"
	openAIDefaultModel = "gpt-4o"
)

// OpenAIProvider speaks the Chat Completions API directly over net/http, for
// the same wire-control reasons as AnthropicProvider. BaseURL is overridable
// so the same client also serves OpenAI-compatible local/proxy endpoints.
type OpenAIProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	logger     *slog.Logger
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Logger  *slog.Logger
}

// NewOpenAIProvider constructs a provider reading OPENAI_API_KEY when
// Config.APIKey is empty.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = openAIDefaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIAPIURL
	}
	return &OpenAIProvider{
		httpClient: newVendorHTTPClient(),
		apiKey:     key,
		model:      model,
		baseURL:    baseURL,
		logger:     cfg.Logger,
	}, nil
}

func (p *OpenAIProvider) ModelName() string { return p.model }

// SupportsVision reports image support the way gpt-4o / gpt-4-vision do.
func (p *OpenAIProvider) SupportsVision() bool { return strings.Contains(p.model, "gpt-4") }

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openAIResponse struct {
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage"`
}

type openAIChoice struct {
	Message      openAIRespMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIRespMessage struct {
	Content   string           `json:"content"`
	ToolCalls []openAIToolCall `json:"tool_calls"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// buildRequest translates messages/tools/config into the Chat Completions
// wire shape. Unlike Anthropic, system-role messages are NOT filtered out:
// they pass through in place, so a system message that leads the transcript
// ends up as the API's leading message exactly as spec'd.
func (p *OpenAIProvider) buildRequest(messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) openAIRequest {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = agent.DefaultGenerateConfig().MaxTokens
	}

	req := openAIRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
	}

	for _, m := range messages {
		req.Messages = append(req.Messages, openAIMessagesFrom(m)...)
	}

	for _, t := range tools {
		req.Tools = append(req.Tools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name: t.Name, Description: t.Description, Parameters: t.InputSchema,
			},
		})
	}
	return req
}

// openAIMessagesFrom may expand a single Message into more than one wire
// message: a ToolResult becomes a standalone role:"tool" message, and a
// Mixed assistant turn becomes one message carrying both text and tool_calls.
func openAIMessagesFrom(m models.Message) []openAIMessage {
	switch m.Content.Kind {
	case models.ContentText:
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "assistant"
		} else if m.Role == models.RoleSystem {
			role = "system"
		}
		return []openAIMessage{{Role: role, Content: m.Content.Text}}
	case models.ContentImage:
		url := fmt.Sprintf("data:%s;base64,%s", m.Content.Image.Mime, base64.StdEncoding.EncodeToString(m.Content.Image.Bytes))
		return []openAIMessage{{
			Role: "user",
			Content: []map[string]any{
				{"type": "image_url", "image_url": map[string]string{"url": url}},
			},
		}}
	case models.ContentToolResult:
		tr := m.Content.ToolResult
		return []openAIMessage{{Role: "tool", ToolCallID: tr.ToolUseID, Content: tr.Output}}
	case models.ContentToolCall:
		tc := m.Content.ToolCall
		return []openAIMessage{{
			Role:      "assistant",
			ToolCalls: []openAIToolCall{openAIToolCallFrom(*tc)},
		}}
	case models.ContentMixed:
		var text strings.Builder
		var calls []openAIToolCall
		for _, part := range m.Content.Parts {
			switch part.Kind {
			case models.ContentText:
				text.WriteString(part.Text)
			case models.ContentToolCall:
				calls = append(calls, openAIToolCallFrom(*part.ToolCall))
			}
		}
		msg := openAIMessage{Role: "assistant"}
		if text.Len() > 0 {
			msg.Content = text.String()
		}
		if len(calls) > 0 {
			msg.ToolCalls = calls
		}
		return []openAIMessage{msg}
	default:
		return nil
	}
}

func openAIToolCallFrom(tc models.ToolCall) openAIToolCall {
	return openAIToolCall{
		ID: tc.ID, Type: "function",
		Function: openAIFunctionCall{Name: tc.Name, Arguments: string(tc.Input)},
	}
}

func openAIStopReason(reason string) models.StopReason {
	switch reason {
	case "tool_calls":
		return models.StopToolUse
	case "length":
		return models.StopMaxTokens
	default:
		return models.StopEndTurn
	}
}

func openAIParseResponse(resp openAIResponse) (agent.GenerateResponse, error) {
	if len(resp.Choices) == 0 {
		return agent.GenerateResponse{}, fmt.Errorf("openai: no choices in response")
	}
	choice := resp.Choices[0]

	var parts []models.Content
	if choice.Message.Content != "" {
		parts = append(parts, models.NewTextContent(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, models.NewToolCallContent(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}

	var content models.Content
	switch len(parts) {
	case 0:
		content = models.NewTextContent("")
	case 1:
		content = parts[0]
	default:
		mixed, _ := models.NewMixedContent(parts...)
		content = mixed
	}

	var usage models.Usage
	if resp.Usage != nil {
		usage = models.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	}

	return agent.GenerateResponse{
		Content:    content,
		StopReason: openAIStopReason(choice.FinishReason),
		Usage:      usage,
		Model:      resp.Model,
	}, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) (agent.GenerateResponse, error) {
	reqBody := p.buildRequest(messages, tools, cfg)
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return agent.GenerateResponse{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return agent.GenerateResponse{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return agent.GenerateResponse{}, &agent.ProviderError{Provider: "openai", Cause: err, Retryable: agent.IsRetryableProviderError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		cause := fmt.Errorf("openai API error (%d): %s", resp.StatusCode, redactSecret(string(body), p.apiKey))
		return agent.GenerateResponse{}, &agent.ProviderError{Provider: "openai", Cause: cause, Retryable: agent.IsRetryableProviderError(cause)}
	}

	var apiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return agent.GenerateResponse{}, fmt.Errorf("openai: decode response: %w", err)
	}
	return openAIParseResponse(apiResp)
}

func (p *OpenAIProvider) GenerateStream(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) (<-chan agent.StreamChunk, error) {
	reqBody := p.buildRequest(messages, tools, cfg)
	reqBody.Stream = true
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &agent.ProviderError{Provider: "openai", Cause: err, Retryable: agent.IsRetryableProviderError(err)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cause := fmt.Errorf("openai API error (%d): %s", resp.StatusCode, redactSecret(string(body), p.apiKey))
		return nil, &agent.ProviderError{Provider: "openai", Cause: cause, Retryable: agent.IsRetryableProviderError(cause)}
	}

	out := make(chan agent.StreamChunk, 16)
	state := &openAIStreamState{idByIndex: make(map[int]string)}
	go func() {
		defer resp.Body.Close()
		driveSSEStream(ctx, resp.Body, state.parse, out, p.logger)
	}()
	return out, nil
}

// openAIStreamState tracks tool-call ids by their array index, since only the
// first delta for a given index carries the id; later deltas for the same
// index carry argument fragments only.
type openAIStreamState struct {
	idByIndex map[int]string
}

type openAIStreamEvent struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage"`
}

type openAIStreamChoice struct {
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openAIStreamDelta struct {
	Content   string                `json:"content,omitempty"`
	ToolCalls []openAIToolCallDelta `json:"tool_calls,omitempty"`
}

type openAIToolCallDelta struct {
	Index    int                  `json:"index"`
	ID       *string              `json:"id,omitempty"`
	Function *openAIFunctionDelta `json:"function,omitempty"`
}

type openAIFunctionDelta struct {
	Name      *string `json:"name,omitempty"`
	Arguments *string `json:"arguments,omitempty"`
}

func (s *openAIStreamState) parse(data []byte) []agent.StreamChunk {
	if strings.TrimSpace(string(data)) == "[DONE]" {
		return []agent.StreamChunk{{Kind: agent.ChunkDone, StopReason: models.StopEndTurn}}
	}

	var ev openAIStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil
	}

	var chunks []agent.StreamChunk
	for _, choice := range ev.Choices {
		if choice.FinishReason != nil {
			usage := models.Usage{}
			if ev.Usage != nil {
				usage = models.Usage{InputTokens: ev.Usage.PromptTokens, OutputTokens: ev.Usage.CompletionTokens}
			}
			chunks = append(chunks, agent.StreamChunk{Kind: agent.ChunkDone, StopReason: openAIStopReason(*choice.FinishReason), Usage: usage})
			continue
		}

		if choice.Delta.Content != "" {
			chunks = append(chunks, agent.StreamChunk{Kind: agent.ChunkTextDelta, Text: choice.Delta.Content})
		}

		for _, tc := range choice.Delta.ToolCalls {
			if tc.ID != nil {
				name := ""
				if tc.Function != nil && tc.Function.Name != nil {
					name = *tc.Function.Name
				}
				s.idByIndex[tc.Index] = *tc.ID
				chunks = append(chunks, agent.StreamChunk{Kind: agent.ChunkToolCallStart, ToolCallID: *tc.ID, ToolCallName: name})
				continue
			}
			if tc.Function != nil && tc.Function.Arguments != nil {
				chunks = append(chunks, agent.StreamChunk{Kind: agent.ChunkToolCallDelta, ToolCallID: s.idByIndex[tc.Index], InputDelta: *tc.Function.Arguments})
			}
		}
	}
	return chunks
}
