package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/operon/internal/agent"
	"github.com/haasonsaas/operon/pkg/models"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

// OllamaConfig configures an OllamaProvider.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// OllamaProvider speaks Ollama's local /api/chat endpoint: NDJSON streaming
// rather than SSE, no API key, and a free-form "options" bag for generation
// parameters. A bonus provider for local/self-hosted models, grounded on the
// teacher's own Ollama client shape.
type OllamaProvider struct {
	client  *http.Client
	baseURL string
	model   string
}

// NewOllamaProvider constructs a provider pointed at BaseURL (default
// http://localhost:11434).
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = vendorHTTPTimeout
	}
	return &OllamaProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		model:   strings.TrimSpace(cfg.DefaultModel),
	}
}

func (p *OllamaProvider) ModelName() string    { return p.model }
func (p *OllamaProvider) SupportsVision() bool { return false }

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction2 `json:"function"`
}

type ollamaToolFunction2 struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Tools    []ollamaTool     `json:"tools,omitempty"`
	Stream   bool             `json:"stream"`
	Options  map[string]any   `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         *ollamaMessage `json:"message"`
	Done            bool           `json:"done"`
	Error           string         `json:"error"`
	EvalCount       int            `json:"eval_count"`
	PromptEvalCount int            `json:"prompt_eval_count"`
}

func (p *OllamaProvider) buildRequest(messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig, stream bool) ollamaRequest {
	model := cfg.Model
	if model == "" {
		model = p.model
	}

	req := ollamaRequest{Model: model, Stream: stream}
	toolNames := map[string]string{}
	for _, m := range messages {
		for _, tc := range m.Content.ToolCalls() {
			toolNames[tc.ID] = tc.Name
		}
	}

	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaMessagesFrom(m, toolNames)...)
	}

	for _, t := range tools {
		req.Tools = append(req.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction2{
				Name: t.Name, Description: t.Description, Parameters: t.InputSchema,
			},
		})
	}

	if cfg.MaxTokens > 0 {
		req.Options = map[string]any{"num_predict": cfg.MaxTokens, "temperature": cfg.Temperature}
	} else {
		req.Options = map[string]any{"temperature": cfg.Temperature}
	}
	return req
}

func ollamaMessagesFrom(m models.Message, toolNames map[string]string) []ollamaMessage {
	role := "user"
	switch m.Role {
	case models.RoleAssistant:
		role = "assistant"
	case models.RoleSystem:
		role = "system"
	}

	switch m.Content.Kind {
	case models.ContentText:
		return []ollamaMessage{{Role: role, Content: m.Content.Text}}
	case models.ContentToolCall:
		tc := m.Content.ToolCall
		args := tc.Input
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return []ollamaMessage{{
			Role: "assistant",
			ToolCalls: []ollamaToolCall{
				{ID: tc.ID, Type: "function", Function: ollamaToolFunction{Name: tc.Name, Arguments: args}},
			},
		}}
	case models.ContentToolResult:
		tr := m.Content.ToolResult
		return []ollamaMessage{{Role: "tool", Content: tr.Output, ToolName: toolNames[tr.ToolUseID]}}
	case models.ContentMixed:
		var text strings.Builder
		var calls []ollamaToolCall
		for _, part := range m.Content.Parts {
			switch part.Kind {
			case models.ContentText:
				text.WriteString(part.Text)
			case models.ContentToolCall:
				args := part.ToolCall.Input
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				calls = append(calls, ollamaToolCall{
					ID: part.ToolCall.ID, Type: "function",
					Function: ollamaToolFunction{Name: part.ToolCall.Name, Arguments: args},
				})
			}
		}
		return []ollamaMessage{{Role: "assistant", Content: text.String(), ToolCalls: calls}}
	default:
		return nil
	}
}

func (p *OllamaProvider) Generate(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) (agent.GenerateResponse, error) {
	reqBody := p.buildRequest(messages, tools, cfg, false)
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return agent.GenerateResponse{}, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return agent.GenerateResponse{}, err
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return agent.GenerateResponse{}, &agent.ProviderError{Provider: "ollama", Cause: err, Retryable: agent.IsRetryableProviderError(err)}
	}
	defer resp.Body.Close()

	var apiResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return agent.GenerateResponse{}, fmt.Errorf("ollama: decode response: %w", err)
	}
	if apiResp.Error != "" {
		cause := fmt.Errorf("ollama: %s", apiResp.Error)
		return agent.GenerateResponse{}, &agent.ProviderError{Provider: "ollama", Cause: cause, Retryable: agent.IsRetryableProviderError(cause)}
	}

	return ollamaParseResponse(apiResp, reqBody.Model), nil
}

func ollamaParseResponse(resp ollamaResponse, model string) agent.GenerateResponse {
	var parts []models.Content
	if resp.Message != nil {
		if resp.Message.Content != "" {
			parts = append(parts, models.NewTextContent(resp.Message.Content))
		}
		for _, tc := range resp.Message.ToolCalls {
			args := tc.Function.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			parts = append(parts, models.NewToolCallContent(tc.ID, tc.Function.Name, args))
		}
	}

	var content models.Content
	stopReason := models.StopEndTurn
	switch len(parts) {
	case 0:
		content = models.NewTextContent("")
	case 1:
		content = parts[0]
		if content.Kind == models.ContentToolCall {
			stopReason = models.StopToolUse
		}
	default:
		mixed, _ := models.NewMixedContent(parts...)
		content = mixed
		stopReason = models.StopToolUse
	}

	return agent.GenerateResponse{
		Content:    content,
		StopReason: stopReason,
		Usage:      models.Usage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount},
		Model:      model,
	}
}

// GenerateStream drives Ollama's NDJSON stream directly: each line is a
// complete JSON object, not an SSE "data: " frame, so this bypasses
// driveSSEStream and scans lines instead.
func (p *OllamaProvider) GenerateStream(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) (<-chan agent.StreamChunk, error) {
	reqBody := p.buildRequest(messages, tools, cfg, true)
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &agent.ProviderError{Provider: "ollama", Cause: err, Retryable: agent.IsRetryableProviderError(err)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cause := fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(body))
		return nil, &agent.ProviderError{Provider: "ollama", Cause: cause, Retryable: agent.IsRetryableProviderError(cause)}
	}

	out := make(chan agent.StreamChunk, 16)
	go p.streamLines(ctx, resp.Body, out, reqBody.Model)
	return out, nil
}

func (p *OllamaProvider) streamLines(ctx context.Context, body io.ReadCloser, out chan<- agent.StreamChunk, model string) {
	defer close(out)
	defer body.Close()

	send := func(c agent.StreamChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	emitted := map[string]struct{}{}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp ollamaResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			send(agent.StreamChunk{Kind: agent.ChunkDone, StopReason: models.StopEndTurn})
			return
		}
		if resp.Message != nil {
			if resp.Message.Content != "" {
				if !send(agent.StreamChunk{Kind: agent.ChunkTextDelta, Text: resp.Message.Content}) {
					return
				}
			}
			for _, tc := range resp.Message.ToolCalls {
				id := tc.ID
				if id == "" {
					id = tc.Function.Name
				}
				if _, ok := emitted[id]; ok {
					continue
				}
				emitted[id] = struct{}{}
				if !send(agent.StreamChunk{Kind: agent.ChunkToolCallStart, ToolCallID: id, ToolCallName: tc.Function.Name}) {
					return
				}
				args := tc.Function.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				if !send(agent.StreamChunk{Kind: agent.ChunkToolCallDelta, ToolCallID: id, InputDelta: string(args)}) {
					return
				}
			}
		}
		if resp.Done {
			stopReason := models.StopEndTurn
			if len(emitted) > 0 {
				stopReason = models.StopToolUse
			}
			send(agent.StreamChunk{Kind: agent.ChunkDone, StopReason: stopReason, Usage: models.Usage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount}})
			return
		}
	}
}
