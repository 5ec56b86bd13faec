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
	"net/url"
	"os"

	"github.com/haasonsaas/operon/internal/agent"
	"github.com/haasonsaas/operon/pkg/models"
)

const (
	geminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-2.0-flash"
)

// GoogleProvider speaks the Generative Language API directly over net/http.
// The API key travels as a "key" query parameter (Google's own design, not
// ours) rather than a header, which is the one wire quirk every Gemini
// client has to carry regardless of SDK; direct net/http keeps that quirk
// visible and the error-body redaction in full control of this package
// rather than hidden behind an SDK transport.
type GoogleProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	logger     *slog.Logger
}

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Logger  *slog.Logger
}

// NewGoogleProvider constructs a provider reading GOOGLE_API_KEY (falling
// back to GEMINI_API_KEY) when Config.APIKey is empty.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("google: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = geminiDefaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	return &GoogleProvider{
		httpClient: newVendorHTTPClient(),
		apiKey:     key,
		model:      model,
		baseURL:    baseURL,
		logger:     cfg.Logger,
	}, nil
}

func (p *GoogleProvider) ModelName() string    { return p.model }
func (p *GoogleProvider) SupportsVision() bool { return true }

// apiURL builds the generate/stream endpoint. The key must never be logged,
// so every caller routes the resulting error body through redactSecret.
func (p *GoogleProvider) apiURL(stream bool) string {
	action := "generateContent"
	suffix := ""
	if stream {
		action = "streamGenerateContent"
		suffix = "&alt=sse"
	}
	return fmt.Sprintf("%s/models/%s:%s?key=%s%s", p.baseURL, p.model, action, url.QueryEscape(p.apiKey), suffix)
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall   `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResult `json:"functionResponse,omitempty"`
	InlineData       *geminiInlineData     `json:"inlineData,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResult struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Tools             []geminiToolWrapper    `json:"tools,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiToolWrapper struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate   `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content"`
	FinishReason string         `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// buildRequest filters system-role messages out of the transcript (Gemini
// has no "system" role in contents) and promotes the last one found into the
// top-level systemInstruction field.
func (p *GoogleProvider) buildRequest(messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) geminiRequest {
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = agent.DefaultGenerateConfig().MaxTokens
	}

	req := geminiRequest{
		GenerationConfig: geminiGenerationConfig{Temperature: cfg.Temperature, MaxOutputTokens: maxTokens},
	}

	var system string
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			system = m.Content.TextOrConcat()
			continue
		}
		req.Contents = append(req.Contents, geminiMessageFrom(m))
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	if len(tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, geminiFunctionDecl{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
		}
		req.Tools = []geminiToolWrapper{{FunctionDeclarations: decls}}
	}
	return req
}

func geminiMessageFrom(m models.Message) geminiContent {
	role := "user"
	if m.Role == models.RoleAssistant {
		role = "model"
	}
	return geminiContent{Role: role, Parts: geminiPartsFrom(m.Content)}
}

func geminiPartsFrom(c models.Content) []geminiPart {
	switch c.Kind {
	case models.ContentText:
		return []geminiPart{{Text: c.Text}}
	case models.ContentToolCall:
		return []geminiPart{{FunctionCall: &geminiFunctionCall{Name: c.ToolCall.Name, Args: c.ToolCall.Input}}}
	case models.ContentToolResult:
		return []geminiPart{{FunctionResponse: &geminiFunctionResult{
			Name:     c.ToolResult.ToolUseID,
			Response: map[string]any{"result": c.ToolResult.Output},
		}}}
	case models.ContentImage:
		return []geminiPart{{InlineData: &geminiInlineData{
			MimeType: c.Image.Mime, Data: base64.StdEncoding.EncodeToString(c.Image.Bytes),
		}}}
	case models.ContentMixed:
		var parts []geminiPart
		for _, part := range c.Parts {
			parts = append(parts, geminiPartsFrom(part)...)
		}
		return parts
	default:
		return nil
	}
}

func geminiParseResponse(resp geminiResponse, model string) (agent.GenerateResponse, error) {
	if len(resp.Candidates) == 0 {
		return agent.GenerateResponse{}, fmt.Errorf("google: no candidates in response")
	}
	candidate := resp.Candidates[0]

	var parts []models.Content
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				parts = append(parts, models.NewTextContent(part.Text))
			}
			if part.FunctionCall != nil {
				id := "gemini_" + part.FunctionCall.Name
				parts = append(parts, models.NewToolCallContent(id, part.FunctionCall.Name, part.FunctionCall.Args))
			}
		}
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

	stopReason := models.StopEndTurn
	switch candidate.FinishReason {
	case "MAX_TOKENS":
		stopReason = models.StopMaxTokens
	case "STOP":
		if len(content.ToolCalls()) > 0 {
			stopReason = models.StopToolUse
		}
	default:
		if len(content.ToolCalls()) > 0 {
			stopReason = models.StopToolUse
		}
	}

	var usage models.Usage
	if resp.UsageMetadata != nil {
		usage = models.Usage{InputTokens: resp.UsageMetadata.PromptTokenCount, OutputTokens: resp.UsageMetadata.CandidatesTokenCount}
	}

	return agent.GenerateResponse{Content: content, StopReason: stopReason, Usage: usage, Model: model}, nil
}

func (p *GoogleProvider) Generate(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) (agent.GenerateResponse, error) {
	reqBody := p.buildRequest(messages, tools, cfg)
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return agent.GenerateResponse{}, fmt.Errorf("google: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL(false), bytes.NewReader(payload))
	if err != nil {
		return agent.GenerateResponse{}, err
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return agent.GenerateResponse{}, &agent.ProviderError{Provider: "google", Cause: err, Retryable: agent.IsRetryableProviderError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		cause := fmt.Errorf("google API error (%d): %s", resp.StatusCode, redactSecret(string(body), p.apiKey))
		return agent.GenerateResponse{}, &agent.ProviderError{Provider: "google", Cause: cause, Retryable: agent.IsRetryableProviderError(cause)}
	}

	var apiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return agent.GenerateResponse{}, fmt.Errorf("google: decode response: %w", err)
	}
	return geminiParseResponse(apiResp, p.model)
}

func (p *GoogleProvider) GenerateStream(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg agent.GenerateConfig) (<-chan agent.StreamChunk, error) {
	reqBody := p.buildRequest(messages, tools, cfg)
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL(true), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &agent.ProviderError{Provider: "google", Cause: err, Retryable: agent.IsRetryableProviderError(err)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cause := fmt.Errorf("google API error (%d): %s", resp.StatusCode, redactSecret(string(body), p.apiKey))
		return nil, &agent.ProviderError{Provider: "google", Cause: cause, Retryable: agent.IsRetryableProviderError(cause)}
	}

	out := make(chan agent.StreamChunk, 16)
	go func() {
		defer resp.Body.Close()
		driveSSEStream(ctx, resp.Body, geminiParseSSE, out, p.logger)
	}()
	return out, nil
}

// geminiParseSSE has no cross-event state to track (unlike Anthropic/OpenAI,
// every Gemini function call part ships its own name-derived id inline).
func geminiParseSSE(data []byte) []agent.StreamChunk {
	var resp geminiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil
	}

	var chunks []agent.StreamChunk
	for _, candidate := range resp.Candidates {
		var sawToolCall bool
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					chunks = append(chunks, agent.StreamChunk{Kind: agent.ChunkTextDelta, Text: part.Text})
				}
				if part.FunctionCall != nil {
					sawToolCall = true
					id := "gemini_" + part.FunctionCall.Name
					chunks = append(chunks, agent.StreamChunk{Kind: agent.ChunkToolCallStart, ToolCallID: id, ToolCallName: part.FunctionCall.Name})
					if len(part.FunctionCall.Args) > 0 && string(part.FunctionCall.Args) != "null" {
						chunks = append(chunks, agent.StreamChunk{Kind: agent.ChunkToolCallDelta, ToolCallID: id, InputDelta: string(part.FunctionCall.Args)})
					}
				}
			}
		}

		if candidate.FinishReason == "" {
			continue
		}

		stopReason := models.StopEndTurn
		switch candidate.FinishReason {
		case "MAX_TOKENS":
			stopReason = models.StopMaxTokens
		case "STOP":
			if sawToolCall {
				stopReason = models.StopToolUse
			}
		default:
			if sawToolCall {
				stopReason = models.StopToolUse
			}
		}

		var usage models.Usage
		if resp.UsageMetadata != nil {
			usage = models.Usage{InputTokens: resp.UsageMetadata.PromptTokenCount, OutputTokens: resp.UsageMetadata.CandidatesTokenCount}
		}
		chunks = append(chunks, agent.StreamChunk{Kind: agent.ChunkDone, StopReason: stopReason, Usage: usage})
	}
	return chunks
}
