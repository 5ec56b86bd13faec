package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentKind discriminates the tagged variants of Content.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentImage      ContentKind = "image"
	ContentToolCall   ContentKind = "tool_call"
	ContentToolResult ContentKind = "tool_result"
	ContentMixed      ContentKind = "mixed"
)

// Content is a tagged-variant block: exactly one of Text/Image/ToolCall/
// ToolResult is populated unless Kind is ContentMixed, in which case Parts
// holds the constituent blocks. Mixed never nests Mixed, and Image/ToolResult
// never appear inside a Mixed's Parts — both are enforced at construction and
// at Validate.
type Content struct {
	Kind ContentKind `json:"kind"`

	Text       string      `json:"text,omitempty"`
	Image      *ImageBlock `json:"image,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Parts      []Content   `json:"parts,omitempty"`
}

// ImageBlock carries raw image bytes with an explicit MIME type.
type ImageBlock struct {
	Bytes []byte `json:"bytes"`
	Mime  string `json:"mime"`
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the runtime's observation fed back to the model after a tool
// invocation. ToolUseID must match the ID of a ToolCall that appears earlier
// in the transcript.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Name      string `json:"name"`
	Output    string `json:"output"`
	IsError   bool   `json:"is_error,omitempty"`
}

// NewTextContent builds a Text content block.
func NewTextContent(text string) Content {
	return Content{Kind: ContentText, Text: text}
}

// NewImageContent builds an Image content block.
func NewImageContent(data []byte, mime string) Content {
	return Content{Kind: ContentImage, Image: &ImageBlock{Bytes: data, Mime: mime}}
}

// NewToolCallContent builds a ToolCall content block.
func NewToolCallContent(id, name string, input json.RawMessage) Content {
	return Content{Kind: ContentToolCall, ToolCall: &ToolCall{ID: id, Name: name, Input: input}}
}

// NewToolResultContent builds a ToolResult content block.
func NewToolResultContent(toolUseID, name, output string, isError bool) Content {
	return Content{
		Kind:       ContentToolResult,
		ToolResult: &ToolResult{ToolUseID: toolUseID, Name: name, Output: output, IsError: isError},
	}
}

// NewMixedContent builds a Mixed content block from parts, rejecting any part
// that is itself Mixed, Image, or ToolResult.
func NewMixedContent(parts ...Content) (Content, error) {
	for i, p := range parts {
		if err := validateMixedPart(p); err != nil {
			return Content{}, fmt.Errorf("part %d: %w", i, err)
		}
	}
	return Content{Kind: ContentMixed, Parts: parts}, nil
}

func validateMixedPart(c Content) error {
	switch c.Kind {
	case ContentMixed:
		return errors.New("mixed content cannot nest mixed content")
	case ContentImage:
		return errors.New("image content cannot appear inside mixed content")
	case ContentToolResult:
		return errors.New("tool-result content cannot appear inside mixed content")
	}
	return nil
}

// Validate checks the tagged-variant invariants of a Content value,
// recursing into Mixed parts. It does not check cross-message invariants
// such as tool_use_id correspondence; that is the Session's job.
func (c Content) Validate() error {
	switch c.Kind {
	case ContentText:
		return nil
	case ContentImage:
		if c.Image == nil {
			return errors.New("image content missing image block")
		}
		return nil
	case ContentToolCall:
		if c.ToolCall == nil {
			return errors.New("tool_call content missing tool call")
		}
		return nil
	case ContentToolResult:
		if c.ToolResult == nil {
			return errors.New("tool_result content missing tool result")
		}
		return nil
	case ContentMixed:
		for i, p := range c.Parts {
			if err := validateMixedPart(p); err != nil {
				return fmt.Errorf("part %d: %w", i, err)
			}
			if err := p.Validate(); err != nil {
				return fmt.Errorf("part %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown content kind %q", c.Kind)
	}
}

// TextOrConcat returns the single text payload for EndTurn handling: Text
// blocks return their text verbatim, Mixed blocks concatenate the text of
// their Text parts, anything else returns "".
func (c Content) TextOrConcat() string {
	switch c.Kind {
	case ContentText:
		return c.Text
	case ContentMixed:
		out := ""
		for _, p := range c.Parts {
			if p.Kind == ContentText {
				out += p.Text
			}
		}
		return out
	default:
		return ""
	}
}

// ToolCalls returns every ToolCall block carried by this Content, whether it
// is a single ToolCall block or one nested inside a Mixed block, in order.
func (c Content) ToolCalls() []ToolCall {
	switch c.Kind {
	case ContentToolCall:
		return []ToolCall{*c.ToolCall}
	case ContentMixed:
		var out []ToolCall
		for _, p := range c.Parts {
			if p.Kind == ContentToolCall {
				out = append(out, *p.ToolCall)
			}
		}
		return out
	default:
		return nil
	}
}

// Message is one turn in a Session's transcript.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// Usage is a monotonically additive token count.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates other into u and returns u for chaining.
func (u *Usage) Add(other Usage) *Usage {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	return u
}

// Total returns the combined input and output token count.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// StopReason is why a provider stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Session is the append-only transcript and cumulative usage for one
// conversation with one agent. A Session is owned exclusively by its owning
// agent loop; collaborators borrow it briefly under a write lock (see the
// sessions package) rather than holding a long-lived reference.
type Session struct {
	ID        string         `json:"id"`
	AgentName string         `json:"agent_name"`
	Messages  []Message      `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	CumulativeUsage Usage `json:"cumulative_usage"`
}

// NewSession creates an empty session for the named agent.
func NewSession(id, agentName string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		AgentName: agentName,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}
}

// Append adds a message to the transcript and advances UpdatedAt. It is the
// only mutation method on Session; callers must hold the session's write
// lock before calling it (see sessions.Locker).
func (s *Session) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
}

// LastAssistantToolCalls returns the ToolCall blocks of the most recent
// assistant message, or nil if the transcript is empty or the last message
// isn't from the assistant.
func (s *Session) LastAssistantToolCalls() []ToolCall {
	if len(s.Messages) == 0 {
		return nil
	}
	last := s.Messages[len(s.Messages)-1]
	if last.Role != RoleAssistant {
		return nil
	}
	return last.Content.ToolCalls()
}

// ToolSchema is the shape a tool advertises to the model: a name, a
// human-readable description, and a JSON Schema describing its input.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// PermissionLevel is a point in the total order Read < Write < Execute <
// Network < Admin. There is no derived ordering on the underlying string, so
// comparisons must go through Rank/Compare/AtLeast.
type PermissionLevel string

const (
	PermissionRead    PermissionLevel = "read"
	PermissionWrite   PermissionLevel = "write"
	PermissionExecute PermissionLevel = "execute"
	PermissionNetwork PermissionLevel = "network"
	PermissionAdmin   PermissionLevel = "admin"
)

var permissionRank = map[PermissionLevel]int{
	PermissionRead:    0,
	PermissionWrite:   1,
	PermissionExecute: 2,
	PermissionNetwork: 3,
	PermissionAdmin:   4,
}

// Rank returns the total-order position of p. Unknown levels rank below
// PermissionRead so that a misconfigured level never grants more than the
// least-privileged caller.
func (p PermissionLevel) Rank() int {
	if r, ok := permissionRank[p]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether p's rank is greater than or equal to other's rank.
func (p PermissionLevel) AtLeast(other PermissionLevel) bool {
	return p.Rank() >= other.Rank()
}

// Compare returns -1, 0, or 1 as p is less than, equal to, or greater than
// other in the permission total order.
func (p PermissionLevel) Compare(other PermissionLevel) int {
	pr, or := p.Rank(), other.Rank()
	switch {
	case pr < or:
		return -1
	case pr > or:
		return 1
	default:
		return 0
	}
}

// PolicyDecision is the outcome of a tool-policy pipeline evaluation.
type PolicyDecision struct {
	Allowed bool   `json:"allowed"`
	Layer   string `json:"layer,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Allow is the zero-reason Allow decision.
func Allow() PolicyDecision { return PolicyDecision{Allowed: true} }

// Deny builds a Deny decision naming the layer and reason.
func Deny(layer, reason string) PolicyDecision {
	return PolicyDecision{Allowed: false, Layer: layer, Reason: reason}
}

// ScheduledStep is one node of a Plan's dependency graph after id defaulting.
type ScheduledStep struct {
	Index      int             `json:"index"`
	ID         string          `json:"id"`
	Tool       string          `json:"tool"`
	Input      json.RawMessage `json:"input"`
	DependsOn  []string        `json:"depends_on,omitempty"`
}

// Plan is a parsed, id-defaulted execution plan.
type Plan struct {
	ID    string          `json:"id"`
	Steps []ScheduledStep `json:"steps"`
}

// HasDependencies reports whether any step declares a depends_on entry. A
// plan with none takes the scheduler's pure-sequential fast path.
func (p Plan) HasDependencies() bool {
	for _, s := range p.Steps {
		if len(s.DependsOn) > 0 {
			return true
		}
	}
	return false
}

// FixtureStepRecord is one recorded step execution.
type FixtureStepRecord struct {
	Index      int             `json:"index"`
	Tool       string          `json:"tool"`
	Input      json.RawMessage `json:"input"`
	Output     json.RawMessage `json:"output"`
	DurationMs int64           `json:"duration_ms"`
}

// Fixture is a recorded plan run, replayable in place of live tool
// invocation. Steps are kept sorted by Index.
type Fixture struct {
	PlanID      string              `json:"plan_id"`
	RecordedAt  string              `json:"recorded_at"`
	Steps       []FixtureStepRecord `json:"steps"`
}
