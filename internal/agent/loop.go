package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/operon/internal/observability"
	"github.com/haasonsaas/operon/pkg/models"
)

const (
	// defaultMaxIterations bounds a single ProcessMessage call's tool-use
	// round trips before it fails with ErrMaxIterations.
	defaultMaxIterations = 10

	// usageWarnFraction is the fraction of MaxContextTokens at which the loop
	// logs a one-time warning for a session.
	usageWarnFraction = 0.8
)

// Loop drives the process_message state machine: append user message, call
// the provider, dispatch on stop reason, and repeat until EndTurn, MaxTokens,
// or the iteration cap.
type Loop struct {
	Runtime          *Runtime
	Provider         Provider
	Logger           *observability.Logger
	MaxIterations    int
	MaxContextTokens int
	CallerPermission models.PermissionLevel

	warnedMu sync.Mutex
	warned   map[string]bool
}

// NewLoop builds a Loop with the spec defaults: 10 max iterations, Execute
// caller permission.
func NewLoop(runtime *Runtime, provider Provider, logger *observability.Logger) *Loop {
	return &Loop{
		Runtime:          runtime,
		Provider:         provider,
		Logger:           logger,
		MaxIterations:    defaultMaxIterations,
		CallerPermission: models.PermissionExecute,
		warned:           make(map[string]bool),
	}
}

// ProcessMessage appends userText to session as a user message, then runs
// the agentic loop until the provider emits EndTurn, truncates at MaxTokens,
// or MaxIterations is exhausted, returning the final assistant text.
func (l *Loop) ProcessMessage(ctx context.Context, session *models.Session, userText string, tools []string) (string, error) {
	session.Append(models.Message{Role: models.RoleUser, Content: models.NewTextContent(userText)})

	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	schemas := l.Runtime.Schemas(tools)
	cfg := DefaultGenerateConfig()

	for iteration := 0; iteration < maxIter; iteration++ {
		resp, err := l.Provider.Generate(ctx, session.Messages, schemas, cfg)
		if err != nil {
			return "", &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
		}

		session.CumulativeUsage.Add(resp.Usage)
		l.logUsage(ctx, session, resp)

		session.Append(models.Message{Role: models.RoleAssistant, Content: resp.Content})

		switch resp.StopReason {
		case models.StopEndTurn:
			return resp.Content.TextOrConcat(), nil

		case models.StopToolUse:
			if err := l.runToolCalls(ctx, session, resp.Content.ToolCalls()); err != nil {
				return "", &LoopError{Phase: PhaseExecuteTools, Iteration: iteration, Cause: err}
			}

		case models.StopMaxTokens:
			if text := resp.Content.TextOrConcat(); text != "" {
				return text, nil
			}
			return "", &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: ErrContextExceeded}

		default:
			return "", &LoopError{Phase: PhaseStream, Iteration: iteration, Message: fmt.Sprintf("unrecognized stop reason %q", resp.StopReason)}
		}
	}

	return "", &LoopError{Phase: PhaseContinue, Iteration: maxIter, Cause: ErrMaxIterations}
}

// runToolCalls executes every tool call in order and appends each result as
// a ToolResult message, so a failing call still surfaces to the model as
// part of the transcript before the error is returned.
func (l *Loop) runToolCalls(ctx context.Context, session *models.Session, calls []models.ToolCall) error {
	for _, call := range calls {
		output, err := l.Runtime.ExecuteTool(ctx, session.ID, call.Name, call.Input, l.CallerPermission)

		isError := err != nil
		outputText := string(output)
		if isError {
			outputText = err.Error()
		}

		session.Append(models.Message{
			Role:    models.RoleUser,
			Content: models.NewToolResultContent(call.ID, call.Name, outputText, isError),
		})

		if err != nil {
			return err
		}
	}
	return nil
}

// logUsage emits a structured log of this turn's usage and, the first time
// a session's cumulative usage crosses usageWarnFraction of MaxContextTokens,
// a one-time warning.
func (l *Loop) logUsage(ctx context.Context, session *models.Session, resp GenerateResponse) {
	if l.Logger == nil {
		return
	}
	l.Logger.Info(ctx, "agent turn completed",
		"session_id", session.ID,
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"cumulative_tokens", session.CumulativeUsage.Total(),
	)

	if l.MaxContextTokens <= 0 {
		return
	}
	if float64(session.CumulativeUsage.Total()) < usageWarnFraction*float64(l.MaxContextTokens) {
		return
	}

	l.warnedMu.Lock()
	defer l.warnedMu.Unlock()
	if l.warned[session.ID] {
		return
	}
	l.warned[session.ID] = true
	l.Logger.Warn(ctx, "session approaching context window limit",
		"session_id", session.ID,
		"cumulative_tokens", session.CumulativeUsage.Total(),
		"max_context_tokens", l.MaxContextTokens,
	)
}
