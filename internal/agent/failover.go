package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/operon/internal/backoff"
	"github.com/haasonsaas/operon/pkg/models"
)

const (
	defaultFailureThreshold = 5
	maxRetriesPerProvider   = 3
	maxBackoff              = 300 * time.Second
)

// failoverBackoffPolicy matches the chain's 500ms*2^attempt, capped at 300s,
// no-jitter retry schedule.
var failoverBackoffPolicy = backoff.BackoffPolicy{
	InitialMs: 500,
	MaxMs:     float64(maxBackoff / time.Millisecond),
	Factor:    2,
	Jitter:    0,
}

// retryAfterError is implemented by provider errors that carry a
// server-supplied retry delay, overriding the chain's exponential backoff.
type retryAfterError interface {
	RetryAfterDuration() (time.Duration, bool)
}

func (e *ProviderError) RetryAfterDuration() (time.Duration, bool) {
	if e.RetryAfter <= 0 {
		return 0, false
	}
	return e.RetryAfter, true
}

// FailoverOrchestrator tries an ordered list of providers, retrying a
// retryable error up to maxRetriesPerProvider times before moving to the
// next provider, and skipping providers whose per-model failure count has
// reached the threshold. A provider's counter resets on any success.
type FailoverOrchestrator struct {
	providers []Provider
	threshold int
	logger    *slog.Logger

	mu       sync.Mutex
	failures map[string]int
}

// NewFailoverOrchestrator builds an orchestrator over providers in priority
// order. threshold<=0 uses the spec default of 5.
func NewFailoverOrchestrator(providers []Provider, threshold int, logger *slog.Logger) *FailoverOrchestrator {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverOrchestrator{
		providers: providers,
		threshold: threshold,
		logger:    logger,
		failures:  make(map[string]int),
	}
}

func (f *FailoverOrchestrator) failureCount(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[model]
}

func (f *FailoverOrchestrator) recordSuccess(model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[model] = 0
}

func (f *FailoverOrchestrator) recordFailure(model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[model]++
}

func backoffFor(err error, attempt int) time.Duration {
	var rae retryAfterError
	if errors.As(err, &rae) {
		if d, ok := rae.RetryAfterDuration(); ok {
			if d > maxBackoff {
				return maxBackoff
			}
			return d
		}
	}
	return backoff.ComputeBackoff(failoverBackoffPolicy, attempt)
}

// Generate tries each provider in order. Within a provider, a retryable
// error (per IsRetryableProviderError) is retried up to maxRetriesPerProvider
// times with backoff; a non-retryable error moves immediately to the next
// provider. ErrProviderExhausted is returned once every provider has failed
// or is already over its failure threshold.
func (f *FailoverOrchestrator) Generate(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg GenerateConfig) (GenerateResponse, error) {
	var lastErr error

	for _, provider := range f.providers {
		model := provider.ModelName()
		if f.failureCount(model) >= f.threshold {
			f.logger.Warn("skipping provider over failure threshold", "model", model)
			continue
		}

		for attempt := 1; attempt <= maxRetriesPerProvider; attempt++ {
			resp, err := provider.Generate(ctx, messages, tools, cfg)
			if err == nil {
				f.recordSuccess(model)
				return resp, nil
			}

			lastErr = err
			f.recordFailure(model)

			if !IsRetryableProviderError(err) {
				f.logger.Warn("provider returned non-retryable error", "model", model, "error", err)
				break
			}
			if attempt == maxRetriesPerProvider {
				f.logger.Warn("provider exhausted retries", "model", model, "error", err)
				break
			}
			if sleepErr := backoff.SleepWithContext(ctx, backoffFor(err, attempt)); sleepErr != nil {
				return GenerateResponse{}, sleepErr
			}
		}
	}

	if lastErr != nil {
		return GenerateResponse{}, errors.Join(ErrProviderExhausted, lastErr)
	}
	return GenerateResponse{}, ErrProviderExhausted
}

// GenerateStream tries each provider in order with no retry: the first
// provider to open a stream without error wins. A failed attempt still
// counts toward that provider's failure threshold.
func (f *FailoverOrchestrator) GenerateStream(ctx context.Context, messages []models.Message, tools []models.ToolSchema, cfg GenerateConfig) (<-chan StreamChunk, error) {
	var lastErr error

	for _, provider := range f.providers {
		model := provider.ModelName()
		if f.failureCount(model) >= f.threshold {
			continue
		}

		ch, err := provider.GenerateStream(ctx, messages, tools, cfg)
		if err == nil {
			f.recordSuccess(model)
			return ch, nil
		}
		lastErr = err
		f.recordFailure(model)
	}

	if lastErr != nil {
		return nil, errors.Join(ErrProviderExhausted, lastErr)
	}
	return nil, ErrProviderExhausted
}

// SupportsVision reports whether any provider in the chain supports vision.
func (f *FailoverOrchestrator) SupportsVision() bool {
	for _, p := range f.providers {
		if p.SupportsVision() {
			return true
		}
	}
	return false
}

// ModelName returns the lead provider's model name, since the chain itself
// has no single model identity.
func (f *FailoverOrchestrator) ModelName() string {
	if len(f.providers) == 0 {
		return ""
	}
	return f.providers[0].ModelName()
}
