package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// HookError wraps a critical hook's failure or timeout, identified by name.
type HookError struct {
	HookName string
	Cause    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("critical hook %q failed: %v", e.HookName, e.Cause)
}

func (e *HookError) Unwrap() error {
	return e.Cause
}

// ErrHookAborted is wrapped into a HookError when a hook's Result sets Abort.
var ErrHookAborted = errors.New("hook aborted event")

// Registry holds hooks in registration order and dispatches events to the
// subset registered for each EventType, sequentially.
type Registry struct {
	mu     sync.RWMutex
	hooks  []Hook
	logger *slog.Logger
}

// NewRegistry builds an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger.With("component", "hooks")}
}

// Register appends hook to the registration order. Hooks for the same event
// run in the order they were registered.
func (r *Registry) Register(hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Unregister removes every hook with the given name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.hooks[:0]
	for _, h := range r.hooks {
		if h.Name != name {
			kept = append(kept, h)
		}
	}
	r.hooks = kept
}

// Clear removes every registered hook.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = nil
}

func (r *Registry) matching(t EventType) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Hook
	for _, h := range r.hooks {
		if h.matches(t) {
			out = append(out, h)
		}
	}
	return out
}

// Dispatch runs every hook registered for event.Type, in registration
// order. Each hook's ModifiedData (if any) replaces event.Data before the
// next hook runs. A hook that aborts, errors, or times out is handled per
// its Critical flag: critical failures stop the chain and return an error;
// non-critical failures are logged and skipped, leaving event.Data as the
// last hook left it. With no matching hooks, event is returned unchanged.
func (r *Registry) Dispatch(ctx context.Context, event Event) (Event, error) {
	for _, hook := range r.matching(event.Type) {
		result, err := r.runHook(ctx, hook, event)
		if err != nil {
			if hook.Critical {
				return event, &HookError{HookName: hook.Name, Cause: err}
			}
			r.logger.Warn("non-critical hook failed, skipping", "hook", hook.Name, "event_type", event.Type, "error", err)
			continue
		}

		if result.Abort {
			if hook.Critical {
				reason := result.AbortReason
				if reason == "" {
					reason = ErrHookAborted.Error()
				}
				return event, &HookError{HookName: hook.Name, Cause: fmt.Errorf("%w: %s", ErrHookAborted, reason)}
			}
			r.logger.Warn("non-critical hook requested abort, ignoring", "hook", hook.Name, "event_type", event.Type)
			continue
		}

		if result.ModifiedData != nil {
			event.Data = result.ModifiedData
		}
	}
	return event, nil
}

func (r *Registry) runHook(ctx context.Context, hook Hook, event Event) (result Result, err error) {
	hookCtx, cancel := context.WithTimeout(ctx, hook.timeout())
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("hook panic: %v", p)}
			}
		}()
		res, herr := hook.Handler(hookCtx, event)
		done <- outcome{result: res, err: herr}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-hookCtx.Done():
		return Result{}, hookCtx.Err()
	}
}
