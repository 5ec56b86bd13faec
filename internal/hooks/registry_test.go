package hooks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDispatchNoHooksReturnsUnchanged(t *testing.T) {
	r := NewRegistry(nil)
	event := Event{Type: ToolCallBefore, Data: "original"}

	out, err := r.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Data != "original" {
		t.Errorf("Data = %v, want unchanged", out.Data)
	}
}

func TestDispatchRunsInRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)
	var order []string

	for _, name := range []string{"first", "second", "third"} {
		name := name
		r.Register(Hook{
			Name:   name,
			Events: []EventType{ToolCallBefore},
			Handler: func(_ context.Context, _ Event) (Result, error) {
				order = append(order, name)
				return Result{}, nil
			},
		})
	}

	if _, err := r.Dispatch(context.Background(), Event{Type: ToolCallBefore}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDispatchModifiedDataFlowsToNextHook(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Hook{
		Name:   "rewriter",
		Events: []EventType{ToolCallBefore},
		Handler: func(_ context.Context, _ Event) (Result, error) {
			return Result{ModifiedData: "rewritten"}, nil
		},
	})

	var seen any
	r.Register(Hook{
		Name:   "observer",
		Events: []EventType{ToolCallBefore},
		Handler: func(_ context.Context, e Event) (Result, error) {
			seen = e.Data
			return Result{}, nil
		},
	})

	out, err := r.Dispatch(context.Background(), Event{Type: ToolCallBefore, Data: "original"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "rewritten" {
		t.Errorf("second hook saw %v, want rewritten", seen)
	}
	if out.Data != "rewritten" {
		t.Errorf("final Data = %v, want rewritten", out.Data)
	}
}

func TestDispatchCriticalErrorPropagates(t *testing.T) {
	r := NewRegistry(nil)
	wantErr := errors.New("boom")
	r.Register(Hook{
		Name:     "critical",
		Events:   []EventType{SessionStart},
		Critical: true,
		Handler: func(_ context.Context, _ Event) (Result, error) {
			return Result{}, wantErr
		},
	})

	_, err := r.Dispatch(context.Background(), Event{Type: SessionStart})
	if err == nil {
		t.Fatal("expected error from critical hook")
	}
	var hookErr *HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("error = %v, want *HookError", err)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("error chain does not wrap original cause")
	}
}

func TestDispatchNonCriticalErrorSkipped(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Hook{
		Name:   "flaky",
		Events: []EventType{SessionEnd},
		Handler: func(_ context.Context, _ Event) (Result, error) {
			return Result{}, errors.New("boom")
		},
	})
	ran := false
	r.Register(Hook{
		Name:   "after",
		Events: []EventType{SessionEnd},
		Handler: func(_ context.Context, _ Event) (Result, error) {
			ran = true
			return Result{}, nil
		},
	})

	_, err := r.Dispatch(context.Background(), Event{Type: SessionEnd})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("expected chain to continue past non-critical failure")
	}
}

func TestDispatchCriticalTimeoutPropagates(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Hook{
		Name:     "slow",
		Events:   []EventType{ConfigReload},
		Critical: true,
		Timeout:  10 * time.Millisecond,
		Handler: func(ctx context.Context, _ Event) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	})

	_, err := r.Dispatch(context.Background(), Event{Type: ConfigReload})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestDispatchCriticalAbortPropagates(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Hook{
		Name:     "gatekeeper",
		Events:   []EventType{ToolCallBefore},
		Critical: true,
		Handler: func(_ context.Context, _ Event) (Result, error) {
			return Result{Abort: true, AbortReason: "denied"}, nil
		},
	})

	_, err := r.Dispatch(context.Background(), Event{Type: ToolCallBefore})
	if err == nil {
		t.Fatal("expected abort to propagate as error")
	}
}

func TestDispatchNonCriticalAbortIgnored(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Hook{
		Name:   "advisory",
		Events: []EventType{ToolCallAfter},
		Handler: func(_ context.Context, _ Event) (Result, error) {
			return Result{Abort: true}, nil
		},
	})
	ran := false
	r.Register(Hook{
		Name:   "after",
		Events: []EventType{ToolCallAfter},
		Handler: func(_ context.Context, _ Event) (Result, error) {
			ran = true
			return Result{}, nil
		},
	})

	if _, err := r.Dispatch(context.Background(), Event{Type: ToolCallAfter}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("expected chain to continue past non-critical abort")
	}
}

func TestUnregisterRemovesByName(t *testing.T) {
	r := NewRegistry(nil)
	ran := false
	r.Register(Hook{
		Name:   "temp",
		Events: []EventType{SessionStart},
		Handler: func(_ context.Context, _ Event) (Result, error) {
			ran = true
			return Result{}, nil
		},
	})
	r.Unregister("temp")

	if _, err := r.Dispatch(context.Background(), Event{Type: SessionStart}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Error("unregistered hook should not run")
	}
}
