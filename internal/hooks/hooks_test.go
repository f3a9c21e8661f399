package hooks

import (
	"context"
	"errors"
	"testing"
)

func TestFireOrdering(t *testing.T) {
	r := NewRunner()
	var order []string
	r.Register(MessageLoopStart, "first", func(_ context.Context, _ *Event) error {
		order = append(order, "first")
		return nil
	})
	r.Register(MessageLoopStart, "second", func(_ context.Context, _ *Event) error {
		order = append(order, "second")
		return nil
	})

	r.Fire(context.Background(), MessageLoopStart, "cli:default", nil)
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v", order)
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	r := NewRunner()
	var ran bool
	r.Register(ToolExecuteBefore, "boom", func(_ context.Context, _ *Event) error {
		panic("handler exploded")
	})
	r.Register(ToolExecuteBefore, "survivor", func(_ context.Context, _ *Event) error {
		ran = true
		return nil
	})

	ev := r.Fire(context.Background(), ToolExecuteBefore, "k", nil)
	if !ran {
		t.Error("later handler did not run after panic")
	}
	if len(ev.Errs) != 1 {
		t.Errorf("Errs = %v, want one recorded failure", ev.Errs)
	}
}

func TestHandlerErrorRecordedAndChainContinues(t *testing.T) {
	r := NewRunner()
	r.Register(ToolExecuteBefore, "veto", func(_ context.Context, _ *Event) error {
		return errors.New("not allowed")
	})
	var ran bool
	r.Register(ToolExecuteBefore, "after", func(_ context.Context, _ *Event) error {
		ran = true
		return nil
	})

	ev := r.Fire(context.Background(), ToolExecuteBefore, "k", nil)
	if len(ev.Errs) != 1 {
		t.Fatalf("Errs = %v", ev.Errs)
	}
	if !ran {
		t.Error("error stopped the chain")
	}
}

func TestSlotMutationVisibleToLaterHandlers(t *testing.T) {
	r := NewRunner()
	r.Register(SystemPrompt, "rewrite", func(_ context.Context, ev *Event) error {
		ev.Payload["system_prompt"] = ev.String("system_prompt") + " extended"
		return nil
	})
	var seen string
	r.Register(SystemPrompt, "observe", func(_ context.Context, ev *Event) error {
		seen = ev.String("system_prompt")
		return nil
	})

	ev := r.Fire(context.Background(), SystemPrompt, "k", map[string]any{"system_prompt": "base"})
	if seen != "base extended" {
		t.Errorf("later handler saw %q", seen)
	}
	if ev.String("system_prompt") != "base extended" {
		t.Errorf("caller sees %q", ev.String("system_prompt"))
	}
}

func TestAsyncHandlerSameSemantics(t *testing.T) {
	r := NewRunner()
	r.Register(MonologueEnd, "async", Async(func(_ context.Context, ev *Event) error {
		ev.Payload["done"] = true
		return nil
	}))

	ev := r.Fire(context.Background(), MonologueEnd, "k", nil)
	if done, _ := ev.Payload["done"].(bool); !done {
		t.Error("async handler result not awaited")
	}
}

func TestAsyncHandlerPanicIsolated(t *testing.T) {
	r := NewRunner()
	r.Register(MonologueEnd, "async-boom", Async(func(_ context.Context, _ *Event) error {
		panic("async exploded")
	}))

	ev := r.Fire(context.Background(), MonologueEnd, "k", nil)
	if len(ev.Errs) != 1 {
		t.Errorf("Errs = %v", ev.Errs)
	}
}

func TestFireUnregisteredPointNoop(t *testing.T) {
	r := NewRunner()
	ev := r.Fire(context.Background(), ErrorFormat, "k", nil)
	if ev == nil || len(ev.Errs) != 0 {
		t.Error("unregistered point should be a clean no-op")
	}
}
