package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/modsieve/modsieve/internal/model"
)

func TestLocalProviderExecute(t *testing.T) {
	obj := testThread(t, samplePayload())

	reg := NewRegistry()
	mustRegister := func(name string, fn Func) {
		t.Helper()
		if err := reg.Register(name, fn); err != nil {
			t.Fatal(err)
		}
	}
	mustRegister("ok", func(context.Context, model.Content, []any, map[string]any) (any, error) {
		return "value", nil
	})
	mustRegister("fails", func(context.Context, model.Content, []any, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	mustRegister("panics", func(context.Context, model.Content, []any, map[string]any) (any, error) {
		panic("boom")
	})

	p := NewLocalProvider(reg)
	ctx := context.Background()

	if got := p.Execute(ctx, "ok", obj, nil, nil); got != "value" {
		t.Errorf("ok = %v, want value", got)
	}
	if got := p.Execute(ctx, "unknown", obj, nil, nil); got != nil {
		t.Errorf("unknown = %v, want nil", got)
	}
	if got := p.Execute(ctx, "fails", obj, nil, nil); got != nil {
		t.Errorf("fails = %v, want nil", got)
	}
	if got := p.Execute(ctx, "panics", obj, nil, nil); got != nil {
		t.Errorf("panics = %v, want nil", got)
	}
}

func TestLocalProviderArgsPassed(t *testing.T) {
	obj := testThread(t, samplePayload())

	reg := NewRegistry()
	if err := reg.Register("concat", func(_ context.Context, _ model.Content, args []any, kwargs map[string]any) (any, error) {
		s, _ := args[0].(string)
		suffix, _ := kwargs["suffix"].(string)
		return s + suffix, nil
	}); err != nil {
		t.Fatal(err)
	}

	p := NewLocalProvider(reg)
	got := p.Execute(context.Background(), "concat", obj, []any{"a"}, map[string]any{"suffix": "b"})
	if got != "ab" {
		t.Errorf("got %v, want ab", got)
	}
}

func TestHybridProviderPrefersLocal(t *testing.T) {
	obj := testThread(t, samplePayload())

	reg := NewRegistry()
	if err := reg.Register("local_fn", func(context.Context, model.Content, []any, map[string]any) (any, error) {
		return "local", nil
	}); err != nil {
		t.Fatal(err)
	}

	// grpc.NewClient connects lazily, so an unreachable target is fine here.
	p, err := NewHybridProvider(reg, "localhost:1", 0)
	if err != nil {
		t.Fatalf("new hybrid provider: %v", err)
	}
	defer p.Close()

	if got := p.Execute(context.Background(), "local_fn", obj, nil, nil); got != "local" {
		t.Errorf("got %v, want local", got)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry()
	fn := func(context.Context, model.Content, []any, map[string]any) (any, error) { return nil, nil }
	if err := reg.Register("f", fn); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("f", fn); err == nil {
		t.Error("duplicate registration succeeded")
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}
}
