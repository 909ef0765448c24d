package tools

import (
	"context"
	"testing"
)

func TestRegisterAndGetTool(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	err := reg.Register(Descriptor{Name: "  grep  ", AllowSubAgentUse: true},
		HandlerFunc(func(context.Context, map[string]any) (Result, error) {
			return Result{Parts: []string{"match"}}, nil
		}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	desc, handler, ok := reg.GetTool("grep")
	if !ok {
		t.Fatalf("tool not found under trimmed name")
	}
	if desc.Name != "grep" || !desc.AllowSubAgentUse {
		t.Fatalf("descriptor = %+v", desc)
	}
	out, err := handler.Execute(context.Background(), nil)
	if err != nil || len(out.Parts) != 1 {
		t.Fatalf("Execute = %+v, %v", out, err)
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := reg.Register(Descriptor{}, HandlerFunc(func(context.Context, map[string]any) (Result, error) {
		return Result{}, nil
	})); err == nil {
		t.Fatalf("empty name accepted")
	}
	if err := reg.Register(Descriptor{Name: "x"}, nil); err == nil {
		t.Fatalf("nil handler accepted")
	}
}

func TestSnapshotIsSortedAndUnregisterRemoves(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	noop := HandlerFunc(func(context.Context, map[string]any) (Result, error) { return Result{}, nil })
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(Descriptor{Name: name}, noop); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	snap := reg.Snapshot()
	if len(snap) != 3 || snap[0].Name != "alpha" || snap[2].Name != "zeta" {
		t.Fatalf("snapshot = %+v", snap)
	}

	if err := reg.Unregister("mid"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, _, ok := reg.GetTool("mid"); ok {
		t.Fatalf("tool resolvable after unregister")
	}
}
