package ai

import (
	"strings"
	"testing"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/config"
)

func repairPolicies() []config.RepairPolicy {
	return []config.RepairPolicy{
		{ModelPrefix: "glm-", GenerateCallIDs: true, CoerceStringArgs: true},
		{ModelPrefix: "qwen", GenerateCallIDs: true},
	}
}

func TestRepairOnlyAppliesToMatchingModels(t *testing.T) {
	t.Parallel()

	call := FunctionCall{Name: "read_file", RawArgs: `{"path":"a.go"}`}
	out := repairFunctionCall(call, "gpt-4.1", repairPolicies())
	if out.ID != "" || len(out.Args) != 0 {
		t.Fatalf("call modified for non-matching model: %+v", out)
	}

	out = repairFunctionCall(call, "GLM-4-Plus", repairPolicies())
	if out.ID == "" {
		t.Fatalf("missing id not generated for matching model")
	}
	if out.Args["path"] != "a.go" {
		t.Fatalf("string args not coerced: %+v", out.Args)
	}
}

func TestRepairDecodesDoubleEncodedArgs(t *testing.T) {
	t.Parallel()

	call := FunctionCall{Name: "write_file", RawArgs: `"{\"path\":\"b.go\",\"content\":\"x\"}"`}
	out := repairFunctionCall(call, "glm-4", repairPolicies())
	if out.Args["path"] != "b.go" {
		t.Fatalf("double-encoded args not decoded: %+v", out.Args)
	}
}

func TestRepairNeverFails(t *testing.T) {
	t.Parallel()

	cases := []FunctionCall{
		{Name: "t", RawArgs: "not json at all"},
		{Name: "t", RawArgs: `"still not json"`},
		{Name: "t", RawArgs: ""},
		{},
	}
	for _, call := range cases {
		out := repairFunctionCall(call, "glm-4", repairPolicies())
		if out.Name != call.Name || out.RawArgs != call.RawArgs {
			t.Fatalf("original call mutated: in=%+v out=%+v", call, out)
		}
		if len(out.Args) != len(call.Args) {
			t.Fatalf("args invented from garbage: %+v", out.Args)
		}
	}
}

func TestRepairKeepsExistingIDs(t *testing.T) {
	t.Parallel()

	call := FunctionCall{ID: "call_9", Name: "grep"}
	out := repairFunctionCall(call, "qwen-2.5", repairPolicies())
	if out.ID != "call_9" {
		t.Fatalf("existing id replaced: %q", out.ID)
	}
}

func TestGenerateCallIDShape(t *testing.T) {
	t.Parallel()

	id := generateCallID("  list_dir  ")
	if !strings.HasPrefix(id, "list_dir-") {
		t.Fatalf("id %q does not start with the tool name", id)
	}
	if id := generateCallID(""); !strings.HasPrefix(id, "call-") {
		t.Fatalf("empty name fallback = %q", id)
	}
}
