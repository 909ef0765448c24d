package provider

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	oresponses "github.com/openai/openai-go/responses"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai"
	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai/tools"
	"github.com/OrionStarAI/DeepVCode-sub011/internal/config"
)

func TestNewRejectsUnusableProviderEntries(t *testing.T) {
	if _, err := New(config.Provider{Name: "x", Type: "openai"}); err == nil {
		t.Fatalf("missing api_key_env accepted")
	}

	t.Setenv("PROVIDER_TEST_KEY", "")
	if _, err := New(config.Provider{Name: "x", Type: "openai", APIKeyEnv: "PROVIDER_TEST_KEY"}); err == nil {
		t.Fatalf("empty key accepted")
	}

	t.Setenv("PROVIDER_TEST_KEY", "k")
	if _, err := New(config.Provider{Name: "x", Type: "mystery", APIKeyEnv: "PROVIDER_TEST_KEY"}); err == nil {
		t.Fatalf("unknown provider type accepted")
	}
	if _, err := New(config.Provider{Name: "x", Type: "anthropic", APIKeyEnv: "PROVIDER_TEST_KEY"}); err != nil {
		t.Fatalf("anthropic client: %v", err)
	}
	if _, err := New(config.Provider{Name: "x", Type: "openai_compatible", BaseURL: "https://gw.example.com/v1", APIKeyEnv: "PROVIDER_TEST_KEY"}); err != nil {
		t.Fatalf("openai_compatible client: %v", err)
	}
}

func TestFinishReasonMapping(t *testing.T) {
	t.Parallel()

	if got := mapOpenAIStatus(oresponses.ResponseStatus("completed")); got != ai.FinishReasonStop {
		t.Fatalf("completed -> %q", got)
	}
	if got := mapOpenAIStatus(oresponses.ResponseStatus("incomplete")); got != ai.FinishReasonMaxTokens {
		t.Fatalf("incomplete -> %q", got)
	}
	if got := mapOpenAIStatus(oresponses.ResponseStatus("failed")); got != ai.FinishReasonOther {
		t.Fatalf("failed -> %q", got)
	}

	if got := mapAnthropicStopReason(anthropic.StopReason("tool_use")); got != ai.FinishReasonToolCalls {
		t.Fatalf("tool_use -> %q", got)
	}
	if got := mapAnthropicStopReason(anthropic.StopReason("end_turn")); got != ai.FinishReasonStop {
		t.Fatalf("end_turn -> %q", got)
	}
	if got := mapAnthropicStopReason(anthropic.StopReason("max_tokens")); got != ai.FinishReasonMaxTokens {
		t.Fatalf("max_tokens -> %q", got)
	}
	if got := mapAnthropicStopReason(anthropic.StopReason("refusal")); got != ai.FinishReasonSafety {
		t.Fatalf("refusal -> %q", got)
	}
}

func TestToolParamBuilders(t *testing.T) {
	t.Parallel()

	defs := []tools.Descriptor{
		{
			Name:        "read_file",
			Description: "read a file",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		},
		{Name: "   "},
	}

	oa := buildOpenAITools(defs)
	if len(oa) != 1 {
		t.Fatalf("openai tools = %d, want 1 (blank names must be dropped)", len(oa))
	}

	an := buildAnthropicTools(defs)
	if len(an) != 1 {
		t.Fatalf("anthropic tools = %d, want 1 (blank names must be dropped)", len(an))
	}
	tool := an[0].OfTool
	if tool == nil || tool.Name != "read_file" {
		t.Fatalf("anthropic tool = %+v", an[0])
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "path" {
		t.Fatalf("required = %v", tool.InputSchema.Required)
	}
}

func TestPartialToCallDecodesArgs(t *testing.T) {
	t.Parallel()

	call := partialToCall(" call_1 ", " read_file ", ` {"path":"a.go"} `)
	if call.ID != "call_1" || call.Name != "read_file" {
		t.Fatalf("call = %+v", call)
	}
	if call.Args["path"] != "a.go" {
		t.Fatalf("args = %+v", call.Args)
	}
	if call.RawArgs != `{"path":"a.go"}` {
		t.Fatalf("raw args = %q", call.RawArgs)
	}

	garbage := partialToCall("c", "t", "not json")
	if len(garbage.Args) != 0 || garbage.RawArgs != "not json" {
		t.Fatalf("garbage call = %+v", garbage)
	}
}
