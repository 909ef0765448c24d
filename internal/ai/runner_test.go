package ai

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai/tools"
)

// scriptedClient returns one scripted stream per SendMessageStream call and
// keeps the requests it saw.
type scriptedClient struct {
	mu       sync.Mutex
	turns    [][]ChatChunk
	requests []ChatRequest
}

func (c *scriptedClient) SendMessageStream(_ context.Context, req ChatRequest) (ChatStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	var chunks []ChatChunk
	if len(c.turns) > 0 {
		chunks = c.turns[0]
		c.turns = c.turns[1:]
	} else {
		chunks = []ChatChunk{{Text: "nothing left", FinishReason: FinishReasonStop}}
	}
	return &fakeStream{chunks: chunks}, nil
}

func newScriptedRunner(t *testing.T, turns [][]ChatChunk) SubAgentRunner {
	t.Helper()
	runner, err := NewRunner(RunnerOptions{Client: &scriptedClient{turns: turns}})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return runner
}

func runnerToolRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	err := reg.Register(tools.Descriptor{Name: "read_file", AllowSubAgentUse: true},
		tools.HandlerFunc(func(_ context.Context, args map[string]any) (tools.Result, error) {
			return tools.Result{Parts: []string{"contents of " + args["path"].(string)}}, nil
		}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	err = reg.Register(tools.Descriptor{Name: "write_file", AllowSubAgentUse: true, Mutating: true},
		tools.HandlerFunc(func(context.Context, map[string]any) (tools.Result, error) {
			return tools.Result{Display: "written"}, nil
		}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func TestRunnerDrivesToolCallsToCompletion(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner(t, [][]ChatChunk{
		{
			{FunctionCalls: []FunctionCall{{ID: "c1", Name: "read_file", Args: map[string]any{"path": "a.py"}}}, FinishReason: FinishReasonToolCalls},
		},
		{
			{Text: "fixed it"},
			{FinishReason: FinishReasonStop, Usage: &UsageMetadata{InputTokens: 10, OutputTokens: 4, TotalTokens: 14}},
		},
	})

	cfg := SubAgentConfig{ID: "custom:fixer", Name: "F", SystemPrompt: "p", Enabled: true}
	view := BuildToolView(runnerToolRegistry(t), cfg)

	var turns []int
	result, err := runner.Run(context.Background(), RunRequest{
		Config:   cfg,
		Prompt:   "fix a.py",
		MaxTurns: 5,
		Tools:    view,
		OnTurn:   func(turn int, _ string) { turns = append(turns, turn) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Output != "fixed it" {
		t.Fatalf("output = %q", result.Output)
	}
	if result.TurnsUsed != 2 {
		t.Fatalf("turns used = %d", result.TurnsUsed)
	}
	if len(turns) != 2 || turns[0] != 1 || turns[1] != 2 {
		t.Fatalf("turn callbacks = %v", turns)
	}
	if result.TokenUsage.Total != 14 {
		t.Fatalf("token usage = %+v", result.TokenUsage)
	}
}

func TestRunnerTurnBudgetExhaustion(t *testing.T) {
	t.Parallel()

	// Every turn asks for another tool call; the budget must stop the loop.
	loop := []ChatChunk{
		{FunctionCalls: []FunctionCall{{ID: "c", Name: "read_file", Args: map[string]any{"path": "x"}}}, FinishReason: FinishReasonToolCalls},
	}
	runner := newScriptedRunner(t, [][]ChatChunk{loop, loop, loop, loop, loop})

	cfg := SubAgentConfig{ID: "custom:loop", Name: "L", SystemPrompt: "p", Enabled: true}
	view := BuildToolView(runnerToolRegistry(t), cfg)

	var sawBudgetEvent bool
	result, err := runner.Run(context.Background(), RunRequest{
		Config:   cfg,
		Prompt:   "go",
		MaxTurns: 3,
		Tools:    view,
		OnEvent: func(ev Event) {
			if ev.Kind == EventMaxTurnsReached {
				sawBudgetEvent = true
			}
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatalf("budget exhaustion reported success")
	}
	if result.TurnsUsed != 3 {
		t.Fatalf("turns used = %d, want 3", result.TurnsUsed)
	}
	if !strings.Contains(result.Error, "budget") {
		t.Fatalf("error = %q", result.Error)
	}
	if !sawBudgetEvent {
		t.Fatalf("no budget event emitted")
	}
}

func TestRunnerBlocksToolsOutsideTheView(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner(t, [][]ChatChunk{
		{
			{FunctionCalls: []FunctionCall{{ID: "c1", Name: "write_file", Args: map[string]any{"path": "x"}}}, FinishReason: FinishReasonToolCalls},
		},
		{
			{Text: "understood"},
			{FinishReason: FinishReasonStop},
		},
	})

	cfg := SubAgentConfig{ID: "custom:ro", Name: "RO", SystemPrompt: "p", Enabled: true, ExcludedTools: []string{"write_file"}}
	view := BuildToolView(runnerToolRegistry(t), cfg)

	var blocked bool
	result, err := runner.Run(context.Background(), RunRequest{
		Config: cfg,
		Prompt: "write something",
		Tools:  view,
		OnEvent: func(ev Event) {
			if ev.Kind == EventToolCallResponse && ev.ToolCallResponse.Error != "" {
				blocked = true
			}
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !blocked {
		t.Fatalf("excluded tool executed")
	}
	if len(result.FilesCreated) != 0 {
		t.Fatalf("blocked call recorded a side effect: %v", result.FilesCreated)
	}
}

func TestRunnerRecordsSideEffects(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner(t, [][]ChatChunk{
		{
			{FunctionCalls: []FunctionCall{{ID: "c1", Name: "write_file", Args: map[string]any{"path": "new.go", "content": "x"}}}, FinishReason: FinishReasonToolCalls},
		},
		{
			{Text: "done"},
			{FinishReason: FinishReasonStop},
		},
	})

	cfg := SubAgentConfig{ID: "custom:w", Name: "W", SystemPrompt: "p", Enabled: true}
	view := BuildToolView(runnerToolRegistry(t), cfg)

	result, err := runner.Run(context.Background(), RunRequest{Config: cfg, Prompt: "create new.go", Tools: view})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.FilesCreated) != 1 || result.FilesCreated[0] != "new.go" {
		t.Fatalf("files created = %v", result.FilesCreated)
	}
	if len(result.ExecutionLog) == 0 {
		t.Fatalf("empty execution log")
	}
}

func TestRunnerAdvertisesViewToolsToClient(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{turns: [][]ChatChunk{
		{{Text: "nothing to do"}, {FinishReason: FinishReasonStop}},
	}}
	runner, err := NewRunner(RunnerOptions{Client: client})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	cfg := SubAgentConfig{ID: "custom:ro", Name: "RO", SystemPrompt: "p", Enabled: true, ExcludedTools: []string{"write_file"}}
	view := BuildToolView(runnerToolRegistry(t), cfg)

	if _, err := runner.Run(context.Background(), RunRequest{Config: cfg, Prompt: "p", Tools: view}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(client.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(client.requests))
	}
	got := client.requests[0].Tools
	if len(got) != 1 || got[0].Name != "read_file" {
		t.Fatalf("advertised tools = %+v, want only read_file", got)
	}
}

func TestRunnerCancellationReturnsContextError(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := SubAgentConfig{ID: "custom:c", Name: "C", SystemPrompt: "p", Enabled: true}
	_, err := runner.Run(ctx, RunRequest{Config: cfg, Prompt: "p"})
	if err == nil {
		t.Fatalf("cancelled run returned nil error")
	}
}
