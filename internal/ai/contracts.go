package ai

import (
	"context"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai/tools"
)

// FinishReason is the normalized reason a model response ended.
type FinishReason string

const (
	FinishReasonStop                  FinishReason = "stop"
	FinishReasonMaxTokens             FinishReason = "max_tokens"
	FinishReasonToolCalls             FinishReason = "tool_calls"
	FinishReasonSafety                FinishReason = "safety"
	FinishReasonMalformedFunctionCall FinishReason = "malformed_function_call"
	FinishReasonOther                 FinishReason = "other"
)

// FunctionCall is a raw tool-call proposal as observed in the model stream,
// before repair and id assignment.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`

	// RawArgs keeps the undecoded argument payload for diagnostics and for
	// repair of models that emit string-encoded JSON.
	RawArgs string `json:"raw_args,omitempty"`
}

// UsageMetadata is per-chunk token accounting from the provider.
type UsageMetadata struct {
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CachedTokens     int64   `json:"cached_tokens,omitempty"`
	CacheWriteTokens int64   `json:"cache_write_tokens,omitempty"`
	CacheReadTokens  int64   `json:"cache_read_tokens,omitempty"`
	Credits          float64 `json:"credits,omitempty"`
}

// ChatChunk is one streamed piece of a model response. Any combination of fields
// may be set; the executor inspects them in order (thought/text, calls, finish, usage).
type ChatChunk struct {
	Thought       bool           `json:"thought,omitempty"`
	Text          string         `json:"text,omitempty"`
	FunctionCalls []FunctionCall `json:"function_calls,omitempty"`
	FinishReason  FinishReason   `json:"finish_reason,omitempty"`
	Usage         *UsageMetadata `json:"usage,omitempty"`
}

// ChatStream is the provider-side iterator over response chunks.
// Next reports whether Current holds a new chunk; after Next returns false the
// consumer must check Err.
type ChatStream interface {
	Next() bool
	Current() ChatChunk
	Err() error
}

// ChatRequest scopes one model exchange. Tools, when present, are advertised to
// the provider so the model can propose calls against them.
type ChatRequest struct {
	Model        string             `json:"model"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
	Message      string             `json:"message"`
	PromptID     string             `json:"prompt_id"`
	SceneHint    string             `json:"scene_hint,omitempty"`
	Tools        []tools.Descriptor `json:"tools,omitempty"`
}

// ChatClient is the consumed model-chat boundary. Implementations live in
// internal/provider; tests use scripted fakes.
type ChatClient interface {
	SendMessageStream(ctx context.Context, req ChatRequest) (ChatStream, error)
}

// ErrorReporter is the side channel for non-fatal turn failures.
type ErrorReporter interface {
	Report(promptID string, err error)
}

// NopErrorReporter drops reports; useful as a default and in tests.
type NopErrorReporter struct{}

func (NopErrorReporter) Report(string, error) {}
