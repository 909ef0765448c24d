package ai

// This package implements the agentic core of the DeepVCode CLI.
//
// Design notes:
// - A turn is one exchange with the model, surfaced as an ordered stream of Event values.
// - Sub-agent work is delegated through the registry + scheduler; the scheduler owns
//   every AsyncSubAgentTask for its whole lifetime.
// - The UI, config loader and auth manager are external collaborators reached through
//   the narrow interfaces in contracts.go.

import "strings"

// EventKind tags the members of the turn event union.
type EventKind string

const (
	EventContent              EventKind = "content"
	EventThought              EventKind = "thought"
	EventToolCallRequest      EventKind = "tool_call_request"
	EventToolCallResponse     EventKind = "tool_call_response"
	EventToolCallConfirmation EventKind = "tool_call_confirmation"
	EventUserCancelled        EventKind = "user_cancelled"
	EventError                EventKind = "error"
	EventChatCompressed       EventKind = "chat_compressed"
	EventMaxTurnsReached      EventKind = "max_turns_reached"
	EventFinished             EventKind = "finished"
	EventLoopDetected         EventKind = "loop_detected"
	EventTokenUsage           EventKind = "token_usage"
)

// ThoughtSummary is a model "thought" chunk split into a bolded subject and the rest.
type ThoughtSummary struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// ToolCallRequestInfo is created the instant a function call is observed in the
// model stream and is immutable once emitted.
type ToolCallRequestInfo struct {
	CallID                string         `json:"call_id"`
	Name                  string         `json:"name"`
	Args                  map[string]any `json:"args,omitempty"`
	IsClientInitiated     bool           `json:"is_client_initiated"`
	PromptID              string         `json:"prompt_id"`
	IsRuntimeConfirmation bool           `json:"is_runtime_confirmation,omitempty"`
}

// ToolCallResponseInfo carries the eventual result for a request with the same CallID.
type ToolCallResponseInfo struct {
	CallID  string   `json:"call_id"`
	Parts   []string `json:"parts,omitempty"`
	Display string   `json:"display,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ToolCallConfirmationDetails pairs a request with whatever the dispatcher needs to
// show the user before executing it.
type ToolCallConfirmationDetails struct {
	Request ToolCallRequestInfo `json:"request"`
	Details map[string]any      `json:"details,omitempty"`
}

type ErrorInfo struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

type ChatCompressionInfo struct {
	OriginalTokens int64 `json:"original_tokens"`
	NewTokens      int64 `json:"new_tokens"`
}

type FinishedInfo struct {
	Reason       FinishReason `json:"reason"`
	ErrorDetails string       `json:"error_details,omitempty"`
}

type LoopDetectedInfo struct {
	Kind string `json:"kind,omitempty"`
}

// TokenUsageInfo is additive: a turn may emit several and summing is the caller's job.
type TokenUsageInfo struct {
	Input      int64   `json:"input"`
	Output     int64   `json:"output"`
	Total      int64   `json:"total"`
	Cached     int64   `json:"cached,omitempty"`
	CacheWrite int64   `json:"cache_write,omitempty"`
	CacheRead  int64   `json:"cache_read,omitempty"`
	Credits    float64 `json:"credits,omitempty"`
}

// Event is the tagged union emitted by a turn. Exactly one field matching Kind is set.
type Event struct {
	Kind EventKind `json:"kind"`

	Content              string                       `json:"content,omitempty"`
	Thought              *ThoughtSummary              `json:"thought,omitempty"`
	ToolCallRequest      *ToolCallRequestInfo         `json:"tool_call_request,omitempty"`
	ToolCallResponse     *ToolCallResponseInfo        `json:"tool_call_response,omitempty"`
	ToolCallConfirmation *ToolCallConfirmationDetails `json:"tool_call_confirmation,omitempty"`
	Error                *ErrorInfo                   `json:"error,omitempty"`
	ChatCompressed       *ChatCompressionInfo         `json:"chat_compressed,omitempty"`
	Finished             *FinishedInfo                `json:"finished,omitempty"`
	LoopDetected         *LoopDetectedInfo            `json:"loop_detected,omitempty"`
	TokenUsage           *TokenUsageInfo              `json:"token_usage,omitempty"`
}

// IsTerminal reports whether the event ends a turn stream (TokenUsage may still follow).
func (e Event) IsTerminal() bool {
	switch e.Kind {
	case EventFinished, EventUserCancelled, EventError:
		return true
	default:
		return false
	}
}

func contentEvent(text string) Event {
	return Event{Kind: EventContent, Content: text}
}

func thoughtEvent(subject string, description string) Event {
	return Event{Kind: EventThought, Thought: &ThoughtSummary{Subject: subject, Description: description}}
}

func toolCallRequestEvent(info ToolCallRequestInfo) Event {
	return Event{Kind: EventToolCallRequest, ToolCallRequest: &info}
}

func userCancelledEvent() Event {
	return Event{Kind: EventUserCancelled}
}

func errorEvent(message string, statusCode int) Event {
	return Event{Kind: EventError, Error: &ErrorInfo{Message: strings.TrimSpace(message), StatusCode: statusCode}}
}

func finishedEvent(reason FinishReason, details string) Event {
	return Event{Kind: EventFinished, Finished: &FinishedInfo{Reason: reason, ErrorDetails: strings.TrimSpace(details)}}
}

func maxTurnsReachedEvent() Event {
	return Event{Kind: EventMaxTurnsReached}
}

func tokenUsageEvent(u TokenUsageInfo) Event {
	return Event{Kind: EventTokenUsage, TokenUsage: &u}
}
