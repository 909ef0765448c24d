package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/config"
)

// Turn drives one exchange with the model and surfaces it as an ordered event
// stream. A Turn owns no state beyond the current exchange and is not restartable.
type Turn struct {
	client   ChatClient
	reporter ErrorReporter
	log      *slog.Logger

	repairPolicies []config.RepairPolicy

	promptID string
	started  bool
	terminal bool

	pending  []ToolCallRequestInfo
	lastCall *FunctionCall
}

type TurnOptions struct {
	Client         ChatClient
	Reporter       ErrorReporter
	Logger         *slog.Logger
	RepairPolicies []config.RepairPolicy
	PromptID       string
}

func NewTurn(opts TurnOptions) (*Turn, error) {
	if opts.Client == nil {
		return nil, errors.New("missing chat client")
	}
	promptID := strings.TrimSpace(opts.PromptID)
	if promptID == "" {
		var err error
		promptID, err = NewPromptID()
		if err != nil {
			return nil, err
		}
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = NopErrorReporter{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Turn{
		client:         opts.Client,
		reporter:       reporter,
		log:            log,
		repairPolicies: append([]config.RepairPolicy(nil), opts.RepairPolicies...),
		promptID:       promptID,
	}, nil
}

func (t *Turn) PromptID() string {
	if t == nil {
		return ""
	}
	return t.promptID
}

// PendingCalls returns the tool-call requests observed so far, in emission order.
func (t *Turn) PendingCalls() []ToolCallRequestInfo {
	if t == nil || len(t.pending) == 0 {
		return nil
	}
	out := make([]ToolCallRequestInfo, len(t.pending))
	copy(out, t.pending)
	return out
}

// Run consumes the model stream for req and delivers events to emit in order.
// Exactly one terminal event (Finished, UserCancelled or Error) is delivered,
// possibly followed by TokenUsage. The returned error is non-nil only for the
// unauthorized class, which must reach session-level re-auth uncaught.
func (t *Turn) Run(ctx context.Context, req ChatRequest, emit func(Event)) error {
	if t == nil {
		return errors.New("nil turn")
	}
	if emit == nil {
		return errors.New("missing emit callback")
	}
	if t.started {
		return errors.New("turn already consumed")
	}
	t.started = true
	if ctx == nil {
		ctx = context.Background()
	}
	req.PromptID = t.promptID

	stream, err := t.client.SendMessageStream(ctx, req)
	if err != nil {
		return t.failStream(err, emit)
	}

	for stream.Next() {
		// Cancellation is observed before each chunk; buffered chunks are discarded.
		if ctx.Err() != nil {
			t.emitTerminal(userCancelledEvent(), emit)
			return nil
		}
		t.handleChunk(stream.Current(), req.Model, emit)
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			t.emitTerminal(userCancelledEvent(), emit)
			return nil
		}
		return t.failStream(err, emit)
	}
	if ctx.Err() != nil {
		t.emitTerminal(userCancelledEvent(), emit)
		return nil
	}
	// Providers are not required to carry a finish reason; close the turn anyway
	// so consumers always observe a terminal event.
	t.emitTerminal(finishedEvent(FinishReasonOther, ""), emit)
	return nil
}

// emitTerminal delivers ev only if no terminal event has been emitted yet; the
// first terminal closes the turn and later candidates are dropped.
func (t *Turn) emitTerminal(ev Event, emit func(Event)) {
	if t.terminal {
		return
	}
	t.terminal = true
	emit(ev)
}

func (t *Turn) handleChunk(chunk ChatChunk, model string, emit func(Event)) {
	if chunk.Thought {
		subject, description := splitThought(chunk.Text)
		emit(thoughtEvent(subject, description))
	} else if chunk.Text != "" {
		emit(contentEvent(chunk.Text))
	}

	for _, raw := range chunk.FunctionCalls {
		call := repairFunctionCall(raw, model, t.repairPolicies)
		t.lastCall = &call
		callID := strings.TrimSpace(call.ID)
		if callID == "" {
			callID = generateCallID(call.Name)
		}
		info := ToolCallRequestInfo{
			CallID:   callID,
			Name:     strings.TrimSpace(call.Name),
			Args:     call.Args,
			PromptID: t.promptID,
		}
		t.pending = append(t.pending, info)
		emit(toolCallRequestEvent(info))
	}

	if chunk.FinishReason != "" {
		details := ""
		if chunk.FinishReason == FinishReasonMalformedFunctionCall {
			details = t.malformedCallDetails()
		}
		t.emitTerminal(finishedEvent(chunk.FinishReason, details), emit)
	}

	if chunk.Usage != nil {
		emit(tokenUsageEvent(TokenUsageInfo{
			Input:      chunk.Usage.InputTokens,
			Output:     chunk.Usage.OutputTokens,
			Total:      chunk.Usage.TotalTokens,
			Cached:     chunk.Usage.CachedTokens,
			CacheWrite: chunk.Usage.CacheWriteTokens,
			CacheRead:  chunk.Usage.CacheReadTokens,
			Credits:    chunk.Usage.Credits,
		}))
	}
}

// malformedCallDetails reconstructs a diagnostic for a malformed_function_call
// finish, naming the offending function and its raw arguments when recoverable.
func (t *Turn) malformedCallDetails() string {
	call := t.lastCall
	if call == nil || strings.TrimSpace(call.Name) == "" {
		return "The model emitted a malformed function call that could not be recovered."
	}
	args := strings.TrimSpace(call.RawArgs)
	if args == "" && len(call.Args) > 0 {
		if b, err := json.Marshal(call.Args); err == nil {
			args = string(b)
		}
	}
	if args == "" {
		return fmt.Sprintf("The model emitted a malformed call to %q with no recoverable arguments.", strings.TrimSpace(call.Name))
	}
	return fmt.Sprintf("The model emitted a malformed call to %q with arguments: %s", strings.TrimSpace(call.Name), args)
}

func (t *Turn) failStream(err error, emit func(Event)) error {
	norm := normalizeChatError(err)
	if errors.Is(norm, ErrUnauthorized) {
		// Only higher layers can re-authenticate; never swallow this class.
		return norm
	}
	t.reporter.Report(t.promptID, norm)
	t.log.Warn("turn stream failed", "prompt_id", t.promptID, "error", norm)
	t.emitTerminal(errorEvent(norm.Error(), errorStatusCode(norm)), emit)
	return nil
}

// splitThought extracts the bolded subject from a thought chunk: the text inside
// the first double-asterisk pair is the subject, everything else the description.
// Chunks with extra bold spans keep only the first as subject; this mirrors the
// model's prompt contract.
func splitThought(text string) (string, string) {
	start := strings.Index(text, "**")
	if start < 0 {
		return "", strings.TrimSpace(text)
	}
	rest := text[start+2:]
	end := strings.Index(rest, "**")
	if end < 0 {
		return "", strings.TrimSpace(text)
	}
	subject := strings.TrimSpace(rest[:end])
	description := strings.TrimSpace(text[:start] + rest[end+2:])
	return subject, description
}
