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

const defaultSubAgentMaxTurns = 8

// SubAgentExecutionResult is the terminal outcome of one sub-agent run, sync or
// async. Execution failures land in Error with Success false; they are never
// raised to the dispatcher's caller.
type SubAgentExecutionResult struct {
	SubAgentID   string         `json:"sub_agent_id"`
	Success      bool           `json:"success"`
	Output       string         `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	TurnsUsed    int            `json:"turns_used"`
	DurationMs   int64          `json:"duration_ms"`
	FilesCreated []string       `json:"files_created,omitempty"`
	CommandsRun  []string       `json:"commands_run,omitempty"`
	ExecutionLog []string       `json:"execution_log,omitempty"`
	TokenUsage   TokenUsageInfo `json:"token_usage"`
}

// TaskProgress is the normalized progress record delivered through callbacks and
// the notification bus while a sub-agent task runs.
type TaskProgress struct {
	TaskID       string     `json:"task_id,omitempty"`
	SubAgentID   string     `json:"sub_agent_id"`
	SubAgentName string     `json:"sub_agent_name,omitempty"`
	Status       TaskStatus `json:"status"`
	CurrentTurn  int        `json:"current_turn"`
	MaxTurns     int        `json:"max_turns"`
	Message      string     `json:"message,omitempty"`

	// Summary carries the compact result form; set only on terminal signals.
	Summary map[string]any `json:"summary,omitempty"`
}

// RunRequest describes one nested sub-agent execution.
type RunRequest struct {
	Config   SubAgentConfig
	Prompt   string
	MaxTurns int
	Tools    *ToolView
	Model    string

	// OnTurn is invoked at the start of each model round-trip (1-based).
	OnTurn func(turn int, message string)
	// OnEvent observes the nested event stream; nil is fine.
	OnEvent func(Event)
}

// SubAgentRunner drives a sub-agent's own conversation to completion. The
// returned error is reserved for cancellation and the unauthorized class; every
// other failure is folded into the result.
type SubAgentRunner interface {
	Run(ctx context.Context, req RunRequest) (SubAgentExecutionResult, error)
}

// turnLoopRunner is the default SubAgentRunner: repeated Turn executions against
// an injected ChatClient, dispatching tool calls through the request's filtered
// view and feeding their results back as the next message.
type turnLoopRunner struct {
	client         ChatClient
	reporter       ErrorReporter
	log            *slog.Logger
	repairPolicies []config.RepairPolicy
}

type RunnerOptions struct {
	Client         ChatClient
	Reporter       ErrorReporter
	Logger         *slog.Logger
	RepairPolicies []config.RepairPolicy
}

func NewRunner(opts RunnerOptions) (SubAgentRunner, error) {
	if opts.Client == nil {
		return nil, errors.New("missing chat client")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = NopErrorReporter{}
	}
	return &turnLoopRunner{
		client:         opts.Client,
		reporter:       reporter,
		log:            log,
		repairPolicies: append([]config.RepairPolicy(nil), opts.RepairPolicies...),
	}, nil
}

func (r *turnLoopRunner) Run(ctx context.Context, req RunRequest) (SubAgentExecutionResult, error) {
	result := SubAgentExecutionResult{SubAgentID: req.Config.ID}
	if ctx == nil {
		ctx = context.Background()
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = req.Config.DefaultMaxTurns
	}
	if maxTurns <= 0 {
		maxTurns = defaultSubAgentMaxTurns
	}
	emit := req.OnEvent
	if emit == nil {
		emit = func(Event) {}
	}

	message := strings.TrimSpace(req.Prompt)
	for turn := 1; turn <= maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			emit(userCancelledEvent())
			return result, err
		}
		result.TurnsUsed = turn
		if req.OnTurn != nil {
			req.OnTurn(turn, message)
		}

		t, err := NewTurn(TurnOptions{
			Client:         r.client,
			Reporter:       r.reporter,
			Logger:         r.log,
			RepairPolicies: r.repairPolicies,
		})
		if err != nil {
			result.Error = err.Error()
			return result, nil
		}

		var (
			content  strings.Builder
			terminal *Event
		)
		runErr := t.Run(ctx, ChatRequest{
			Model:        req.Model,
			SystemPrompt: req.Config.SystemPrompt,
			Message:      message,
			SceneHint:    req.Config.ID,
			Tools:        req.Tools.Descriptors(),
		}, func(ev Event) {
			emit(ev)
			switch ev.Kind {
			case EventContent:
				content.WriteString(ev.Content)
			case EventTokenUsage:
				if ev.TokenUsage != nil {
					result.TokenUsage.add(*ev.TokenUsage)
				}
			}
			if ev.IsTerminal() {
				copied := ev
				terminal = &copied
			}
		})
		if runErr != nil {
			// Unauthorized must reach the layer that can re-authenticate.
			return result, runErr
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		result.appendLog(fmt.Sprintf("turn %d: %d pending tool call(s)", turn, len(t.PendingCalls())))
		if terminal != nil {
			switch terminal.Kind {
			case EventError:
				if terminal.Error != nil {
					result.Error = terminal.Error.Message
				} else {
					result.Error = "turn failed"
				}
				result.Output = content.String()
				return result, nil
			case EventUserCancelled:
				return result, context.Canceled
			}
		}

		pending := t.PendingCalls()
		if len(pending) == 0 {
			result.Success = true
			result.Output = content.String()
			return result, nil
		}
		message = r.dispatchCalls(ctx, req.Tools, pending, &result, emit)
	}

	emit(maxTurnsReachedEvent())
	result.Error = fmt.Sprintf("turn budget exhausted after %d turns", maxTurns)
	return result, nil
}

// dispatchCalls executes each pending tool call through the filtered view and
// serializes the outcomes into the next user message.
func (r *turnLoopRunner) dispatchCalls(ctx context.Context, view *ToolView, calls []ToolCallRequestInfo, result *SubAgentExecutionResult, emit func(Event)) string {
	var next strings.Builder
	next.WriteString("Tool results:\n")
	for _, call := range calls {
		resp := r.runCall(ctx, view, call, result)
		emit(Event{Kind: EventToolCallResponse, ToolCallResponse: &resp})
		if resp.Error != "" {
			fmt.Fprintf(&next, "- %s (%s): error: %s\n", call.Name, call.CallID, resp.Error)
		} else {
			fmt.Fprintf(&next, "- %s (%s): %s\n", call.Name, call.CallID, strings.Join(resp.Parts, "\n"))
		}
	}
	return next.String()
}

func (r *turnLoopRunner) runCall(ctx context.Context, view *ToolView, call ToolCallRequestInfo, result *SubAgentExecutionResult) ToolCallResponseInfo {
	resp := ToolCallResponseInfo{CallID: call.CallID}
	desc, handler, ok := view.GetTool(call.Name)
	if !ok {
		resp.Error = fmt.Sprintf("tool %q is not available to this sub-agent", call.Name)
		result.appendLog(fmt.Sprintf("blocked call to %s", call.Name))
		return resp
	}

	out, err := handler.Execute(ctx, call.Args)
	if err != nil {
		resp.Error = err.Error()
		result.appendLog(fmt.Sprintf("%s failed: %v", call.Name, err))
		return resp
	}
	if out.Error != "" {
		resp.Error = out.Error
		result.appendLog(fmt.Sprintf("%s failed: %s", call.Name, out.Error))
		return resp
	}

	resp.Parts = append([]string(nil), out.Parts...)
	resp.Display = out.Display
	if len(resp.Parts) == 0 {
		if out.Display != "" {
			resp.Parts = []string{out.Display}
		} else {
			resp.Parts = []string{"ok"}
		}
	}
	result.recordSideEffects(desc.Name, call.Args)
	result.appendLog(fmt.Sprintf("%s ok", call.Name))
	return resp
}

func (r *SubAgentExecutionResult) appendLog(line string) {
	r.ExecutionLog = append(r.ExecutionLog, line)
}

// recordSideEffects tracks file and command side effects by tool convention.
func (r *SubAgentExecutionResult) recordSideEffects(tool string, args map[string]any) {
	switch tool {
	case "write_file", "create_file":
		if path, ok := args["path"].(string); ok && strings.TrimSpace(path) != "" {
			r.FilesCreated = append(r.FilesCreated, strings.TrimSpace(path))
		}
	case "run_command", "shell":
		if cmd, ok := args["command"].(string); ok && strings.TrimSpace(cmd) != "" {
			r.CommandsRun = append(r.CommandsRun, strings.TrimSpace(cmd))
		}
	}
}

func (u *TokenUsageInfo) add(other TokenUsageInfo) {
	u.Input += other.Input
	u.Output += other.Output
	u.Total += other.Total
	u.Cached += other.Cached
	u.CacheWrite += other.CacheWrite
	u.CacheRead += other.CacheRead
	u.Credits += other.Credits
}

// summaryPayload is the compact result form attached to terminal task signals.
func (r SubAgentExecutionResult) summaryPayload() map[string]any {
	payload := map[string]any{
		"sub_agent_id": r.SubAgentID,
		"success":      r.Success,
		"turns_used":   r.TurnsUsed,
		"duration_ms":  r.DurationMs,
	}
	if r.Error != "" {
		payload["error"] = r.Error
	}
	if b, err := json.Marshal(r.TokenUsage); err == nil {
		payload["token_usage"] = json.RawMessage(b)
	}
	return payload
}
