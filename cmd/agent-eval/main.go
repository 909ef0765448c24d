// Command agent-eval runs the agentic core offline against a scripted model,
// printing the event stream and task notifications as NDJSON. It exists so the
// turn loop and sub-agent dispatch can be exercised end to end without network
// access or live provider keys.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai"
	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai/tools"
	"github.com/OrionStarAI/DeepVCode-sub011/internal/auditlog"
	"github.com/OrionStarAI/DeepVCode-sub011/internal/config"
	"github.com/OrionStarAI/DeepVCode-sub011/internal/taskstore"
)

type scriptCall struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args"`
}

type scriptChunk struct {
	Thought bool         `yaml:"thought"`
	Text    string       `yaml:"text"`
	Calls   []scriptCall `yaml:"calls"`
	Finish  string       `yaml:"finish"`
}

type scriptTurn struct {
	Chunks []scriptChunk `yaml:"chunks"`
}

type evalScript struct {
	Model    string       `yaml:"model"`
	Prompt   string       `yaml:"prompt"`
	SubAgent string       `yaml:"sub_agent"`
	Turns    []scriptTurn `yaml:"turns"`
}

func defaultScript() evalScript {
	return evalScript{
		Model:  "eval-model",
		Prompt: "fix the failing unit test in payment.py",
		Turns: []scriptTurn{
			{Chunks: []scriptChunk{
				{Thought: true, Text: "**Plan** read the failing test first"},
				{Calls: []scriptCall{{Name: "read_file", Args: map[string]any{"path": "payment.py"}}}, Finish: "tool_calls"},
			}},
			{Chunks: []scriptChunk{
				{Text: "The assertion expects a rounded total; fixed the rounding call."},
				{Finish: "stop"},
			}},
		},
	}
}

// scriptClient replays scripted turns as ChatStreams, one turn per call.
type scriptClient struct {
	mu    sync.Mutex
	turns []scriptTurn
}

func (c *scriptClient) SendMessageStream(_ context.Context, _ ai.ChatRequest) (ai.ChatStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.turns) == 0 {
		return nil, errors.New("script exhausted")
	}
	turn := c.turns[0]
	c.turns = c.turns[1:]

	chunks := make([]ai.ChatChunk, 0, len(turn.Chunks))
	for _, sc := range turn.Chunks {
		chunk := ai.ChatChunk{Thought: sc.Thought, Text: sc.Text, FinishReason: ai.FinishReason(sc.Finish)}
		for _, call := range sc.Calls {
			chunk.FunctionCalls = append(chunk.FunctionCalls, ai.FunctionCall{Name: call.Name, Args: call.Args})
		}
		chunks = append(chunks, chunk)
	}
	return &scriptStream{chunks: chunks}, nil
}

type scriptStream struct {
	chunks  []ai.ChatChunk
	current ai.ChatChunk
}

func (s *scriptStream) Next() bool {
	if len(s.chunks) == 0 {
		return false
	}
	s.current = s.chunks[0]
	s.chunks = s.chunks[1:]
	return true
}

func (s *scriptStream) Current() ai.ChatChunk { return s.current }

func (s *scriptStream) Err() error { return nil }

func registerEvalTools(reg *tools.Registry) {
	canned := map[string]string{
		"read_file":   "def total(items):\n    return round(sum(items), 2)\n",
		"write_file":  "written",
		"run_command": "2 passed in 0.14s",
		"list_dir":    "payment.py\ntest_payment.py",
		"grep":        "payment.py:3: return round(sum(items), 2)",
	}
	for name, output := range canned {
		out := output
		_ = reg.Register(tools.Descriptor{
			Name:             name,
			Description:      "scripted " + name,
			Mutating:         name == "write_file" || name == "run_command",
			AllowSubAgentUse: true,
		}, tools.HandlerFunc(func(_ context.Context, _ map[string]any) (tools.Result, error) {
			return tools.Result{Parts: []string{out}}, nil
		}))
	}
}

func emitLine(enc *json.Encoder, kind string, payload any) {
	_ = enc.Encode(map[string]any{"type": kind, "at_unix_ms": time.Now().UnixMilli(), "data": payload})
}

func run() error {
	var (
		scriptPath = flag.String("script", "", "YAML script of model turns (built-in script when empty)")
		configPath = flag.String("config", "", "settings file (defaults when empty)")
		timeout    = flag.Duration("timeout", 30*time.Second, "overall eval timeout")
	)
	flag.Parse()

	script := defaultScript()
	if strings.TrimSpace(*scriptPath) != "" {
		b, err := os.ReadFile(*scriptPath)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(b, &script); err != nil {
			return fmt.Errorf("parse script: %w", err)
		}
	}

	settings := config.Default()
	if strings.TrimSpace(*configPath) != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		settings = loaded
	}
	log, err := config.NewLogger(settings)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	bus := ai.NewBus()
	toolReg := tools.NewRegistry()
	registerEvalTools(toolReg)

	registry := ai.NewRegistry(ai.RegistryOptions{
		Logger:           log,
		Path:             settings.SubAgentsPath(),
		Bus:              bus,
		DisabledBuiltIns: settings.DisabledBuiltIns,
	})
	if err := registry.Initialize(); err != nil {
		return err
	}

	client := &scriptClient{turns: script.Turns}
	runner, err := ai.NewRunner(ai.RunnerOptions{Client: client, Logger: log, RepairPolicies: settings.Repair})
	if err != nil {
		return err
	}

	store, err := taskstore.Open(settings.TaskStorePath())
	if err != nil {
		return err
	}
	defer store.Close()
	audit, err := auditlog.New(auditlog.Options{Logger: log, StateDir: settings.StateDir})
	if err != nil {
		return err
	}

	scheduler, err := ai.NewScheduler(ai.SchedulerOptions{
		Logger:    log,
		Registry:  registry,
		Tools:     toolReg,
		Runner:    runner,
		Bus:       bus,
		Recorders: []ai.TaskRecorder{store, audit},
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)

	notes, unsubscribe := bus.Subscribe(128)
	defer unsubscribe()
	var noteWG sync.WaitGroup
	noteWG.Add(1)
	go func() {
		defer noteWG.Done()
		for note := range notes {
			emitLine(enc, "notification", note)
		}
	}()

	subAgentID := strings.TrimSpace(script.SubAgent)
	if subAgentID == "" {
		if cfg, ok := registry.Match(script.Prompt); ok {
			subAgentID = cfg.ID
		}
	}
	if subAgentID == "" {
		return errors.New("no sub-agent matches the scripted prompt")
	}
	emitLine(enc, "matched", map[string]any{"sub_agent_id": subAgentID, "prompt": script.Prompt})

	task, err := scheduler.ExecuteAsync(subAgentID, ai.ExecuteOptions{
		Prompt:      script.Prompt,
		Description: "offline eval run",
		Model:       script.Model,
		Ctx:         ctx,
		OnProgress: func(p ai.TaskProgress) {
			emitLine(enc, "progress", p)
		},
		OnComplete: func(result ai.SubAgentExecutionResult) {
			emitLine(enc, "result", result)
		},
	})
	if err != nil {
		return err
	}
	emitLine(enc, "task", map[string]any{"task_id": task.TaskID, "status": task.Status()})

	select {
	case <-task.Done():
	case <-ctx.Done():
		scheduler.CancelTask(task.TaskID)
		<-task.Done()
	}

	unsubscribe()
	noteWG.Wait()

	if rec := task.Result(); rec != nil && !rec.Success && task.Status() != ai.TaskStatusCancelled {
		return fmt.Errorf("eval task failed: %s", rec.Error)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agent-eval:", err)
		os.Exit(1)
	}
}
