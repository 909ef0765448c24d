package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai/tools"
)

// TaskStatus is the sub-agent task state machine.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// AsyncSubAgentTask tracks one asynchronous sub-agent execution. The scheduler
// owns it for its whole lifetime; readers get consistent snapshots through the
// accessor methods.
type AsyncSubAgentTask struct {
	TaskID       string
	SubAgentID   string
	SubAgentName string
	Description  string
	MaxTurns     int

	cancel       context.CancelFunc
	done         chan struct{}
	completeOnce sync.Once

	mu          sync.RWMutex
	status      TaskStatus
	currentTurn int
	startTimeMs int64
	endTimeMs   int64
	result      *SubAgentExecutionResult
}

func (t *AsyncSubAgentTask) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *AsyncSubAgentTask) CurrentTurn() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentTurn
}

func (t *AsyncSubAgentTask) StartTimeMs() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startTimeMs
}

// EndTimeMs is zero until the task reaches a terminal status.
func (t *AsyncSubAgentTask) EndTimeMs() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.endTimeMs
}

// Result is nil until completion; the returned value is a copy.
func (t *AsyncSubAgentTask) Result() *SubAgentExecutionResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.result == nil {
		return nil
	}
	copied := *t.result
	return &copied
}

// Done is closed when the task reaches a terminal status.
func (t *AsyncSubAgentTask) Done() <-chan struct{} {
	return t.done
}

func (t *AsyncSubAgentTask) progress(message string) TaskProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TaskProgress{
		TaskID:       t.TaskID,
		SubAgentID:   t.SubAgentID,
		SubAgentName: t.SubAgentName,
		Status:       t.status,
		CurrentTurn:  t.currentTurn,
		MaxTurns:     t.MaxTurns,
		Message:      message,
	}
}

// markRunning reports false when a cancel already drove the task terminal, so
// no progress is announced after the terminal signal.
func (t *AsyncSubAgentTask) markRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return false
	}
	t.status = TaskStatusRunning
	return true
}

func (t *AsyncSubAgentTask) setTurn(turn int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentTurn = turn
}

// tryFinish transitions to a terminal status exactly once; later calls report
// false and leave the first outcome intact.
func (t *AsyncSubAgentTask) tryFinish(status TaskStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return false
	}
	t.status = status
	t.endTimeMs = time.Now().UnixMilli()
	return true
}

func (t *AsyncSubAgentTask) attachResult(result SubAgentExecutionResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result = &result
}

// TaskRecord is the persisted shape of a terminal task outcome.
type TaskRecord struct {
	TaskID       string
	SubAgentID   string
	SubAgentName string
	Description  string
	Status       TaskStatus
	StartedAtMs  int64
	EndedAtMs    int64
	TurnsUsed    int
	Success      bool
	Error        string
	Output       string
	TokensTotal  int64
}

// TaskRecorder persists terminal outcomes. Implementations must tolerate
// concurrent calls; recording failures are logged, never propagated.
type TaskRecorder interface {
	RecordOutcome(ctx context.Context, rec TaskRecord) error
}

// ExecuteOptions parameterizes one dispatch.
type ExecuteOptions struct {
	Prompt      string
	Description string
	Model       string
	// MaxTurns overrides the definition's DefaultMaxTurns when positive.
	MaxTurns int
	// Ctx, when non-nil, is linked one-way into the task-local cancellation:
	// external cancellation cancels the task, never the reverse.
	Ctx context.Context

	OnProgress func(TaskProgress)
	OnComplete func(SubAgentExecutionResult)
}

// Scheduler dispatches sub-agent executions, synchronously or as tracked
// asynchronous tasks.
type Scheduler struct {
	log       *slog.Logger
	registry  *Registry
	tools     *tools.Registry
	runner    SubAgentRunner
	bus       *Bus
	recorders []TaskRecorder

	mu    sync.RWMutex
	tasks map[string]*AsyncSubAgentTask
}

type SchedulerOptions struct {
	Logger   *slog.Logger
	Registry *Registry
	Tools    *tools.Registry
	Runner   SubAgentRunner
	Bus      *Bus
	// Recorders receive every terminal task outcome (task store, audit log).
	Recorders []TaskRecorder
}

func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Registry == nil {
		return nil, errors.New("missing sub-agent registry")
	}
	if opts.Runner == nil {
		return nil, errors.New("missing sub-agent runner")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:       log,
		registry:  opts.Registry,
		tools:     opts.Tools,
		runner:    opts.Runner,
		bus:       opts.Bus,
		recorders: append([]TaskRecorder(nil), opts.Recorders...),
		tasks:     map[string]*AsyncSubAgentTask{},
	}, nil
}

func (s *Scheduler) resolve(subAgentID string) (SubAgentConfig, error) {
	cfg, ok := s.registry.Get(subAgentID)
	if !ok {
		return SubAgentConfig{}, fmt.Errorf("sub-agent %q: %w", strings.TrimSpace(subAgentID), ErrSubAgentNotFound)
	}
	return cfg, nil
}

// Execute runs the sub-agent synchronously and always returns a result: any
// failure during execution, panics included, is folded into a failed result
// with the duration measured up to the point of capture. The only error return
// is the not-found condition, raised before any work starts.
func (s *Scheduler) Execute(ctx context.Context, subAgentID string, opts ExecuteOptions) (SubAgentExecutionResult, error) {
	if s == nil {
		return SubAgentExecutionResult{}, errors.New("nil scheduler")
	}
	cfg, err := s.resolve(subAgentID)
	if err != nil {
		return SubAgentExecutionResult{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Ctx != nil {
		ctx = opts.Ctx
	}

	started := time.Now()
	result := s.runGuarded(ctx, cfg, opts, nil)
	result.DurationMs = time.Since(started).Milliseconds()
	if opts.OnComplete != nil {
		opts.OnComplete(result)
	}
	return result, nil
}

// ExecuteAsync registers a pending task, announces it, and returns immediately;
// the execution runs in its own goroutine behind a recover boundary.
func (s *Scheduler) ExecuteAsync(subAgentID string, opts ExecuteOptions) (*AsyncSubAgentTask, error) {
	if s == nil {
		return nil, errors.New("nil scheduler")
	}
	cfg, err := s.resolve(subAgentID)
	if err != nil {
		return nil, err
	}

	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = cfg.DefaultMaxTurns
	}
	if maxTurns <= 0 {
		maxTurns = defaultSubAgentMaxTurns
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	task := &AsyncSubAgentTask{
		TaskID:       uuid.NewString(),
		SubAgentID:   cfg.ID,
		SubAgentName: cfg.Name,
		Description:  strings.TrimSpace(opts.Description),
		MaxTurns:     maxTurns,
		cancel:       cancel,
		done:         make(chan struct{}),
		status:       TaskStatusPending,
		startTimeMs:  time.Now().UnixMilli(),
	}

	if opts.Ctx != nil {
		external := opts.Ctx
		go func() {
			select {
			case <-external.Done():
				cancel()
			case <-task.done:
			}
		}()
	}

	s.mu.Lock()
	s.tasks[task.TaskID] = task
	s.mu.Unlock()

	s.publish(SignalTaskStart, task.progress("dispatched"))
	go s.runAsync(taskCtx, task, cfg, opts)
	return task, nil
}

func (s *Scheduler) runAsync(ctx context.Context, task *AsyncSubAgentTask, cfg SubAgentConfig, opts ExecuteOptions) {
	defer close(task.done)
	defer task.cancel()

	if task.markRunning() {
		s.publish(SignalTaskProgress, task.progress("running"))
	}

	started := time.Now()
	progressOpts := opts
	progressOpts.OnProgress = func(p TaskProgress) {
		task.setTurn(p.CurrentTurn)
		p = task.progress(p.Message)
		if p.Status.Terminal() {
			return
		}
		s.publish(SignalTaskProgress, p)
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}
	}

	result := s.runGuarded(ctx, cfg, progressOpts, task)
	result.DurationMs = time.Since(started).Milliseconds()

	status := TaskStatusCompleted
	switch {
	case ctx.Err() != nil:
		status = TaskStatusCancelled
		if result.Error == "" {
			result.Error = "task cancelled"
		}
		result.Success = false
	case !result.Success:
		status = TaskStatusFailed
	}

	s.finishTask(task, status, result, opts.OnComplete)
}

// runGuarded executes the nested run loop behind a recover boundary so that a
// panic in a sub-agent can never crash the dispatching caller.
func (s *Scheduler) runGuarded(ctx context.Context, cfg SubAgentConfig, opts ExecuteOptions, task *AsyncSubAgentTask) (result SubAgentExecutionResult) {
	result.SubAgentID = cfg.ID
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sub-agent run panicked", "sub_agent_id", cfg.ID, "panic", r)
			result.Success = false
			result.Error = fmt.Sprintf("sub-agent panicked: %v", r)
		}
	}()

	view := BuildToolView(s.tools, cfg)
	req := RunRequest{
		Config:   cfg,
		Prompt:   opts.Prompt,
		MaxTurns: opts.MaxTurns,
		Tools:    view,
		Model:    opts.Model,
	}
	if task != nil {
		req.MaxTurns = task.MaxTurns
	}
	if opts.OnProgress != nil {
		req.OnTurn = func(turn int, message string) {
			opts.OnProgress(TaskProgress{
				SubAgentID:   cfg.ID,
				SubAgentName: cfg.Name,
				Status:       TaskStatusRunning,
				CurrentTurn:  turn,
				MaxTurns:     req.MaxTurns,
				Message:      summarizeProgress(message),
			})
		}
	}

	run, err := s.runner.Run(ctx, req)
	if err != nil {
		run.Success = false
		if run.Error == "" {
			run.Error = err.Error()
		}
	}
	run.SubAgentID = cfg.ID
	return run
}

// finishTask performs the single terminal transition: status, result, bus
// signal, completion callback, persistence. Safe to race with CancelTask; the
// first terminal wins and the callback still fires exactly once.
func (s *Scheduler) finishTask(task *AsyncSubAgentTask, status TaskStatus, result SubAgentExecutionResult, onComplete func(SubAgentExecutionResult)) {
	transitioned := task.tryFinish(status)
	task.attachResult(result)

	task.completeOnce.Do(func() {
		if transitioned {
			p := task.progress(result.Error)
			p.Summary = result.summaryPayload()
			s.publish(terminalSignal(task.Status()), p)
		}
		if onComplete != nil {
			onComplete(result)
		}
		s.record(task, result)
	})
}

func terminalSignal(status TaskStatus) string {
	switch status {
	case TaskStatusFailed:
		return SignalTaskFailed
	case TaskStatusCancelled:
		return SignalTaskCancelled
	default:
		return SignalTaskComplete
	}
}

// CancelTask triggers cooperative cancellation of a pending or running task.
// Unknown or already-terminal tasks return false with no mutation.
func (s *Scheduler) CancelTask(taskID string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	task := s.tasks[strings.TrimSpace(taskID)]
	s.mu.RUnlock()
	if task == nil {
		return false
	}
	if !task.tryFinish(TaskStatusCancelled) {
		return false
	}
	task.cancel()
	s.publish(SignalTaskCancelled, task.progress("cancelled"))
	return true
}

func (s *Scheduler) GetTask(taskID string) (*AsyncSubAgentTask, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[strings.TrimSpace(taskID)]
	return task, ok
}

// GetRunningTasks returns tasks in pending or running status.
func (s *Scheduler) GetRunningTasks() []*AsyncSubAgentTask {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*AsyncSubAgentTask
	for _, task := range s.tasks {
		if !task.Status().Terminal() {
			out = append(out, task)
		}
	}
	return out
}

// CleanupCompletedTasks drops terminal tasks older than maxAge, measured from
// their end time. Non-terminal tasks are never removed. Returns the number
// removed.
func (s *Scheduler) CleanupCompletedTasks(maxAge time.Duration) int {
	if s == nil {
		return 0
	}
	cutoff := time.Now().UnixMilli() - maxAge.Milliseconds()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, task := range s.tasks {
		if !task.Status().Terminal() {
			continue
		}
		if end := task.EndTimeMs(); end > 0 && end < cutoff {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}

func (s *Scheduler) publish(signal string, progress TaskProgress) {
	if s.bus != nil {
		s.bus.Publish(signal, &progress)
	}
}

func (s *Scheduler) record(task *AsyncSubAgentTask, result SubAgentExecutionResult) {
	if len(s.recorders) == 0 {
		return
	}
	rec := TaskRecord{
		TaskID:       task.TaskID,
		SubAgentID:   task.SubAgentID,
		SubAgentName: task.SubAgentName,
		Description:  task.Description,
		Status:       task.Status(),
		StartedAtMs:  task.StartTimeMs(),
		EndedAtMs:    task.EndTimeMs(),
		TurnsUsed:    result.TurnsUsed,
		Success:      result.Success,
		Error:        result.Error,
		Output:       result.Output,
		TokensTotal:  result.TokenUsage.Total,
	}
	ctx, cancelRecord := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelRecord()
	for _, recorder := range s.recorders {
		if err := recorder.RecordOutcome(ctx, rec); err != nil {
			s.log.Warn("task outcome not recorded", "task_id", task.TaskID, "error", err)
		}
	}
}

// summarizeProgress truncates a turn's input message for progress records.
func summarizeProgress(message string) string {
	message = strings.TrimSpace(message)
	if len(message) > 160 {
		return message[:157] + "..."
	}
	return message
}
