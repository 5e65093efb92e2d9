// Package agentsvc executes agent tasks: a fixed worker pool drains an
// in-memory queue fed by engine pushes and a database poller, builds the
// LLM prompt from the task's upstream context, runs a bounded tool-calling
// loop against the MCP bridge, and reports results back to the engine.
package agentsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/flowforge/internal/metrics"
	"github.com/BaSui01/flowforge/llm"
	"github.com/BaSui01/flowforge/mcp"
	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
)

// ToolCaller is the bridge surface the service needs.
type ToolCaller interface {
	CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*mcp.CallResult, error)
}

// EngineNotifier is the engine surface for result roll-up.
type EngineNotifier interface {
	OnTaskCompleted(ctx context.Context, taskID string) error
	OnTaskFailed(ctx context.Context, taskID string, reason string) error
}

// ProviderFactory builds an LLM provider from an agent's model settings.
type ProviderFactory func(agent *store.Agent) llm.Provider

// Config tunes the service.
type Config struct {
	// Workers is the fixed pool size. Default 5.
	Workers int
	// QueueSize bounds the in-memory queue. Default 256.
	QueueSize int
	// PollInterval is the poller's base interval. Default 15s.
	PollInterval time.Duration
	// PollMaxInterval caps the poller backoff. Default 5m.
	PollMaxInterval time.Duration
	// PollBatch bounds tasks fetched per poll. Default 50.
	PollBatch int
	// LLMTimeout bounds one task's total LLM interaction. Default 10m.
	LLMTimeout time.Duration
	// MaxToolCalls bounds tool-calling rounds per task. Default 5.
	MaxToolCalls int
	// ToolTimeout is the per-call timeout when the binding has none.
	// Default 30s.
	ToolTimeout time.Duration
	// RateLimitRPS throttles LLM requests across all workers. 0 disables.
	RateLimitRPS float64
	// RateBurst is the limiter burst. Default 1.
	RateBurst int
	// ContextTokenBudget caps the rendered context block.
	ContextTokenBudget int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.PollMaxInterval <= 0 {
		c.PollMaxInterval = 5 * time.Minute
	}
	if c.PollBatch <= 0 {
		c.PollBatch = 50
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 10 * time.Minute
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = 5
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
}

// Service is the agent task executor.
type Service struct {
	store       *store.Store
	engine      EngineNotifier
	bridge      ToolCaller
	providerFor ProviderFactory
	cfg         Config
	logger      *zap.Logger
	metrics     *metrics.Collector

	queue    chan string
	inflight sync.Map
	running  atomic.Int32

	limiter *rate.Limiter

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates the service. The metrics collector may be nil.
func New(st *store.Store, engine EngineNotifier, bridge ToolCaller, providerFor ProviderFactory, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Service {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:       st,
		engine:      engine,
		bridge:      bridge,
		providerFor: providerFor,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "agentsvc")),
		metrics:     collector,
		queue:       make(chan string, cfg.QueueSize),
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateBurst)
	}
	return s
}

// Start launches the worker pool and the poller. Non-blocking.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			s.worker(gctx)
			return nil
		})
	}
	g.Go(func() error {
		s.poller(gctx)
		return nil
	})
	s.logger.Info("agent task service started",
		zap.Int("workers", s.cfg.Workers),
		zap.Duration("poll_interval", s.cfg.PollInterval))
}

// Stop cancels workers and waits for in-flight tasks to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, group := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	_ = group.Wait()
	s.logger.Info("agent task service stopped")
}

// NotifyAgentTask implements the engine's push channel. Losing a push is
// fine: the poller re-discovers pending tasks from the database.
func (s *Service) NotifyAgentTask(taskID string) {
	if _, loaded := s.inflight.LoadOrStore(taskID, struct{}{}); loaded {
		return
	}
	select {
	case s.queue <- taskID:
		s.updateQueueDepth()
	default:
		s.inflight.Delete(taskID)
		s.logger.Warn("agent queue full, task left for poller", zap.String("task_id", taskID))
	}
}

// Enqueue pushes a specific pending agent task, for the admin process
// endpoint.
func (s *Service) Enqueue(ctx context.Context, taskID string) error {
	task, err := s.store.GetTaskInstance(ctx, taskID)
	if err != nil {
		return err
	}
	if task.TaskType != types.TaskTypeAgent {
		return types.NewValidationError("task %s is not an agent task", taskID)
	}
	if task.Status != types.TaskPending {
		return types.NewConflictError("task %s is %s, only pending tasks can be queued", taskID, task.Status)
	}
	s.NotifyAgentTask(taskID)
	return nil
}

// RetryFailedTask puts a failed agent task back to pending and queues it.
func (s *Service) RetryFailedTask(ctx context.Context, taskID string) error {
	task, err := s.store.GetTaskInstance(ctx, taskID)
	if err != nil {
		return err
	}
	if task.TaskType != types.TaskTypeAgent {
		return types.NewValidationError("task %s is not an agent task", taskID)
	}
	ok, err := s.store.TransitionTask(ctx, taskID,
		[]types.TaskStatus{types.TaskFailed}, types.TaskPending,
		map[string]any{"error_message": "", "started_at": nil, "completed_at": nil})
	if err != nil {
		return err
	}
	if !ok {
		return types.NewConflictError("task %s is %s, only failed tasks can be retried", taskID, task.Status)
	}
	s.NotifyAgentTask(taskID)
	return nil
}

// CancelTask cancels a queued or running agent task. A worker mid-flight
// will hit the status guard when it tries to write its result.
func (s *Service) CancelTask(ctx context.Context, taskID string) error {
	task, err := s.store.GetTaskInstance(ctx, taskID)
	if err != nil {
		return err
	}
	if task.TaskType != types.TaskTypeAgent {
		return types.NewValidationError("task %s is not an agent task", taskID)
	}
	ok, err := s.store.TransitionTask(ctx, taskID,
		[]types.TaskStatus{types.TaskPending, types.TaskInProgress}, types.TaskCancelled,
		map[string]any{"error_message": "cancelled by operator"})
	if err != nil {
		return err
	}
	if !ok {
		return types.NewConflictError("task %s is %s and cannot be cancelled", taskID, task.Status)
	}
	return s.engine.OnTaskFailed(ctx, taskID, "cancelled by operator")
}

// Stats reports queue and worker state for the system status endpoint.
type Stats struct {
	Workers    int `json:"workers"`
	QueueDepth int `json:"queue_depth"`
	Running    int `json:"running"`
}

// Stats returns a point-in-time snapshot.
func (s *Service) Stats() Stats {
	return Stats{
		Workers:    s.cfg.Workers,
		QueueDepth: len(s.queue),
		Running:    int(s.running.Load()),
	}
}

// =============================================================================
// Worker pool and poller
// =============================================================================

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case taskID := <-s.queue:
			s.updateQueueDepth()
			s.running.Add(1)
			s.setInFlightMetric()
			s.processTask(ctx, taskID)
			s.running.Add(-1)
			s.setInFlightMetric()
			s.inflight.Delete(taskID)
		}
	}
}

// poller re-discovers pending agent tasks from the database, covering
// pushes lost to restarts or full queues. The interval doubles while idle
// and resets when work appears.
func (s *Service) poller(ctx context.Context) {
	interval := s.cfg.PollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		tasks, err := s.store.ListPendingAgentTasks(ctx, s.cfg.PollBatch)
		if err != nil {
			s.logger.Error("poll pending agent tasks", zap.Error(err))
		}
		queued := 0
		for _, t := range tasks {
			if _, loaded := s.inflight.LoadOrStore(t.ID, struct{}{}); loaded {
				continue
			}
			select {
			case s.queue <- t.ID:
				queued++
			default:
				s.inflight.Delete(t.ID)
			}
		}
		s.updateQueueDepth()

		if queued > 0 {
			interval = s.cfg.PollInterval
		} else {
			interval *= 2
			if interval > s.cfg.PollMaxInterval {
				interval = s.cfg.PollMaxInterval
			}
		}
		timer.Reset(interval)
	}
}

// =============================================================================
// Task processing
// =============================================================================

func (s *Service) processTask(ctx context.Context, taskID string) {
	start := time.Now()
	logger := s.logger.With(zap.String("task_id", taskID))

	task, err := s.store.GetTaskInstance(ctx, taskID)
	if err != nil {
		logger.Error("load agent task", zap.Error(err))
		return
	}
	if task.Status != types.TaskPending {
		// Cancelled or already picked up elsewhere.
		return
	}

	now := time.Now()
	ok, err := s.store.TransitionTask(ctx, taskID,
		[]types.TaskStatus{types.TaskPending}, types.TaskInProgress,
		map[string]any{"started_at": &now})
	if err != nil {
		logger.Error("claim agent task", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	output, summary, err := s.runTask(ctx, task, logger)
	if err != nil {
		s.recordTask("failed", time.Since(start))
		if _, serr := s.store.SetTaskError(ctx, taskID, err.Error()); serr != nil {
			logger.Error("record task error", zap.Error(serr))
		}
		if nerr := s.engine.OnTaskFailed(ctx, taskID, err.Error()); nerr != nil {
			logger.Error("notify task failure", zap.Error(nerr))
		}
		return
	}

	saved, err := s.store.SaveTaskResult(ctx, taskID, output, summary)
	if err != nil {
		logger.Error("save task result", zap.Error(err))
		return
	}
	if !saved {
		// Task was cancelled while the agent ran; drop the result.
		logger.Info("task no longer active, result discarded")
		s.recordTask("discarded", time.Since(start))
		return
	}
	s.recordTask("completed", time.Since(start))
	if err := s.engine.OnTaskCompleted(ctx, taskID); err != nil {
		logger.Error("notify task completion", zap.Error(err))
	}
}

// runTask drives the LLM conversation for one task.
func (s *Service) runTask(ctx context.Context, task *store.TaskInstance, logger *zap.Logger) (types.JSONMap, string, error) {
	agentID := task.AssignedAgentID
	if agentID == "" {
		agentID = task.ProcessorID
	}
	if agentID == "" {
		return nil, "", types.NewValidationError("task %s has no agent binding", task.ID)
	}
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, "", err
	}
	provider := s.providerFor(agent)

	var nodeInput types.JSONMap
	if ni, err := s.store.GetNodeInstance(ctx, task.NodeInstanceID); err == nil {
		nodeInput = ni.InputData
	}

	schemas, dispatch, err := s.resolveTools(ctx, agent)
	if err != nil {
		return nil, "", err
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: buildSystemPrompt(agent, task)},
		{Role: llm.RoleUser, Content: buildUserPrompt(task, nodeInput, s.cfg.ContextTokenBudget)},
	}

	llmCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()

	maxToolCalls := agent.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = s.cfg.MaxToolCalls
	}

	var final string
	for round := 0; ; round++ {
		resp, err := s.complete(llmCtx, provider, agent, messages, schemas)
		if err != nil {
			return nil, "", err
		}
		calls := resp.FirstToolCalls()
		if len(calls) == 0 {
			final = resp.FirstContent()
			break
		}
		if round >= maxToolCalls {
			// Cap reached: accept the model's last response as-is.
			logger.Warn("tool call limit reached, accepting last response",
				zap.Int("max_tool_calls", maxToolCalls))
			final = resp.FirstContent()
			break
		}
		messages = append(messages, resp.Choices[0].Message)
		messages = append(messages, s.executeToolCalls(llmCtx, agent, dispatch, calls, logger)...)
	}

	summary := final
	if len([]rune(summary)) > 200 {
		summary = string([]rune(summary)[:200])
	}
	return types.JSONMap{"text": final}, summary, nil
}

func (s *Service) complete(ctx context.Context, provider llm.Provider, agent *store.Agent, messages []llm.Message, tools []llm.ToolSchema) (*llm.ChatResponse, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, types.NewError(types.ErrUpstreamTimeout, "llm rate limit wait cancelled").WithCause(err)
		}
	}
	start := time.Now()
	resp, err := provider.Completion(ctx, &llm.ChatRequest{
		Model:       agent.Model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   agent.MaxTokens,
		Temperature: agent.Temperature,
		TopP:        agent.TopP,
	})
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		var prompt, completion int
		if resp != nil {
			prompt, completion = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		}
		s.metrics.RecordLLMRequest(agent.Model, status, time.Since(start), prompt, completion)
	}
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "llm returned no choices")
	}
	return resp, nil
}

// executeToolCalls runs each requested call through the bridge and returns
// the tool messages to append. Unknown tools and bridge failures come back
// as error results so the model can recover.
func (s *Service) executeToolCalls(ctx context.Context, agent *store.Agent, dispatch map[string]resolvedTool, calls []llm.ToolCall, logger *zap.Logger) []llm.Message {
	out := make([]llm.Message, 0, len(calls))
	for _, call := range calls {
		result := s.executeOne(ctx, dispatch, call, logger)
		out = append(out, llm.Message{
			Role:       llm.RoleTool,
			Name:       call.Name,
			ToolCallID: call.ID,
			Content:    result.ToJSON(),
		})
	}
	return out
}

func (s *Service) executeOne(ctx context.Context, dispatch map[string]resolvedTool, call llm.ToolCall, logger *zap.Logger) *mcp.CallResult {
	target, ok := dispatch[call.Name]
	if !ok {
		return &mcp.CallResult{Success: false, Error: fmt.Sprintf("tool %q is not available", call.Name)}
	}

	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return &mcp.CallResult{Success: false, Error: fmt.Sprintf("invalid arguments for %q: %v", call.Name, err)}
		}
	}

	timeout := s.cfg.ToolTimeout
	if target.timeoutS > 0 {
		timeout = time.Duration(target.timeoutS) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.bridge.CallTool(callCtx, target.serverName, target.toolName, args)
	if err != nil {
		logger.Warn("tool call error",
			zap.String("tool", call.Name),
			zap.String("server", target.serverName),
			zap.Error(err))
		return &mcp.CallResult{Success: false, Error: err.Error()}
	}
	return result
}

func (s *Service) updateQueueDepth() {
	if s.metrics != nil {
		s.metrics.SetAgentQueueDepth(len(s.queue))
	}
}

func (s *Service) setInFlightMetric() {
	if s.metrics != nil {
		s.metrics.SetAgentTasksInFlight(int(s.running.Load()))
	}
}

func (s *Service) recordTask(status string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordAgentTask(status, d)
	}
}
