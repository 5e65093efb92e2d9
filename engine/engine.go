// Package engine drives workflow instances: it owns the instance state
// machine, starts eligible nodes, creates their task instances, and rolls
// task results back up into nodes and instances.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/internal/metrics"
	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
)

// AgentNotifier pushes newly created agent tasks into the agent service
// queue. The DB poller is the fallback when the push is lost.
type AgentNotifier interface {
	NotifyAgentTask(taskID string)
}

// Config tunes the engine.
type Config struct {
	// MaxRetryCount bounds node re-execution after failure. Default 3.
	MaxRetryCount int
}

// Engine executes workflow instances.
type Engine struct {
	store    *store.Store
	resolver *Resolver
	lock     InstanceLock
	logger   *zap.Logger
	validate *validator.Validate
	metrics  *metrics.Collector
	tracer   trace.Tracer
	cfg      Config

	notifier AgentNotifier
}

// New creates an engine. The metrics collector may be nil.
func New(st *store.Store, lock InstanceLock, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lock == nil {
		lock = NewLocalLock()
	}
	if cfg.MaxRetryCount <= 0 {
		cfg.MaxRetryCount = 3
	}
	return &Engine{
		store:    st,
		resolver: NewResolver(st, logger),
		lock:     lock,
		logger:   logger.With(zap.String("component", "engine")),
		validate: validator.New(),
		metrics:  collector,
		tracer:   otel.Tracer("flowforge/engine"),
		cfg:      cfg,
	}
}

// SetAgentNotifier wires the agent service push channel. Set once during
// boot, before traffic.
func (e *Engine) SetAgentNotifier(n AgentNotifier) { e.notifier = n }

// ExecuteRequest starts one workflow execution.
type ExecuteRequest struct {
	WorkflowBaseID string        `json:"workflow_base_id" validate:"required"`
	Name           string        `json:"name"`
	ExecutorID     string        `json:"executor_id" validate:"required"`
	InputData      types.JSONMap `json:"input_data"`
}

// ExecuteWorkflow validates the request, snapshots the current workflow
// version into a new instance with one node instance per definition node,
// moves it to running, and starts the initially eligible nodes.
func (e *Engine) ExecuteWorkflow(ctx context.Context, req ExecuteRequest) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.ExecuteWorkflow",
		trace.WithAttributes(attribute.String("workflow_base_id", req.WorkflowBaseID)))
	defer span.End()

	if err := e.validate.Struct(req); err != nil {
		return "", types.NewValidationError("invalid execute request: %v", err)
	}

	wf, err := e.store.GetCurrentWorkflow(ctx, req.WorkflowBaseID)
	if err != nil {
		return "", err
	}
	for _, key := range wf.RequiredInputs {
		if _, ok := req.InputData[key]; !ok {
			return "", types.NewValidationError("required input %q missing", key)
		}
	}

	nodes, err := e.store.ListNodes(ctx, wf.ID)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", types.NewValidationError("workflow %s has no nodes", wf.ID)
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s #%s", wf.Name, time.Now().Format("20060102-150405"))
	}
	inst := &store.WorkflowInstance{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		WorkflowBaseID: wf.BaseID,
		Name:           name,
		Status:         types.WorkflowPending,
		ExecutorID:     req.ExecutorID,
		InputData:      req.InputData,
	}
	if err := e.store.CreateWorkflowInstance(ctx, inst); err != nil {
		return "", err
	}

	nis := make([]store.NodeInstance, 0, len(nodes))
	for _, n := range nodes {
		nis = append(nis, store.NodeInstance{
			ID:         uuid.NewString(),
			InstanceID: inst.ID,
			NodeID:     n.ID,
			NodeName:   n.Name,
			NodeType:   n.Type,
			Status:     types.NodePending,
		})
	}
	if err := e.store.CreateNodeInstances(ctx, nis); err != nil {
		return "", err
	}

	err = e.lock.WithLock(ctx, inst.ID, func(ctx context.Context) error {
		now := time.Now()
		ok, err := e.store.TransitionWorkflowInstance(ctx, inst.ID,
			[]types.WorkflowStatus{types.WorkflowPending}, types.WorkflowRunning,
			map[string]any{"started_at": &now})
		if err != nil {
			return err
		}
		if !ok {
			return types.NewConflictError("workflow instance %s could not start", inst.ID)
		}
		e.recordTransition(types.WorkflowRunning)
		return e.advance(ctx, inst.ID)
	})
	if err != nil {
		return "", err
	}

	e.logger.Info("workflow instance started",
		zap.String("instance_id", inst.ID),
		zap.String("workflow_id", wf.ID),
		zap.Int("node_count", len(nis)))
	return inst.ID, nil
}

// Pause moves a running instance to paused. Returns false when the
// transition is not legal from the current state; pausing an already paused
// instance is a successful no-op.
func (e *Engine) Pause(ctx context.Context, instanceID string) (bool, error) {
	return e.controlTransition(ctx, instanceID, triggerPause, types.WorkflowPaused,
		[]types.WorkflowStatus{types.WorkflowRunning}, nil)
}

// Resume moves a paused instance back to running and re-evaluates
// eligibility, picking up anything completed while paused.
func (e *Engine) Resume(ctx context.Context, instanceID string) (bool, error) {
	ok, err := e.controlTransition(ctx, instanceID, triggerResume, types.WorkflowRunning,
		[]types.WorkflowStatus{types.WorkflowPaused}, nil)
	if err != nil || !ok {
		return ok, err
	}
	err = e.lock.WithLock(ctx, instanceID, func(ctx context.Context) error {
		return e.advance(ctx, instanceID)
	})
	return true, err
}

// controlTransition applies an idempotent control trigger.
func (e *Engine) controlTransition(ctx context.Context, instanceID, trigger string, to types.WorkflowStatus, from []types.WorkflowStatus, extra map[string]any) (bool, error) {
	var ok bool
	err := e.lock.WithLock(ctx, instanceID, func(ctx context.Context) error {
		inst, err := e.store.GetWorkflowInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Status == to {
			ok = true
			return nil
		}
		if !canFire(inst.Status, trigger) {
			ok = false
			return nil
		}
		ok, err = e.store.TransitionWorkflowInstance(ctx, instanceID, from, to, extra)
		if err == nil && ok {
			e.recordTransition(to)
		}
		return err
	})
	return ok, err
}

// Cancel terminates an instance from any non-terminal state, bulk-cancelling
// its pending node instances and open tasks. Cancelling a terminal instance
// is a conflict.
func (e *Engine) Cancel(ctx context.Context, instanceID string) error {
	return e.lock.WithLock(ctx, instanceID, func(ctx context.Context) error {
		inst, err := e.store.GetWorkflowInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Status.Terminal() {
			return types.NewConflictError("workflow instance %s is already %s", instanceID, inst.Status)
		}
		now := time.Now()
		ok, err := e.store.TransitionWorkflowInstance(ctx, instanceID,
			[]types.WorkflowStatus{types.WorkflowPending, types.WorkflowRunning, types.WorkflowPaused},
			types.WorkflowCancelled,
			map[string]any{"completed_at": &now})
		if err != nil {
			return err
		}
		if !ok {
			return types.NewConflictError("workflow instance %s changed state during cancel", instanceID)
		}
		e.recordTransition(types.WorkflowCancelled)

		nodes, err := e.store.BulkCancelPendingNodeInstances(ctx, instanceID)
		if err != nil {
			return err
		}
		tasks, err := e.store.BulkCancelOpenTasks(ctx, instanceID)
		if err != nil {
			return err
		}
		e.logger.Info("workflow instance cancelled",
			zap.String("instance_id", instanceID),
			zap.Int64("cancelled_nodes", nodes),
			zap.Int64("cancelled_tasks", tasks))
		return nil
	})
}

// OnTaskCompleted rolls a finished task into its node. Called synchronously
// by the gateway and the agent service.
func (e *Engine) OnTaskCompleted(ctx context.Context, taskID string) error {
	return e.onTaskTerminal(ctx, taskID)
}

// OnTaskFailed rolls a failed task into its node, triggering node retry or
// instance failure.
func (e *Engine) OnTaskFailed(ctx context.Context, taskID string, reason string) error {
	e.logger.Warn("task failed", zap.String("task_id", taskID), zap.String("reason", reason))
	return e.onTaskTerminal(ctx, taskID)
}

func (e *Engine) onTaskTerminal(ctx context.Context, taskID string) error {
	ctx, span := e.tracer.Start(ctx, "engine.onTaskTerminal",
		trace.WithAttributes(attribute.String("task_id", taskID)))
	defer span.End()

	task, err := e.store.GetTaskInstance(ctx, taskID)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordTaskCompletion(string(task.TaskType), string(task.Status))
	}

	return e.lock.WithLock(ctx, task.InstanceID, func(ctx context.Context) error {
		inst, err := e.store.GetWorkflowInstance(ctx, task.InstanceID)
		if err != nil {
			return err
		}
		if inst.Status.Terminal() {
			// Late callback after cancel/failure; nothing to roll up.
			return nil
		}
		if err := e.rollupNode(ctx, inst, task.NodeInstanceID); err != nil {
			return err
		}
		return e.advance(ctx, inst.ID)
	})
}

// rollupNode folds the node's task results into the node instance once every
// task reached a terminal state.
func (e *Engine) rollupNode(ctx context.Context, inst *store.WorkflowInstance, nodeInstanceID string) error {
	ni, err := e.store.GetNodeInstance(ctx, nodeInstanceID)
	if err != nil {
		return err
	}
	if ni.Status != types.NodeRunning {
		// Another callback already rolled this node up.
		return nil
	}

	tasks, err := e.store.ListTasksByNodeInstance(ctx, nodeInstanceID)
	if err != nil {
		return err
	}
	// Earlier attempts leave terminal task rows behind; only tasks of the
	// current attempt decide the roll-up.
	if ni.StartedAt != nil {
		current := tasks[:0]
		for _, t := range tasks {
			if !t.CreatedAt.Before(*ni.StartedAt) {
				current = append(current, t)
			}
		}
		tasks = current
	}
	if len(tasks) == 0 {
		return nil
	}

	var failedMsg string
	allTerminal := true
	failed := false
	for _, t := range tasks {
		if !t.Status.Terminal() {
			allTerminal = false
			break
		}
		if t.Status != types.TaskCompleted {
			failed = true
			if failedMsg == "" {
				failedMsg = t.ErrorMessage
				if failedMsg == "" {
					failedMsg = fmt.Sprintf("task %s ended %s", t.ID, t.Status)
				}
			}
		}
	}
	if !allTerminal {
		return nil
	}

	if failed {
		return e.failNode(ctx, inst, ni, failedMsg)
	}

	output := types.JSONMap{}
	for _, t := range tasks {
		for k, v := range t.OutputData {
			output[k] = v
		}
	}
	now := time.Now()
	ok, err := e.store.TransitionNodeInstance(ctx, ni.ID,
		[]types.NodeStatus{types.NodeRunning}, types.NodeCompleted,
		map[string]any{"output_data": output, "completed_at": &now})
	if err != nil {
		return err
	}
	if ok {
		e.recordNode(types.NodeCompleted)
		e.logger.Info("node completed",
			zap.String("instance_id", inst.ID),
			zap.String("node_instance_id", ni.ID),
			zap.String("node_name", ni.NodeName))
	}
	return nil
}

// failNode applies the retry policy: reset the node to pending while retries
// remain, otherwise fail the whole instance.
func (e *Engine) failNode(ctx context.Context, inst *store.WorkflowInstance, ni *store.NodeInstance, reason string) error {
	now := time.Now()
	ok, err := e.store.TransitionNodeInstance(ctx, ni.ID,
		[]types.NodeStatus{types.NodeRunning}, types.NodeFailed,
		map[string]any{"error_message": reason, "completed_at": &now})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	e.recordNode(types.NodeFailed)

	if ni.RetryCount < e.cfg.MaxRetryCount {
		reset, err := e.store.ResetNodeInstanceForRetry(ctx, ni.ID)
		if err != nil {
			return err
		}
		if reset {
			e.logger.Warn("node failed, scheduling retry",
				zap.String("instance_id", inst.ID),
				zap.String("node_instance_id", ni.ID),
				zap.Int("attempt", ni.RetryCount+1),
				zap.Int("max_retries", e.cfg.MaxRetryCount),
				zap.String("reason", reason))
		}
		return nil
	}

	ok, err = e.store.TransitionWorkflowInstance(ctx, inst.ID,
		[]types.WorkflowStatus{types.WorkflowRunning, types.WorkflowPaused},
		types.WorkflowFailed,
		map[string]any{
			"error_message": fmt.Sprintf("node %s failed after %d retries: %s", ni.NodeName, e.cfg.MaxRetryCount, reason),
			"completed_at":  &now,
		})
	if err != nil {
		return err
	}
	if ok {
		e.recordTransition(types.WorkflowFailed)
		if _, err := e.store.BulkCancelPendingNodeInstances(ctx, inst.ID); err != nil {
			return err
		}
		if _, err := e.store.BulkCancelOpenTasks(ctx, inst.ID); err != nil {
			return err
		}
		e.logger.Error("workflow instance failed",
			zap.String("instance_id", inst.ID),
			zap.String("node_name", ni.NodeName),
			zap.String("reason", reason))
	}
	return nil
}

// advance starts every eligible node, looping because start/end marker nodes
// complete inline and can unlock successors immediately. Runs only while the
// instance is running; caller holds the instance lock.
func (e *Engine) advance(ctx context.Context, instanceID string) error {
	for {
		inst, err := e.store.GetWorkflowInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Status != types.WorkflowRunning {
			return nil
		}

		eligible, err := e.resolver.EligibleNodes(ctx, inst)
		if err != nil {
			return err
		}
		progressed := false
		for i := range eligible {
			inlineDone, err := e.startNode(ctx, inst, &eligible[i])
			if err != nil {
				return err
			}
			progressed = progressed || inlineDone
		}
		if !progressed {
			break
		}
	}
	return e.checkCompletion(ctx, instanceID)
}

// startNode moves a pending node to running and creates its task instances.
// Start and end marker nodes complete inline without tasks; the returned
// bool reports that inline completion so advance can loop.
func (e *Engine) startNode(ctx context.Context, inst *store.WorkflowInstance, ni *store.NodeInstance) (bool, error) {
	upstream, err := e.resolver.UpstreamOutputs(ctx, inst, ni.NodeID)
	if err != nil {
		return false, err
	}
	input := types.JSONMap{
		"workflow_input":   map[string]any(inst.InputData),
		"upstream_outputs": map[string]any(upstream),
	}

	now := time.Now()
	ok, err := e.store.TransitionNodeInstance(ctx, ni.ID,
		[]types.NodeStatus{types.NodePending}, types.NodeRunning,
		map[string]any{"started_at": &now, "input_data": input})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	node, err := e.getNode(ctx, inst.WorkflowID, ni.NodeID)
	if err != nil {
		return false, err
	}

	// Marker nodes carry no work: they pass data through and complete.
	if node.Type == types.NodeTypeStart || node.Type == types.NodeTypeEnd {
		output := upstream
		if node.Type == types.NodeTypeStart {
			output = inst.InputData
		}
		done := time.Now()
		ok, err := e.store.TransitionNodeInstance(ctx, ni.ID,
			[]types.NodeStatus{types.NodeRunning}, types.NodeCompleted,
			map[string]any{"output_data": output, "completed_at": &done})
		if err != nil {
			return false, err
		}
		if ok {
			e.recordNode(types.NodeCompleted)
		}
		return ok, nil
	}

	task, err := e.createTask(ctx, inst, ni, node, input)
	if err != nil {
		return false, err
	}
	e.logger.Info("node started",
		zap.String("instance_id", inst.ID),
		zap.String("node_name", ni.NodeName),
		zap.String("task_id", task.ID),
		zap.String("task_type", string(task.TaskType)))

	if task.TaskType == types.TaskTypeAgent && e.notifier != nil {
		e.notifier.NotifyAgentTask(task.ID)
	}
	return false, nil
}

func (e *Engine) createTask(ctx context.Context, inst *store.WorkflowInstance, ni *store.NodeInstance, node *store.Node, input types.JSONMap) (*store.TaskInstance, error) {
	title := node.TaskTitle
	if title == "" {
		title = node.Name
	}
	task := store.TaskInstance{
		ID:             uuid.NewString(),
		NodeInstanceID: ni.ID,
		InstanceID:     inst.ID,
		Title:          title,
		Description:    node.TaskDescription,
		Priority:       node.Priority,
		EstimatedMins:  node.EstimatedMins,
		InputData:      input,
		ContextData: types.JSONMap{
			"workflow_name": inst.Name,
			"node_name":     node.Name,
		},
	}
	switch node.ProcessorType {
	case types.ProcessorAgent:
		task.TaskType = types.TaskTypeAgent
		task.Status = types.TaskPending
		task.AssignedAgentID = node.ProcessorID
	default:
		task.TaskType = types.TaskTypeHuman
		task.Status = types.TaskAssigned
		task.AssignedUserID = node.ProcessorID
	}
	task.ProcessorID = node.ProcessorID

	if err := e.store.CreateTaskInstances(ctx, []store.TaskInstance{task}); err != nil {
		return nil, err
	}
	return &task, nil
}

func (e *Engine) getNode(ctx context.Context, workflowID, nodeID string) (*store.Node, error) {
	nodes, err := e.store.ListNodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		if nodes[i].ID == nodeID {
			return &nodes[i], nil
		}
	}
	return nil, types.NewNotFoundError("node %s not found in workflow %s", nodeID, workflowID)
}

// checkCompletion completes the instance once every end node finished and
// nothing is still running. Pending nodes on branches whose conditions never
// held are cancelled as skipped.
func (e *Engine) checkCompletion(ctx context.Context, instanceID string) error {
	inst, err := e.store.GetWorkflowInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status != types.WorkflowRunning {
		return nil
	}
	nis, err := e.store.ListNodeInstances(ctx, instanceID)
	if err != nil {
		return err
	}

	anyRunning := false
	endTotal, endDone := 0, 0
	output := types.JSONMap{}
	for _, ni := range nis {
		if ni.Status == types.NodeRunning {
			anyRunning = true
		}
		if ni.NodeType == types.NodeTypeEnd {
			endTotal++
			if ni.Status == types.NodeCompleted {
				endDone++
				for k, v := range ni.OutputData {
					output[k] = v
				}
			}
		}
	}
	if anyRunning || endTotal == 0 || endDone != endTotal {
		return nil
	}

	now := time.Now()
	ok, err := e.store.TransitionWorkflowInstance(ctx, instanceID,
		[]types.WorkflowStatus{types.WorkflowRunning}, types.WorkflowCompleted,
		map[string]any{"output_data": output, "completed_at": &now})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	e.recordTransition(types.WorkflowCompleted)

	// Untaken branches stay pending forever; close them out.
	if _, err := e.store.BulkCancelPendingNodeInstances(ctx, instanceID); err != nil {
		return err
	}
	e.logger.Info("workflow instance completed", zap.String("instance_id", instanceID))
	return nil
}

func (e *Engine) recordTransition(to types.WorkflowStatus) {
	if e.metrics != nil {
		e.metrics.RecordWorkflowTransition(string(to))
	}
}

func (e *Engine) recordNode(status types.NodeStatus) {
	if e.metrics != nil {
		e.metrics.RecordNodeExecution(string(status))
	}
}
