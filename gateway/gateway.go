// Package gateway is the human side of task execution: listing a user's
// tasks and working them through start/submit/pause/reject/help/cancel.
// Every mutating operation checks that the caller is the task's assignee.
package gateway

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
)

// EngineNotifier is the engine surface the gateway needs: synchronous
// roll-up after a task reaches a terminal state.
type EngineNotifier interface {
	OnTaskCompleted(ctx context.Context, taskID string) error
	OnTaskFailed(ctx context.Context, taskID string, reason string) error
}

// Gateway handles human task operations.
type Gateway struct {
	store    *store.Store
	engine   EngineNotifier
	logger   *zap.Logger
	validate *validator.Validate
}

// New creates a gateway.
func New(st *store.Store, engine EngineNotifier, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		store:    st,
		engine:   engine,
		logger:   logger.With(zap.String("component", "gateway")),
		validate: validator.New(),
	}
}

// ListMyTasks returns the human tasks assigned to the user.
func (g *Gateway) ListMyTasks(ctx context.Context, userID string, filter store.UserTaskFilter) ([]store.TaskInstance, int64, error) {
	if userID == "" {
		return nil, 0, types.NewValidationError("user id is required")
	}
	return g.store.ListUserTasks(ctx, userID, filter)
}

// loadOwnTask fetches the task and enforces the assignee permission check.
func (g *Gateway) loadOwnTask(ctx context.Context, taskID, userID string) (*store.TaskInstance, error) {
	if userID == "" {
		return nil, types.NewValidationError("user id is required")
	}
	task, err := g.store.GetTaskInstance(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.TaskType != types.TaskTypeHuman {
		return nil, types.NewValidationError("task %s is not a human task", taskID)
	}
	if task.AssignedUserID != userID {
		return nil, types.NewPermissionError("task %s is not assigned to user %s", taskID, userID)
	}
	return task, nil
}

// Start moves an assigned task to in_progress.
func (g *Gateway) Start(ctx context.Context, taskID, userID string) error {
	task, err := g.loadOwnTask(ctx, taskID, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	ok, err := g.store.TransitionTask(ctx, task.ID,
		[]types.TaskStatus{types.TaskPending, types.TaskAssigned},
		types.TaskInProgress,
		map[string]any{"started_at": &now})
	if err != nil {
		return err
	}
	if !ok {
		return types.NewConflictError("task %s cannot start from status %s", taskID, task.Status)
	}
	g.logger.Info("task started", zap.String("task_id", taskID), zap.String("user_id", userID))
	return nil
}

// SubmitRequest carries a task result.
type SubmitRequest struct {
	Result  types.JSONMap `json:"result" validate:"required"`
	Summary string        `json:"summary"`
}

// Submit completes an in_progress task with its result and synchronously
// notifies the engine so downstream nodes start before the call returns.
func (g *Gateway) Submit(ctx context.Context, taskID, userID string, req SubmitRequest) error {
	if err := g.validate.Struct(req); err != nil {
		return types.NewValidationError("invalid submit request: %v", err)
	}
	task, err := g.loadOwnTask(ctx, taskID, userID)
	if err != nil {
		return err
	}
	if task.Status != types.TaskInProgress {
		return types.NewValidationError("task %s must be in_progress to submit, is %s", taskID, task.Status)
	}

	now := time.Now()
	ok, err := g.store.TransitionTask(ctx, task.ID,
		[]types.TaskStatus{types.TaskInProgress},
		types.TaskCompleted,
		map[string]any{
			"output_data":    req.Result,
			"result_summary": req.Summary,
			"completed_at":   &now,
		})
	if err != nil {
		return err
	}
	if !ok {
		return types.NewConflictError("task %s changed state during submit", taskID)
	}
	g.logger.Info("task submitted", zap.String("task_id", taskID), zap.String("user_id", userID))
	return g.engine.OnTaskCompleted(ctx, taskID)
}

// Pause returns an in_progress task to assigned, recording the reason.
func (g *Gateway) Pause(ctx context.Context, taskID, userID, reason string) error {
	task, err := g.loadOwnTask(ctx, taskID, userID)
	if err != nil {
		return err
	}
	if task.Status != types.TaskInProgress {
		return types.NewValidationError("task %s must be in_progress to pause, is %s", taskID, task.Status)
	}
	ok, err := g.store.TransitionTask(ctx, task.ID,
		[]types.TaskStatus{types.TaskInProgress},
		types.TaskAssigned, nil)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewConflictError("task %s changed state during pause", taskID)
	}
	if reason != "" {
		if err := g.store.UpdateTaskContext(ctx, task.ID, types.JSONMap{"pause_reason": reason}); err != nil {
			return err
		}
	}
	return nil
}

// Reject declines an in_progress task. The reason is required; the node
// roll-up treats a rejected task like a failure, so the node retries or the
// instance fails.
func (g *Gateway) Reject(ctx context.Context, taskID, userID, reason string) error {
	if reason == "" {
		return types.NewValidationError("reject reason is required")
	}
	task, err := g.loadOwnTask(ctx, taskID, userID)
	if err != nil {
		return err
	}
	if task.Status != types.TaskInProgress {
		return types.NewValidationError("task %s must be in_progress to reject, is %s", taskID, task.Status)
	}
	now := time.Now()
	ok, err := g.store.TransitionTask(ctx, task.ID,
		[]types.TaskStatus{types.TaskInProgress},
		types.TaskRejected,
		map[string]any{"error_message": reason, "completed_at": &now})
	if err != nil {
		return err
	}
	if !ok {
		return types.NewConflictError("task %s changed state during reject", taskID)
	}
	g.logger.Info("task rejected", zap.String("task_id", taskID), zap.String("reason", reason))
	return g.engine.OnTaskFailed(ctx, taskID, "rejected: "+reason)
}

// Help records a free-text help request into the task's context data. It
// does not change the task state.
func (g *Gateway) Help(ctx context.Context, taskID, userID, message string) error {
	if message == "" {
		return types.NewValidationError("help message is required")
	}
	task, err := g.loadOwnTask(ctx, taskID, userID)
	if err != nil {
		return err
	}
	var requests []any
	if existing, ok := task.ContextData["help_requests"].([]any); ok {
		requests = existing
	}
	requests = append(requests, map[string]any{
		"user_id":      userID,
		"message":      message,
		"requested_at": time.Now().Format(time.RFC3339),
	})
	return g.store.UpdateTaskContext(ctx, task.ID, types.JSONMap{"help_requests": requests})
}

// Cancel terminates a non-terminal task. The roll-up treats it like a
// failure so the node retry policy decides what happens next.
func (g *Gateway) Cancel(ctx context.Context, taskID, userID, reason string) error {
	task, err := g.loadOwnTask(ctx, taskID, userID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return types.NewConflictError("task %s is already %s", taskID, task.Status)
	}
	now := time.Now()
	ok, err := g.store.TransitionTask(ctx, task.ID,
		[]types.TaskStatus{types.TaskPending, types.TaskAssigned, types.TaskInProgress, types.TaskHelpRequested},
		types.TaskCancelled,
		map[string]any{"error_message": reason, "completed_at": &now})
	if err != nil {
		return err
	}
	if !ok {
		return types.NewConflictError("task %s changed state during cancel", taskID)
	}
	g.logger.Info("task cancelled", zap.String("task_id", taskID), zap.String("user_id", userID))
	return g.engine.OnTaskFailed(ctx, taskID, "cancelled by assignee")
}
