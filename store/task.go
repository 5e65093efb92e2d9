package store

import (
	"context"
	"time"

	"github.com/BaSui01/flowforge/types"
)

// CreateTaskInstances persists the task set created when a node starts.
func (s *Store) CreateTaskInstances(ctx context.Context, tasks []TaskInstance) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&tasks).Error; err != nil {
		return types.NewInternalError("create task instances", err)
	}
	return nil
}

// GetTaskInstance loads one task by id.
func (s *Store) GetTaskInstance(ctx context.Context, id string) (*TaskInstance, error) {
	var t TaskInstance
	err := active(s.db.WithContext(ctx)).First(&t, "task_instance_id = ?", id).Error
	if err != nil {
		return nil, wrapNotFound(err, "task", id)
	}
	return &t, nil
}

// ListTasksByNodeInstance returns every task of one node instance, including
// terminal ones. The engine rolls these up on each task completion.
func (s *Store) ListTasksByNodeInstance(ctx context.Context, nodeInstanceID string) ([]TaskInstance, error) {
	var tasks []TaskInstance
	err := active(s.db.WithContext(ctx)).
		Where("node_instance_id = ?", nodeInstanceID).
		Find(&tasks).Error
	if err != nil {
		return nil, wrapNotFound(err, "tasks of node instance", nodeInstanceID)
	}
	return tasks, nil
}

// UserTaskFilter narrows the my-tasks listing.
type UserTaskFilter struct {
	Status types.TaskStatus
	Limit  int
	Offset int
}

// ListUserTasks returns the human tasks assigned to a user, newest first.
func (s *Store) ListUserTasks(ctx context.Context, userID string, f UserTaskFilter) ([]TaskInstance, int64, error) {
	q := active(s.db.WithContext(ctx).Model(&TaskInstance{})).
		Where("assigned_user_id = ? AND task_type = ?", userID, types.TaskTypeHuman)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, types.NewInternalError("count user tasks", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var tasks []TaskInstance
	err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&tasks).Error
	if err != nil {
		return nil, 0, types.NewInternalError("list user tasks", err)
	}
	return tasks, total, nil
}

// ListPendingAgentTasks returns queued agent tasks oldest first, for the
// poller to re-discover work lost from the in-memory queue.
func (s *Store) ListPendingAgentTasks(ctx context.Context, limit int) ([]TaskInstance, error) {
	if limit <= 0 {
		limit = 50
	}
	var tasks []TaskInstance
	err := active(s.db.WithContext(ctx)).
		Where("task_type = ? AND status = ?", types.TaskTypeAgent, types.TaskPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, types.NewInternalError("list pending agent tasks", err)
	}
	return tasks, nil
}

// TransitionTask moves a task between states with a status guard. Returns
// false when the task was not in an allowed source state, which callers use
// both for conflict detection and for the completed-write-to-cancelled-task
// no-op.
func (s *Store) TransitionTask(ctx context.Context, id string, from []types.TaskStatus, to types.TaskStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": time.Now()}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&TaskInstance{}).
		Where("task_instance_id = ? AND status IN ? AND is_deleted = ?", id, from, false).
		Updates(updates)
	if res.Error != nil {
		return false, types.NewInternalError("transition task", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SaveTaskResult writes a completed result. The status guard skips the write
// when the task left the working states in the meantime (e.g. was cancelled
// while the agent was still running); the caller treats false as a no-op.
func (s *Store) SaveTaskResult(ctx context.Context, id string, output types.JSONMap, summary string) (bool, error) {
	now := time.Now()
	return s.TransitionTask(ctx, id,
		[]types.TaskStatus{types.TaskPending, types.TaskAssigned, types.TaskInProgress},
		types.TaskCompleted,
		map[string]any{
			"output_data":    output,
			"result_summary": summary,
			"completed_at":   &now,
		})
}

// SetTaskError marks a task failed with its error message.
func (s *Store) SetTaskError(ctx context.Context, id string, errMsg string) (bool, error) {
	now := time.Now()
	return s.TransitionTask(ctx, id,
		[]types.TaskStatus{types.TaskPending, types.TaskAssigned, types.TaskInProgress},
		types.TaskFailed,
		map[string]any{
			"error_message": errMsg,
			"completed_at":  &now,
		})
}

// UpdateTaskContext merges values into a task's context_data. Used by the
// gateway for help requests and pause reasons.
func (s *Store) UpdateTaskContext(ctx context.Context, id string, merge types.JSONMap) error {
	t, err := s.GetTaskInstance(ctx, id)
	if err != nil {
		return err
	}
	merged := t.ContextData.Clone()
	if merged == nil {
		merged = types.JSONMap{}
	}
	for k, v := range merge {
		merged[k] = v
	}
	res := s.db.WithContext(ctx).Model(&TaskInstance{}).
		Where("task_instance_id = ?", id).
		Updates(map[string]any{"context_data": merged, "updated_at": time.Now()})
	if res.Error != nil {
		return types.NewInternalError("update task context", res.Error)
	}
	return nil
}

// BulkCancelOpenTasks cancels every non-terminal task of a workflow instance.
func (s *Store) BulkCancelOpenTasks(ctx context.Context, instanceID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&TaskInstance{}).
		Where("workflow_instance_id = ? AND status IN ? AND is_deleted = ?", instanceID,
			[]types.TaskStatus{types.TaskPending, types.TaskAssigned, types.TaskInProgress, types.TaskHelpRequested}, false).
		Updates(map[string]any{"status": types.TaskCancelled, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, types.NewInternalError("bulk cancel tasks", res.Error)
	}
	return res.RowsAffected, nil
}
