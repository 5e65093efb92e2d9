package store

import (
	"context"
	"time"

	"github.com/BaSui01/flowforge/types"
)

type statusCount struct {
	Status string
	Count  int64
}

// CountTasksByStatus aggregates agent task counts per status.
func (s *Store) CountTasksByStatus(ctx context.Context, taskType types.TaskType) (map[types.TaskStatus]int64, error) {
	var rows []statusCount
	q := active(s.db.WithContext(ctx).Model(&TaskInstance{}))
	if taskType != "" {
		q = q.Where("task_type = ?", taskType)
	}
	err := q.Select("status, COUNT(*) as count").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, types.NewInternalError("count tasks by status", err)
	}
	out := make(map[types.TaskStatus]int64, len(rows))
	for _, r := range rows {
		out[types.TaskStatus(r.Status)] = r.Count
	}
	return out, nil
}

// CountWorkflowInstancesByStatus aggregates workflow instance counts.
func (s *Store) CountWorkflowInstancesByStatus(ctx context.Context) (map[types.WorkflowStatus]int64, error) {
	var rows []statusCount
	err := active(s.db.WithContext(ctx).Model(&WorkflowInstance{})).
		Select("status, COUNT(*) as count").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, types.NewInternalError("count workflow instances by status", err)
	}
	out := make(map[types.WorkflowStatus]int64, len(rows))
	for _, r := range rows {
		out[types.WorkflowStatus(r.Status)] = r.Count
	}
	return out, nil
}

// ListStalledTasks returns tasks still in working states whose last activity
// is older than the threshold.
func (s *Store) ListStalledTasks(ctx context.Context, olderThan time.Time, limit int) ([]TaskInstance, error) {
	if limit <= 0 {
		limit = 100
	}
	var tasks []TaskInstance
	err := active(s.db.WithContext(ctx)).
		Where("status IN ? AND updated_at < ?",
			[]types.TaskStatus{types.TaskInProgress, types.TaskAssigned}, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, types.NewInternalError("list stalled tasks", err)
	}
	return tasks, nil
}

// ListStalledNodeInstances returns node instances running since before the
// threshold.
func (s *Store) ListStalledNodeInstances(ctx context.Context, olderThan time.Time, limit int) ([]NodeInstance, error) {
	if limit <= 0 {
		limit = 100
	}
	var nis []NodeInstance
	err := active(s.db.WithContext(ctx)).
		Where("status = ? AND started_at IS NOT NULL AND started_at < ?", types.NodeRunning, olderThan).
		Order("started_at ASC").
		Limit(limit).
		Find(&nis).Error
	if err != nil {
		return nil, types.NewInternalError("list stalled node instances", err)
	}
	return nis, nil
}
