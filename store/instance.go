package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/flowforge/types"
)

// CreateWorkflowInstance persists a new instance.
func (s *Store) CreateWorkflowInstance(ctx context.Context, inst *WorkflowInstance) error {
	if err := s.db.WithContext(ctx).Create(inst).Error; err != nil {
		return types.NewInternalError("create workflow instance", err)
	}
	return nil
}

// GetWorkflowInstance loads one instance by id.
func (s *Store) GetWorkflowInstance(ctx context.Context, id string) (*WorkflowInstance, error) {
	var inst WorkflowInstance
	err := active(s.db.WithContext(ctx)).First(&inst, "instance_id = ?", id).Error
	if err != nil {
		return nil, wrapNotFound(err, "workflow instance", id)
	}
	return &inst, nil
}

// TransitionWorkflowInstance moves an instance from one of the given states
// to the target state. The status guard in the WHERE clause makes concurrent
// transitions race-safe: only one writer wins. Returns false when the
// instance was not in an allowed source state.
func (s *Store) TransitionWorkflowInstance(ctx context.Context, id string, from []types.WorkflowStatus, to types.WorkflowStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": time.Now()}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&WorkflowInstance{}).
		Where("instance_id = ? AND status IN ? AND is_deleted = ?", id, from, false).
		Updates(updates)
	if res.Error != nil {
		return false, types.NewInternalError("transition workflow instance", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CreateNodeInstances persists the full node instance set for a new workflow
// instance in one batch.
func (s *Store) CreateNodeInstances(ctx context.Context, nis []NodeInstance) error {
	if len(nis) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&nis).Error; err != nil {
		return types.NewInternalError("create node instances", err)
	}
	return nil
}

// GetNodeInstance loads one node instance by id.
func (s *Store) GetNodeInstance(ctx context.Context, id string) (*NodeInstance, error) {
	var ni NodeInstance
	err := active(s.db.WithContext(ctx)).First(&ni, "node_instance_id = ?", id).Error
	if err != nil {
		return nil, wrapNotFound(err, "node instance", id)
	}
	return &ni, nil
}

// ListNodeInstances returns all node instances of a workflow instance.
func (s *Store) ListNodeInstances(ctx context.Context, instanceID string) ([]NodeInstance, error) {
	var nis []NodeInstance
	err := active(s.db.WithContext(ctx)).
		Where("workflow_instance_id = ?", instanceID).
		Order("created_at ASC").
		Find(&nis).Error
	if err != nil {
		return nil, wrapNotFound(err, "node instances of", instanceID)
	}
	return nis, nil
}

// TransitionNodeInstance moves a node instance between states with the same
// status guard as workflow instances.
func (s *Store) TransitionNodeInstance(ctx context.Context, id string, from []types.NodeStatus, to types.NodeStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": time.Now()}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&NodeInstance{}).
		Where("node_instance_id = ? AND status IN ? AND is_deleted = ?", id, from, false).
		Updates(updates)
	if res.Error != nil {
		return false, types.NewInternalError("transition node instance", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ResetNodeInstanceForRetry puts a failed node back to pending and bumps its
// retry counter. Fresh task instances are created when the node starts again.
func (s *Store) ResetNodeInstanceForRetry(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&NodeInstance{}).
		Where("node_instance_id = ? AND status = ? AND is_deleted = ?", id, types.NodeFailed, false).
		Updates(map[string]any{
			"status":        types.NodePending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": "",
			"started_at":    nil,
			"completed_at":  nil,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, types.NewInternalError("reset node instance", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// BulkCancelPendingNodeInstances cancels every pending node instance of a
// workflow instance in one statement.
func (s *Store) BulkCancelPendingNodeInstances(ctx context.Context, instanceID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&NodeInstance{}).
		Where("workflow_instance_id = ? AND status = ? AND is_deleted = ?", instanceID, types.NodePending, false).
		Updates(map[string]any{"status": types.NodeCancelled, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, types.NewInternalError("bulk cancel node instances", res.Error)
	}
	return res.RowsAffected, nil
}
