package store

import (
	"context"
)

// GetWorkflow loads one workflow version by its primary key.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	err := active(s.db.WithContext(ctx)).First(&wf, "workflow_id = ?", id).Error
	if err != nil {
		return nil, wrapNotFound(err, "workflow", id)
	}
	return &wf, nil
}

// GetCurrentWorkflow resolves the current version of a logical workflow.
func (s *Store) GetCurrentWorkflow(ctx context.Context, baseID string) (*Workflow, error) {
	var wf Workflow
	err := active(s.db.WithContext(ctx)).
		Where("workflow_base_id = ? AND is_current = ?", baseID, true).
		First(&wf).Error
	if err != nil {
		return nil, wrapNotFound(err, "workflow", baseID)
	}
	return &wf, nil
}

// ListNodes returns the node definitions of one workflow version.
func (s *Store) ListNodes(ctx context.Context, workflowID string) ([]Node, error) {
	var nodes []Node
	err := active(s.db.WithContext(ctx)).
		Where("workflow_id = ?", workflowID).
		Order("created_at ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, wrapNotFound(err, "nodes of workflow", workflowID)
	}
	return nodes, nil
}

// ListConnections returns the edges of one workflow version.
func (s *Store) ListConnections(ctx context.Context, workflowID string) ([]NodeConnection, error) {
	var conns []NodeConnection
	err := active(s.db.WithContext(ctx)).
		Where("workflow_id = ?", workflowID).
		Find(&conns).Error
	if err != nil {
		return nil, wrapNotFound(err, "connections of workflow", workflowID)
	}
	return conns, nil
}
