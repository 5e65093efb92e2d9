package store

import (
	"context"
)

// GetAgent loads one agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	err := active(s.db.WithContext(ctx)).First(&a, "agent_id = ?", id).Error
	if err != nil {
		return nil, wrapNotFound(err, "agent", id)
	}
	return &a, nil
}

// BoundTool is a registered tool joined with its agent binding.
type BoundTool struct {
	Tool    MCPTool
	Binding AgentToolBinding
}

// ListAgentTools returns the tools bound to an agent, highest priority
// first. Only enabled bindings over active, non-deleted registry rows are
// returned; health filtering happens in the agent service so the block list
// still applies to unhealthy tools.
func (s *Store) ListAgentTools(ctx context.Context, agentID string) ([]BoundTool, error) {
	var bindings []AgentToolBinding
	err := active(s.db.WithContext(ctx)).
		Where("agent_id = ? AND enabled = ?", agentID, true).
		Order("priority DESC").
		Find(&bindings).Error
	if err != nil {
		return nil, wrapNotFound(err, "tool bindings of agent", agentID)
	}
	if len(bindings) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(bindings))
	for _, b := range bindings {
		ids = append(ids, b.ToolID)
	}
	var tools []MCPTool
	err = active(s.db.WithContext(ctx)).
		Where("tool_id IN ? AND is_active = ?", ids, true).
		Find(&tools).Error
	if err != nil {
		return nil, wrapNotFound(err, "tools of agent", agentID)
	}

	byID := make(map[string]MCPTool, len(tools))
	for _, t := range tools {
		byID[t.ID] = t
	}
	out := make([]BoundTool, 0, len(bindings))
	for _, b := range bindings {
		if t, ok := byID[b.ToolID]; ok {
			out = append(out, BoundTool{Tool: t, Binding: b})
		}
	}
	return out, nil
}
