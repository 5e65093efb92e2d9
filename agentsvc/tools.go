package agentsvc

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/llm"
	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
)

// resolvedTool is one tool the agent may call during this task.
type resolvedTool struct {
	serverName string
	toolName   string
	timeoutS   int
}

// resolveTools builds the tool schemas for an agent according to its
// selection mode:
//
//	disabled — no tools at all
//	manual   — only tools on the allow list
//	auto     — every bound tool except the block list
//
// Only enabled bindings whose server is currently healthy survive.
func (s *Service) resolveTools(ctx context.Context, agent *store.Agent) ([]llm.ToolSchema, map[string]resolvedTool, error) {
	if agent.ToolSelection == types.ToolSelectionDisabled {
		return nil, nil, nil
	}

	bound, err := s.store.ListAgentTools(ctx, agent.ID)
	if err != nil {
		return nil, nil, err
	}

	var schemas []llm.ToolSchema
	dispatch := make(map[string]resolvedTool)
	for _, bt := range bound {
		name := bt.Tool.ToolName
		if bt.Tool.ServerStatus != types.ServerHealthy {
			s.logger.Debug("skipping tool on unhealthy server",
				zap.String("tool", name),
				zap.String("server", bt.Tool.ServerName))
			continue
		}
		if agent.BlockedTools.Contains(name) {
			continue
		}
		if agent.ToolSelection == types.ToolSelectionManual && !agent.AllowedTools.Contains(name) {
			continue
		}
		if _, dup := dispatch[name]; dup {
			continue
		}

		params := json.RawMessage(`{"type":"object","properties":{}}`)
		if len(bt.Tool.InputSchema) > 0 {
			if b, err := json.Marshal(bt.Tool.InputSchema); err == nil {
				params = b
			}
		}
		schemas = append(schemas, llm.ToolSchema{
			Name:        name,
			Description: bt.Tool.Description,
			Parameters:  params,
		})
		dispatch[name] = resolvedTool{
			serverName: bt.Tool.ServerName,
			toolName:   name,
			timeoutS:   bt.Binding.TimeoutS,
		}
	}
	return schemas, dispatch, nil
}
