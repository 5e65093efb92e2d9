// Agent 与 MCP 工具注册的测试数据工厂。
package fixtures

import (
	"testing"

	"github.com/google/uuid"

	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
)

// NewAgent 构造一个默认配置的 agent 行。
func NewAgent(name string) *store.Agent {
	return &store.Agent{
		ID:            uuid.NewString(),
		Name:          name,
		Model:         "gpt-4o-mini",
		BaseURL:       "https://api.openai.example",
		APIKey:        "test-key",
		Temperature:   0.7,
		TopP:          1.0,
		SystemPrompt:  "You are a workflow assistant.",
		ToolSelection: types.ToolSelectionAuto,
	}
}

// SeedAgent 写入 agent 行并返回它。
func SeedAgent(t *testing.T, st *store.Store, agent *store.Agent) *store.Agent {
	t.Helper()
	if err := st.DB().Create(agent).Error; err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return agent
}

// NewMCPTool 构造一个已激活的工具注册行。
func NewMCPTool(serverName, serverURL, toolName string) *store.MCPTool {
	return &store.MCPTool{
		ID:           uuid.NewString(),
		UserID:       "user-1",
		ServerName:   serverName,
		ServerURL:    serverURL,
		ToolName:     toolName,
		Description:  "test tool " + toolName,
		InputSchema:  types.JSONMap{"type": "object"},
		ServerStatus: types.ServerHealthy,
		IsActive:     true,
	}
}

// SeedMCPTool 写入工具注册行并返回它。
func SeedMCPTool(t *testing.T, st *store.Store, tool *store.MCPTool) *store.MCPTool {
	t.Helper()
	if err := st.DB().Create(tool).Error; err != nil {
		t.Fatalf("seed mcp tool: %v", err)
	}
	return tool
}

// BindTool 建立 agent 与工具的启用绑定。
func BindTool(t *testing.T, st *store.Store, agentID, toolID string, priority int) {
	t.Helper()
	b := &store.AgentToolBinding{
		AgentID:  agentID,
		ToolID:   toolID,
		Enabled:  true,
		Priority: priority,
	}
	if err := st.DB().Create(b).Error; err != nil {
		t.Fatalf("seed tool binding: %v", err)
	}
}
