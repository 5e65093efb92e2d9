package store

import (
	"time"

	"github.com/BaSui01/flowforge/types"
)

// Workflow is one immutable version of a workflow definition. All versions of
// the same logical workflow share BaseID; exactly one carries IsCurrent.
type Workflow struct {
	ID             string           `gorm:"column:workflow_id;primaryKey;size:36"`
	BaseID         string           `gorm:"column:workflow_base_id;size:36;index"`
	Name           string           `gorm:"size:255"`
	Description    string           `gorm:"type:text"`
	Version        int              `gorm:"default:1"`
	IsCurrent      bool             `gorm:"index"`
	CreatorID      string           `gorm:"size:36"`
	RequiredInputs types.StringList `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	IsDeleted      bool `gorm:"index"`
}

func (Workflow) TableName() string { return "workflow" }

// Node is a node definition inside one workflow version.
type Node struct {
	ID              string              `gorm:"column:node_id;primaryKey;size:36"`
	WorkflowID      string              `gorm:"size:36;index"`
	Name            string              `gorm:"size:255"`
	Type            types.NodeType      `gorm:"size:16"`
	ProcessorType   types.ProcessorType `gorm:"size:16"`
	ProcessorID     string              `gorm:"size:36"`
	TaskTitle       string              `gorm:"size:255"`
	TaskDescription string              `gorm:"type:text"`
	Priority        int                 `gorm:"default:0"`
	EstimatedMins   int                 `gorm:"default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	IsDeleted       bool
}

func (Node) TableName() string { return "node" }

// NodeConnection is a directed edge between two nodes of one workflow
// version. Conditional edges carry an expression evaluated against the
// source node's output.
type NodeConnection struct {
	ID         uint                 `gorm:"primaryKey;autoIncrement"`
	WorkflowID string               `gorm:"size:36;index"`
	FromNodeID string               `gorm:"size:36;index"`
	ToNodeID   string               `gorm:"size:36;index"`
	Type       types.ConnectionType `gorm:"size:16;default:normal"`
	Condition  string               `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	IsDeleted  bool
}

func (NodeConnection) TableName() string { return "node_connection" }

// WorkflowInstance is one execution of a workflow version.
type WorkflowInstance struct {
	ID             string               `gorm:"column:instance_id;primaryKey;size:36"`
	WorkflowID     string               `gorm:"size:36;index"`
	WorkflowBaseID string               `gorm:"size:36;index"`
	Name           string               `gorm:"size:255"`
	Status         types.WorkflowStatus `gorm:"size:16;index"`
	ExecutorID     string               `gorm:"size:36;index"`
	InputData      types.JSONMap        `gorm:"type:text"`
	OutputData     types.JSONMap        `gorm:"type:text"`
	ErrorMessage   string               `gorm:"type:text"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	IsDeleted      bool
}

func (WorkflowInstance) TableName() string { return "workflow_instance" }

// NodeInstance is the runtime state of one node inside a workflow instance.
type NodeInstance struct {
	ID           string           `gorm:"column:node_instance_id;primaryKey;size:36"`
	InstanceID   string           `gorm:"column:workflow_instance_id;size:36;index"`
	NodeID       string           `gorm:"size:36;index"`
	NodeName     string           `gorm:"size:255"`
	NodeType     types.NodeType   `gorm:"size:16"`
	Status       types.NodeStatus `gorm:"size:16;index"`
	InputData    types.JSONMap    `gorm:"type:text"`
	OutputData   types.JSONMap    `gorm:"type:text"`
	RetryCount   int              `gorm:"default:0"`
	ErrorMessage string           `gorm:"type:text"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsDeleted    bool
}

func (NodeInstance) TableName() string { return "node_instance" }

// TaskInstance is a unit of work produced when a node starts. Human tasks are
// worked through the gateway; agent tasks through the agent service.
type TaskInstance struct {
	ID              string           `gorm:"column:task_instance_id;primaryKey;size:36"`
	NodeInstanceID  string           `gorm:"size:36;index"`
	InstanceID      string           `gorm:"column:workflow_instance_id;size:36;index"`
	Title           string           `gorm:"size:255"`
	Description     string           `gorm:"type:text"`
	TaskType        types.TaskType   `gorm:"size:16;index"`
	Status          types.TaskStatus `gorm:"size:16;index"`
	Priority        int              `gorm:"default:0"`
	EstimatedMins   int              `gorm:"default:0"`
	AssignedUserID  string           `gorm:"size:36;index"`
	AssignedAgentID string           `gorm:"size:36;index"`
	ProcessorID     string           `gorm:"size:36"`
	InputData       types.JSONMap    `gorm:"type:text"`
	OutputData      types.JSONMap    `gorm:"type:text"`
	ContextData     types.JSONMap    `gorm:"type:text"`
	ResultSummary   string           `gorm:"type:text"`
	ErrorMessage    string           `gorm:"type:text"`
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	IsDeleted       bool
}

func (TaskInstance) TableName() string { return "task_instance" }

// Agent is a configured LLM agent. Model access settings live on the row so
// one provider implementation serves every agent.
type Agent struct {
	ID            string                  `gorm:"column:agent_id;primaryKey;size:36"`
	Name          string                  `gorm:"size:255"`
	Description   string                  `gorm:"type:text"`
	Model         string                  `gorm:"size:128"`
	BaseURL       string                  `gorm:"size:512"`
	APIKey        string                  `gorm:"size:512"`
	Temperature   float32                 `gorm:"default:0.7"`
	TopP          float32                 `gorm:"default:1.0"`
	MaxTokens     int                     `gorm:"default:0"`
	SystemPrompt  string                  `gorm:"type:text"`
	ToolSelection types.ToolSelectionMode `gorm:"size:16;default:auto"`
	AllowedTools  types.StringList        `gorm:"type:text"`
	BlockedTools  types.StringList        `gorm:"type:text"`
	MaxToolCalls  int                     `gorm:"default:0"`
	ToolTimeoutS  int                     `gorm:"column:tool_timeout_seconds;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	IsDeleted     bool
}

func (Agent) TableName() string { return "agent" }

// MCPTool is one tool registered from an MCP server. Server metadata is
// denormalized onto each tool row, keyed by ServerName per registering user.
type MCPTool struct {
	ID              string             `gorm:"column:tool_id;primaryKey;size:36"`
	UserID          string             `gorm:"size:36;index"`
	ServerName      string             `gorm:"size:255;index"`
	ServerURL       string             `gorm:"size:512"`
	AuthToken       string             `gorm:"size:512"`
	ToolName        string             `gorm:"size:255;index"`
	Description     string             `gorm:"type:text"`
	InputSchema     types.JSONMap      `gorm:"type:text"`
	ServerStatus    types.ServerStatus `gorm:"size:16;default:healthy"`
	IsActive        bool               `gorm:"default:true"`
	LastHealthCheck *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	IsDeleted       bool
}

func (MCPTool) TableName() string { return "mcp_tool_registry" }

// AgentToolBinding links an agent to a registered tool with per-binding
// overrides.
type AgentToolBinding struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	AgentID   string `gorm:"size:36;index"`
	ToolID    string `gorm:"size:36;index"`
	Enabled   bool   `gorm:"default:true"`
	Priority  int    `gorm:"default:0"`
	MaxCalls  int    `gorm:"default:0"`
	TimeoutS  int    `gorm:"column:timeout_seconds;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
	IsDeleted bool
}

func (AgentToolBinding) TableName() string { return "agent_tool_bindings" }

// AllModels lists every model for AutoMigrate.
func AllModels() []any {
	return []any{
		&Workflow{},
		&Node{},
		&NodeConnection{},
		&WorkflowInstance{},
		&NodeInstance{},
		&TaskInstance{},
		&Agent{},
		&MCPTool{},
		&AgentToolBinding{},
	}
}
