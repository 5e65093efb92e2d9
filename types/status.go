package types

// WorkflowStatus is the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCancelled WorkflowStatus = "cancelled"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCompleted WorkflowStatus = "completed"
)

// Terminal reports whether the instance can never change state again.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCancelled, WorkflowFailed, WorkflowCompleted:
		return true
	}
	return false
}

// NodeStatus is the lifecycle state of a node instance.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeCancelled NodeStatus = "cancelled"
)

// Terminal reports whether the node instance reached a final state.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeCancelled:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a task instance.
type TaskStatus string

const (
	TaskPending       TaskStatus = "pending"
	TaskAssigned      TaskStatus = "assigned"
	TaskInProgress    TaskStatus = "in_progress"
	TaskCompleted     TaskStatus = "completed"
	TaskFailed        TaskStatus = "failed"
	TaskCancelled     TaskStatus = "cancelled"
	TaskHelpRequested TaskStatus = "help_requested"
	TaskRejected      TaskStatus = "rejected"
)

// Terminal reports whether the task reached a final state. Rejected counts as
// terminal: the node roll-up treats it like a failure.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskRejected:
		return true
	}
	return false
}

// TaskType distinguishes who executes a task.
type TaskType string

const (
	TaskTypeHuman TaskType = "human"
	TaskTypeAgent TaskType = "agent"
)

// NodeType classifies workflow definition nodes.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeProcessor NodeType = "processor"
	NodeTypeEnd       NodeType = "end"
)

// ConnectionType classifies edges between nodes.
type ConnectionType string

const (
	ConnectionNormal      ConnectionType = "normal"
	ConnectionConditional ConnectionType = "conditional"
)

// ProcessorType distinguishes what kind of processor a node is bound to.
type ProcessorType string

const (
	ProcessorHuman ProcessorType = "human"
	ProcessorAgent ProcessorType = "agent"
)

// ToolSelectionMode controls how an agent picks MCP tools.
type ToolSelectionMode string

const (
	ToolSelectionAuto     ToolSelectionMode = "auto"
	ToolSelectionManual   ToolSelectionMode = "manual"
	ToolSelectionDisabled ToolSelectionMode = "disabled"
)

// ServerStatus is the health state of a registered MCP server.
type ServerStatus string

const (
	ServerHealthy   ServerStatus = "healthy"
	ServerUnhealthy ServerStatus = "unhealthy"
)
