package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := []WorkflowStatus{WorkflowCancelled, WorkflowFailed, WorkflowCompleted}
	open := []WorkflowStatus{WorkflowPending, WorkflowRunning, WorkflowPaused}

	for _, s := range terminal {
		assert.True(t, s.Terminal(), "status %s", s)
	}
	for _, s := range open {
		assert.False(t, s.Terminal(), "status %s", s)
	}
}

func TestNodeStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := []NodeStatus{NodeCompleted, NodeFailed, NodeCancelled}
	open := []NodeStatus{NodePending, NodeRunning}

	for _, s := range terminal {
		assert.True(t, s.Terminal(), "status %s", s)
	}
	for _, s := range open {
		assert.False(t, s.Terminal(), "status %s", s)
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := []TaskStatus{TaskCompleted, TaskFailed, TaskCancelled, TaskRejected}
	open := []TaskStatus{TaskPending, TaskAssigned, TaskInProgress, TaskHelpRequested}

	for _, s := range terminal {
		assert.True(t, s.Terminal(), "status %s", s)
	}
	for _, s := range open {
		assert.False(t, s.Terminal(), "status %s", s)
	}
}
