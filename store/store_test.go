package store_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/testutil"
	"github.com/BaSui01/flowforge/testutil/fixtures"
	"github.com/BaSui01/flowforge/types"
)

func seedInstance(t *testing.T, st *store.Store, status types.WorkflowStatus) *store.WorkflowInstance {
	t.Helper()
	inst := &store.WorkflowInstance{
		ID:         uuid.NewString(),
		WorkflowID: uuid.NewString(),
		Name:       "test run",
		Status:     status,
		ExecutorID: "user-1",
		InputData:  types.JSONMap{"topic": "q3 report"},
	}
	require.NoError(t, st.CreateWorkflowInstance(testutil.TestContext(t), inst))
	return inst
}

func seedTask(t *testing.T, st *store.Store, instanceID string, taskType types.TaskType, status types.TaskStatus, userID string) *store.TaskInstance {
	t.Helper()
	task := store.TaskInstance{
		ID:             uuid.NewString(),
		NodeInstanceID: uuid.NewString(),
		InstanceID:     instanceID,
		Title:          "review",
		TaskType:       taskType,
		Status:         status,
		AssignedUserID: userID,
	}
	require.NoError(t, st.CreateTaskInstances(testutil.TestContext(t), []store.TaskInstance{task}))
	return &task
}

func TestWorkflowDefinitionQueries(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	g := fixtures.SequentialGraph(fixtures.HumanSpec("review", "user-1"))
	g.Seed(t, st)

	wf, err := st.GetWorkflow(ctx, g.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, g.Workflow.Name, wf.Name)

	cur, err := st.GetCurrentWorkflow(ctx, g.Workflow.BaseID)
	require.NoError(t, err)
	assert.Equal(t, g.Workflow.ID, cur.ID)

	nodes, err := st.ListNodes(ctx, g.Workflow.ID)
	require.NoError(t, err)
	assert.Len(t, nodes, 3)

	conns, err := st.ListConnections(ctx, g.Workflow.ID)
	require.NoError(t, err)
	assert.Len(t, conns, 2)

	_, err = st.GetWorkflow(ctx, "missing")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestSoftDeleteExcluded(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	inst := seedInstance(t, st, types.WorkflowRunning)
	require.NoError(t, st.DB().Model(&store.WorkflowInstance{}).
		Where("instance_id = ?", inst.ID).
		Update("is_deleted", true).Error)

	_, err := st.GetWorkflowInstance(ctx, inst.ID)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestTransitionWorkflowInstance_Guarded(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	inst := seedInstance(t, st, types.WorkflowRunning)

	ok, err := st.TransitionWorkflowInstance(ctx, inst.ID,
		[]types.WorkflowStatus{types.WorkflowRunning}, types.WorkflowPaused, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// second writer loses the guard
	ok, err = st.TransitionWorkflowInstance(ctx, inst.ID,
		[]types.WorkflowStatus{types.WorkflowRunning}, types.WorkflowCancelled, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := st.GetWorkflowInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowPaused, got.Status)
}

func TestNodeInstanceRetryReset(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	inst := seedInstance(t, st, types.WorkflowRunning)
	now := time.Now()
	ni := store.NodeInstance{
		ID:           uuid.NewString(),
		InstanceID:   inst.ID,
		NodeID:       uuid.NewString(),
		NodeName:     "review",
		NodeType:     types.NodeTypeProcessor,
		Status:       types.NodeFailed,
		ErrorMessage: "provider timeout",
		StartedAt:    &now,
	}
	require.NoError(t, st.CreateNodeInstances(ctx, []store.NodeInstance{ni}))

	ok, err := st.ResetNodeInstanceForRetry(ctx, ni.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetNodeInstance(ctx, ni.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodePending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.ErrorMessage)
	assert.Nil(t, got.StartedAt)

	// reset only applies to failed nodes
	ok, err = st.ResetNodeInstanceForRetry(ctx, ni.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBulkCancelPendingNodeInstances(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	inst := seedInstance(t, st, types.WorkflowRunning)
	nis := []store.NodeInstance{
		{ID: uuid.NewString(), InstanceID: inst.ID, Status: types.NodePending},
		{ID: uuid.NewString(), InstanceID: inst.ID, Status: types.NodePending},
		{ID: uuid.NewString(), InstanceID: inst.ID, Status: types.NodeCompleted},
	}
	require.NoError(t, st.CreateNodeInstances(ctx, nis))

	n, err := st.BulkCancelPendingNodeInstances(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := st.GetNodeInstance(ctx, nis[2].ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeCompleted, got.Status)
}

func TestSaveTaskResult_NoOpOnCancelled(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	inst := seedInstance(t, st, types.WorkflowRunning)
	task := seedTask(t, st, inst.ID, types.TaskTypeAgent, types.TaskCancelled, "")

	ok, err := st.SaveTaskResult(ctx, task.ID, types.JSONMap{"answer": "42"}, "done")
	require.NoError(t, err)
	assert.False(t, ok, "completed write to a cancelled task must be a no-op")

	got, err := st.GetTaskInstance(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, got.Status)
	assert.Nil(t, got.OutputData)
}

func TestSaveTaskResult_FromInProgress(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	inst := seedInstance(t, st, types.WorkflowRunning)
	task := seedTask(t, st, inst.ID, types.TaskTypeHuman, types.TaskInProgress, "user-1")

	ok, err := st.SaveTaskResult(ctx, task.ID, types.JSONMap{"answer": "42"}, "done")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetTaskInstance(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
	assert.Equal(t, "42", got.OutputData.GetString("answer"))
	assert.Equal(t, "done", got.ResultSummary)
	assert.NotNil(t, got.CompletedAt)
}

func TestListUserTasks_FilterAndCount(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	inst := seedInstance(t, st, types.WorkflowRunning)
	seedTask(t, st, inst.ID, types.TaskTypeHuman, types.TaskAssigned, "alice")
	seedTask(t, st, inst.ID, types.TaskTypeHuman, types.TaskCompleted, "alice")
	seedTask(t, st, inst.ID, types.TaskTypeHuman, types.TaskAssigned, "bob")
	// agent tasks never show up in the human listing
	seedTask(t, st, inst.ID, types.TaskTypeAgent, types.TaskPending, "alice")

	tasks, total, err := st.ListUserTasks(ctx, "alice", store.UserTaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, tasks, 2)

	tasks, total, err = st.ListUserTasks(ctx, "alice", store.UserTaskFilter{Status: types.TaskAssigned})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, tasks, 1)
	assert.Equal(t, types.TaskAssigned, tasks[0].Status)
}

func TestListPendingAgentTasks_OldestFirst(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	inst := seedInstance(t, st, types.WorkflowRunning)
	old := store.TaskInstance{
		ID: uuid.NewString(), InstanceID: inst.ID,
		TaskType: types.TaskTypeAgent, Status: types.TaskPending,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	recent := store.TaskInstance{
		ID: uuid.NewString(), InstanceID: inst.ID,
		TaskType: types.TaskTypeAgent, Status: types.TaskPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateTaskInstances(ctx, []store.TaskInstance{recent, old}))

	tasks, err := st.ListPendingAgentTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, old.ID, tasks[0].ID)
}

func TestUpdateTaskContext_Merges(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	inst := seedInstance(t, st, types.WorkflowRunning)
	task := seedTask(t, st, inst.ID, types.TaskTypeHuman, types.TaskInProgress, "user-1")

	require.NoError(t, st.UpdateTaskContext(ctx, task.ID, types.JSONMap{"help_message": "stuck on step 2"}))
	require.NoError(t, st.UpdateTaskContext(ctx, task.ID, types.JSONMap{"pause_reason": "lunch"}))

	got, err := st.GetTaskInstance(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "stuck on step 2", got.ContextData.GetString("help_message"))
	assert.Equal(t, "lunch", got.ContextData.GetString("pause_reason"))
}

func TestBulkCancelOpenTasks(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	inst := seedInstance(t, st, types.WorkflowRunning)
	seedTask(t, st, inst.ID, types.TaskTypeHuman, types.TaskAssigned, "alice")
	seedTask(t, st, inst.ID, types.TaskTypeAgent, types.TaskPending, "")
	seedTask(t, st, inst.ID, types.TaskTypeHuman, types.TaskHelpRequested, "alice")
	done := seedTask(t, st, inst.ID, types.TaskTypeHuman, types.TaskCompleted, "alice")

	n, err := st.BulkCancelOpenTasks(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := st.GetTaskInstance(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	seedInstance(t, st, types.WorkflowRunning)
	seedInstance(t, st, types.WorkflowRunning)
	inst := seedInstance(t, st, types.WorkflowCompleted)

	counts, err := st.CountWorkflowInstancesByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[types.WorkflowRunning])
	assert.Equal(t, int64(1), counts[types.WorkflowCompleted])

	seedTask(t, st, inst.ID, types.TaskTypeAgent, types.TaskPending, "")
	seedTask(t, st, inst.ID, types.TaskTypeAgent, types.TaskFailed, "")
	seedTask(t, st, inst.ID, types.TaskTypeHuman, types.TaskPending, "u")

	agentCounts, err := st.CountTasksByStatus(ctx, types.TaskTypeAgent)
	require.NoError(t, err)
	assert.Equal(t, int64(1), agentCounts[types.TaskPending])
	assert.Equal(t, int64(1), agentCounts[types.TaskFailed])
}

func TestListStalled(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	inst := seedInstance(t, st, types.WorkflowRunning)
	stale := store.TaskInstance{
		ID: uuid.NewString(), InstanceID: inst.ID,
		TaskType: types.TaskTypeHuman, Status: types.TaskInProgress,
		UpdatedAt: time.Now().Add(-2 * time.Hour),
	}
	fresh := store.TaskInstance{
		ID: uuid.NewString(), InstanceID: inst.ID,
		TaskType: types.TaskTypeHuman, Status: types.TaskInProgress,
	}
	require.NoError(t, st.CreateTaskInstances(ctx, []store.TaskInstance{stale, fresh}))
	// CreateTaskInstances stamps updated_at, so age the stale row explicitly
	require.NoError(t, st.DB().Model(&store.TaskInstance{}).
		Where("task_instance_id = ?", stale.ID).
		Update("updated_at", time.Now().Add(-2*time.Hour)).Error)

	tasks, err := st.ListStalledTasks(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, stale.ID, tasks[0].ID)

	started := time.Now().Add(-3 * time.Hour)
	ni := store.NodeInstance{
		ID: uuid.NewString(), InstanceID: inst.ID,
		Status: types.NodeRunning, StartedAt: &started,
	}
	require.NoError(t, st.CreateNodeInstances(ctx, []store.NodeInstance{ni}))

	nis, err := st.ListStalledNodeInstances(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, nis, 1)
	assert.Equal(t, ni.ID, nis[0].ID)
}

func TestAgentToolQueries(t *testing.T) {
	t.Parallel()
	st := testutil.NewTestStore(t)
	ctx := testutil.TestContext(t)

	agent := fixtures.SeedAgent(t, st, fixtures.NewAgent("researcher"))
	search := fixtures.SeedMCPTool(t, st, fixtures.NewMCPTool("web", "http://mcp-web:8080", "search"))
	fetch := fixtures.SeedMCPTool(t, st, fixtures.NewMCPTool("web", "http://mcp-web:8080", "fetch"))
	fixtures.BindTool(t, st, agent.ID, search.ID, 10)
	fixtures.BindTool(t, st, agent.ID, fetch.ID, 5)

	got, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "researcher", got.Name)

	tools, err := st.ListAgentTools(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "search", tools[0].Tool.ToolName, "highest priority first")

	server, err := st.GetServerByName(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "http://mcp-web:8080", server.ServerURL)

	servers, err := st.ListServers(ctx)
	require.NoError(t, err)
	assert.Len(t, servers, 1, "server rows are deduplicated by name")

	checked := time.Now()
	require.NoError(t, st.UpdateServerStatus(ctx, "web", types.ServerUnhealthy, checked))
	server, err = st.GetServerByName(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, types.ServerUnhealthy, server.ServerStatus)
	assert.NotNil(t, server.LastHealthCheck)
}
