package gateway_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowforge/gateway"
	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/testutil"
	"github.com/BaSui01/flowforge/testutil/mocks"
	"github.com/BaSui01/flowforge/types"
)

type fixture struct {
	st     *store.Store
	gw     *gateway.Gateway
	engine *mocks.MockEngineNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := testutil.NewTestStore(t)
	engine := mocks.NewMockEngineNotifier()
	return &fixture{st: st, gw: gateway.New(st, engine, nil), engine: engine}
}

func (f *fixture) seedTask(t *testing.T, status types.TaskStatus, userID string) *store.TaskInstance {
	t.Helper()
	task := store.TaskInstance{
		ID:             uuid.NewString(),
		NodeInstanceID: uuid.NewString(),
		InstanceID:     uuid.NewString(),
		Title:          "review draft",
		TaskType:       types.TaskTypeHuman,
		Status:         status,
		AssignedUserID: userID,
	}
	require.NoError(t, f.st.CreateTaskInstances(testutil.TestContext(t), []store.TaskInstance{task}))
	return &task
}

func (f *fixture) taskStatus(t *testing.T, id string) types.TaskStatus {
	t.Helper()
	task, err := f.st.GetTaskInstance(testutil.TestContext(t), id)
	require.NoError(t, err)
	return task.Status
}

func TestListMyTasks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	f.seedTask(t, types.TaskAssigned, "alice")
	f.seedTask(t, types.TaskCompleted, "alice")
	f.seedTask(t, types.TaskAssigned, "bob")

	tasks, total, err := f.gw.ListMyTasks(ctx, "alice", store.UserTaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, tasks, 2)

	_, _, err = f.gw.ListMyTasks(ctx, "", store.UserTaskFilter{})
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	task := f.seedTask(t, types.TaskAssigned, "alice")
	require.NoError(t, f.gw.Start(ctx, task.ID, "alice"))
	assert.Equal(t, types.TaskInProgress, f.taskStatus(t, task.ID))

	// starting an in_progress task conflicts
	err := f.gw.Start(ctx, task.ID, "alice")
	assert.True(t, types.IsCode(err, types.ErrConflict))
}

func TestPermissionChecks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	task := f.seedTask(t, types.TaskAssigned, "alice")

	err := f.gw.Start(ctx, task.ID, "mallory")
	assert.True(t, types.IsCode(err, types.ErrPermission))

	err = f.gw.Start(ctx, task.ID, "")
	assert.True(t, types.IsCode(err, types.ErrValidation))

	err = f.gw.Start(ctx, "missing", "alice")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestStart_AgentTaskRefused(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	task := store.TaskInstance{
		ID:             uuid.NewString(),
		InstanceID:     uuid.NewString(),
		TaskType:       types.TaskTypeAgent,
		Status:         types.TaskPending,
		AssignedUserID: "alice",
	}
	require.NoError(t, f.st.CreateTaskInstances(ctx, []store.TaskInstance{task}))

	err := f.gw.Start(ctx, task.ID, "alice")
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	task := f.seedTask(t, types.TaskInProgress, "alice")
	req := gateway.SubmitRequest{Result: types.JSONMap{"verdict": "ok"}, Summary: "looks good"}
	require.NoError(t, f.gw.Submit(ctx, task.ID, "alice", req))

	got, err := f.st.GetTaskInstance(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
	assert.Equal(t, "ok", got.OutputData.GetString("verdict"))
	assert.Equal(t, "looks good", got.ResultSummary)

	// engine notified synchronously
	assert.Equal(t, []string{task.ID}, f.engine.Completed())
}

func TestSubmit_RequiresInProgress(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	task := f.seedTask(t, types.TaskAssigned, "alice")
	err := f.gw.Submit(ctx, task.ID, "alice", gateway.SubmitRequest{Result: types.JSONMap{"a": "b"}})
	assert.True(t, types.IsCode(err, types.ErrValidation))
	assert.Empty(t, f.engine.Completed())
}

func TestSubmit_RequiresResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	task := f.seedTask(t, types.TaskInProgress, "alice")
	err := f.gw.Submit(ctx, task.ID, "alice", gateway.SubmitRequest{})
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestPause(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	task := f.seedTask(t, types.TaskInProgress, "alice")
	require.NoError(t, f.gw.Pause(ctx, task.ID, "alice", "waiting on data"))

	got, err := f.st.GetTaskInstance(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskAssigned, got.Status)
	assert.Equal(t, "waiting on data", got.ContextData.GetString("pause_reason"))

	// pausing an assigned task is not legal
	err = f.gw.Pause(ctx, task.ID, "alice", "")
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestReject(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	task := f.seedTask(t, types.TaskInProgress, "alice")

	err := f.gw.Reject(ctx, task.ID, "alice", "")
	assert.True(t, types.IsCode(err, types.ErrValidation), "reason required")

	require.NoError(t, f.gw.Reject(ctx, task.ID, "alice", "wrong scope"))
	assert.Equal(t, types.TaskRejected, f.taskStatus(t, task.ID))

	reason, ok := f.engine.FailedReason(task.ID)
	require.True(t, ok)
	assert.Equal(t, "rejected: wrong scope", reason)
}

func TestHelp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	task := f.seedTask(t, types.TaskInProgress, "alice")

	err := f.gw.Help(ctx, task.ID, "alice", "")
	assert.True(t, types.IsCode(err, types.ErrValidation))

	require.NoError(t, f.gw.Help(ctx, task.ID, "alice", "what format?"))
	require.NoError(t, f.gw.Help(ctx, task.ID, "alice", "any template?"))

	// help never changes the task state
	got, err := f.st.GetTaskInstance(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, got.Status)

	requests, ok := got.ContextData["help_requests"].([]any)
	require.True(t, ok)
	assert.Len(t, requests, 2)
	first := requests[0].(map[string]any)
	assert.Equal(t, "what format?", first["message"])
	assert.Equal(t, "alice", first["user_id"])
}

func TestCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := testutil.TestContext(t)

	task := f.seedTask(t, types.TaskAssigned, "alice")
	require.NoError(t, f.gw.Cancel(ctx, task.ID, "alice", "no longer needed"))
	assert.Equal(t, types.TaskCancelled, f.taskStatus(t, task.ID))

	reason, ok := f.engine.FailedReason(task.ID)
	require.True(t, ok)
	assert.Equal(t, "cancelled by assignee", reason)

	// cancelling a terminal task conflicts
	err := f.gw.Cancel(ctx, task.ID, "alice", "again")
	assert.True(t, types.IsCode(err, types.ErrConflict))
}
