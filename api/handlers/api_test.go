package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowforge/agentsvc"
	"github.com/BaSui01/flowforge/api/handlers"
	"github.com/BaSui01/flowforge/engine"
	"github.com/BaSui01/flowforge/gateway"
	"github.com/BaSui01/flowforge/llm"
	"github.com/BaSui01/flowforge/monitor"
	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/testutil"
	"github.com/BaSui01/flowforge/testutil/fixtures"
	"github.com/BaSui01/flowforge/testutil/mocks"
	"github.com/BaSui01/flowforge/types"
)

// apiEnv wires the real engine, gateway and agent service behind the
// production route patterns.
type apiEnv struct {
	st  *store.Store
	svc *agentsvc.Service
	mux *http.ServeMux
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	st := testutil.NewTestStore(t)
	eng := engine.New(st, nil, engine.Config{}, nil, nil)
	gw := gateway.New(st, eng, nil)
	provider := mocks.NewMockProvider()
	svc := agentsvc.New(st, eng, mocks.NewMockToolCaller(),
		func(*store.Agent) llm.Provider { return provider },
		agentsvc.Config{}, nil, nil)
	eng.SetAgentNotifier(svc)
	mon := monitor.New(st, monitor.Config{}, nil, nil)

	wf := handlers.NewWorkflowHandler(eng, st, nil)
	tk := handlers.NewTaskHandler(gw, nil)
	at := handlers.NewAgentTaskHandler(svc, st, nil)
	sys := handlers.NewSystemHandler(svc, mon, st, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workflows/execute", wf.HandleExecute)
	mux.HandleFunc("GET /api/v1/workflows/{id}", wf.HandleGetInstance)
	mux.HandleFunc("POST /api/v1/workflows/{id}/control", wf.HandleControl)
	mux.HandleFunc("GET /api/v1/tasks/my", tk.HandleListMyTasks)
	mux.HandleFunc("POST /api/v1/tasks/{id}/start", tk.HandleStart)
	mux.HandleFunc("POST /api/v1/tasks/{id}/submit", tk.HandleSubmit)
	mux.HandleFunc("POST /api/v1/tasks/{id}/pause", tk.HandlePause)
	mux.HandleFunc("POST /api/v1/tasks/{id}/reject", tk.HandleReject)
	mux.HandleFunc("POST /api/v1/tasks/{id}/help", tk.HandleHelp)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", tk.HandleCancel)
	mux.HandleFunc("GET /api/v1/agent-tasks/pending", at.HandleListPending)
	mux.HandleFunc("POST /api/v1/agent-tasks/{id}/process", at.HandleProcess)
	mux.HandleFunc("POST /api/v1/agent-tasks/{id}/retry", at.HandleRetry)
	mux.HandleFunc("POST /api/v1/agent-tasks/{id}/cancel", at.HandleCancel)
	mux.HandleFunc("GET /api/v1/system/status", sys.HandleStatus)
	mux.HandleFunc("GET /api/v1/system/alerts", sys.HandleAlerts)

	return &apiEnv{st: st, svc: svc, mux: mux}
}

func (e *apiEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func dataAs(t *testing.T, resp handlers.Response, dst any) {
	t.Helper()
	b, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, dst))
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	g := fixtures.SequentialGraph(fixtures.HumanSpec("review", "alice"))
	g.Seed(t, env.st)

	// start an execution
	rec := env.do(t, http.MethodPost, "/api/v1/workflows/execute", "alice", map[string]any{
		"workflow_base_id": g.Workflow.BaseID,
		"executor_id":      "alice",
		"input_data":       map[string]any{"topic": "q3 report"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var exec handlers.ExecuteResponse
	dataAs(t, decodeEnvelope(t, rec), &exec)
	require.NotEmpty(t, exec.InstanceID)

	// instance is running with one node instance per definition node
	rec = env.do(t, http.MethodGet, "/api/v1/workflows/"+exec.InstanceID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail handlers.InstanceDetail
	dataAs(t, decodeEnvelope(t, rec), &detail)
	assert.Equal(t, types.WorkflowRunning, detail.Instance.Status)
	assert.Len(t, detail.Nodes, 3)

	// the assignee sees exactly one open task
	rec = env.do(t, http.MethodGet, "/api/v1/tasks/my", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list handlers.TaskListResponse
	dataAs(t, decodeEnvelope(t, rec), &list)
	require.Equal(t, int64(1), list.Total)
	taskID := list.Tasks[0].ID

	// start then submit drives the workflow to completion
	rec = env.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/start", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/submit", "alice", gateway.SubmitRequest{
		Result:  types.JSONMap{"verdict": "approved"},
		Summary: "looks good",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/workflows/"+exec.InstanceID, "", nil)
	dataAs(t, decodeEnvelope(t, rec), &detail)
	assert.Equal(t, types.WorkflowCompleted, detail.Instance.Status)
}

func TestExecute_ValidationError(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/workflows/execute", "alice", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", decodeEnvelope(t, rec).Error.Code)
}

func TestControlInstance(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	g := fixtures.SequentialGraph(fixtures.HumanSpec("review", "alice"))
	g.Seed(t, env.st)
	rec := env.do(t, http.MethodPost, "/api/v1/workflows/execute", "alice", map[string]any{
		"workflow_base_id": g.Workflow.BaseID,
		"executor_id":      "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var exec handlers.ExecuteResponse
	dataAs(t, decodeEnvelope(t, rec), &exec)

	control := func(action string) handlers.ControlResponse {
		rec := env.do(t, http.MethodPost, "/api/v1/workflows/"+exec.InstanceID+"/control", "alice",
			handlers.ControlRequest{Action: action})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp handlers.ControlResponse
		dataAs(t, decodeEnvelope(t, rec), &resp)
		return resp
	}

	assert.True(t, control("pause").Applied)
	repeat := control("pause")
	assert.False(t, repeat.Applied, "second pause is not legal")
	assert.NotEmpty(t, repeat.Message)
	assert.True(t, control("resume").Applied)
	assert.True(t, control("cancel").Applied)

	// unknown action
	rec = env.do(t, http.MethodPost, "/api/v1/workflows/"+exec.InstanceID+"/control", "alice",
		handlers.ControlRequest{Action: "reboot"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// missing instance
	rec = env.do(t, http.MethodPost, "/api/v1/workflows/"+uuid.NewString()+"/control", "alice",
		handlers.ControlRequest{Action: "pause"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskEndpoints_RequireIdentity(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/tasks/my", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", decodeEnvelope(t, rec).Error.Code)
}

func TestAgentTaskEndpoints(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	ctx := testutil.TestContext(t)

	agent := fixtures.SeedAgent(t, env.st, fixtures.NewAgent("ops-worker"))
	task := store.TaskInstance{
		ID:              uuid.NewString(),
		InstanceID:      uuid.NewString(),
		Title:           "classify ticket",
		TaskType:        types.TaskTypeAgent,
		Status:          types.TaskPending,
		AssignedAgentID: agent.ID,
	}
	require.NoError(t, env.st.CreateTaskInstances(ctx, []store.TaskInstance{task}))

	rec := env.do(t, http.MethodGet, "/api/v1/agent-tasks/pending", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []store.TaskInstance
	dataAs(t, decodeEnvelope(t, rec), &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, task.ID, pending[0].ID)

	// manual enqueue
	rec = env.do(t, http.MethodPost, "/api/v1/agent-tasks/"+task.ID+"/process", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, env.svc.Stats().QueueDepth)

	// retry only applies to failed tasks
	rec = env.do(t, http.MethodPost, "/api/v1/agent-tasks/"+task.ID+"/retry", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/agent-tasks/"+task.ID+"/cancel", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/agent-tasks/"+task.ID+"/cancel", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "cancelling a terminal task conflicts")
}

func TestSystemEndpoints(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/system/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status handlers.SystemStatus
	dataAs(t, decodeEnvelope(t, rec), &status)
	assert.Equal(t, 5, status.Agent.Workers)
	assert.Zero(t, status.ActiveAlerts)

	rec = env.do(t, http.MethodGet, "/api/v1/system/alerts", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeEnvelope(t, rec).Success)
}
