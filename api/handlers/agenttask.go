package handlers

import (
	"net/http"
	"strconv"

	"github.com/BaSui01/flowforge/agentsvc"
	"github.com/BaSui01/flowforge/store"
	"go.uber.org/zap"
)

// =============================================================================
// 🤖 Agent 任务运维 Handler
// =============================================================================

// AgentTaskHandler 运维侧的 agent 任务操作：查看积压、手动入队、
// 重试失败任务、取消任务。
type AgentTaskHandler struct {
	service *agentsvc.Service
	store   *store.Store
	logger  *zap.Logger
}

// NewAgentTaskHandler 创建 agent 任务处理器
func NewAgentTaskHandler(svc *agentsvc.Service, st *store.Store, logger *zap.Logger) *AgentTaskHandler {
	return &AgentTaskHandler{service: svc, store: st, logger: logger}
}

// HandleListPending 列出待处理的 agent 任务（最早优先）
// @Summary List pending agent tasks
// @Tags agent-task
// @Produce json
// @Param limit query int false "Max rows"
// @Success 200 {object} Response{data=[]store.TaskInstance}
// @Router /api/v1/agent-tasks/pending [get]
func (h *AgentTaskHandler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	tasks, err := h.store.ListPendingAgentTasks(r.Context(), limit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, tasks)
}

// HandleProcess 手动将一个 pending 任务推入处理队列
// @Summary Enqueue agent task
// @Tags agent-task
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response
// @Router /api/v1/agent-tasks/{id}/process [post]
func (h *AgentTaskHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Enqueue(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleRetry 重新排队一个失败的 agent 任务
// @Summary Retry failed agent task
// @Tags agent-task
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response
// @Router /api/v1/agent-tasks/{id}/retry [post]
func (h *AgentTaskHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RetryFailedTask(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleCancel 取消一个 agent 任务
// @Summary Cancel agent task
// @Tags agent-task
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response
// @Router /api/v1/agent-tasks/{id}/cancel [post]
func (h *AgentTaskHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CancelTask(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}
