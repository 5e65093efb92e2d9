package handlers

import (
	"net/http"
	"strconv"

	"github.com/BaSui01/flowforge/gateway"
	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
	"go.uber.org/zap"
)

// =============================================================================
// 👤 人工任务 Handler
// =============================================================================

// TaskHandler 人工任务操作。调用者身份来自 X-User-ID 请求头，
// 归属校验在 gateway 层完成。
type TaskHandler struct {
	gateway *gateway.Gateway
	logger  *zap.Logger
}

// NewTaskHandler 创建人工任务处理器
func NewTaskHandler(gw *gateway.Gateway, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{gateway: gw, logger: logger}
}

// TaskListResponse 任务分页列表
type TaskListResponse struct {
	Tasks []store.TaskInstance `json:"tasks"`
	Total int64                `json:"total"`
}

// ReasonRequest 带原因的任务操作请求
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// HelpRequest 求助请求
type HelpRequest struct {
	Message string `json:"message"`
}

// HandleListMyTasks 列出当前用户的人工任务
// @Summary List my tasks
// @Tags task
// @Produce json
// @Param status query string false "Filter by status"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} Response{data=TaskListResponse}
// @Router /api/v1/tasks/my [get]
func (h *TaskHandler) HandleListMyTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUserID(w, r, h.logger)
	if !ok {
		return
	}

	filter := store.UserTaskFilter{
		Status: types.TaskStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	tasks, total, err := h.gateway.ListMyTasks(r.Context(), userID, filter)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, TaskListResponse{Tasks: tasks, Total: total})
}

// HandleStart 开始处理一个任务
// @Summary Start task
// @Tags task
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response
// @Router /api/v1/tasks/{id}/start [post]
func (h *TaskHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUserID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.gateway.Start(r.Context(), r.PathValue("id"), userID); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleSubmit 提交任务结果并同步推进工作流
// @Summary Submit task result
// @Tags task
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body gateway.SubmitRequest true "Task result"
// @Success 200 {object} Response
// @Router /api/v1/tasks/{id}/submit [post]
func (h *TaskHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUserID(w, r, h.logger)
	if !ok {
		return
	}
	var req gateway.SubmitRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.gateway.Submit(r.Context(), r.PathValue("id"), userID, req); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandlePause 暂停一个进行中的任务
// @Summary Pause task
// @Tags task
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response
// @Router /api/v1/tasks/{id}/pause [post]
func (h *TaskHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUserID(w, r, h.logger)
	if !ok {
		return
	}
	var req ReasonRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.gateway.Pause(r.Context(), r.PathValue("id"), userID, req.Reason); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleReject 拒绝一个进行中的任务（原因必填）
// @Summary Reject task
// @Tags task
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response
// @Router /api/v1/tasks/{id}/reject [post]
func (h *TaskHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUserID(w, r, h.logger)
	if !ok {
		return
	}
	var req ReasonRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.gateway.Reject(r.Context(), r.PathValue("id"), userID, req.Reason); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleHelp 对任务发起求助（不改变任务状态）
// @Summary Request help on task
// @Tags task
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response
// @Router /api/v1/tasks/{id}/help [post]
func (h *TaskHandler) HandleHelp(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUserID(w, r, h.logger)
	if !ok {
		return
	}
	var req HelpRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.gateway.Help(r.Context(), r.PathValue("id"), userID, req.Message); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleCancel 取消一个未终态的任务
// @Summary Cancel task
// @Tags task
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response
// @Router /api/v1/tasks/{id}/cancel [post]
func (h *TaskHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUserID(w, r, h.logger)
	if !ok {
		return
	}
	var req ReasonRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.gateway.Cancel(r.Context(), r.PathValue("id"), userID, req.Reason); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}
