package handlers

import (
	"net/http"

	"github.com/BaSui01/flowforge/engine"
	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🔄 工作流执行 Handler
// =============================================================================

// WorkflowHandler 工作流实例的执行与控制
type WorkflowHandler struct {
	engine *engine.Engine
	store  *store.Store
	logger *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(eng *engine.Engine, st *store.Store, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{engine: eng, store: st, logger: logger}
}

// ExecuteResponse 启动执行的响应
type ExecuteResponse struct {
	InstanceID string `json:"instance_id"`
}

// ControlRequest 实例控制请求
type ControlRequest struct {
	Action string `json:"action"` // pause, resume, cancel
}

// ControlResponse 实例控制结果。Applied 为 false 表示当前状态下
// 该操作不合法（非错误，由调用方决定如何提示）。
type ControlResponse struct {
	Applied bool   `json:"applied"`
	Message string `json:"message,omitempty"`
}

// InstanceDetail 实例详情（含节点实例状态）
type InstanceDetail struct {
	Instance *store.WorkflowInstance `json:"instance"`
	Nodes    []store.NodeInstance    `json:"nodes"`
}

// HandleExecute 启动一次工作流执行
// @Summary Execute workflow
// @Tags workflow
// @Accept json
// @Produce json
// @Param request body engine.ExecuteRequest true "Execution request"
// @Success 200 {object} Response{data=ExecuteResponse}
// @Router /api/v1/workflows/execute [post]
func (h *WorkflowHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req engine.ExecuteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	instanceID, err := h.engine.ExecuteWorkflow(r.Context(), req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, ExecuteResponse{InstanceID: instanceID})
}

// HandleControl 控制一个工作流实例（pause/resume/cancel）
// @Summary Control workflow instance
// @Tags workflow
// @Accept json
// @Produce json
// @Param id path string true "Instance ID"
// @Param request body ControlRequest true "Control action"
// @Success 200 {object} Response{data=ControlResponse}
// @Router /api/v1/workflows/{id}/control [post]
func (h *WorkflowHandler) HandleControl(w http.ResponseWriter, r *http.Request) {
	instanceID := r.PathValue("id")
	if instanceID == "" {
		WriteErrorMessage(w, types.ErrValidation, "instance id is required", h.logger)
		return
	}

	var req ControlRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	switch req.Action {
	case "pause":
		ok, err := h.engine.Pause(r.Context(), instanceID)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		resp := ControlResponse{Applied: ok}
		if !ok {
			resp.Message = "instance cannot be paused in its current state"
		}
		WriteSuccess(w, resp)
	case "resume":
		ok, err := h.engine.Resume(r.Context(), instanceID)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		resp := ControlResponse{Applied: ok}
		if !ok {
			resp.Message = "instance cannot be resumed in its current state"
		}
		WriteSuccess(w, resp)
	case "cancel":
		if err := h.engine.Cancel(r.Context(), instanceID); err != nil {
			WriteError(w, err, h.logger)
			return
		}
		WriteSuccess(w, ControlResponse{Applied: true})
	default:
		WriteErrorMessage(w, types.ErrValidation, "action must be one of pause, resume, cancel", h.logger)
	}
}

// HandleGetInstance 查询实例详情与节点状态
// @Summary Get workflow instance
// @Tags workflow
// @Produce json
// @Param id path string true "Instance ID"
// @Success 200 {object} Response{data=InstanceDetail}
// @Router /api/v1/workflows/{id} [get]
func (h *WorkflowHandler) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := r.PathValue("id")
	if instanceID == "" {
		WriteErrorMessage(w, types.ErrValidation, "instance id is required", h.logger)
		return
	}

	inst, err := h.store.GetWorkflowInstance(r.Context(), instanceID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	nodes, err := h.store.ListNodeInstances(r.Context(), instanceID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, InstanceDetail{Instance: inst, Nodes: nodes})
}
