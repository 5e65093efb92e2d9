package handlers

import (
	"net/http"

	"github.com/BaSui01/flowforge/agentsvc"
	"github.com/BaSui01/flowforge/monitor"
	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 系统状态 Handler
// =============================================================================

// SystemHandler 系统状态与告警查询
type SystemHandler struct {
	service *agentsvc.Service
	monitor *monitor.Monitor
	store   *store.Store
	logger  *zap.Logger
}

// NewSystemHandler 创建系统状态处理器
func NewSystemHandler(svc *agentsvc.Service, mon *monitor.Monitor, st *store.Store, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{service: svc, monitor: mon, store: st, logger: logger}
}

// SystemStatus 系统状态快照
type SystemStatus struct {
	Agent        agentsvc.Stats                 `json:"agent"`
	Workflows    map[types.WorkflowStatus]int64 `json:"workflows"`
	ActiveAlerts int                            `json:"active_alerts"`
}

// HandleStatus 返回系统状态快照
// @Summary System status
// @Tags system
// @Produce json
// @Success 200 {object} Response{data=SystemStatus}
// @Router /api/v1/system/status [get]
func (h *SystemHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountWorkflowInstancesByStatus(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, SystemStatus{
		Agent:        h.service.Stats(),
		Workflows:    counts,
		ActiveAlerts: len(h.monitor.Alerts()),
	})
}

// HandleAlerts 返回最近的告警（最新在前）
// @Summary Recent alerts
// @Tags system
// @Produce json
// @Success 200 {object} Response{data=[]monitor.Alert}
// @Router /api/v1/system/alerts [get]
func (h *SystemHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.monitor.Alerts())
}
