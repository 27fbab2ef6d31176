package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gkipass/telemetry/internal/api/response"
	"gkipass/telemetry/internal/config"
	"gkipass/telemetry/pkg/logger"
)

// MetricsHandler 匿名统计共享开关与窗口查询
type MetricsHandler struct {
	app *App
}

// NewMetricsHandler 创建统计处理器
func NewMetricsHandler(app *App) *MetricsHandler {
	return &MetricsHandler{app: app}
}

// GetShareStatus 查询共享开关状态
func (h *MetricsHandler) GetShareStatus(c *gin.Context) {
	response.GinSuccess(c, gin.H{
		"metricsEnabled": h.app.Scheduler.Enabled(),
	})
}

// SetShareRequest 共享开关设置请求
type SetShareRequest struct {
	MetricsEnabled *bool `json:"metricsEnabled" binding:"required"`
}

// SetShareStatus 设置共享开关，配置落盘成功后才生效
func (h *MetricsHandler) SetShareStatus(c *gin.Context) {
	var req SetShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.GinBadRequest(c, "invalid request body", err)
		return
	}

	enabled := *req.MetricsEnabled
	previous := h.app.Config.Report.Enabled
	h.app.Config.Report.Enabled = enabled
	if err := config.SaveConfig(h.app.Config, h.app.ConfigPath); err != nil {
		h.app.Config.Report.Enabled = previous
		logger.Error("共享开关配置写入失败", zap.Error(err))
		response.InternalError(c, "failed to save config", err)
		return
	}

	h.app.Scheduler.SetEnabled(enabled)
	logger.Info("匿名统计共享开关已更新", zap.Bool("enabled", enabled))
	response.GinSuccess(c, gin.H{
		"metricsEnabled": enabled,
	})
}

// GetWindow 查询当前窗口汇总，只暴露字节数和网段数量，不返回地址明细
func (h *MetricsHandler) GetWindow(c *gin.Context) {
	snap := h.app.Aggregator.Snapshot()

	users := make(map[string]gin.H, len(snap.Users))
	for id, u := range snap.Users {
		users[id] = gin.H{
			"bytesTransferred": u.Bytes,
			"ipCount":          len(u.IPs),
		}
	}

	response.GinSuccess(c, gin.H{
		"windowStartMs": snap.Start.UnixMilli(),
		"userCount":     len(snap.Users),
		"users":         users,
	})
}
