package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"gkipass/telemetry/internal/api/response"
)

// SystemHandler 系统状态查询
type SystemHandler struct {
	app *App
}

// NewSystemHandler 创建系统处理器
func NewSystemHandler(app *App) *SystemHandler {
	return &SystemHandler{app: app}
}

// GetStatus 查询系统资源占用和进程信息
func (h *SystemHandler) GetStatus(c *gin.Context) {
	snap := h.app.Monitor.Collect(c.Request.Context())

	response.GinSuccess(c, gin.H{
		"system":         snap,
		"server_id":      h.app.Config.Report.ServerID,
		"uptime_seconds": int64(time.Since(h.app.StartTime).Seconds()),
	})
}
