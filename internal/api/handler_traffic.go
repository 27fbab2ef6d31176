package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gkipass/telemetry/internal/api/response"
	"gkipass/telemetry/internal/metrics"
	"gkipass/telemetry/pkg/logger"
)

// TrafficHandler 节点流量上报（HTTP 接入，WebSocket 之外的备用通道）
type TrafficHandler struct {
	app *App
}

// NewTrafficHandler 创建流量上报处理器
func NewTrafficHandler(app *App) *TrafficHandler {
	return &TrafficHandler{app: app}
}

// ReportEntry 单个用户的流量条目，client_ips 为原始地址，入账时立即匿名化
type ReportEntry struct {
	UserID    string   `json:"user_id"`
	Bytes     int64    `json:"bytes"`
	ClientIPs []string `json:"client_ips"`
}

// ReportRequest 节点流量上报请求
type ReportRequest struct {
	NodeID  string        `json:"node_id" binding:"required"`
	Entries []ReportEntry `json:"entries"`
}

// Report 接收节点流量上报并入账到当前窗口
func (h *TrafficHandler) Report(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.GinBadRequest(c, "invalid request body", err)
		return
	}

	var accepted int
	var totalBytes int64
	for _, entry := range req.Entries {
		if entry.UserID == "" {
			logger.Warn("忽略缺少用户标识的流量条目", zap.String("node_id", req.NodeID))
			continue
		}
		h.app.Aggregator.RecordBytesTransferred(entry.UserID, entry.Bytes, entry.ClientIPs)
		totalBytes += entry.Bytes
		accepted++
	}

	metrics.TrafficBytes.WithLabelValues(req.NodeID).Add(float64(totalBytes))
	logger.Debug("已接收节点流量上报",
		zap.String("node_id", req.NodeID),
		zap.Int("accepted", accepted),
		zap.Int64("total_bytes", totalBytes))

	response.GinSuccess(c, gin.H{
		"accepted": accepted,
	})
}
