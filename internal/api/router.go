package api

import (
	"gkipass/telemetry/internal/api/middleware"
	"gkipass/telemetry/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 设置路由
func SetupRouter(app *App, wsServer *ws.Server) *gin.Engine {
	// 设置Gin模式
	if app.Config.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "ok",
			"server_id": app.Config.Report.ServerID,
		})
	})

	// Prometheus 监控指标
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket 端点（节点连接）
	router.GET("/ws/node", wsServer.HandleWebSocket)

	// WebSocket 状态
	router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(200, wsServer.GetStats())
	})

	// API v1（管理接口，需要 API 密钥）
	v1 := router.Group("/api/v1")
	v1.Use(middleware.APIKeyAuth(app.Config.Ingest.Token))
	{
		// 匿名统计共享
		metricsHandler := NewMetricsHandler(app)
		v1.GET("/metrics/share", metricsHandler.GetShareStatus)
		v1.PUT("/metrics/share", metricsHandler.SetShareStatus)
		v1.GET("/metrics/window", metricsHandler.GetWindow)

		// 节点流量上报（HTTP 通道）
		trafficHandler := NewTrafficHandler(app)
		v1.POST("/traffic/report", trafficHandler.Report)

		// 系统状态
		systemHandler := NewSystemHandler(app)
		v1.GET("/system/status", systemHandler.GetStatus)
	}

	return router
}
