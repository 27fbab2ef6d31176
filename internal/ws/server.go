package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gkipass/telemetry/internal/stats"
	"gkipass/telemetry/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 节点客户端不带 Origin，浏览器一律拒绝
		return r.Header.Get("Origin") == ""
	},
}

// Server WebSocket 服务器
type Server struct {
	manager *Manager
	handler *Handler
}

// NewServer 创建 WebSocket 服务器
func NewServer(aggregator *stats.Aggregator, token string) *Server {
	manager := NewManager()
	handler := NewHandler(manager, aggregator, token)

	return &Server{
		manager: manager,
		handler: handler,
	}
}

// Start 启动服务器
func (s *Server) Start() {
	go s.manager.Run()
	logger.Info("✓ WebSocket 服务器已启动")
}

// HandleWebSocket WebSocket 升级入口
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("WebSocket 升级失败", zap.Error(err))
		return
	}

	s.handler.HandleConnection(conn)
}

// GetStats 在线节点统计
func (s *Server) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"online_nodes": s.manager.NodeCount(),
		"node_ids":     s.manager.NodeIDs(),
	}
}
