package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gkipass/telemetry/internal/metrics"
	"gkipass/telemetry/internal/stats"
	"gkipass/telemetry/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 90 * time.Second
	pingPeriod = 30 * time.Second
)

// Handler WebSocket 消息处理器
type Handler struct {
	manager    *Manager
	aggregator *stats.Aggregator
	token      string
}

// NewHandler 创建处理器
func NewHandler(manager *Manager, aggregator *stats.Aggregator, token string) *Handler {
	return &Handler{
		manager:    manager,
		aggregator: aggregator,
		token:      token,
	}
}

// HandleConnection 处理新连接，首条消息必须是注册消息
func (h *Handler) HandleConnection(conn *websocket.Conn) {
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		logger.Error("读取注册消息失败", zap.Error(err))
		conn.Close()
		return
	}

	if msg.Type != MsgTypeNodeRegister {
		h.sendError(conn, "INVALID_FIRST_MESSAGE", "首条消息必须是注册消息")
		conn.Close()
		return
	}

	var req NodeRegisterRequest
	if err := msg.ParseData(&req); err != nil {
		h.sendError(conn, "INVALID_REQUEST", "无效的注册请求")
		conn.Close()
		return
	}

	if req.NodeID == "" {
		h.sendError(conn, "MISSING_NODE_ID", "节点ID不能为空")
		conn.Close()
		return
	}
	if h.token == "" || req.Token != h.token {
		logger.Warn("节点令牌验证失败", zap.String("node_id", req.NodeID))
		h.sendError(conn, "AUTH_FAILED", "接入令牌验证失败")
		conn.Close()
		return
	}

	nodeConn := &NodeConnection{
		NodeID:   req.NodeID,
		Conn:     conn,
		Send:     make(chan *Message, 256),
		lastSeen: time.Now(),
	}
	h.manager.register <- nodeConn

	h.sendRegisterAck(nodeConn)
	go h.readPump(nodeConn)
	go h.writePump(nodeConn)

	logger.Info("节点注册成功",
		zap.String("node_id", req.NodeID),
		zap.String("node_name", req.NodeName),
		zap.String("version", req.Version))
}

func (h *Handler) readPump(conn *NodeConnection) {
	defer func() {
		h.manager.unregister <- conn
		conn.Close()
	}()

	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.UpdateLastSeen()
		return nil
	})

	for {
		var msg Message
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket 读取错误",
					zap.String("node_id", conn.NodeID),
					zap.Error(err))
			}
			break
		}

		conn.UpdateLastSeen()
		h.handleMessage(conn, &msg)
	}
}

// writePump 发送消息并定期 Ping
func (h *Handler) writePump(conn *NodeConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.Conn.WriteJSON(msg); err != nil {
				logger.Error("WebSocket 写入错误",
					zap.String("node_id", conn.NodeID),
					zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理消息
func (h *Handler) handleMessage(conn *NodeConnection, msg *Message) {
	logger.Debug("收到消息",
		zap.String("node_id", conn.NodeID),
		zap.String("type", string(msg.Type)))

	switch msg.Type {
	case MsgTypeHeartbeat:
		h.handleHeartbeat(conn, msg)

	case MsgTypeTrafficReport:
		h.handleTrafficReport(conn, msg)

	case MsgTypePong:
		// Pong 已在 readPump 中处理

	default:
		logger.Warn("未知消息类型",
			zap.String("node_id", conn.NodeID),
			zap.String("type", string(msg.Type)))
	}
}

// handleHeartbeat 处理心跳
func (h *Handler) handleHeartbeat(conn *NodeConnection, msg *Message) {
	var req HeartbeatRequest
	if err := msg.ParseData(&req); err != nil {
		logger.Error("解析心跳请求失败", zap.Error(err))
		return
	}

	resp := &HeartbeatResponse{
		Success:   true,
		Timestamp: time.Now(),
	}
	respMsg, _ := NewMessage(MsgTypeHeartbeat, resp)
	conn.Send <- respMsg
}

// handleTrafficReport 处理按用户流量上报，逐条写入聚合器
func (h *Handler) handleTrafficReport(conn *NodeConnection, msg *Message) {
	var req TrafficReportRequest
	if err := msg.ParseData(&req); err != nil {
		logger.Error("解析流量上报失败",
			zap.String("node_id", conn.NodeID),
			zap.Error(err))
		return
	}

	var total int64
	accepted := 0
	for _, entry := range req.Entries {
		if entry.UserID == "" {
			logger.Warn("跳过缺少用户ID的流量记录", zap.String("node_id", conn.NodeID))
			continue
		}
		h.aggregator.RecordBytesTransferred(entry.UserID, entry.Bytes, entry.ClientIPs)
		total += entry.Bytes
		accepted++
	}
	metrics.TrafficBytes.WithLabelValues(conn.NodeID).Add(float64(total))

	resp := &TrafficReportResponse{
		Success:  true,
		Accepted: accepted,
	}
	respMsg, _ := NewMessage(MsgTypeTrafficReport, resp)
	conn.Send <- respMsg
}

// sendRegisterAck 发送注册确认
func (h *Handler) sendRegisterAck(conn *NodeConnection) {
	resp := &NodeRegisterResponse{
		Success: true,
		Message: "注册成功",
		NodeID:  conn.NodeID,
	}

	msg, _ := NewMessage(MsgTypeRegisterAck, resp)
	conn.Send <- msg
}

// sendError 注册完成前直接写回错误消息
func (h *Handler) sendError(conn *websocket.Conn, code, message string) {
	errMsg := &ErrorMessage{
		Code:    code,
		Message: message,
	}

	msg, _ := NewMessage(MsgTypeError, errMsg)
	data, _ := json.Marshal(msg)
	conn.WriteMessage(websocket.TextMessage, data)
}
