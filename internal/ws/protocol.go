package ws

import (
	"encoding/json"
	"time"
)

// MessageType 消息类型
type MessageType string

const (
	// 节点 -> 统计端
	MsgTypeNodeRegister  MessageType = "node_register"  // 节点注册
	MsgTypeHeartbeat     MessageType = "heartbeat"      // 心跳
	MsgTypeTrafficReport MessageType = "traffic_report" // 按用户流量上报

	// 统计端 -> 节点
	MsgTypeRegisterAck MessageType = "register_ack" // 注册确认

	// 双向
	MsgTypePong  MessageType = "pong"  // Pong
	MsgTypeError MessageType = "error" // 错误消息
)

// Message WebSocket 消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NodeRegisterRequest 节点注册请求
type NodeRegisterRequest struct {
	NodeID   string `json:"node_id"`   // 节点ID
	NodeName string `json:"node_name"` // 节点名称
	Token    string `json:"token"`     // 接入令牌
	Version  string `json:"version"`   // 节点版本
}

// NodeRegisterResponse 节点注册响应
type NodeRegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	NodeID  string `json:"node_id"`
}

// HeartbeatRequest 心跳请求
type HeartbeatRequest struct {
	NodeID string `json:"node_id"`
	Status string `json:"status"` // online/busy
}

// HeartbeatResponse 心跳响应
type HeartbeatResponse struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// TrafficEntry 单个用户的一次传输记录
// client_ips 为原始客户端地址，统计端收到后立即匿名化，不落盘原始地址
type TrafficEntry struct {
	UserID    string   `json:"user_id"`
	Bytes     int64    `json:"bytes"`
	ClientIPs []string `json:"client_ips"`
}

// TrafficReportRequest 按用户流量上报请求
type TrafficReportRequest struct {
	NodeID  string         `json:"node_id"`
	Entries []TrafficEntry `json:"entries"`
}

// TrafficReportResponse 流量上报响应
type TrafficReportResponse struct {
	Success  bool   `json:"success"`
	Accepted int    `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// ErrorMessage 错误消息
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage 创建新消息
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      dataBytes,
	}, nil
}

// ParseData 解析消息数据
func (m *Message) ParseData(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}
