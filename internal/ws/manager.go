package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gkipass/telemetry/internal/metrics"
	"gkipass/telemetry/pkg/logger"
)

// staleAfter 超过该时长没有任何消息的连接视为失联
const staleAfter = 90 * time.Second

// NodeConnection 节点连接
type NodeConnection struct {
	NodeID   string
	Conn     *websocket.Conn
	Send     chan *Message
	lastSeen time.Time
	mu       sync.RWMutex
}

// Manager WebSocket 连接管理器
type Manager struct {
	connections map[string]*NodeConnection // nodeID -> connection
	register    chan *NodeConnection
	unregister  chan *NodeConnection
	mu          sync.RWMutex
}

// NewManager 创建连接管理器
func NewManager() *Manager {
	return &Manager{
		connections: make(map[string]*NodeConnection),
		register:    make(chan *NodeConnection, 10),
		unregister:  make(chan *NodeConnection, 10),
	}
}

// Run 运行管理器，定期清理失联连接
func (m *Manager) Run() {
	logger.Info("WebSocket 管理器已启动")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case conn := <-m.register:
			m.registerNode(conn)

		case conn := <-m.unregister:
			m.unregisterNode(conn)

		case <-ticker.C:
			m.dropStaleConnections()
		}
	}
}

// registerNode 注册节点，同一节点重复注册时顶掉旧连接
func (m *Manager) registerNode(conn *NodeConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if oldConn, exists := m.connections[conn.NodeID]; exists {
		close(oldConn.Send)
		oldConn.Close()
	}

	m.connections[conn.NodeID] = conn
	metrics.WSConnections.Set(float64(len(m.connections)))

	logger.Info("节点已连接",
		zap.String("node_id", conn.NodeID),
		zap.Int("total_nodes", len(m.connections)))
}

// unregisterNode 注销节点
func (m *Manager) unregisterNode(conn *NodeConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.connections[conn.NodeID]; exists && current == conn {
		delete(m.connections, conn.NodeID)
		close(conn.Send)
		metrics.WSConnections.Set(float64(len(m.connections)))

		logger.Info("节点已断开",
			zap.String("node_id", conn.NodeID),
			zap.Int("total_nodes", len(m.connections)))
	}
}

// NodeIDs 当前在线节点ID列表
func (m *Manager) NodeIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nodeIDs := make([]string, 0, len(m.connections))
	for nodeID := range m.connections {
		nodeIDs = append(nodeIDs, nodeID)
	}
	return nodeIDs
}

// NodeCount 当前在线节点数量
func (m *Manager) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// dropStaleConnections 断开超时未活动的连接
func (m *Manager) dropStaleConnections() {
	m.mu.RLock()
	stale := make([]*NodeConnection, 0)
	now := time.Now()

	for _, conn := range m.connections {
		if now.Sub(conn.LastSeen()) > staleAfter {
			stale = append(stale, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range stale {
		logger.Warn("节点超时，断开连接",
			zap.String("node_id", conn.NodeID),
			zap.Duration("idle", now.Sub(conn.LastSeen())))
		conn.Close()
		m.unregister <- conn
	}
}

// UpdateLastSeen 更新最后活动时间
func (nc *NodeConnection) UpdateLastSeen() {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.lastSeen = time.Now()
}

// LastSeen 最后活动时间
func (nc *NodeConnection) LastSeen() time.Time {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	return nc.lastSeen
}

// Close 关闭底层连接
func (nc *NodeConnection) Close() {
	if nc.Conn != nil {
		_ = nc.Conn.Close()
	}
}
