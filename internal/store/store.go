package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"gkipass/telemetry/pkg/logger"
)

// State 统计窗口的持久化形态
// 字段名是磁盘格式的一部分，升级时不可改动
type State struct {
	StartTimestamp int64                `json:"startTimestamp"`      // 窗口起点，Unix 毫秒
	Users          map[string]UserStats `json:"lastHourUserStatsObj"` // 按用户聚合的窗口数据
}

// UserStats 单个用户在窗口内的累计值
type UserStats struct {
	BytesTransferred      int64    `json:"bytesTransferred"`
	AnonymizedIPAddresses []string `json:"anonymizedIpAddresses"`
}

// Store 基于 JSON 文件的窗口状态存储
type Store struct {
	path  string
	mu    sync.Mutex
	state State
}

// Open 打开状态文件，不存在或无法解析时以空窗口启动
// 解析失败不视为致命错误：丢弃旧状态比拒绝启动代价更小
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.state = emptyState()
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		logger.Warn("状态文件无法解析，重置为空窗口",
			zap.String("path", path),
			zap.Error(err))
		s.state = emptyState()
		return s, nil
	}
	if st.Users == nil {
		st.Users = make(map[string]UserStats)
	}

	s.state = st
	return s, nil
}

// State 返回当前状态的深拷贝
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := State{
		StartTimestamp: s.state.StartTimestamp,
		Users:          make(map[string]UserStats, len(s.state.Users)),
	}
	for id, u := range s.state.Users {
		ips := make([]string, len(u.AnonymizedIPAddresses))
		copy(ips, u.AnonymizedIPAddresses)
		out.Users[id] = UserStats{
			BytesTransferred:      u.BytesTransferred,
			AnonymizedIPAddresses: ips,
		}
	}
	return out
}

// Save 替换状态并立即落盘
// 先写临时文件再改名，避免进程中途崩溃留下半截文件
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = st

	data, err := json.MarshalIndent(&st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

func emptyState() State {
	return State{
		StartTimestamp: 0,
		Users:          make(map[string]UserStats),
	}
}
