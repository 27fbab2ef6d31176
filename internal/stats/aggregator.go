package stats

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"gkipass/telemetry/internal/metrics"
	"gkipass/telemetry/internal/store"
	"gkipass/telemetry/pkg/logger"
)

// StateStore 窗口状态的持久化落点
type StateStore interface {
	Save(st store.State) error
}

// userWindow 窗口内单个用户的累计值
type userWindow struct {
	bytes int64
	ips   map[string]struct{}
}

// Snapshot 窗口的只读副本，End 取导出时刻
type Snapshot struct {
	Start time.Time
	End   time.Time
	Users map[string]UserSnapshot
}

// UserSnapshot 快照中单个用户的数据，地址按字典序排列
type UserSnapshot struct {
	Bytes int64
	IPs   []string
}

// Aggregator 滚动一小时窗口的按用户流量聚合器
// 每次变更后立即写入存储，进程重启不丢失也不重复窗口数据
type Aggregator struct {
	mu    sync.Mutex
	start time.Time
	users map[string]*userWindow
	store StateStore
}

func NewAggregator(st StateStore) *Aggregator {
	return &Aggregator{
		start: time.Now(),
		users: make(map[string]*userWindow),
		store: st,
	}
}

// Restore 从持久化状态恢复窗口，空状态以当前时间开启新窗口
func (a *Aggregator) Restore(st store.State) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if st.StartTimestamp <= 0 {
		a.start = time.Now()
		a.users = make(map[string]*userWindow)
		a.persistLocked()
		return
	}

	a.start = time.UnixMilli(st.StartTimestamp)
	a.users = make(map[string]*userWindow, len(st.Users))
	for id, u := range st.Users {
		uw := &userWindow{
			bytes: u.BytesTransferred,
			ips:   make(map[string]struct{}, len(u.AnonymizedIPAddresses)),
		}
		for _, ip := range u.AnonymizedIPAddresses {
			uw.ips[ip] = struct{}{}
		}
		a.users[id] = uw
	}

	metrics.ActiveUsers.Set(float64(len(a.users)))
	logger.Info("已恢复统计窗口",
		zap.Time("window_start", a.start),
		zap.Int("user_count", len(a.users)))
}

// RecordBytesTransferred 记录一次传输事件并立即持久化
// 无法解析的地址跳过并计数，同一事件中的其余地址照常生效
func (a *Aggregator) RecordBytesTransferred(userID string, numBytes int64, ipAddresses []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	uw, ok := a.users[userID]
	if !ok {
		uw = &userWindow{ips: make(map[string]struct{})}
		a.users[userID] = uw
	}
	uw.bytes += numBytes

	for _, addr := range ipAddresses {
		anon, err := AnonymizeIP(addr)
		if err != nil {
			logger.Warn("跳过无法解析的地址", zap.String("user_id", userID), zap.Error(err))
			metrics.InvalidAddresses.Inc()
			continue
		}
		uw.ips[anon] = struct{}{}
	}

	metrics.ActiveUsers.Set(float64(len(a.users)))
	a.persistLocked()
}

// Reset 清空窗口并把起点设为当前时间，随后立即持久化
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.users = make(map[string]*userWindow)
	a.start = time.Now()

	metrics.ActiveUsers.Set(0)
	a.persistLocked()
}

// HasUsers 窗口内是否存在任何用户条目
func (a *Aggregator) HasUsers() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.users) > 0
}

// WindowStart 当前窗口起点
func (a *Aggregator) WindowStart() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.start
}

// Snapshot 导出窗口的深拷贝，供报告生成使用
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Start: a.start,
		End:   time.Now(),
		Users: make(map[string]UserSnapshot, len(a.users)),
	}
	for id, uw := range a.users {
		snap.Users[id] = UserSnapshot{
			Bytes: uw.bytes,
			IPs:   sortedIPs(uw.ips),
		}
	}
	return snap
}

// persistLocked 持锁状态下序列化并落盘，失败只记录日志不向上传播
func (a *Aggregator) persistLocked() {
	if a.store == nil {
		return
	}

	st := store.State{
		StartTimestamp: a.start.UnixMilli(),
		Users:          make(map[string]store.UserStats, len(a.users)),
	}
	for id, uw := range a.users {
		st.Users[id] = store.UserStats{
			BytesTransferred:      uw.bytes,
			AnonymizedIPAddresses: sortedIPs(uw.ips),
		}
	}

	if err := a.store.Save(st); err != nil {
		logger.Error("窗口状态写入失败", zap.Error(err))
	}
}

func sortedIPs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for ip := range set {
		out = append(out, ip)
	}
	sort.Strings(out)
	return out
}
