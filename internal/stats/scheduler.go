package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gkipass/telemetry/internal/metrics"
	"gkipass/telemetry/pkg/logger"
)

// cycleTimeout 单轮上报（含全部地理位置查询和发送）的时间上限
const cycleTimeout = 2 * time.Minute

// ReportSender 小时报告的发送出口
type ReportSender interface {
	Send(ctx context.Context, report *HourlyReport) error
}

// Scheduler 小时整点调度器
// 首次触发对齐到下一个整点，之后按固定一小时间隔循环
// 停止后不可重新启动，需要重新构造
type Scheduler struct {
	aggregator *Aggregator
	builder    *ReportBuilder
	sender     ReportSender
	serverID   string
	window     time.Duration

	enabled atomic.Bool

	mu       sync.Mutex
	boundary *time.Timer
	ticker   *time.Ticker
	stopChan chan struct{}
	running  bool
}

func NewScheduler(agg *Aggregator, builder *ReportBuilder, sender ReportSender, serverID string, enabled bool) *Scheduler {
	s := &Scheduler{
		aggregator: agg,
		builder:    builder,
		sender:     sender,
		serverID:   serverID,
		window:     time.Hour,
		stopChan:   make(chan struct{}),
	}
	s.enabled.Store(enabled)
	return s
}

// Start 启动调度
// 恢复的窗口已满一小时时先同步补报一次，无论错过多少个小时都只补一次
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if start := s.aggregator.WindowStart(); time.Since(start) >= s.window {
		logger.Info("窗口已超过一小时，立即补报", zap.Time("window_start", start))
		s.runCycle()
	}

	first := time.Until(nextHourBoundary(time.Now()))

	s.mu.Lock()
	s.boundary = time.AfterFunc(first, s.periodicLoop)
	s.mu.Unlock()

	logger.Info("✓ 统计调度器已启动",
		zap.Duration("first_fire", first),
		zap.Bool("sharing_enabled", s.enabled.Load()))
}

// Stop 停止调度，不打断正在进行的上报
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	if s.boundary != nil {
		s.boundary.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopChan)

	logger.Info("统计调度器已停止")
}

// SetEnabled 运行时切换是否对外共享匿名统计
func (s *Scheduler) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Enabled 当前是否共享匿名统计
func (s *Scheduler) Enabled() bool {
	return s.enabled.Load()
}

// periodicLoop 整点首次触发后进入固定间隔循环
func (s *Scheduler) periodicLoop() {
	s.runCycle()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.ticker = time.NewTicker(s.window)
	ticker := s.ticker
	s.mu.Unlock()

	for {
		select {
		case <-ticker.C:
			s.runCycle()
		case <-s.stopChan:
			return
		}
	}
}

// runCycle 执行一轮上报：生成报告、按开关发送、无条件重置
// 空窗口直接跳过且不重置，避免无意义地滚动窗口起点
func (s *Scheduler) runCycle() {
	if !s.aggregator.HasUsers() {
		logger.Debug("窗口内无用户数据，跳过本轮上报")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	snap := s.aggregator.Snapshot()
	report := s.builder.Build(ctx, s.serverID, snap)

	switch {
	case report == nil:
		logger.Info("过滤后无可上报用户，本轮不发送")
	case !s.enabled.Load():
		logger.Debug("匿名统计未开启，跳过发送")
	default:
		if err := s.sender.Send(ctx, report); err != nil {
			logger.Error("小时报告上报失败", zap.Error(err))
			metrics.ReportFailures.Inc()
		} else {
			logger.Info("✓ 小时报告已上报",
				zap.Int("user_count", len(report.UserReports)),
				zap.Int64("start_utc_ms", report.StartUTCMs),
				zap.Int64("end_utc_ms", report.EndUTCMs))
			metrics.ReportsSent.Inc()
		}
	}

	// 无论发送结果如何都重置，每轮最多携带一小时数据
	s.aggregator.Reset()
}

// nextHourBoundary 下一个整点时刻，恰好处于整点时取再下一个
func nextHourBoundary(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour)
}
