package api

import (
	"time"

	"gkipass/telemetry/internal/config"
	"gkipass/telemetry/internal/monitoring"
	"gkipass/telemetry/internal/stats"
)

// App 应用实例，handlers 共享的依赖都挂在这里
type App struct {
	Config     *config.Config
	ConfigPath string
	Aggregator *stats.Aggregator
	Scheduler  *stats.Scheduler
	Monitor    *monitoring.Monitor
	StartTime  time.Time
}

// NewApp 创建应用实例
func NewApp(cfg *config.Config, configPath string, agg *stats.Aggregator, sched *stats.Scheduler) *App {
	return &App{
		Config:     cfg,
		ConfigPath: configPath,
		Aggregator: agg,
		Scheduler:  sched,
		Monitor:    monitoring.NewMonitor(),
		StartTime:  time.Now(),
	}
}
