package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gkipass/telemetry/internal/api"
	"gkipass/telemetry/internal/config"
	"gkipass/telemetry/internal/geoip"
	"gkipass/telemetry/internal/server"
	"gkipass/telemetry/internal/stats"
	"gkipass/telemetry/internal/store"
	"gkipass/telemetry/internal/ws"
	"gkipass/telemetry/pkg/logger"

	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "./config.yaml", "Path to config file")
	port       = flag.Int("port", 0, "Override server port")
)

func main() {
	flag.Parse()
	if err := logger.Init(&logger.Config{
		Level:  "info",
		Format: "console",
	}); err != nil {
		log.Fatalf("初始化日志系统失败: %v", err)
	}
	defer logger.Sync()

	printBanner()

	// 加载配置，首次运行时生成默认配置和实例标识
	cfg, err := config.LoadOrInit(*configPath)
	if err != nil {
		logger.Fatal("加载配置失败", zap.Error(err))
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	// 重新初始化日志系统（使用配置）
	if err := logger.Init(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		logger.Fatal("重新初始化日志系统失败", zap.Error(err))
	}

	// 打开窗口状态文件并恢复未满一小时的窗口
	st, err := store.Open(cfg.State.Path)
	if err != nil {
		logger.Fatal("打开状态文件失败", zap.Error(err))
	}
	logger.Info("✓ 窗口状态已加载", zap.String("path", cfg.State.Path))

	aggregator := stats.NewAggregator(st)
	aggregator.Restore(st.State())

	resolver, err := geoip.NewClient(
		cfg.GeoIP.APIURL,
		time.Duration(cfg.GeoIP.Timeout)*time.Second,
		cfg.GeoIP.CacheSize,
	)
	if err != nil {
		logger.Fatal("初始化地理位置客户端失败", zap.Error(err))
	}

	builder := stats.NewReportBuilder(resolver)
	sender := stats.NewSender(cfg.Report.URL, time.Duration(cfg.Report.Timeout)*time.Second)

	scheduler := stats.NewScheduler(aggregator, builder, sender, cfg.Report.ServerID, cfg.Report.Enabled)
	scheduler.Start()

	// WebSocket 节点接入
	wsServer := ws.NewServer(aggregator, cfg.Ingest.Token)
	wsServer.Start()

	app := api.NewApp(cfg, *configPath, aggregator, scheduler)
	router := api.SetupRouter(app, wsServer)
	http2Addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled && cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		tlsConfig = createTLSConfig()
	}

	// 创建 HTTP/2 服务器
	http2Server := server.NewHTTP2Server(
		http2Addr,
		router,
		tlsConfig,
		time.Duration(cfg.Server.ReadTimeout)*time.Second,
		time.Duration(cfg.Server.WriteTimeout)*time.Second,
	)
	go func() {
		var err error
		if tlsConfig != nil {
			err = http2Server.Start(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = http2Server.StartInsecure()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器错误", zap.Error(err))
		}
	}()

	var http3Server *server.HTTP3Server
	if cfg.Server.EnableHTTP3 && tlsConfig != nil {
		http3Addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTP3Port)
		// HTTP/3 使用独立的 TLS 配置，避免和 HTTP/2 共享 ALPN 列表
		http3Server = server.NewHTTP3Server(http3Addr, router, createTLSConfig())

		go func() {
			if err := http3Server.Start(); err != nil {
				logger.Error("HTTP/3 服务器错误", zap.Error(err))
			}
		}()
	} else if cfg.Server.EnableHTTP3 {
		logger.Warn("HTTP/3 需要启用 TLS，已跳过")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到退出信号，正在关闭...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关闭 HTTP/2 服务器
	if err := http2Server.Shutdown(ctx); err != nil {
		logger.Error("关闭 HTTP 服务器失败", zap.Error(err))
	}
	// 关闭 HTTP/3 服务器
	if http3Server != nil {
		if err := http3Server.Shutdown(ctx); err != nil {
			logger.Error("关闭 HTTP/3 服务器失败", zap.Error(err))
		}
	}

	logger.Info("✓ 所有服务器已停止")
}

func printBanner() {
	banner := `
╔═══════════════════════════════════════════════════════╗
║                                                       ║
║   GkiPass Telemetry                                   ║
║   Anonymous Usage Metrics Aggregator                  ║
║                      v1.0.0                           ║
║                                                       ║
╚═══════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
}
