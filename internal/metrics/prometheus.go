package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 流量指标
	TrafficBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_traffic_bytes_total",
			Help: "节点上报的总流量（字节）",
		},
		[]string{"node_id"},
	)

	// 当前窗口内活跃用户数
	ActiveUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_active_users",
			Help: "当前窗口内有流量的用户数量",
		},
	)

	// 上报指标
	ReportsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_reports_sent_total",
			Help: "成功上报的小时报告数",
		},
	)

	ReportFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_report_failures_total",
			Help: "上报失败次数",
		},
	)

	// 地理位置查询失败
	LookupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_country_lookup_errors_total",
			Help: "国家代码查询失败次数",
		},
	)

	// 被跳过的非法地址
	InvalidAddresses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_invalid_ip_total",
			Help: "上报数据中无法解析的 IP 地址数",
		},
	)

	// WebSocket连接数
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_websocket_connections",
			Help: "WebSocket连接数",
		},
	)
)
