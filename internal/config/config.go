package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server ServerConfig `yaml:"server"`
	TLS    TLSConfig    `yaml:"tls"`
	Report ReportConfig `yaml:"report"`
	GeoIP  GeoIPConfig  `yaml:"geoip"`
	Ingest IngestConfig `yaml:"ingest"`
	State  StateConfig  `yaml:"state"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	HTTP3Port    int    `yaml:"http3_port"`   // HTTP/3 (QUIC) 端口
	Mode         string `yaml:"mode"`         // debug, release
	EnableHTTP3  bool   `yaml:"enable_http3"` // 启用 HTTP/3
	ReadTimeout  int    `yaml:"read_timeout"` // 单位：秒
	WriteTimeout int    `yaml:"write_timeout"`
}

// TLSConfig TLS配置
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ReportConfig 匿名统计上报配置
type ReportConfig struct {
	ServerID string `yaml:"server_id"` // 本实例标识，首次运行自动生成
	Enabled  bool   `yaml:"enabled"`   // 是否共享匿名统计（默认关闭，用户主动开启）
	URL      string `yaml:"url"`       // 收集端地址
	Timeout  int    `yaml:"timeout"`   // 上报请求超时，单位：秒
}

// GeoIPConfig 地理位置查询配置
type GeoIPConfig struct {
	APIURL    string `yaml:"api_url"`    // 查询服务地址，按 {api_url}/{ip} 拼接
	Timeout   int    `yaml:"timeout"`    // 单次查询超时，单位：秒
	CacheSize int    `yaml:"cache_size"` // LRU 缓存条目数
}

// IngestConfig 节点上报接入配置
type IngestConfig struct {
	Token string `yaml:"token"` // 节点注册令牌，同时用作管理 API 密钥
}

// StateConfig 窗口状态持久化配置
type StateConfig struct {
	Path string `yaml:"path"` // 状态文件路径
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console
	OutputPath string `yaml:"output_path"` // 日志文件路径
	MaxSize    int    `yaml:"max_size"`    // 单个日志文件大小(MB)
	MaxBackups int    `yaml:"max_backups"` // 保留的旧日志文件数量
	MaxAge     int    `yaml:"max_age"`     // 保留天数
	Compress   bool   `yaml:"compress"`    // 是否压缩
}

// LoadConfig 从文件加载配置
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadOrInit 加载配置，文件不存在时写入默认配置（首次运行）
// server_id 为空时自动生成并写回，保证实例标识在重启间稳定
func LoadOrInit(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Report.ServerID = uuid.New().String()

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := SaveConfig(cfg, path); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if cfg.Report.ServerID == "" {
		cfg.Report.ServerID = uuid.New().String()
		if err := SaveConfig(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to persist generated server id: %w", err)
		}
	}

	return cfg, nil
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			HTTP3Port:    8443,
			Mode:         "release",
			EnableHTTP3:  false, // 默认关闭 HTTP/3
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		TLS: TLSConfig{
			Enabled:  false,
			CertFile: "",
			KeyFile:  "",
		},
		Report: ReportConfig{
			ServerID: "",
			Enabled:  false, // 匿名统计默认不共享
			URL:      "https://telemetry.gkipass.io/api/v1/collect",
			Timeout:  30,
		},
		GeoIP: GeoIPConfig{
			APIURL:    "https://geoip.gkipass.io/json",
			Timeout:   10,
			CacheSize: 4096,
		},
		Ingest: IngestConfig{
			Token: "change-this-token-in-production",
		},
		State: StateConfig{
			Path: "./data/telemetry-state.json",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "./logs/telemetry.log",
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
