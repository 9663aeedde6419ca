package config

import "time"

const (
	BackendRemote = "remote"
	BackendLocal  = "local"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 3001,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			StaticDir: "./dist",
		},
		Analysis: AnalysisConfig{
			Backend: BackendRemote,
			Timeout: 60 * time.Second,
		},
		Remote: RemoteConfig{
			ModelName: "google/gemini-2.0-flash-001",
			BaseURL:   "https://openrouter.ai/api/v1",
			Referer:   "https://garden-doctor.vercel.app",
			Title:     "Garden Doctor",
		},
		Local: LocalConfig{
			Command:    "python",
			Script:     "execution/analyze_plant.py",
			ScratchDir: ".tmp",
		},
		Security: SecurityConfig{
			MaxFileSize:    10 * 1024 * 1024, // 10MB
			MaxPixels:      40000000,
			MaxWidth:       8192,
			MaxHeight:      8192,
			AllowedFormats: []string{"jpeg", "jpg", "png", "webp", "gif", "heic", "heif", "bmp"},
		},
		Cache: CacheConfig{
			Driver: "none",
			TTL:    24 * time.Hour,
			SQLite: CacheSQLite{Path: "data/garden-doctor.db"},
		},
		Observability: ObservabilityConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
		},
	}
}
