package config

import (
	"time"
)

type Config struct {
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Web           WebConfig           `yaml:"web" mapstructure:"web"`
	Analysis      AnalysisConfig      `yaml:"analysis" mapstructure:"analysis"`
	Remote        RemoteConfig        `yaml:"remote" mapstructure:"remote"`
	Local         LocalConfig         `yaml:"local" mapstructure:"local"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

type ServerConfig struct {
	IP   string `yaml:"ip" mapstructure:"ip"`
	Port int    `yaml:"port" mapstructure:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

type WebConfig struct {
	// StaticDir 为空或目录不存在时不挂载静态资源
	StaticDir string `yaml:"static_dir" mapstructure:"static_dir"`
}

// AnalysisConfig 选择唯一的分析后端
type AnalysisConfig struct {
	Backend string        `yaml:"backend" mapstructure:"backend"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// RemoteConfig 远程多模态模型（OpenRouter 兼容接口）
type RemoteConfig struct {
	ModelName   string  `yaml:"model_name" mapstructure:"model_name"`
	BaseURL     string  `yaml:"url" mapstructure:"url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	Referer     string  `yaml:"referer" mapstructure:"referer"`
	Title       string  `yaml:"title" mapstructure:"title"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	TopP        float64 `yaml:"top_p" mapstructure:"top_p"`
}

// LocalConfig 本地分析程序
type LocalConfig struct {
	PythonPath   string `yaml:"python_path" mapstructure:"python_path"`
	FallbackPath string `yaml:"fallback_path" mapstructure:"fallback_path"`
	Command      string `yaml:"command" mapstructure:"command"`
	Script       string `yaml:"script" mapstructure:"script"`
	ScratchDir   string `yaml:"scratch_dir" mapstructure:"scratch_dir"`
}

type SecurityConfig struct {
	MaxFileSize       int64    `yaml:"max_file_size" mapstructure:"max_file_size"`
	MaxPixels         int64    `yaml:"max_pixels" mapstructure:"max_pixels"`
	MaxWidth          int      `yaml:"max_width" mapstructure:"max_width"`
	MaxHeight         int      `yaml:"max_height" mapstructure:"max_height"`
	AllowedFormats    []string `yaml:"allowed_formats" mapstructure:"allowed_formats"`
	EnableDecodeCheck bool     `yaml:"enable_decode_check" mapstructure:"enable_decode_check"`
}

type CacheConfig struct {
	Driver string           `yaml:"driver" mapstructure:"driver"`
	TTL    time.Duration    `yaml:"ttl" mapstructure:"ttl"`
	Redis  CacheRedisConfig `yaml:"redis,omitempty" mapstructure:"redis"`
	SQLite CacheSQLite      `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
}

type CacheRedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

type CacheSQLite struct {
	Path string `yaml:"path,omitempty" mapstructure:"path"`
}

type ObservabilityConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	MetricsPath string `yaml:"metrics_path" mapstructure:"metrics_path"`
}
