package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath 默认配置文件路径
const DefaultPath = ".config.yaml"

// 环境变量
const (
	EnvAPIKey     = "OPENROUTER_API_KEY"
	EnvPythonPath = "PYTHON_PATH"
	EnvBackend    = "ANALYSIS_BACKEND"
	EnvPort       = "PORT"
)

// Loader reads defaults, the YAML file and environment overrides, in that order.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader reading .config.yaml from the working directory.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      DefaultPath,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the YAML file location.
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// WithEnv overrides environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the runtime configuration.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			// 仅在 .env 不存在时提示，不中断流程
			fmt.Println("未找到 .env 文件，使用系统环境变量")
		}
	}

	cfg := DefaultConfig()
	origin := "defaults"

	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件 %s 失败: %w", l.path, err)
		}
		origin = l.path
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", l.path, err)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{
		Config: cfg,
		Path:   origin,
	}, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.lookupEnv(EnvAPIKey); ok && strings.TrimSpace(v) != "" {
		cfg.Remote.APIKey = strings.TrimSpace(v)
	}
	if v, ok := l.lookupEnv(EnvPythonPath); ok && strings.TrimSpace(v) != "" {
		cfg.Local.PythonPath = strings.TrimSpace(v)
	}
	if v, ok := l.lookupEnv(EnvBackend); ok && strings.TrimSpace(v) != "" {
		cfg.Analysis.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := l.lookupEnv(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvPort, v)
		}
		cfg.Server.Port = port
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	switch strings.ToLower(cfg.Analysis.Backend) {
	case BackendRemote, BackendLocal:
	default:
		return fmt.Errorf("unsupported analysis backend: %q", cfg.Analysis.Backend)
	}
	if cfg.Analysis.Timeout <= 0 {
		return fmt.Errorf("analysis timeout must be positive, got %s", cfg.Analysis.Timeout)
	}
	switch strings.ToLower(cfg.Cache.Driver) {
	case "", "none", "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unsupported cache driver: %q", cfg.Cache.Driver)
	}
	if strings.EqualFold(cfg.Cache.Driver, "redis") && cfg.Cache.Redis.Addr == "" {
		return fmt.Errorf("redis cache requires cache.redis.addr")
	}
	return nil
}
