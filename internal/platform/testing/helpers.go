package testing

import (
	"bytes"
	"testing"
	"time"

	"garden-doctor-go/internal/platform/config"
	"garden-doctor-go/internal/platform/logging"
)

// SetupTestConfig returns defaults with every on-disk path moved under t.TempDir().
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.Port = 8080
	cfg.Log = config.LogConfig{
		Level: "DEBUG",
		Dir:   dir + "/logs",
		File:  "test.log",
	}
	cfg.Web.StaticDir = ""
	cfg.Analysis.Timeout = 5 * time.Second
	cfg.Local.ScratchDir = dir + "/scratch"
	cfg.Cache.Driver = "none"
	cfg.Cache.SQLite.Path = dir + "/test.db"
	cfg.Observability.Enabled = false

	return cfg
}

// SetupTestLogger returns a debug logger writing to a temp file; console output is kept in memory.
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	cfg := SetupTestConfig(t)
	logger, err := logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Dir:      cfg.Log.Dir,
		Filename: cfg.Log.File,
		Console:  &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })

	return logger
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

func AssertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if expected != actual {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}
