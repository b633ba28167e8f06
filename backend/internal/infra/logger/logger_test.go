package logger

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestLoadOptionsFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"LOG_LEVEL", "LOG_ENCODING", "LOG_FILE", "LOG_MAX_SIZE", "LOG_MAX_BACKUPS", "LOG_MAX_AGE", "LOG_COMPRESS"} {
		t.Setenv(key, "")
	}

	opts := LoadOptionsFromEnv()
	if opts.Level != "info" || opts.Encoding != "json" {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if opts.FilePath != filepath.Join("logs", "releasedock.log") {
		t.Fatalf("unexpected default file path %s", opts.FilePath)
	}
	if opts.MaxSize != 20 || opts.MaxBackups != 5 || opts.MaxAge != 15 || !opts.Compress {
		t.Fatalf("unexpected rotation defaults: %+v", opts)
	}
}

func TestLoadOptionsFromEnv_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_MAX_SIZE", "64")
	t.Setenv("LOG_MAX_AGE", "-3")
	t.Setenv("LOG_COMPRESS", "false")

	opts := LoadOptionsFromEnv()
	if opts.Level != "debug" {
		t.Fatalf("expected debug level, got %s", opts.Level)
	}
	if opts.MaxSize != 64 {
		t.Fatalf("expected max size 64, got %d", opts.MaxSize)
	}
	if opts.MaxAge != 15 {
		t.Fatalf("negative max age should fall back to 15, got %d", opts.MaxAge)
	}
	if opts.Compress {
		t.Fatalf("expected compress disabled")
	}
}

func TestBuild_WritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := Build(Options{Level: "info", Encoding: "json", FilePath: filepath.Join(dir, "nested", "app.log"), MaxSize: 1})
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()
}

func TestBuild_RejectsUnknownLevel(t *testing.T) {
	if _, err := Build(Options{Level: "loud", FilePath: fileDisabled}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestReplace(t *testing.T) {
	nop := zap.NewNop()
	Replace(nop)
	t.Cleanup(func() { Replace(nil) })

	if L() != nop {
		t.Fatalf("expected replaced logger to be returned")
	}
}
