/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-09 17:53:57
 * @FilePath: \releasedock\backend\internal\infra\logger\logger.go
 * @LastEditTime: 2025-11-02 10:41:19
 */
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// fileDisabled 作为 LOG_FILE 的取值时关闭文件输出，只保留控制台。
const fileDisabled = "-"

var (
	mu           sync.RWMutex
	globalLogger *zap.Logger
)

// Options 描述日志初始化时可配置的参数。
type Options struct {
	Level      string
	Encoding   string
	FilePath   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Init 按环境变量构建全局日志记录器；重复调用直接返回已有实例。
func Init() (*zap.Logger, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil {
		return globalLogger, nil
	}

	logger, err := Build(LoadOptionsFromEnv())
	if err != nil {
		return nil, err
	}
	globalLogger = logger
	return globalLogger, nil
}

// Replace 替换全局 logger，主要给测试注入 zap.NewNop() 或 zaptest 的实现。
func Replace(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = logger
}

// L 返回全局 zap.Logger，如果尚未初始化则尝试自动初始化。
func L() *zap.Logger {
	mu.RLock()
	logger := globalLogger
	mu.RUnlock()
	if logger != nil {
		return logger
	}

	logger, err := Init()
	if err != nil {
		panic(fmt.Sprintf("logger init failed: %v", err))
	}
	return logger
}

// S 返回 SugaredLogger，handler/service 中统一用 `Infow/Warnw` 输出键值日志。
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Sync 刷新缓冲区，通常在进程退出前调用。
func Sync() {
	mu.RLock()
	logger := globalLogger
	mu.RUnlock()
	if logger != nil {
		_ = logger.Sync()
	}
}

// LoadOptionsFromEnv 从环境变量解析日志配置，缺失时回退到默认值。
func LoadOptionsFromEnv() Options {
	opts := Options{
		Level:      strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		Encoding:   strings.ToLower(strings.TrimSpace(os.Getenv("LOG_ENCODING"))),
		FilePath:   strings.TrimSpace(os.Getenv("LOG_FILE")),
		MaxSize:    20,
		MaxBackups: 5,
		MaxAge:     15,
		Compress:   true,
	}

	if opts.Level == "" {
		opts.Level = "info"
	}
	if opts.Encoding == "" {
		opts.Encoding = "json"
	}
	if opts.FilePath == "" {
		opts.FilePath = filepath.Join("logs", "releasedock.log")
	}

	opts.MaxSize = positiveIntFromEnv("LOG_MAX_SIZE", opts.MaxSize)
	opts.MaxBackups = positiveIntFromEnv("LOG_MAX_BACKUPS", opts.MaxBackups)
	opts.MaxAge = positiveIntFromEnv("LOG_MAX_AGE", opts.MaxAge)
	if val := strings.TrimSpace(os.Getenv("LOG_COMPRESS")); val != "" {
		opts.Compress = val == "1" || strings.EqualFold(val, "true")
	}

	return opts
}

// Build 根据 Options 构建 zap.Logger：控制台输出始终开启，FilePath 非 "-" 时追加滚动文件输出。
func Build(opts Options) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(opts.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeDuration = zapcore.StringDurationEncoder

	cores := []zapcore.Core{}

	if opts.FilePath != "" && opts.FilePath != fileDisabled {
		if err := ensureDir(filepath.Dir(opts.FilePath)); err != nil {
			return nil, fmt.Errorf("logger create dir: %w", err)
		}
		lumber := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}

		var fileEncoder zapcore.Encoder
		if opts.Encoding == "console" {
			fileEncoder = zapcore.NewConsoleEncoder(encoderCfg)
		} else {
			fileEncoder = zapcore.NewJSONEncoder(encoderCfg)
		}
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(lumber), lvl))
	}

	consoleEncoderCfg := encoderCfg
	consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderCfg),
		zapcore.AddSync(os.Stdout),
		lvl,
	))

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func positiveIntFromEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
