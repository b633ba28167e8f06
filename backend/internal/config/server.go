package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultServerPort     = "9090"
	defaultPollSpec       = "@every 1s"
	defaultSweepSpec      = "@every 1m"
	defaultSweepGrace     = 30 * time.Second
	defaultPublicRPM      = 120
	defaultPublicWindow   = time.Minute
	defaultFeedLimit      = 20
	defaultShutdownWindow = 10 * time.Second
)

// ServerConfig 汇总 HTTP 服务与调度相关的参数。
type ServerConfig struct {
	Port      string
	JWTSecret string
	// AllowedOrigins 为空时只放行 localhost，逗号分隔。
	AllowedOrigins []string

	SchedulerPollSpec  string
	SchedulerSweepSpec string
	// SweepGrace 是排期时间过去多久仍未发布才视为任务丢失。
	SweepGrace time.Duration

	PublicRateLimit  int
	PublicRateWindow time.Duration
	PublicFeedLimit  int

	ShutdownTimeout time.Duration
}

// LoadServerConfig 读取 SERVER_* / SCHEDULER_* / PUBLIC_* 环境变量。
// 在线模式必须提供 JWT_SECRET，本地模式使用离线鉴权可以留空。
func LoadServerConfig(flags RuntimeFlags) (ServerConfig, error) {
	LoadEnvFiles()

	cfg := ServerConfig{
		Port:               envOrDefault("SERVER_PORT", defaultServerPort),
		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
		AllowedOrigins:     splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		SchedulerPollSpec:  envOrDefault("SCHEDULER_POLL_SPEC", defaultPollSpec),
		SchedulerSweepSpec: envOrDefault("SCHEDULER_SWEEP_SPEC", defaultSweepSpec),
		SweepGrace:         defaultSweepGrace,
		PublicRateLimit:    defaultPublicRPM,
		PublicRateWindow:   defaultPublicWindow,
		PublicFeedLimit:    defaultFeedLimit,
		ShutdownTimeout:    defaultShutdownWindow,
	}

	if !flags.IsLocal() && cfg.JWTSecret == "" {
		return ServerConfig{}, fmt.Errorf("JWT_SECRET is required in %s mode", flags.Mode)
	}

	var err error
	if cfg.SweepGrace, err = durationFromEnv("SCHEDULER_SWEEP_GRACE", cfg.SweepGrace); err != nil {
		return ServerConfig{}, err
	}
	if cfg.PublicRateWindow, err = durationFromEnv("PUBLIC_RATE_WINDOW", cfg.PublicRateWindow); err != nil {
		return ServerConfig{}, err
	}
	if cfg.ShutdownTimeout, err = durationFromEnv("SERVER_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return ServerConfig{}, err
	}
	if cfg.PublicRateLimit, err = intFromEnv("PUBLIC_RATE_LIMIT", cfg.PublicRateLimit); err != nil {
		return ServerConfig{}, err
	}
	if cfg.PublicFeedLimit, err = intFromEnv("PUBLIC_FEED_LIMIT", cfg.PublicFeedLimit); err != nil {
		return ServerConfig{}, err
	}

	// 提前校验 cron 表达式，解析规则与 deferred.Periodic 一致。
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for key, spec := range map[string]string{
		"SCHEDULER_POLL_SPEC":  cfg.SchedulerPollSpec,
		"SCHEDULER_SWEEP_SPEC": cfg.SchedulerSweepSpec,
	} {
		if _, err := parser.Parse(spec); err != nil {
			return ServerConfig{}, fmt.Errorf("invalid %s %q: %w", key, spec, err)
		}
	}

	return cfg, nil
}

// Addr 返回 gin 监听地址。
func (c ServerConfig) Addr() string {
	return ":" + c.Port
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return value, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
