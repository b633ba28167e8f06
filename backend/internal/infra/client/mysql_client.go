/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 17:16:56
 * @FilePath: \releasedock\backend\internal\infra\client\mysql_client.go
 * @LastEditTime: 2025-11-04 19:10:52
 */
package client

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"releasedock/backend/internal/config"

	mysqlDSN "github.com/go-sql-driver/mysql"
	mysqlDriver "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	envMySQLHost     = "MYSQL_HOST"
	envMySQLPort     = "MYSQL_PORT"
	envMySQLUser     = "MYSQL_USERNAME"
	envMySQLPassword = "MYSQL_PASSWORD"
	envMySQLDatabase = "MYSQL_DATABASE"
	envMySQLParams   = "MYSQL_PARAMS"
)

const (
	defaultMySQLPort     = 3306
	defaultMySQLDatabase = "releasedock"
)

// MySQLConfig 描述数据库连接配置项。
type MySQLConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
	// Params 追加到 DSN 上的额外参数，例如 "timeout=5s&readTimeout=3s"。
	Params map[string]string
}

// LoadMySQLConfigFromEnv 读取 MYSQL_* 环境变量。
func LoadMySQLConfigFromEnv() (MySQLConfig, error) {
	config.LoadEnvFiles()

	cfg := MySQLConfig{
		Host:     strings.TrimSpace(os.Getenv(envMySQLHost)),
		Port:     defaultMySQLPort,
		Username: strings.TrimSpace(os.Getenv(envMySQLUser)),
		Password: os.Getenv(envMySQLPassword),
		Database: strings.TrimSpace(os.Getenv(envMySQLDatabase)),
	}
	if cfg.Database == "" {
		cfg.Database = defaultMySQLDatabase
	}
	if raw := strings.TrimSpace(os.Getenv(envMySQLPort)); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 {
			return MySQLConfig{}, fmt.Errorf("invalid %s: %q", envMySQLPort, raw)
		}
		cfg.Port = port
	}
	if raw := strings.TrimSpace(os.Getenv(envMySQLParams)); raw != "" {
		params, err := parseParams(raw)
		if err != nil {
			return MySQLConfig{}, fmt.Errorf("invalid %s: %w", envMySQLParams, err)
		}
		cfg.Params = params
	}
	return cfg, nil
}

// validateMySQLConfig 校验配置字段是否完整。
func validateMySQLConfig(cfg MySQLConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("mysql host is required")
	}
	if cfg.Username == "" {
		return fmt.Errorf("mysql username is required")
	}
	if cfg.Database == "" {
		return fmt.Errorf("mysql database is required")
	}
	return nil
}

// BuildMySQLDSN 在通过校验后生成 DSN。
// 时间统一按 UTC 存取，排期时间与发布时间在多实例之间才可比较。
func BuildMySQLDSN(cfg MySQLConfig) (string, error) {
	if err := validateMySQLConfig(cfg); err != nil {
		return "", err
	}
	port := cfg.Port
	if port == 0 {
		port = defaultMySQLPort
	}

	dsn := mysqlDSN.NewConfig()
	dsn.User = cfg.Username
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	dsn.DBName = cfg.Database
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	dsn.Params = map[string]string{"charset": "utf8mb4"}
	for key, value := range cfg.Params {
		dsn.Params[key] = value
	}
	return dsn.FormatDSN(), nil
}

// NewGORMMySQL 创建 GORM 连接并返回 ORM 与底层 *sql.DB，便于控制生命周期。
func NewGORMMySQL(ctx context.Context, cfg MySQLConfig) (*gorm.DB, *sql.DB, error) {
	dsn, err := BuildMySQLDSN(cfg)
	if err != nil {
		return nil, nil, err
	}

	gormDB, err := gorm.Open(mysqlDriver.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open gorm mysql: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("get sql db: %w", err)
	}

	sqlDB.SetConnMaxLifetime(60 * time.Minute)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}

	return gormDB, sqlDB, nil
}

func parseParams(raw string) (map[string]string, error) {
	params := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("malformed pair %q", pair)
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params, nil
}
