package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"releasedock/backend/internal/config"

	"github.com/alicebob/miniredis/v2"
	mysqlDSN "github.com/go-sql-driver/mysql"
)

func disableEnvFiles(t *testing.T) {
	t.Helper()
	config.SetEnvFileLoadingForTest(false)
	t.Cleanup(func() { config.SetEnvFileLoadingForTest(true) })
}

func TestLoadMySQLConfigFromEnv(t *testing.T) {
	disableEnvFiles(t)
	t.Setenv("MYSQL_HOST", "db.internal")
	t.Setenv("MYSQL_PORT", "3310")
	t.Setenv("MYSQL_USERNAME", "release")
	t.Setenv("MYSQL_PASSWORD", "secret")
	t.Setenv("MYSQL_DATABASE", "")
	t.Setenv("MYSQL_PARAMS", "timeout=5s&readTimeout=3s")

	cfg, err := LoadMySQLConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Host != "db.internal" || cfg.Port != 3310 || cfg.Database != "releasedock" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Params["timeout"] != "5s" || cfg.Params["readTimeout"] != "3s" {
		t.Fatalf("unexpected params %v", cfg.Params)
	}

	t.Setenv("MYSQL_PORT", "abc")
	if _, err := LoadMySQLConfigFromEnv(); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := BuildMySQLDSN(MySQLConfig{
		Host:     "127.0.0.1",
		Port:     3310,
		Username: "root",
		Password: "secret",
		Database: "releasedock",
		Params:   map[string]string{"timeout": "5s"},
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	parsed, err := mysqlDSN.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("generated dsn does not parse: %v", err)
	}
	if parsed.Addr != "127.0.0.1:3310" || parsed.User != "root" || parsed.DBName != "releasedock" {
		t.Fatalf("unexpected dsn %s", dsn)
	}
	if !parsed.ParseTime || parsed.Loc != time.UTC {
		t.Fatalf("dsn must parse times as UTC: %s", dsn)
	}
	if parsed.Timeout != 5*time.Second {
		t.Fatalf("expected extra params to be applied, got timeout %v", parsed.Timeout)
	}

	if _, err := BuildMySQLDSN(MySQLConfig{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRedisOptionsFromEnv(t *testing.T) {
	disableEnvFiles(t)
	t.Setenv("REDIS_ENDPOINT", "127.0.0.1:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "2")

	opts, err := NewDefaultRedisOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Host != "127.0.0.1" || opts.Port != 6380 || opts.DB != 2 || opts.Password != "secret" {
		t.Fatalf("unexpected options %+v", opts)
	}

	t.Setenv("REDIS_ENDPOINT", "10.0.0.2")
	t.Setenv("REDIS_DB", "")
	opts, err = NewDefaultRedisOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Port != defaultRedisPort || opts.DB != defaultRedisDB {
		t.Fatalf("expected defaults, got %+v", opts)
	}

	t.Setenv("REDIS_ENDPOINT", "")
	if _, err := NewDefaultRedisOptions(); err == nil {
		t.Fatalf("expected error when endpoint missing")
	}
}

func TestNewRedisClientPing(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := parseEndpointWithDefault(mr.Addr(), defaultRedisPort)
	if err != nil {
		t.Fatalf("parse addr: %v", err)
	}

	client, err := NewRedisClient(context.Background(), RedisOptions{Host: host, Port: port, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new redis client: %v", err)
	}
	defer client.Close()

	mr.Close()
	if _, err := NewRedisClient(context.Background(), RedisOptions{Host: host, Port: port, Timeout: 200 * time.Millisecond}); err == nil {
		t.Fatalf("expected ping failure once redis is gone")
	}
}

func TestNewGORMSQLiteCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "releasedock.db")
	db, err := NewGORMSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	if err := db.Exec("CREATE TABLE probe (id INTEGER PRIMARY KEY)").Error; err != nil {
		t.Fatalf("exec: %v", err)
	}
	if _, err := NewGORMSQLite(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
