/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 19:54:47
 * @FilePath: \releasedock\backend\internal\app\app.go
 * @LastEditTime: 2025-11-04 23:05:12
 */
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"releasedock/backend/internal/config"
	domain "releasedock/backend/internal/domain/changelog"
	"releasedock/backend/internal/domain/project"
	"releasedock/backend/internal/infra/client"
	appLogger "releasedock/backend/internal/infra/logger"
	"releasedock/backend/internal/repository"
	changelogsvc "releasedock/backend/internal/service/changelog"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// AppConfig 汇总启动期读取的全部配置。
type AppConfig struct {
	Mode   string
	Local  config.LocalRuntime
	Server config.ServerConfig
	MySQL  client.MySQLConfig
}

// RuntimeFlags 还原运行模式，供鉴权等按模式分支的组件使用。
func (c AppConfig) RuntimeFlags() config.RuntimeFlags {
	return config.RuntimeFlags{Mode: c.Mode, Local: c.Local}
}

// Resources 持有数据库、Redis 等需要在退出时释放的外部资源。
type Resources struct {
	Config AppConfig
	DB     *gorm.DB
	Redis  *redis.Client

	sqlDB *sql.DB
}

// InitResources 按运行模式初始化存储：本地模式只用 SQLite，在线模式连接 MySQL 与 Redis。
func InitResources(ctx context.Context) (*Resources, error) {
	config.LoadEnvFiles()

	flags, err := config.LoadRuntimeFlags()
	if err != nil {
		return nil, fmt.Errorf("load runtime flags: %w", err)
	}
	serverCfg, err := config.LoadServerConfig(flags)
	if err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}

	res := &Resources{Config: AppConfig{Mode: flags.Mode, Local: flags.Local, Server: serverCfg}}
	if flags.IsLocal() {
		err = res.initLocal(ctx)
	} else {
		err = res.initOnline(ctx)
	}
	if err != nil {
		_ = res.Close()
		return nil, err
	}

	if err := res.DB.WithContext(ctx).AutoMigrate(&domain.Entry{}, &project.Member{}); err != nil {
		_ = res.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	if flags.IsLocal() {
		if err := res.seedLocalMember(ctx); err != nil {
			_ = res.Close()
			return nil, err
		}
	}
	return res, nil
}

func (r *Resources) initLocal(_ context.Context) error {
	db, err := client.NewGORMSQLite(r.Config.Local.DBPath)
	if err != nil {
		return fmt.Errorf("open local sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sqlite db: %w", err)
	}
	r.DB, r.sqlDB = db, sqlDB
	appLogger.S().Infow("local mode storage ready", "sqlite", r.Config.Local.DBPath)
	return nil
}

func (r *Resources) initOnline(ctx context.Context) error {
	mysqlCfg, err := client.LoadMySQLConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load mysql config: %w", err)
	}
	db, sqlDB, err := client.NewGORMMySQL(ctx, mysqlCfg)
	if err != nil {
		return fmt.Errorf("connect mysql: %w", err)
	}
	r.DB, r.sqlDB = db, sqlDB
	r.Config.MySQL = mysqlCfg

	redisOpts, err := client.NewDefaultRedisOptions()
	if err != nil {
		return fmt.Errorf("load redis options: %w", err)
	}
	rdb, err := client.NewRedisClient(ctx, redisOpts)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	r.Redis = rdb

	appLogger.S().Infow("online mode storage ready",
		"mysql", fmt.Sprintf("%s@%s/%s", mysqlCfg.Username, mysqlCfg.Host, mysqlCfg.Database),
		"redis", fmt.Sprintf("%s:%d", redisOpts.Host, redisOpts.Port),
	)
	return nil
}

// seedLocalMember 让离线用户成为默认项目的 owner，本地模式开箱即可编辑。
func (r *Resources) seedLocalMember(ctx context.Context) error {
	members := repository.NewProjectMemberRepository(r.DB)
	err := members.Upsert(ctx, &project.Member{
		ProjectID: r.Config.Local.ProjectID,
		UserID:    r.Config.Local.UserID,
		Role:      changelogsvc.RoleOwner,
	})
	if err != nil {
		return fmt.Errorf("seed local member: %w", err)
	}
	return nil
}

// Ping 检查数据库与 Redis 的可用性，用于 /healthz。
func (r *Resources) Ping(ctx context.Context) error {
	if r.sqlDB != nil {
		if err := r.sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if r.Redis != nil {
		if err := r.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close 释放所有资源，可重复调用。
func (r *Resources) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		r.Redis = nil
	}
	if r.sqlDB != nil {
		if err := r.sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		r.sqlDB = nil
	}
	return errors.Join(errs...)
}
