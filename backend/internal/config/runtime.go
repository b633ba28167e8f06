/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-20 09:41:52
 * @FilePath: \releasedock\backend\internal\config\runtime.go
 * @LastEditTime: 2025-11-04 20:02:13
 */
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// ModeLocal 表示单机模式：SQLite + 进程内调度器 + 固定离线用户。
	ModeLocal = "local"
	// ModeOnline 表示默认的在线模式：MySQL + Redis 调度器 + JWT 鉴权。
	ModeOnline = "online"

	defaultLocalUserID    = 1
	defaultLocalUsername  = "local"
	defaultLocalProjectID = "local"
	defaultLocalDBRelPath = "data/releasedock-local.db"
)

// RuntimeFlags 汇总运行期所需的模式与本地环境配置。
type RuntimeFlags struct {
	Mode  string
	Local LocalRuntime
}

// IsLocal 判断是否运行在本地模式。
func (f RuntimeFlags) IsLocal() bool {
	return f.Mode == ModeLocal
}

// LocalRuntime 描述本地模式下需要的额外配置。
// ProjectID 是启动时为离线用户准备的默认项目，离线用户是它的 owner。
type LocalRuntime struct {
	DBPath    string
	UserID    uint
	Username  string
	ProjectID string
	IsAdmin   bool
}

// LoadRuntimeFlags 读取环境变量，推导当前运行模式及本地模式参数。
func LoadRuntimeFlags() (RuntimeFlags, error) {
	LoadEnvFiles()

	mode := strings.ToLower(strings.TrimSpace(os.Getenv("APP_MODE")))
	switch mode {
	case "":
		mode = ModeOnline
	case ModeLocal, ModeOnline:
	default:
		return RuntimeFlags{}, fmt.Errorf("unknown APP_MODE %q", mode)
	}

	local := LocalRuntime{
		DBPath:    normalisePath(defaultLocalDBRelPath),
		UserID:    defaultLocalUserID,
		Username:  defaultLocalUsername,
		ProjectID: defaultLocalProjectID,
		IsAdmin:   false,
	}

	if rawPath := strings.TrimSpace(os.Getenv("LOCAL_SQLITE_PATH")); rawPath != "" {
		local.DBPath = normalisePath(rawPath)
	}
	if rawID := strings.TrimSpace(os.Getenv("LOCAL_USER_ID")); rawID != "" {
		parsed, err := strconv.ParseUint(rawID, 10, 32)
		if err != nil || parsed == 0 {
			return RuntimeFlags{}, fmt.Errorf("invalid LOCAL_USER_ID %q", rawID)
		}
		local.UserID = uint(parsed)
	}
	if rawName := strings.TrimSpace(os.Getenv("LOCAL_USER_USERNAME")); rawName != "" {
		local.Username = rawName
	}
	if rawProject := strings.TrimSpace(os.Getenv("LOCAL_PROJECT_ID")); rawProject != "" {
		local.ProjectID = rawProject
	}
	if rawAdmin := strings.TrimSpace(os.Getenv("LOCAL_USER_ADMIN")); rawAdmin != "" {
		if parsed, err := strconv.ParseBool(rawAdmin); err == nil {
			local.IsAdmin = parsed
		}
	}

	return RuntimeFlags{
		Mode:  mode,
		Local: local,
	}, nil
}

// normalisePath 将路径展开为绝对路径，兼容 ~ 前缀与相对路径。
func normalisePath(raw string) string {
	if raw == "" {
		return raw
	}
	if strings.HasPrefix(raw, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			raw = filepath.Join(home, strings.TrimPrefix(raw, "~"))
		}
	}
	if filepath.IsAbs(raw) {
		return raw
	}
	if abs, err := filepath.Abs(raw); err == nil {
		return abs
	}
	return raw
}
