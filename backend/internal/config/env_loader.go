/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 17:58:06
 * @FilePath: \releasedock\backend\internal\config\env_loader.go
 * @LastEditTime: 2025-10-21 10:03:47
 */
package config

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var (
	envOnce     sync.Once
	envOnceLock sync.Mutex
	skipEnvLoad bool
	loadedFiles []string
)

// envFileNames 按优先级排列，先加载的文件不会被后加载的覆盖。
var envFileNames = []string{".env.local", ".env"}

// LoadEnvFiles 自当前目录向上查找 .env.local / .env，只加载一次。
// 已存在的进程环境变量优先级最高，不会被文件覆盖。
// 日志组件此时可能尚未初始化，这里只用标准库 log 输出。
func LoadEnvFiles() {
	envOnceLock.Lock()
	defer envOnceLock.Unlock()

	if skipEnvLoad || os.Getenv("CONFIG_SKIP_ENV_LOAD") == "1" {
		return
	}

	envOnce.Do(func() {
		for _, name := range envFileNames {
			path, ok := findEnvFile(name)
			if !ok {
				continue
			}
			if err := godotenv.Load(path); err != nil {
				log.Printf("[config] load %s failed: %v", path, err)
				continue
			}
			loadedFiles = append(loadedFiles, path)
			log.Printf("[config] loaded environment file: %s", path)
		}
	})
}

// LoadedEnvFiles 返回已加载的环境文件路径，用于启动日志。
func LoadedEnvFiles() []string {
	envOnceLock.Lock()
	defer envOnceLock.Unlock()
	return append([]string(nil), loadedFiles...)
}

// SetEnvFileLoadingForTest 控制是否自动加载环境文件，仅供测试使用。
func SetEnvFileLoadingForTest(enabled bool) {
	envOnceLock.Lock()
	defer envOnceLock.Unlock()

	skipEnvLoad = !enabled
	envOnce = sync.Once{}
	loadedFiles = nil
}

func findEnvFile(name string) (string, bool) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false
	}

	dir := cwd
	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
