/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-10 19:11:27
 * @FilePath: \releasedock\backend\cmd\devtoken\main.go
 * @LastEditTime: 2025-11-05 09:41:03
 */
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"releasedock/backend/internal/config"
	"releasedock/backend/internal/infra/token"
)

// devtoken 用 JWT_SECRET 签发访问令牌，方便在线模式下本地联调。
func main() {
	userID := flag.Uint("user", 0, "user id written to the sub claim")
	username := flag.String("name", "", "optional username claim")
	admin := flag.Bool("admin", false, "grant the is_admin claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *userID == 0 {
		log.Fatal("missing -user id")
	}

	config.LoadEnvFiles()
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	raw, expiresAt, err := token.NewJWTManager(secret).Issue(*userID, strings.TrimSpace(*username), *admin, *ttl)
	if err != nil {
		log.Fatalf("issue token failed: %v", err)
	}

	fmt.Println(raw)
	log.Printf("token for user %d expires at %s", *userID, expiresAt.UTC().Format(time.RFC3339))
}
