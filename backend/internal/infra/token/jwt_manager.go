/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 20:40:41
 * @FilePath: \releasedock\backend\internal\infra\token\jwt_manager.go
 * @LastEditTime: 2025-11-05 09:12:36
 */
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	claimTokenType  = "token_type"
	claimTokenID    = "jti"
	claimIsAdmin    = "is_admin"
	claimUsername   = "username"
	tokenTypeAccess = "access"
)

var (
	// ErrInvalidToken 表示签名、过期时间或格式校验失败。
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidSubject 表示 sub 缺失或不是正整数用户 ID。
	ErrInvalidSubject = errors.New("invalid token subject")
)

// AccessClaims 是从访问令牌中解析出的调用者身份。
type AccessClaims struct {
	UserID    uint
	Username  string
	IsAdmin   bool
	TokenID   string
	ExpiresAt time.Time
}

// JWTManager 基于对称密钥校验访问令牌。令牌由外部身份服务签发，
// Issue 只供本地联调工具与测试使用。
type JWTManager struct {
	secret string
	now    func() time.Time
}

// NewJWTManager 创建 JWT 管理器。
func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{secret: secret, now: time.Now}
}

// Issue 为指定用户签发访问令牌。
func (m *JWTManager) Issue(userID uint, username string, isAdmin bool, ttl time.Duration) (string, time.Time, error) {
	if userID == 0 {
		return "", time.Time{}, ErrInvalidSubject
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	expiresAt := m.now().Add(ttl)

	claims := jwt.MapClaims{
		"sub":          strconv.FormatUint(uint64(userID), 10),
		"exp":          expiresAt.Unix(),
		"iat":          m.now().Unix(),
		claimIsAdmin:   isAdmin,
		claimTokenType: tokenTypeAccess,
		claimTokenID:   uuid.NewString(),
	}
	if username != "" {
		claims[claimUsername] = username
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccessToken 校验签名与过期时间并解析出调用者身份。
// 未携带 token_type 的令牌按访问令牌处理，兼容只签发标准字段的身份服务。
func (m *JWTManager) ParseAccessToken(raw string) (AccessClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return []byte(m.secret), nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return AccessClaims{}, ErrInvalidToken
	}
	if tType, ok := claims[claimTokenType].(string); ok && tType != tokenTypeAccess {
		return AccessClaims{}, fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}

	userID, err := subjectUserID(claims)
	if err != nil {
		return AccessClaims{}, err
	}

	out := AccessClaims{UserID: userID}
	out.IsAdmin, _ = claims[claimIsAdmin].(bool)
	out.Username, _ = claims[claimUsername].(string)
	out.TokenID, _ = claims[claimTokenID].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// subjectUserID 兼容字符串与数字两种 sub 写法。
func subjectUserID(claims jwt.MapClaims) (uint, error) {
	var subRaw string
	switch v := claims["sub"].(type) {
	case string:
		subRaw = v
	case float64:
		if v < 0 {
			return 0, ErrInvalidSubject
		}
		subRaw = fmt.Sprintf("%.0f", v)
	case json.Number:
		subRaw = v.String()
	default:
		return 0, ErrInvalidSubject
	}

	id64, err := strconv.ParseUint(strings.TrimSpace(subRaw), 10, 64)
	if err != nil || id64 == 0 {
		return 0, ErrInvalidSubject
	}
	return uint(id64), nil
}
