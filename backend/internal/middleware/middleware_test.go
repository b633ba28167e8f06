package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"releasedock/backend/internal/config"
	appLogger "releasedock/backend/internal/infra/logger"
	"releasedock/backend/internal/infra/ratelimit"
	"releasedock/backend/internal/infra/token"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	appLogger.Replace(zap.NewNop())
	os.Exit(m.Run())
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newAuthRouter(auth Authenticator) *gin.Engine {
	router := gin.New()
	router.GET("/me", auth.Handle(), func(c *gin.Context) {
		userID, _ := c.Get("userID")
		admin, _ := c.Get("isAdmin")
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "is_admin": admin})
	})
	return router
}

func TestAuthMiddlewareInjectsIdentity(t *testing.T) {
	router := newAuthRouter(NewAuthMiddleware(testSecret))
	raw, _, err := token.NewJWTManager(testSecret).Issue(42, "ada", true, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != `{"is_admin":true,"user_id":42}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	router := newAuthRouter(NewAuthMiddleware(testSecret))
	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"bad signature": "Bearer " + signToken(t, "other", jwt.MapClaims{
			"sub": "1", "exp": time.Now().Add(time.Hour).Unix(),
		}),
		"expired": "Bearer " + signToken(t, testSecret, jwt.MapClaims{
			"sub": "1", "exp": time.Now().Add(-time.Minute).Unix(),
		}),
		"no subject": "Bearer " + signToken(t, testSecret, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}),
		"zero subject": "Bearer " + signToken(t, testSecret, jwt.MapClaims{
			"sub": "0", "exp": time.Now().Add(time.Hour).Unix(),
		}),
	}

	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestOfflineAuthMiddleware(t *testing.T) {
	router := newAuthRouter(NewAuthenticator(config.RuntimeFlags{
		Mode:  config.ModeLocal,
		Local: config.LocalRuntime{UserID: 1, Username: "local", IsAdmin: true},
	}, ""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != `{"is_admin":true,"user_id":1}` {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (ratelimit.AllowResult, error) {
	return ratelimit.AllowResult{}, errors.New("redis down")
}

func newLimitedRouter(limiter ratelimit.Limiter, cfg RateLimitConfig) *gin.Engine {
	router := gin.New()
	router.GET("/feed", NewRateLimitMiddleware(limiter, cfg).Handle(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRateLimitMiddlewareBlocksAfterLimit(t *testing.T) {
	router := newLimitedRouter(ratelimit.NewMemoryLimiter(), RateLimitConfig{
		Enabled:     true,
		Window:      time.Minute,
		MaxRequests: 2,
	})

	serve := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/feed", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := serve(); rec.Code != http.StatusOK {
			t.Fatalf("request %d should pass, got %d", i, rec.Code)
		}
	}
	rec := serve()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	other := httptest.NewRequest(http.MethodGet, "/feed", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	otherRec := httptest.NewRecorder()
	router.ServeHTTP(otherRec, other)
	if otherRec.Code != http.StatusOK {
		t.Fatalf("other ip should not be limited, got %d", otherRec.Code)
	}
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	router := newLimitedRouter(failingLimiter{}, RateLimitConfig{Enabled: true, MaxRequests: 1})
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("limiter errors must not block traffic, got %d", rec.Code)
		}
	}
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	router := newLimitedRouter(ratelimit.NewMemoryLimiter(), RateLimitConfig{Enabled: false, MaxRequests: 1})
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("disabled limiter should pass, got %d", rec.Code)
		}
	}
}
