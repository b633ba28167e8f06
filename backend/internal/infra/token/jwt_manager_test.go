package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseAccessToken(t *testing.T) {
	manager := NewJWTManager("secret")
	raw, expiresAt, err := manager.Issue(42, "ada", true, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := manager.ParseAccessToken(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "ada" || !claims.IsAdmin || claims.TokenID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ExpiresAt.Unix() != expiresAt.Unix() {
		t.Fatalf("expected expiry %v, got %v", expiresAt, claims.ExpiresAt)
	}
}

func TestParseAccessTokenRejects(t *testing.T) {
	manager := NewJWTManager("secret")
	base := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return base }

	expired, _, err := manager.Issue(1, "", false, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	manager.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := manager.ParseAccessToken(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	other := NewJWTManager("other")
	foreign, _, _ := other.Issue(1, "", false, time.Hour)
	if _, err := NewJWTManager("secret").ParseAccessToken(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign signature to fail, got %v", err)
	}

	refresh, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          "1",
		"exp":          time.Now().Add(time.Hour).Unix(),
		claimTokenType: "refresh",
	}).SignedString([]byte("secret"))
	if _, err := NewJWTManager("secret").ParseAccessToken(refresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh tokens must be rejected, got %v", err)
	}

	if _, _, err := manager.Issue(0, "", false, time.Hour); !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("expected zero user id to be rejected, got %v", err)
	}
}

func TestParseAccessTokenSubjectForms(t *testing.T) {
	manager := NewJWTManager("secret")
	cases := map[string]any{
		"string": "7",
		"number": float64(7),
	}
	for name, sub := range cases {
		t.Run(name, func(t *testing.T) {
			raw, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"sub": sub,
				"exp": time.Now().Add(time.Hour).Unix(),
			}).SignedString([]byte("secret"))
			claims, err := manager.ParseAccessToken(raw)
			if err != nil || claims.UserID != 7 {
				t.Fatalf("expected user 7, got %+v err=%v", claims, err)
			}
		})
	}

	missing, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if _, err := manager.ParseAccessToken(missing); !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}
