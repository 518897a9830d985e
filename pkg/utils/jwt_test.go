package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/snapvault/backend/internal/models"
)

func configureJWTForTest(t *testing.T, secret string, expirationHours int) {
	t.Helper()

	originalSecret := append([]byte(nil), jwtSecret...)
	originalExpiration := jwtExpirationHours

	t.Cleanup(func() {
		jwtSecret = originalSecret
		jwtExpirationHours = originalExpiration
	})

	ConfigureJWT(secret, expirationHours)
}

func TestConfigureJWT(t *testing.T) {
	t.Run("updates secret and expiration when valid values are provided", func(t *testing.T) {
		configureJWTForTest(t, "test-secret", 72)

		if got := string(jwtSecret); got != "test-secret" {
			t.Fatalf("expected jwt secret to be %q, got %q", "test-secret", got)
		}
		if jwtExpirationHours != 72 {
			t.Fatalf("expected jwt expiration to be %d, got %d", 72, jwtExpirationHours)
		}
	})

	t.Run("ignores empty secret and non-positive expiration", func(t *testing.T) {
		configureJWTForTest(t, "initial-secret", 24)

		ConfigureJWT("", 0)

		if got := string(jwtSecret); got != "initial-secret" {
			t.Fatalf("expected jwt secret to remain %q, got %q", "initial-secret", got)
		}
		if jwtExpirationHours != 24 {
			t.Fatalf("expected jwt expiration to remain %d, got %d", 24, jwtExpirationHours)
		}
	})
}

func TestGenerateAndValidateToken(t *testing.T) {
	t.Run("generates and validates token for a user", func(t *testing.T) {
		configureJWTForTest(t, "roundtrip-secret", 1)

		user := &models.User{
			BaseModel: models.BaseModel{ID: uuid.New()},
			Email:     "jwt@test.com",
		}

		token, err := GenerateToken(user)
		if err != nil {
			t.Fatalf("failed generating token: %v", err)
		}
		if strings.Count(token, ".") != 2 {
			t.Fatalf("expected a three-part JWT, got %q", token)
		}

		claims, err := ValidateToken(token)
		if err != nil {
			t.Fatalf("failed validating token: %v", err)
		}
		if claims.UserID != user.ID {
			t.Fatalf("expected user ID %s, got %s", user.ID, claims.UserID)
		}
		if claims.Email != user.Email {
			t.Fatalf("expected email %s, got %s", user.Email, claims.Email)
		}
	})

	t.Run("rejects token signed with a different secret", func(t *testing.T) {
		configureJWTForTest(t, "first-secret", 1)

		user := &models.User{
			BaseModel: models.BaseModel{ID: uuid.New()},
			Email:     "jwt@test.com",
		}
		token, err := GenerateToken(user)
		if err != nil {
			t.Fatalf("failed generating token: %v", err)
		}

		ConfigureJWT("second-secret", 1)
		if _, err := ValidateToken(token); err == nil {
			t.Fatalf("expected validation failure after secret rotation")
		}
	})

	t.Run("rejects expired token", func(t *testing.T) {
		configureJWTForTest(t, "expiry-secret", 1)

		claims := Claims{
			UserID: uuid.New(),
			Email:  "expired@test.com",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
				IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			},
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString(jwtSecret)
		if err != nil {
			t.Fatalf("failed signing token: %v", err)
		}

		if _, err := ValidateToken(signed); err == nil {
			t.Fatalf("expected expired token to be rejected")
		}
	})

	t.Run("rejects garbage token", func(t *testing.T) {
		configureJWTForTest(t, "garbage-secret", 1)
		if _, err := ValidateToken("not.a.token"); err == nil {
			t.Fatalf("expected malformed token to be rejected")
		}
	})
}
