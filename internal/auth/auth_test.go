package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)
	return signed
}

func TestBearerToken(t *testing.T) {
	t.Run("extracts token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer abc.def.ghi")
		assert.Equal(t, "abc.def.ghi", BearerToken(req))
	})

	t.Run("scheme is case insensitive", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "bearer abc")
		assert.Equal(t, "abc", BearerToken(req))
	})

	t.Run("missing or non-bearer header yields empty", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		assert.Empty(t, BearerToken(req))

		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		assert.Empty(t, BearerToken(req))
	})
}

func TestVerifier_Verify(t *testing.T) {
	verifier := NewVerifier(testSecret, "")

	t.Run("valid token yields subject and scopes", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{
			"sub":   "ops@example.com",
			"scope": "gateway:admin gateway:read",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})

		claims, err := verifier.Verify(token)
		assert.NoError(t, err)
		assert.Equal(t, "ops@example.com", claims.Subject)
		assert.True(t, claims.HasScope(ScopeAdmin))
		assert.True(t, claims.HasScope("gateway:read"))
		assert.False(t, claims.HasScope("gateway:write"))
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := verifier.Verify("")
		assert.ErrorIs(t, err, ErrNoToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, "other-secret", jwt.MapClaims{"sub": "x"})
		_, err := verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{
			"sub": "x",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		_, err := verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned token is rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"})
		unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		assert.NoError(t, err)

		_, err = verifier.Verify(unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no configured secret rejects everything", func(t *testing.T) {
		empty := NewVerifier("", "")
		token := signToken(t, testSecret, jwt.MapClaims{"sub": "x"})
		_, err := empty.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestVerifier_CheckAdminKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("swordfish"), bcrypt.MinCost)
	assert.NoError(t, err)
	verifier := NewVerifier("", string(hash))

	assert.True(t, verifier.CheckAdminKey("swordfish"))
	assert.False(t, verifier.CheckAdminKey("guppy"))
	assert.False(t, verifier.CheckAdminKey(""))

	// With no hash configured the key path is disabled outright.
	disabled := NewVerifier("", "")
	assert.False(t, disabled.CheckAdminKey("swordfish"))
}
