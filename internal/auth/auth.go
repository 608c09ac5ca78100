package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ScopeAdmin guards mutating admin endpoints.
const ScopeAdmin = "gateway:admin"

var (
	ErrNoToken      = errors.New("no bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims is the subset of identity-service claims the gateway consumes. The
// token issuer is an external collaborator; the gateway only verifies the
// signature and reads subject and scopes.
type Claims struct {
	Subject string
	Scopes  []string
}

// HasScope reports whether the credential carries a scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Verifier checks bearer tokens (HMAC, issued by the identity service) and
// the break-glass admin API key (bcrypt hash from config).
type Verifier struct {
	secret       []byte
	adminKeyHash string
}

func NewVerifier(jwtSecret, adminKeyHash string) *Verifier {
	return &Verifier{secret: []byte(jwtSecret), adminKeyHash: adminKeyHash}
}

// BearerToken extracts the bearer token from a request, or "".
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// Verify parses and validates a token, returning its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}
	if len(v.secret) == 0 {
		return nil, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if scope, ok := mapClaims["scope"].(string); ok {
		claims.Scopes = strings.Fields(scope)
	}
	return claims, nil
}

// CheckAdminKey compares a presented key against the configured bcrypt hash.
func (v *Verifier) CheckAdminKey(key string) bool {
	if v.adminKeyHash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(v.adminKeyHash), []byte(key)) == nil
}
