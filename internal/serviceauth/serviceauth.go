// Package serviceauth provides signed service tokens protecting the
// cluster-status and admin surfaces.
package serviceauth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dobrevit/formwaf/internal/httputil"
)

const (
	// ServiceTokenHeader carries the signed token.
	ServiceTokenHeader = "X-Service-Token"
	// DefaultTokenExpiry bounds issued tokens.
	DefaultTokenExpiry = time.Hour
)

// Claims are the token claims for inter-instance calls.
type Claims struct {
	InstanceID string `json:"instance_id"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HMAC service tokens.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer over the shared secret. An empty secret
// disables authentication (development mode).
func NewSigner(secret string) *Signer {
	if secret == "" {
		return &Signer{}
	}
	return &Signer{secret: []byte(secret)}
}

// Enabled reports whether token enforcement is active.
func (s *Signer) Enabled() bool { return len(s.secret) > 0 }

// Issue creates a token identifying this instance.
func (s *Signer) Issue(instanceID string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("serviceauth: no secret configured")
	}
	if ttl <= 0 {
		ttl = DefaultTokenExpiry
	}
	now := time.Now()
	claims := Claims{
		InstanceID: instanceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses and validates a token, returning its claims.
func (s *Signer) Verify(token string) (*Claims, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("serviceauth: no secret configured")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware rejects requests without a valid service token. With no
// secret configured the middleware passes everything through.
func (s *Signer) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			token := r.Header.Get(ServiceTokenHeader)
			if token == "" {
				httputil.WriteErrorResponse(w, r, http.StatusUnauthorized, "", "missing service token", nil)
				return
			}
			if _, err := s.Verify(token); err != nil {
				httputil.WriteErrorResponse(w, r, http.StatusUnauthorized, "", "invalid service token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
