// Package authn verifies bearer tokens presented to the admin surface.
// Issuance, registration, and API-key management are out of scope (spec
// §1 excludes "the concrete RPC surface (auth admin CRUD, JWT
// issuance...)"); this package only checks a token signature and
// expiry, grounded on internal/auth.Service.VerifyToken stripped of its
// database-backed Register/Login/CreateAPIKey concerns.
package authn

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentfabric/rrsc/internal/ports"
)

// Claims identifies the caller a verified token was issued to.
type Claims struct {
	Subject     string   `json:"sub"`
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier over secret. secret must match the
// signing key used by whatever issues tokens for this deployment.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify validates a raw Authorization header value (with or without
// the "Bearer " prefix) and returns the embedded Claims.
func (v *Verifier) Verify(header string) (*Claims, *ports.Error) {
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" {
		return nil, ports.Newf(ports.KindAuthentication, "verify_token", "missing bearer token")
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ports.Newf(ports.KindAuthentication, "verify_token", "unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, ports.New(ports.KindAuthentication, "verify_token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ports.Newf(ports.KindAuthentication, "verify_token", "invalid token")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, ports.Newf(ports.KindAuthentication, "verify_token", "token expired")
	}
	return claims, nil
}

// HasPermission reports whether claims grants perm.
func (c *Claims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
