package authn

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/rrsc/internal/ports"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifier_Verify_AcceptsValidToken(t *testing.T) {
	v := NewVerifier("secret")
	signed := signToken(t, "secret", Claims{
		Subject:     "user-1",
		Permissions: []string{"policy:write"},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.Verify("Bearer " + signed)
	require.Nil(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.True(t, claims.HasPermission("policy:write"))
	assert.False(t, claims.HasPermission("policy:delete"))
}

func TestVerifier_Verify_RejectsExpiredToken(t *testing.T) {
	v := NewVerifier("secret")
	signed := signToken(t, "secret", Claims{
		Subject: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := v.Verify("Bearer " + signed)
	require.NotNil(t, err)
	assert.Equal(t, ports.KindAuthentication, err.Kind)
}

func TestVerifier_Verify_RejectsWrongSecret(t *testing.T) {
	signed := signToken(t, "other-secret", Claims{Subject: "user-1"})
	v := NewVerifier("secret")

	_, err := v.Verify("Bearer " + signed)
	require.NotNil(t, err)
}

func TestVerifier_Verify_RejectsMissingToken(t *testing.T) {
	v := NewVerifier("secret")
	_, err := v.Verify("")
	require.NotNil(t, err)
	assert.Equal(t, ports.KindAuthentication, err.Kind)
}

func TestVerifier_Verify_AcceptsRawTokenWithoutBearerPrefix(t *testing.T) {
	v := NewVerifier("secret")
	signed := signToken(t, "secret", Claims{
		Subject: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.Verify(signed)
	require.Nil(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}
