package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tok, err := ExtractBearerToken("Bearer abc123")
		require.NoError(t, err)
		assert.Equal(t, "abc123", tok)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ExtractBearerToken("")
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("not bearer scheme", func(t *testing.T) {
		_, err := ExtractBearerToken("Basic abc123")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestStaticTokenVerifier(t *testing.T) {
	v := NewStaticTokenVerifier("s3cr3t")

	id, err := v.Verify("s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, "admin", id.Subject)
	assert.Contains(t, id.Scopes, "admin")

	_, err = v.Verify("wrong")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireScope(t *testing.T) {
	v := NewStaticTokenVerifier("s3cr3t")
	r := httptest.NewRequest(http.MethodGet, "/admin/skills", nil)
	r.Header.Set("Authorization", "Bearer s3cr3t")

	id, err := RequireScope(v, r, "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", id.Subject)

	_, err = RequireScope(v, r, "nonexistent-scope")
	assert.Error(t, err)
}

func signTestToken(t *testing.T, secret []byte, subject, scope string, expiry time.Duration) string {
	t.Helper()
	claims := jwtClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return tok
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	secret := []byte("test-secret")
	v := NewJWTVerifier(secret)

	tok := signTestToken(t, secret, "alice", "admin tools:call", time.Hour)
	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Subject)
	assert.ElementsMatch(t, []string{"admin", "tools:call"}, id.Scopes)
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	v := NewJWTVerifier(secret)

	tok := signTestToken(t, secret, "alice", "admin", -time.Hour)
	_, err := v.Verify(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_WrongSecretRejected(t *testing.T) {
	v := NewJWTVerifier([]byte("correct-secret"))
	tok := signTestToken(t, []byte("wrong-secret"), "alice", "admin", time.Hour)
	_, err := v.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
