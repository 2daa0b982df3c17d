package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrExpiredToken is returned when a JWT has expired.
var ErrExpiredToken = errors.New("auth: token expired")

// jwtClaims is the token shape this server accepts: a subject plus a
// space-delimited scope string, following the common OAuth2 "scope" claim
// convention.
type jwtClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-signed JWTs against a shared secret, deriving
// scopes from the token's "scope" claim.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier builds a JWTVerifier. secret must be non-empty.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(token string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwtClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		subject = "unknown"
	}

	return Identity{Subject: subject, Scopes: splitScopes(claims.Scope)}, nil
}

func splitScopes(scope string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				out = append(out, scope[start:i])
			}
			start = i + 1
		}
	}
	return out
}
