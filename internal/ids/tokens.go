package ids

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/plastr/extrasolar/internal/shared"
)

// TokenSigner mints and verifies the macs embedded in public URLs
// (unsubscribe, password reset, invite acceptance). Each token is scoped by
// a namespace string so a token minted for one purpose never validates for
// another.
type TokenSigner struct {
	secret []byte
}

func NewTokenSigner(secret []byte) *TokenSigner {
	return &TokenSigner{secret: secret}
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Namespace  string `json:"ns"`
	Identifier string `json:"id"`
}

// Sign produces a compact HS256 token binding namespace and identifier.
func (s *TokenSigner) Sign(namespace, identifier string, validity time.Duration) (string, error) {
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		Namespace:  namespace,
		Identifier: identifier,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the token signature and namespace and returns the identifier.
func (s *TokenSigner) Verify(namespace, tokenString string) (string, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrorInvalidToken, err)
	}
	if !token.Valid || claims.Namespace != namespace {
		return "", shared.ErrorInvalidToken
	}
	return claims.Identifier, nil
}
