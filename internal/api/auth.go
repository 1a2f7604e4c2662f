package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/coursequiz/internal/errors"
)

const userIDKey = "coursequiz.user_id"

var signingMethod = jwt.SigningMethodHS256

// Authenticator resolves the caller from an optional HS256 bearer token.
// Requests without a token are served as guest.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Middleware(c *gin.Context) {
	h := c.GetHeader("Authorization")
	if h == "" {
		c.Next()
		return
	}

	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		writeError(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("malformed authorization header")))
		return
	}

	sub, err := a.Subject(token)
	if err != nil {
		writeError(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid token"), errors.WithCause(err)))
		return
	}

	c.Set(userIDKey, sub)
	c.Next()
}

// Subject validates the token and returns its subject, the user ID.
func (a *Authenticator) Subject(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{signingMethod.Alg()}))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}

	return claims.Subject, nil
}

// Sign issues a token for the user. It is used by tooling and tests.
func (a *Authenticator) Sign(userID string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = userID
	return jwt.NewWithClaims(signingMethod, claims).SignedString(a.secret)
}

func userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
