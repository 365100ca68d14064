// Package middleware provides HTTP middleware for the REST API server
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Authenticator validates bearer tokens on mutating API routes. Tokens
// are HMAC-signed JWTs sharing a secret with the management plane.
type Authenticator struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

// NewAuthenticator creates an authenticator for the given shared secret.
func NewAuthenticator(secret []byte, issuer string, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{secret: secret, issuer: issuer, logger: logger}
}

// ValidateToken parses and validates a compact JWT, returning its
// subject claim.
func (a *Authenticator) ValidateToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("invalid subject claim: %w", err)
	}
	return subject, nil
}

// HTTPMiddleware rejects requests without a valid bearer token.
func (a *Authenticator) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}

		subject, err := a.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			a.logger.Warn("rejected request with invalid token",
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			http.Error(w, `{"error":"invalid bearer token"}`, http.StatusUnauthorized)
			return
		}

		r.Header.Set("X-Authenticated-Subject", subject)
		next.ServeHTTP(w, r)
	})
}
