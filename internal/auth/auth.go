package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned for missing or unknown tokens
var ErrUnauthorized = errors.New("auth: unauthorized")

// Verifier resolves a bearer token to a user id
type Verifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// StaticVerifier checks tokens against a fixed token -> user id table
type StaticVerifier struct {
	tokens map[string]string
}

func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	copied := make(map[string]string, len(tokens))
	for token, user := range tokens {
		if token != "" && user != "" {
			copied[token] = user
		}
	}
	return &StaticVerifier{tokens: copied}
}

func (v *StaticVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	var userID string
	for known, user := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			userID = user
		}
	}
	if userID == "" {
		return "", ErrUnauthorized
	}
	return userID, nil
}

// TokenFromRequest reads a bearer token from the Authorization header or,
// for websocket upgrades, the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

type userKey struct{}

// WithUser stores the authenticated user id in ctx
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the user id stored by WithUser
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userKey{}).(string)
	return userID, ok && userID != ""
}
