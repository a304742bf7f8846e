package handler

import (
	"context"
	"net/http"
	"strings"
)

const msgNotAuthenticated = "Authentication credentials were not provided."

type ownerKey struct{}

// Authenticator resolves bearer tokens to owner ids.
type Authenticator struct {
	tokens map[string]string
}

// NewAuthenticator creates an authenticator over a token -> owner table.
func NewAuthenticator(tokens map[string]string) *Authenticator {
	t := make(map[string]string, len(tokens))
	for token, owner := range tokens {
		if token != "" && owner != "" {
			t[token] = owner
		}
	}
	return &Authenticator{tokens: t}
}

// Owner returns the owner bound to the request's bearer token.
func (a *Authenticator) Owner(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || (!strings.EqualFold(scheme, "Bearer") && !strings.EqualFold(scheme, "Token")) {
		return "", false
	}
	owner, ok := a.tokens[strings.TrimSpace(token)]
	return owner, ok
}

// Require rejects requests without a known bearer token with 403 and stores
// the owner id in the request context otherwise.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := a.Owner(r)
		if !ok {
			WriteDetail(w, http.StatusForbidden, msgNotAuthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

// OwnerFrom returns the authenticated owner id, or "" outside Require.
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}
