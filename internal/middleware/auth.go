package myMiddleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"go-smarttalk/internal/identity"
)

const (
	HeaderDemoName  = "X-Demo-Name"
	HeaderDemoEmail = "X-Demo-Email"
	HeaderDemoImage = "X-Demo-Image"
)

type AuthMiddleware struct {
	verifier  identity.Verifier
	allowDemo bool
	reserved  map[string]struct{}
}

// NewAuthMiddleware builds the identity layer. Demo headers may never claim
// one of the reserved emails; those identities need a verified token.
func NewAuthMiddleware(v identity.Verifier, allowDemo bool, reserved ...string) *AuthMiddleware {
	am := &AuthMiddleware{verifier: v, allowDemo: allowDemo, reserved: make(map[string]struct{})}
	for _, email := range reserved {
		if key := strings.ToLower(strings.TrimSpace(email)); key != "" {
			am.reserved[key] = struct{}{}
		}
	}
	return am
}

// Identify attaches the actor to the request context when credentials are
// present. Anonymous requests pass through; bad credentials are rejected.
func (am *AuthMiddleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		// Check Authorization Header
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = strings.TrimSpace(parts[1])
			}
		}

		// Fallback: Check Query Param (browsers cannot set headers on websocket upgrades)
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString != "" {
			if am.verifier == nil {
				unauthorized(w, "token authentication disabled")
				return
			}
			actor, err := am.verifier.Verify(r.Context(), tokenString)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), actor)))
			return
		}

		if email := strings.TrimSpace(r.Header.Get(HeaderDemoEmail)); email != "" {
			if !am.allowDemo {
				unauthorized(w, "demo identities are disabled")
				return
			}
			actor := identity.Actor{
				Name:   strings.TrimSpace(r.Header.Get(HeaderDemoName)),
				Email:  strings.ToLower(email),
				Avatar: strings.TrimSpace(r.Header.Get(HeaderDemoImage)),
				Demo:   true,
			}
			if !actor.Valid() {
				unauthorized(w, "demo identity needs a name and an email")
				return
			}
			if _, taken := am.reserved[actor.Key()]; taken {
				unauthorized(w, "this email requires a verified sign-in")
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), actor)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Require rejects requests Identify did not attach an actor to.
func (am *AuthMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := identity.FromContext(r.Context()); !ok {
			unauthorized(w, "missing authentication")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
