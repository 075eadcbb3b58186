package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidToken    = errors.New("invalid token")
)

// Actor is the acting user. Email is the identity key.
type Actor struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"image,omitempty"`
	Demo   bool   `json:"demo,omitempty"`
}

// Key is the normalised identity key used in permission checks.
func (a Actor) Key() string {
	return strings.ToLower(strings.TrimSpace(a.Email))
}

func (a Actor) Valid() bool {
	return a.Key() != "" && strings.TrimSpace(a.Name) != ""
}

// Verifier turns a bearer token into an actor.
type Verifier interface {
	Verify(ctx context.Context, token string) (Actor, error)
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}
