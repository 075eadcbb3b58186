package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWT("secret", "")
	token, err := j.Issue(Actor{Name: "Ann", Email: "Ann@Example.com", Avatar: "https://x/a.png"}, time.Hour)
	require.NoError(t, err)

	a, err := j.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "Ann", a.Name)
	assert.Equal(t, "ann@example.com", a.Email)
	assert.Equal(t, "https://x/a.png", a.Avatar)
	assert.False(t, a.Demo)
}

func TestJWTRejects(t *testing.T) {
	j := NewJWT("secret", "smarttalk")
	good, err := j.Issue(Actor{Name: "Ann", Email: "ann@example.com"}, time.Hour)
	require.NoError(t, err)

	_, err = NewJWT("other", "smarttalk").Verify(context.Background(), good)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	_, err = NewJWT("secret", "someone-else").Verify(context.Background(), good)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	expired := NewJWT("secret", "smarttalk")
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.Verify(context.Background(), good)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	_, err = j.Verify(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = j.Issue(Actor{Email: "ann@example.com"}, time.Hour)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

type fixedVerifier struct {
	a   Actor
	err error
}

func (f fixedVerifier) Verify(context.Context, string) (Actor, error) { return f.a, f.err }

func TestChain(t *testing.T) {
	ann := Actor{Name: "Ann", Email: "ann@example.com"}
	c := Chain{fixedVerifier{err: ErrInvalidToken}, fixedVerifier{a: ann}}
	a, err := c.Verify(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, ann, a)

	_, err = Chain{fixedVerifier{err: errors.New("boom")}}.Verify(context.Background(), "t")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestActorContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithActor(context.Background(), Actor{Name: "Ann", Email: " ANN@example.com "})
	a, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "ann@example.com", a.Key())
	assert.True(t, a.Valid())
}
