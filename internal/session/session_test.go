package session

import (
	"path/filepath"
	"testing"

	"go-smarttalk/internal/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoSignInPersists(t *testing.T) {
	store := NewMemoryPersistence()
	s, err := Open(store)
	require.NoError(t, err)

	_, ok := s.Actor()
	assert.False(t, ok)

	a, err := s.SignInDemo(" Ann ", "Ann@Example.com", "")
	require.NoError(t, err)
	assert.True(t, a.Demo)
	assert.Equal(t, "ann@example.com", a.Email)

	reopened, err := Open(store)
	require.NoError(t, err)
	got, ok := reopened.Actor()
	require.True(t, ok)
	assert.Equal(t, a, got)
}

func TestDemoSignInValidates(t *testing.T) {
	s, err := Open(NewMemoryPersistence())
	require.NoError(t, err)
	_, err = s.SignInDemo("", "ann@example.com", "")
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
	_, err = s.SignInDemo("Ann", "not-an-email", "")
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
}

func TestCorruptDemoIdentityIsDiscarded(t *testing.T) {
	store := NewMemoryPersistence()
	require.NoError(t, store.Set(keyDemo, []byte("{not json")))

	s, err := Open(store)
	require.NoError(t, err)
	_, ok := s.Actor()
	assert.False(t, ok)

	_, err = store.Get(keyDemo)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagedWinsOverDemo(t *testing.T) {
	s, err := Open(NewMemoryPersistence())
	require.NoError(t, err)
	_, err = s.SignInDemo("Demo", "demo@example.com", "")
	require.NoError(t, err)

	require.NoError(t, s.SignInManaged(identity.Actor{Name: "Ann", Email: "ann@example.com"}, "tok"))
	a, ok := s.Actor()
	require.True(t, ok)
	assert.Equal(t, "ann@example.com", a.Email)
	assert.Equal(t, "tok", s.Token())

	require.NoError(t, s.SignOut())
	_, ok = s.Actor()
	assert.False(t, ok)
	assert.Empty(t, s.Token())
}

func TestOnce(t *testing.T) {
	store := NewMemoryPersistence()
	s, err := Open(store)
	require.NoError(t, err)

	key := WelcomeKey(identity.Actor{Email: "Ann@example.com"}, true)
	assert.Equal(t, "welcome_shown_ann@example.com", key)
	assert.True(t, s.Once(key))
	assert.False(t, s.Once(key))

	again, err := Open(store)
	require.NoError(t, err)
	assert.False(t, again.Once(key), "marker survives restarts")
	assert.True(t, again.Once(WelcomeKey(identity.Actor{}, false)))
}

func TestPebbleStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	p, err := OpenPebble(dir)
	require.NoError(t, err)

	_, err = p.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	s, err := Open(p)
	require.NoError(t, err)
	_, err = s.SignInDemo("Ann", "ann@example.com", "")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	p, err = OpenPebble(dir)
	require.NoError(t, err)
	defer p.Close()
	s, err = Open(p)
	require.NoError(t, err)
	a, ok := s.Actor()
	require.True(t, ok)
	assert.Equal(t, "Ann", a.Name)
}

func TestPebbleInMemory(t *testing.T) {
	p, err := OpenPebble("")
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Set("k", []byte("v")))
	v, err := p.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
	require.NoError(t, p.Delete("k"))
	_, err = p.Get("k")
	assert.ErrorIs(t, err, ErrNotFound)
}
