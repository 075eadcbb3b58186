package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go-smarttalk/internal/identity"
)

const (
	keyDemo    = "demo_user"
	keyManaged = "managed_user"
	oncePrefix = "once:"
)

type managedRecord struct {
	Actor identity.Actor `json:"actor"`
	Token string         `json:"token"`
}

// Session is the signed-in state of one client. A managed sign-in takes
// precedence over a demo identity.
type Session struct {
	mu      sync.RWMutex
	store   Persistence
	demo    *identity.Actor
	managed *managedRecord
}

// Open restores saved identities. Unreadable records are dropped.
func Open(store Persistence) (*Session, error) {
	s := &Session{store: store}

	var demo identity.Actor
	switch err := s.load(keyDemo, &demo); {
	case err == nil && demo.Valid():
		demo.Demo = true
		s.demo = &demo
	case errors.Is(err, ErrNotFound):
	default:
		slog.Warn("discarding saved demo identity", "err", err)
		if err := store.Delete(keyDemo); err != nil {
			return nil, err
		}
	}

	var managed managedRecord
	switch err := s.load(keyManaged, &managed); {
	case err == nil && managed.Actor.Valid() && managed.Token != "":
		s.managed = &managed
	case errors.Is(err, ErrNotFound):
	default:
		slog.Warn("discarding saved sign-in", "err", err)
		if err := store.Delete(keyManaged); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) load(key string, v any) error {
	raw, err := s.store.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Session) save(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.store.Set(key, raw)
}

// SignInDemo sets a self-declared identity. No verification happens.
func (s *Session) SignInDemo(name, email, avatar string) (identity.Actor, error) {
	a := identity.Actor{
		Name:   strings.TrimSpace(name),
		Email:  strings.ToLower(strings.TrimSpace(email)),
		Avatar: strings.TrimSpace(avatar),
		Demo:   true,
	}
	if !a.Valid() || !strings.Contains(a.Email, "@") {
		return identity.Actor{}, fmt.Errorf("%w: demo identity needs a name and an email", identity.ErrUnauthenticated)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(keyDemo, a); err != nil {
		return identity.Actor{}, err
	}
	s.demo = &a
	return a, nil
}

// SignInManaged records an identity verified by the server along with the
// bearer token used to act as it.
func (s *Session) SignInManaged(a identity.Actor, token string) error {
	if !a.Valid() || token == "" {
		return fmt.Errorf("%w: managed sign-in needs an identity and a token", identity.ErrUnauthenticated)
	}
	a.Demo = false
	rec := managedRecord{Actor: a, Token: token}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(keyManaged, rec); err != nil {
		return err
	}
	s.managed = &rec
	return nil
}

// SignOut clears both identities.
func (s *Session) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.demo, s.managed = nil, nil
	return errors.Join(s.store.Delete(keyDemo), s.store.Delete(keyManaged))
}

func (s *Session) Actor() (identity.Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.managed != nil:
		return s.managed.Actor, true
	case s.demo != nil:
		return *s.demo, true
	}
	return identity.Actor{}, false
}

// Token is the bearer token for a managed sign-in, empty otherwise.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.managed == nil {
		return ""
	}
	return s.managed.Token
}

// Once reports true the first time it is called for key, across restarts.
func (s *Session) Once(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := oncePrefix + key
	if _, err := s.store.Get(k); err == nil {
		return false
	}
	if err := s.store.Set(k, []byte("true")); err != nil {
		slog.Warn("persist once marker", "key", key, "err", err)
	}
	return true
}

// WelcomeKey scopes the welcome hint to the signed-in identity.
func WelcomeKey(a identity.Actor, ok bool) string {
	if !ok {
		return "welcome_shown_anonymous"
	}
	return "welcome_shown_" + a.Key()
}
