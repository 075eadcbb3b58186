package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go-smarttalk/internal/feed"
	"go-smarttalk/internal/identity"

	"github.com/google/uuid"
)

// Service applies the server-side rules on top of a Store and announces
// every committed change on the live feed.
type Service struct {
	store   Store
	events  feed.Publisher
	policy  Policy
	metrics *Metrics
	now     func() time.Time
}

func NewService(store Store, events feed.Publisher, policy Policy, metrics *Metrics) *Service {
	return &Service{
		store:   store,
		events:  events,
		policy:  policy,
		metrics: metrics,
		now:     time.Now,
	}
}

func (s *Service) Policy() Policy { return s.policy }

func (s *Service) List(ctx context.Context) ([]Message, error) {
	return s.store.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*Message, error) {
	return s.store.Get(ctx, id)
}

// actorKey is the identity the policy sees. An unverified demo identity can
// never act as the author, whatever email it declares.
func (s *Service) actorKey(a identity.Actor) (string, error) {
	key := a.Key()
	if a.Demo && s.policy.isAuthor(key) {
		return "", fmt.Errorf("%w: the author identity needs a verified sign-in", ErrForbidden)
	}
	return key, nil
}

func (s *Service) Create(ctx context.Context, actor identity.Actor, m *Message) (*Message, error) {
	if _, err := s.actorKey(actor); err != nil {
		s.metrics.observe("create", err)
		return nil, err
	}
	if !strings.EqualFold(actor.Key(), strings.TrimSpace(m.Email)) {
		s.metrics.observe("create", ErrForbidden)
		return nil, fmt.Errorf("%w: sender does not match the signed-in identity", ErrForbidden)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	m.Email = actor.Key()
	if m.Name == "" {
		m.Name = actor.Name
	}
	if m.Image == "" {
		m.Image = actor.Avatar
	}
	m.IsShow = true
	for i := range m.Attachments {
		if m.Attachments[i].ID == "" {
			m.Attachments[i].ID = uuid.NewString()
		}
	}
	if err := m.Validate(); err != nil {
		s.metrics.observe("create", err)
		return nil, err
	}

	if err := s.store.Create(ctx, m); err != nil {
		s.metrics.observe("create", err)
		return nil, err
	}
	s.metrics.observe("create", nil)
	s.publish(ctx, feed.Insert(feed.TableMessages, m.ID))
	return m, nil
}

func (s *Service) Edit(ctx context.Context, actor identity.Actor, id, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		s.metrics.observe("edit", ErrValidation)
		return nil, fmt.Errorf("%w: message is empty", ErrValidation)
	}
	if len(body) > MaxBodyLength {
		s.metrics.observe("edit", ErrValidation)
		return nil, fmt.Errorf("%w: message too long", ErrValidation)
	}

	existing, err := s.store.Get(ctx, id)
	if err != nil {
		s.metrics.observe("edit", err)
		return nil, err
	}
	key, err := s.actorKey(actor)
	if err != nil {
		s.metrics.observe("edit", err)
		return nil, err
	}
	if !s.policy.CanModify(key, existing) {
		s.metrics.observe("edit", ErrForbidden)
		return nil, ErrForbidden
	}

	updated, err := s.store.UpdateBody(ctx, id, body, s.now().UTC())
	if err != nil {
		s.metrics.observe("edit", err)
		return nil, err
	}
	s.metrics.observe("edit", nil)
	s.publishUpdate(ctx, updated)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, actor identity.Actor, id string) error {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		s.metrics.observe("delete", err)
		return err
	}
	key, err := s.actorKey(actor)
	if err != nil {
		s.metrics.observe("delete", err)
		return err
	}
	if !s.policy.CanModify(key, existing) {
		s.metrics.observe("delete", ErrForbidden)
		return ErrForbidden
	}
	if err := s.store.Delete(ctx, id); err != nil {
		s.metrics.observe("delete", err)
		return err
	}
	s.metrics.observe("delete", nil)
	s.publish(ctx, feed.Delete(feed.TableMessages, id))
	return nil
}

// SetPinned reports a missing message before checking the pin privilege.
func (s *Service) SetPinned(ctx context.Context, actor identity.Actor, id string, pinned bool) (*Message, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		s.metrics.observe("pin", err)
		return nil, err
	}
	key, err := s.actorKey(actor)
	if err != nil {
		s.metrics.observe("pin", err)
		return nil, err
	}
	if !s.policy.CanPin(key) {
		s.metrics.observe("pin", ErrForbidden)
		return nil, ErrForbidden
	}
	updated, err := s.store.SetPinned(ctx, id, pinned)
	if err != nil {
		s.metrics.observe("pin", err)
		return nil, err
	}
	s.metrics.observe("pin", nil)
	s.publishUpdate(ctx, updated)
	return updated, nil
}

func (s *Service) publishUpdate(ctx context.Context, m *Message) {
	ev, err := feed.Update(feed.TableMessages, m.ID, m)
	if err != nil {
		slog.ErrorContext(ctx, "encode update event", "id", m.ID, "err", err)
		return
	}
	s.publish(ctx, ev)
}

// publish never fails the request: the row is already committed and clients
// recover on their next bulk fetch.
func (s *Service) publish(ctx context.Context, ev feed.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		slog.WarnContext(ctx, "publish live event", "op", ev.Op, "id", ev.ID, "err", err)
		s.metrics.feedEvent("publish", "error")
		return
	}
	s.metrics.feedEvent("publish", "ok")
}
