package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-smarttalk/internal/feed"
	"go-smarttalk/internal/identity"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []feed.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev feed.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ops() []feed.Op {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]feed.Op, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Op)
	}
	return out
}

var (
	owner = identity.Actor{Name: "Owner", Email: "owner@example.com"}
	ann   = identity.Actor{Name: "Ann", Email: "ann@example.com"}
	bob   = identity.Actor{Name: "Bob", Email: "bob@example.com"}
)

func newTestService(t *testing.T) (*Service, *recordingPublisher, *Metrics) {
	t.Helper()
	pub := &recordingPublisher{}
	metrics := NewMetrics(prometheus.NewRegistry())
	svc := NewService(NewMemoryStore(), pub, Policy{Author: owner.Email}, metrics)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return svc, pub, metrics
}

func seed(t *testing.T, svc *Service, actor identity.Actor, body string) *Message {
	t.Helper()
	m, err := svc.Create(context.Background(), actor, &Message{Email: actor.Email, Body: body})
	require.NoError(t, err)
	return m
}

func TestServiceCreate(t *testing.T) {
	svc, pub, metrics := newTestService(t)

	m := seed(t, svc, ann, "hello")
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "Ann", m.Name)
	assert.True(t, m.IsShow)
	assert.False(t, m.CreatedAt.IsZero())

	got, err := svc.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Body)
	assert.Equal(t, []feed.Op{feed.OpInsert}, pub.ops())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Mutations.WithLabelValues("create", "ok")))
}

func TestServiceCreateKeepsClientIDAndAttachments(t *testing.T) {
	svc, _, _ := newTestService(t)

	in := &Message{
		ID:    "client-id",
		Email: ann.Email,
		Attachments: []Attachment{{
			FileName: "a.png", MimeType: "image/png", Type: AttachmentImage, FileSize: 3, PublicURL: "https://x/a.png",
		}},
	}
	m, err := svc.Create(context.Background(), ann, in)
	require.NoError(t, err)
	assert.Equal(t, "client-id", m.ID)

	got, err := svc.Get(context.Background(), "client-id")
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	assert.NotEmpty(t, got.Attachments[0].ID)
	assert.Equal(t, "client-id", got.Attachments[0].MessageID)
}

func TestServiceCreateRejects(t *testing.T) {
	svc, pub, _ := newTestService(t)

	_, err := svc.Create(context.Background(), ann, &Message{Email: bob.Email, Body: "spoof"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Create(context.Background(), ann, &Message{Email: ann.Email, Body: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, pub.ops())
}

func TestServiceCreateSurvivesPublishFailure(t *testing.T) {
	svc, pub, metrics := newTestService(t)
	pub.err = errors.New("redis down")

	m := seed(t, svc, ann, "still stored")
	_, err := svc.Get(context.Background(), m.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FeedEvents.WithLabelValues("publish", "error")))
}

func TestServiceEdit(t *testing.T) {
	svc, pub, _ := newTestService(t)
	m := seed(t, svc, ann, "first")

	_, err := svc.Edit(context.Background(), bob, m.ID, "hijack")
	assert.ErrorIs(t, err, ErrForbidden)

	got, _ := svc.Get(context.Background(), m.ID)
	assert.Equal(t, "first", got.Body, "rejected edit leaves the row unchanged")

	edited, err := svc.Edit(context.Background(), ann, m.ID, " second ")
	require.NoError(t, err)
	assert.Equal(t, "second", edited.Body)
	require.NotNil(t, edited.UpdatedAt)

	byOwner, err := svc.Edit(context.Background(), owner, m.ID, "moderated")
	require.NoError(t, err)
	assert.Equal(t, "moderated", byOwner.Body)

	_, err = svc.Edit(context.Background(), ann, m.ID, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Edit(context.Background(), ann, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []feed.Op{feed.OpInsert, feed.OpUpdate, feed.OpUpdate}, pub.ops())
}

func TestServiceDelete(t *testing.T) {
	svc, pub, _ := newTestService(t)
	m := seed(t, svc, ann, "bye")

	assert.ErrorIs(t, svc.Delete(context.Background(), bob, m.ID), ErrForbidden)
	require.NoError(t, svc.Delete(context.Background(), ann, m.ID))

	_, err := svc.Get(context.Background(), m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(context.Background(), ann, m.ID), ErrNotFound)
	assert.Equal(t, []feed.Op{feed.OpInsert, feed.OpDelete}, pub.ops())
}

func TestServiceSetPinned(t *testing.T) {
	svc, pub, _ := newTestService(t)
	m := seed(t, svc, ann, "pin me")

	_, err := svc.SetPinned(context.Background(), ann, m.ID, true)
	assert.ErrorIs(t, err, ErrForbidden, "authors cannot pin their own messages")

	_, err = svc.SetPinned(context.Background(), ann, "missing", true)
	assert.ErrorIs(t, err, ErrNotFound, "missing wins over forbidden")

	pinned, err := svc.SetPinned(context.Background(), owner, m.ID, true)
	require.NoError(t, err)
	assert.True(t, pinned.IsPinned)

	require.Len(t, pub.events, 2)
	assert.Equal(t, feed.OpUpdate, pub.events[1].Op)
	assert.Contains(t, string(pub.events[1].Record), `"is_pinned":true`)
}

func TestServiceDemoOwnerHasNoPrivileges(t *testing.T) {
	svc, pub, _ := newTestService(t)
	m := seed(t, svc, ann, "hands off")

	demoOwner := owner
	demoOwner.Demo = true

	_, err := svc.SetPinned(context.Background(), demoOwner, m.ID, true)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Edit(context.Background(), demoOwner, m.ID, "moderated")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.Delete(context.Background(), demoOwner, m.ID), ErrForbidden)
	_, err = svc.Create(context.Background(), demoOwner, &Message{Email: owner.Email, Body: "as owner"})
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := svc.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "hands off", got.Body)
	assert.False(t, got.IsPinned)
	assert.Equal(t, []feed.Op{feed.OpInsert}, pub.ops())
}

func TestServiceListOrdered(t *testing.T) {
	svc, _, _ := newTestService(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, body := range []string{"c", "a", "b"} {
		offset := []int{3, 1, 2}[i]
		_, err := svc.Create(context.Background(), ann, &Message{
			Email: ann.Email, Body: body, CreatedAt: base.Add(time.Duration(offset) * time.Minute),
		})
		require.NoError(t, err)
	}
	msgs, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{msgs[0].Body, msgs[1].Body, msgs[2].Body})
}
