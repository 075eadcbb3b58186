package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-smarttalk/internal/chat"
	"go-smarttalk/internal/feed"
	"go-smarttalk/internal/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNetwork = errors.New("network down")

type fakeBackend struct {
	store *chat.MemoryStore

	failCreate atomic.Bool
	failEdit   atomic.Bool
	calls      atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{store: chat.NewMemoryStore()}
}

func (b *fakeBackend) List(ctx context.Context) ([]chat.Message, error) {
	b.calls.Add(1)
	return b.store.List(ctx)
}

func (b *fakeBackend) Get(ctx context.Context, id string) (*chat.Message, error) {
	b.calls.Add(1)
	return b.store.Get(ctx, id)
}

func (b *fakeBackend) Create(ctx context.Context, m *chat.Message) error {
	b.calls.Add(1)
	if b.failCreate.Load() {
		return errNetwork
	}
	return b.store.Create(ctx, m)
}

func (b *fakeBackend) Edit(ctx context.Context, id, body string) (*chat.Message, error) {
	b.calls.Add(1)
	if b.failEdit.Load() {
		return nil, errNetwork
	}
	return b.store.UpdateBody(ctx, id, body, time.Now())
}

func (b *fakeBackend) Delete(ctx context.Context, id string) error {
	b.calls.Add(1)
	return b.store.Delete(ctx, id)
}

func (b *fakeBackend) SetPinned(ctx context.Context, id string, pinned bool) (*chat.Message, error) {
	b.calls.Add(1)
	return b.store.SetPinned(ctx, id, pinned)
}

type staticIdentity struct {
	a  identity.Actor
	ok bool
}

func (s staticIdentity) Actor() (identity.Actor, bool) { return s.a, s.ok }

type notes struct {
	mu  sync.Mutex
	all []string
}

func (n *notes) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.all = append(n.all, msg)
}

func (n *notes) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.all) == 0 {
		return ""
	}
	return n.all[len(n.all)-1]
}

var (
	owner = identity.Actor{Name: "Owner", Email: "owner@example.com"}
	ann   = identity.Actor{Name: "Ann", Email: "ann@example.com"}
	bob   = identity.Actor{Name: "Bob", Email: "bob@example.com"}
	t0    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	r       *Reconciler
	backend *fakeBackend
	events  chan feed.Event
	notes   *notes
}

func start(t *testing.T, actor *identity.Actor, opts ...Option) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{backend: newFakeBackend(), events: make(chan feed.Event, 16), notes: &notes{}}
	ident := staticIdentity{}
	if actor != nil {
		ident = staticIdentity{a: *actor, ok: true}
	}
	opts = append([]Option{WithNotifier(h.notes)}, opts...)
	h.r = New(h.backend, ident, chat.Policy{Author: owner.Email}, opts...)
	go h.r.Run(ctx, h.events)
	return h
}

func (h *harness) stored(t *testing.T, id, email string, at time.Time) chat.Message {
	t.Helper()
	m := chat.Message{ID: id, Name: "x", Email: email, Body: id, CreatedAt: at, Attachments: []chat.Attachment{}}
	require.NoError(t, h.backend.store.Create(context.Background(), &m))
	return m
}

func (h *harness) messages(t *testing.T) []chat.Message {
	t.Helper()
	msgs, err := h.r.Messages(context.Background())
	require.NoError(t, err)
	return msgs
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestLoadSeedsOnlyWhenEmpty(t *testing.T) {
	h := start(t, &ann)
	h.stored(t, "b", bob.Email, t0.Add(time.Minute))
	h.stored(t, "a", bob.Email, t0)

	applied, err := h.r.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, []string{"a", "b"}, ids(h.messages(t)))

	h.stored(t, "c", bob.Email, t0.Add(2*time.Minute))
	applied, err = h.r.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, applied, "a non-empty collection is never overwritten")
	assert.Equal(t, []string{"a", "b"}, ids(h.messages(t)))
}

func TestLoadDiscardedAfterOptimisticSend(t *testing.T) {
	h := start(t, &ann)
	h.stored(t, "old", bob.Email, t0)

	sent, err := h.r.Send(context.Background(), SendInput{Body: "hi"})
	require.NoError(t, err)

	applied, err := h.r.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, []string{sent.ID}, ids(h.messages(t)))
}

func TestSendOptimistic(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []ChangeOp
	)
	h := start(t, &ann, WithObserver(func(c Change) {
		mu.Lock()
		seen = append(seen, c.Op)
		mu.Unlock()
	}))
	ctx := context.Background()

	m, err := h.r.Send(ctx, SendInput{Body: "hello", ReplyTo: "Bob", ReplyToID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, ann.Email, m.Email)
	assert.Equal(t, "Ann", m.Name)
	assert.True(t, m.IsReply)
	assert.Equal(t, "b1", m.Metadata["reply_to_id"])

	stored, err := h.backend.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Body)
	assert.Equal(t, []string{m.ID}, ids(h.messages(t)))
	assert.Equal(t, "Message sent", h.notes.last())

	mu.Lock()
	assert.Equal(t, []ChangeOp{ChangeInsert}, seen)
	mu.Unlock()
}

func TestSendEmptyIsNoOp(t *testing.T) {
	h := start(t, &ann)

	_, err := h.r.Send(context.Background(), SendInput{Body: "   "})
	assert.ErrorIs(t, err, chat.ErrValidation)
	assert.Zero(t, h.backend.calls.Load(), "backend must not be called")
	assert.Empty(t, h.messages(t))

	_, err = h.r.Send(context.Background(), SendInput{Attachments: []chat.Attachment{{
		FileName: "a.png", Type: chat.AttachmentImage, MimeType: "image/png", PublicURL: "https://x/a.png",
	}}})
	assert.NoError(t, err, "attachment-only sends are allowed")
}

func TestSendRequiresActor(t *testing.T) {
	h := start(t, nil)
	_, err := h.r.Send(context.Background(), SendInput{Body: "hi"})
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
	assert.Empty(t, h.messages(t))
}

func TestFailedSendRollsBack(t *testing.T) {
	h := start(t, &ann)
	h.backend.failCreate.Store(true)

	_, err := h.r.Send(context.Background(), SendInput{Body: "lost"})
	assert.ErrorIs(t, err, errNetwork)
	assert.Empty(t, h.messages(t))
	assert.Equal(t, "Failed to send message", h.notes.last())
}

func TestLiveInsertUpsertsOptimisticCopy(t *testing.T) {
	h := start(t, &ann)

	m, err := h.r.Send(context.Background(), SendInput{Body: "mine"})
	require.NoError(t, err)

	h.events <- feed.Insert(feed.TableMessages, m.ID)
	other := h.stored(t, "other", bob.Email, time.Now().Add(time.Hour))
	h.events <- feed.Insert(feed.TableMessages, other.ID)

	require.Eventually(t, func() bool { return len(h.messages(t)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{m.ID, "other"}, ids(h.messages(t)))
}

func TestLiveInsertFetchFailureSkipped(t *testing.T) {
	h := start(t, &ann)
	h.events <- feed.Insert(feed.TableMessages, "ghost")
	h.stored(t, "real", bob.Email, t0)
	h.events <- feed.Insert(feed.TableMessages, "real")

	require.Eventually(t, func() bool { return len(h.messages(t)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"real"}, ids(h.messages(t)))
}

func TestLiveUpdateAndDelete(t *testing.T) {
	h := start(t, &ann)
	m := h.stored(t, "m1", ann.Email, t0)
	m.Attachments = []chat.Attachment{{ID: "a1", FileName: "a.png", Type: chat.AttachmentImage, PublicURL: "https://x/a.png"}}
	require.NoError(t, h.backend.store.Delete(context.Background(), "m1"))
	require.NoError(t, h.backend.store.Create(context.Background(), &m))
	_, err := h.r.Load(context.Background())
	require.NoError(t, err)

	rec := m
	rec.Body = "edited elsewhere"
	rec.Attachments = nil
	ev, err := feed.Update(feed.TableMessages, "m1", rec)
	require.NoError(t, err)
	h.events <- ev

	absent, err := feed.Update(feed.TableMessages, "nope", chat.Message{ID: "nope", Body: "x"})
	require.NoError(t, err)
	h.events <- absent

	require.Eventually(t, func() bool {
		msgs := h.messages(t)
		return len(msgs) == 1 && msgs[0].Body == "edited elsewhere"
	}, time.Second, 5*time.Millisecond)
	msgs := h.messages(t)
	require.Len(t, msgs[0].Attachments, 1, "attachments survive an update without the join")

	h.events <- feed.Delete(feed.TableMessages, "m1")
	h.events <- feed.Delete(feed.TableMessages, "m1")
	require.Eventually(t, func() bool { return len(h.messages(t)) == 0 }, time.Second, 5*time.Millisecond)
}

func TestEditPermissions(t *testing.T) {
	h := start(t, &bob)
	h.stored(t, "m1", ann.Email, t0)
	_, err := h.r.Load(context.Background())
	require.NoError(t, err)
	before := h.messages(t)
	calls := h.backend.calls.Load()

	_, err = h.r.Edit(context.Background(), "m1", "hijack")
	assert.ErrorIs(t, err, chat.ErrForbidden)
	assert.Equal(t, calls, h.backend.calls.Load(), "rejected locally without a network call")
	assert.Equal(t, before, h.messages(t))

	err = h.r.Delete(context.Background(), "m1")
	assert.ErrorIs(t, err, chat.ErrForbidden)
	assert.Equal(t, before, h.messages(t))
}

func TestEditByAuthorAndOwner(t *testing.T) {
	h := start(t, &ann)
	h.stored(t, "m1", ann.Email, t0)
	_, err := h.r.Load(context.Background())
	require.NoError(t, err)

	m, err := h.r.Edit(context.Background(), "m1", "better")
	require.NoError(t, err)
	assert.Equal(t, "better", m.Body)
	assert.Equal(t, "better", h.messages(t)[0].Body)

	h.backend.failEdit.Store(true)
	_, err = h.r.Edit(context.Background(), "m1", "worse")
	assert.ErrorIs(t, err, errNetwork)
	assert.Equal(t, "better", h.messages(t)[0].Body, "failed edit leaves state unchanged")
	assert.Equal(t, "Failed to edit message", h.notes.last())

	o := start(t, &owner)
	o.stored(t, "m2", ann.Email, t0)
	_, err = o.r.Load(context.Background())
	require.NoError(t, err)
	_, err = o.r.Edit(context.Background(), "m2", "moderated")
	assert.NoError(t, err)
	require.NoError(t, o.r.Delete(context.Background(), "m2"))
	assert.Empty(t, o.messages(t))
}

func TestPinOnlyOwner(t *testing.T) {
	h := start(t, &ann)
	h.stored(t, "m1", ann.Email, t0)
	_, err := h.r.Load(context.Background())
	require.NoError(t, err)

	_, err = h.r.SetPinned(context.Background(), "m1", true)
	assert.ErrorIs(t, err, chat.ErrForbidden)

	o := start(t, &owner)
	o.stored(t, "old", ann.Email, t0)
	o.stored(t, "new", ann.Email, t0.Add(time.Hour))
	o.stored(t, "plain", ann.Email, t0.Add(2*time.Hour))
	_, err = o.r.Load(context.Background())
	require.NoError(t, err)

	for _, id := range []string{"old", "new"} {
		m, err := o.r.SetPinned(context.Background(), id, true)
		require.NoError(t, err)
		assert.True(t, m.IsPinned)
	}
	pinned, err := o.r.Pinned(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, ids(pinned))
}

func TestFirstMessageID(t *testing.T) {
	h := start(t, &ann)
	h.stored(t, "theirs", bob.Email, t0)
	_, err := h.r.Load(context.Background())
	require.NoError(t, err)

	_, ok := h.r.FirstMessageID(context.Background())
	assert.False(t, ok)

	first, err := h.r.Send(context.Background(), SendInput{Body: "hi"})
	require.NoError(t, err)
	_, err = h.r.Send(context.Background(), SendInput{Body: "again"})
	require.NoError(t, err)

	id, ok := h.r.FirstMessageID(context.Background())
	require.True(t, ok)
	assert.Equal(t, first.ID, id)
}

func TestFirstMessageIDNotSetForReturningAuthor(t *testing.T) {
	h := start(t, &ann)
	h.stored(t, "mine", ann.Email, t0)
	_, err := h.r.Load(context.Background())
	require.NoError(t, err)

	_, err = h.r.Send(context.Background(), SendInput{Body: "hi"})
	require.NoError(t, err)
	_, ok := h.r.FirstMessageID(context.Background())
	assert.False(t, ok)
}

func TestStoppedReconciler(t *testing.T) {
	r := New(newFakeBackend(), staticIdentity{}, chat.Policy{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx, nil) }()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	_, err := r.Messages(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
