package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go-smarttalk/internal/chat"
	"go-smarttalk/internal/feed"
	"go-smarttalk/internal/identity"

	"github.com/google/uuid"
)

var ErrStopped = errors.New("reconciler stopped")

// Backend is the remote message store.
type Backend interface {
	List(ctx context.Context) ([]chat.Message, error)
	Get(ctx context.Context, id string) (*chat.Message, error)
	Create(ctx context.Context, m *chat.Message) error
	Edit(ctx context.Context, id, body string) (*chat.Message, error)
	Delete(ctx context.Context, id string) error
	SetPinned(ctx context.Context, id string, pinned bool) (*chat.Message, error)
}

// Identity supplies the acting user; *session.Session implements it.
type Identity interface {
	Actor() (identity.Actor, bool)
}

// Notifier shows short status messages to the user.
type Notifier interface {
	Notify(msg string)
}

type NotifyFunc func(msg string)

func (f NotifyFunc) Notify(msg string) { f(msg) }

type ChangeOp string

const (
	ChangeSeed     ChangeOp = "seed"
	ChangeInsert   ChangeOp = "insert"
	ChangeUpdate   ChangeOp = "update"
	ChangeDelete   ChangeOp = "delete"
	ChangeRollback ChangeOp = "rollback"
)

// Change describes one applied mutation. Message is empty for seeds.
type Change struct {
	Op      ChangeOp
	ID      string
	Message chat.Message
}

type SendInput struct {
	Body        string
	Attachments []chat.Attachment
	ReplyTo     string // display name of the author being answered
	ReplyToID   string
	Metadata    chat.Metadata
}

type Option func(*Reconciler)

func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithObserver registers fn to run on the owner goroutine after each applied
// change. fn must not call back into the Reconciler.
func WithObserver(fn func(Change)) Option {
	return func(r *Reconciler) { r.observers = append(r.observers, fn) }
}

// WithFetchTimeout bounds the re-fetch done for each live insert.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.fetchTimeout = d }
}

// Reconciler keeps a local, ordered copy of the conversation consistent with
// the backend. All state is owned by the goroutine running Run; the exported
// methods queue work onto it.
type Reconciler struct {
	backend      Backend
	ident        Identity
	policy       chat.Policy
	notifier     Notifier
	observers    []func(Change)
	fetchTimeout time.Duration
	now          func() time.Time

	ops  chan func()
	done chan struct{}

	// owned by Run
	set     messageSet
	firstID string
}

func New(backend Backend, ident Identity, policy chat.Policy, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend:      backend,
		ident:        ident,
		policy:       policy,
		notifier:     NotifyFunc(func(string) {}),
		fetchTimeout: 10 * time.Second,
		now:          time.Now,
		ops:          make(chan func()),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run applies queued operations and live events until ctx ends. Events are
// applied in delivery order. A closed events channel only stops live
// updates.
func (r *Reconciler) Run(ctx context.Context, events <-chan feed.Event) error {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-r.ops:
			op()
		case ev, ok := <-events:
			if !ok {
				slog.Warn("live feed closed")
				events = nil
				continue
			}
			r.apply(ctx, ev)
		}
	}
}

// do runs fn on the owner goroutine and waits for it.
func (r *Reconciler) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case r.ops <- func() { fn(); close(finished) }:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (r *Reconciler) emit(c Change) {
	for _, fn := range r.observers {
		fn(c)
	}
}

func (r *Reconciler) notify(msg string) {
	r.notifier.Notify(msg)
}

func (r *Reconciler) apply(ctx context.Context, ev feed.Event) {
	if ev.Table != "" && ev.Table != feed.TableMessages {
		return
	}
	switch ev.Op {
	case feed.OpInsert:
		fctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
		m, err := r.backend.Get(fctx, ev.ID)
		cancel()
		if err != nil {
			slog.Warn("fetch inserted message", "id", ev.ID, "err", err)
			return
		}
		if m.Attachments == nil {
			m.Attachments = []chat.Attachment{}
		}
		r.set.upsert(*m)
		r.emit(Change{Op: ChangeInsert, ID: m.ID, Message: m.Clone()})

	case feed.OpUpdate:
		var m chat.Message
		if err := json.Unmarshal(ev.Record, &m); err != nil || m.ID == "" {
			slog.Warn("decode update record", "id", ev.ID, "err", err)
			return
		}
		if r.set.update(m) {
			cur, _ := r.set.get(m.ID)
			r.emit(Change{Op: ChangeUpdate, ID: m.ID, Message: cur})
		}

	case feed.OpDelete:
		if r.set.remove(ev.ID) {
			r.emit(Change{Op: ChangeDelete, ID: ev.ID})
		}
	}
}

// Load seeds the collection from the backend. The fetch is discarded when
// the collection already holds messages. It reports whether it was applied.
func (r *Reconciler) Load(ctx context.Context) (bool, error) {
	msgs, err := r.backend.List(ctx)
	if err != nil {
		r.notify("Failed to load messages")
		return false, err
	}
	var applied bool
	err = r.do(ctx, func() {
		if r.set.len() > 0 {
			return
		}
		r.set.reset(msgs)
		applied = true
		r.emit(Change{Op: ChangeSeed})
	})
	return applied, err
}

// Send appends the message locally before the backend confirms it and
// removes it again if the backend rejects it.
func (r *Reconciler) Send(ctx context.Context, in SendInput) (*chat.Message, error) {
	actor, ok := r.ident.Actor()
	if !ok {
		r.notify("Please sign in to send messages")
		return nil, identity.ErrUnauthenticated
	}
	if strings.TrimSpace(in.Body) == "" && len(in.Attachments) == 0 {
		return nil, fmt.Errorf("%w: message is empty", chat.ErrValidation)
	}

	m := chat.Message{
		ID:          uuid.NewString(),
		Name:        actor.Name,
		Email:       actor.Key(),
		Image:       actor.Avatar,
		Body:        in.Body,
		Attachments: make([]chat.Attachment, 0, len(in.Attachments)),
		IsReply:     in.ReplyTo != "",
		ReplyTo:     in.ReplyTo,
		CreatedAt:   r.now().UTC(),
		IsShow:      true,
		Metadata:    in.Metadata,
	}
	if in.ReplyToID != "" {
		if m.Metadata == nil {
			m.Metadata = chat.Metadata{}
		}
		m.Metadata["reply_to_id"] = in.ReplyToID
	}
	for _, a := range in.Attachments {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.MessageID = m.ID
		m.Attachments = append(m.Attachments, a)
	}

	var first bool
	if err := r.do(ctx, func() {
		first = r.firstID == "" && !r.set.hasAuthor(m.Email)
		r.set.upsert(m)
		r.emit(Change{Op: ChangeInsert, ID: m.ID, Message: m.Clone()})
	}); err != nil {
		return nil, err
	}

	if err := r.backend.Create(ctx, &m); err != nil {
		r.notify("Failed to send message")
		// Roll back even if the caller's ctx is gone.
		_ = r.do(context.Background(), func() {
			if r.set.remove(m.ID) {
				r.emit(Change{Op: ChangeRollback, ID: m.ID})
			}
		})
		return nil, err
	}
	r.notify("Message sent")

	if first {
		_ = r.do(ctx, func() {
			if r.firstID == "" {
				r.firstID = m.ID
			}
		})
	}
	return &m, nil
}

// authorize runs the local permission check without touching the network.
func (r *Reconciler) authorize(ctx context.Context, id string, check func(actor string, m *chat.Message) bool) error {
	actor, ok := r.ident.Actor()
	if !ok {
		return identity.ErrUnauthenticated
	}
	var (
		found   bool
		allowed bool
	)
	if err := r.do(ctx, func() {
		m, ok := r.set.get(id)
		found = ok
		allowed = ok && check(actor.Key(), &m)
	}); err != nil {
		return err
	}
	switch {
	case !found:
		return chat.ErrNotFound
	case !allowed:
		return chat.ErrForbidden
	}
	return nil
}

func (r *Reconciler) notifyDenied(err error, verb string) {
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		r.notify("Please sign in to " + verb + " messages")
	case errors.Is(err, chat.ErrNotFound):
		r.notify("Message not found")
	case errors.Is(err, chat.ErrForbidden):
		r.notify("You are not allowed to " + verb + " this message")
	}
}

func (r *Reconciler) Edit(ctx context.Context, id, body string) (*chat.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: message is empty", chat.ErrValidation)
	}
	if err := r.authorize(ctx, id, r.policy.CanModify); err != nil {
		r.notifyDenied(err, "edit")
		return nil, err
	}
	m, err := r.backend.Edit(ctx, id, body)
	if err != nil {
		r.notify("Failed to edit message")
		return nil, err
	}
	r.notify("Message edited successfully")
	return m, r.do(ctx, func() {
		if r.set.update(*m) {
			cur, _ := r.set.get(m.ID)
			r.emit(Change{Op: ChangeUpdate, ID: m.ID, Message: cur})
		}
	})
}

func (r *Reconciler) Delete(ctx context.Context, id string) error {
	if err := r.authorize(ctx, id, r.policy.CanModify); err != nil {
		r.notifyDenied(err, "delete")
		return err
	}
	if err := r.backend.Delete(ctx, id); err != nil {
		r.notify("Failed to delete message")
		return err
	}
	r.notify("Message deleted successfully")
	return r.do(ctx, func() {
		if r.set.remove(id) {
			r.emit(Change{Op: ChangeDelete, ID: id})
		}
	})
}

func (r *Reconciler) SetPinned(ctx context.Context, id string, pinned bool) (*chat.Message, error) {
	err := r.authorize(ctx, id, func(actor string, _ *chat.Message) bool {
		return r.policy.CanPin(actor)
	})
	if err != nil {
		r.notifyDenied(err, "pin")
		return nil, err
	}
	m, err := r.backend.SetPinned(ctx, id, pinned)
	if err != nil {
		r.notify("Failed to toggle pin status")
		return nil, err
	}
	if pinned {
		r.notify("Message pinned successfully")
	} else {
		r.notify("Message unpinned successfully")
	}
	return m, r.do(ctx, func() {
		if r.set.update(*m) {
			cur, _ := r.set.get(m.ID)
			r.emit(Change{Op: ChangeUpdate, ID: m.ID, Message: cur})
		}
	})
}

// Messages returns the conversation ordered by creation time.
func (r *Reconciler) Messages(ctx context.Context) ([]chat.Message, error) {
	var out []chat.Message
	err := r.do(ctx, func() { out = r.set.sorted() })
	return out, err
}

// Pinned returns pinned messages, newest first.
func (r *Reconciler) Pinned(ctx context.Context) ([]chat.Message, error) {
	var out []chat.Message
	err := r.do(ctx, func() { out = r.set.pinned() })
	return out, err
}

// FirstMessageID is the id of the first message sent by an actor who had no
// earlier messages in the conversation. It is set at most once.
func (r *Reconciler) FirstMessageID(ctx context.Context) (string, bool) {
	var id string
	if err := r.do(ctx, func() { id = r.firstID }); err != nil {
		return "", false
	}
	return id, id != ""
}

// CanModify and CanPin let shells hide actions the actor cannot take.
func (r *Reconciler) CanModify(m *chat.Message) bool {
	a, ok := r.ident.Actor()
	return ok && r.policy.CanModify(a.Key(), m)
}

func (r *Reconciler) CanPin() bool {
	a, ok := r.ident.Actor()
	return ok && r.policy.CanPin(a.Key())
}
