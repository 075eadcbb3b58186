package reconciler

import (
	"sort"
	"strings"

	"go-smarttalk/internal/chat"
)

// messageSet holds at most one message per id, in arrival order. Readers get
// sorted copies.
type messageSet struct {
	items []chat.Message
}

func (s *messageSet) len() int { return len(s.items) }

func (s *messageSet) find(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *messageSet) get(id string) (chat.Message, bool) {
	if i := s.find(id); i >= 0 {
		return s.items[i].Clone(), true
	}
	return chat.Message{}, false
}

// reset replaces the whole collection, collapsing duplicate ids onto the
// last copy.
func (s *messageSet) reset(msgs []chat.Message) {
	s.items = s.items[:0]
	for _, m := range msgs {
		s.upsert(m)
	}
}

// upsert replaces the message with the same id or appends m.
func (s *messageSet) upsert(m chat.Message) {
	m = m.Clone()
	if i := s.find(m.ID); i >= 0 {
		s.items[i] = m
		return
	}
	s.items = append(s.items, m)
}

// update replaces an existing message only. Update records do not carry the
// attachment join, so an incoming copy without attachments keeps the local
// ones.
func (s *messageSet) update(m chat.Message) bool {
	i := s.find(m.ID)
	if i < 0 {
		return false
	}
	m = m.Clone()
	if len(m.Attachments) == 0 {
		m.Attachments = s.items[i].Clone().Attachments
	}
	s.items[i] = m
	return true
}

func (s *messageSet) remove(id string) bool {
	i := s.find(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

func (s *messageSet) hasAuthor(email string) bool {
	for i := range s.items {
		if strings.EqualFold(s.items[i].Email, email) {
			return true
		}
	}
	return false
}

// sorted returns copies ordered by creation time; ties keep arrival order.
func (s *messageSet) sorted() []chat.Message {
	out := make([]chat.Message, len(s.items))
	for i := range s.items {
		out[i] = s.items[i].Clone()
	}
	sortByCreated(out)
	return out
}

// pinned returns pinned messages, newest first.
func (s *messageSet) pinned() []chat.Message {
	var out []chat.Message
	for i := range s.items {
		if s.items[i].IsPinned {
			out = append(out, s.items[i].Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func sortByCreated(msgs []chat.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
}
