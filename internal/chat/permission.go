package chat

import "strings"

// Policy holds the single privileged identity (the site owner).
type Policy struct {
	Author string
}

func (p Policy) isAuthor(actor string) bool {
	return p.Author != "" && strings.EqualFold(actor, p.Author)
}

// CanModify reports whether actor may edit or delete m: the privileged author
// may touch anything, everyone else only their own messages.
func (p Policy) CanModify(actor string, m *Message) bool {
	if strings.TrimSpace(actor) == "" || m == nil {
		return false
	}
	return p.isAuthor(actor) || strings.EqualFold(actor, m.Email)
}

// CanPin is independent of message ownership.
func (p Policy) CanPin(actor string) bool {
	return strings.TrimSpace(actor) != "" && p.isAuthor(actor)
}
