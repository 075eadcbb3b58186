package chat

import (
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

type Message struct {
	ID          string       `json:"id"` // assigned by the sender before persistence
	Name        string       `json:"name"`
	Email       string       `json:"email"` // identity key of the sender
	Image       string       `json:"image,omitempty"`
	Body        string       `json:"message"`
	Attachments []Attachment `json:"attachments"`
	IsReply     bool         `json:"is_reply"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   *time.Time   `json:"updated_at,omitempty"`
	IsPinned    bool         `json:"is_pinned"`
	IsShow      bool         `json:"is_show"`
	Metadata    Metadata     `json:"metadata,omitempty"`
}

// Clone returns a copy that shares no slices or maps with m.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		out.UpdatedAt = &t
	}
	if m.Metadata != nil {
		out.Metadata = make(Metadata, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentDocument AttachmentType = "document"
)

func (t AttachmentType) Valid() bool {
	switch t {
	case AttachmentImage, AttachmentAudio, AttachmentDocument:
		return true
	}
	return false
}

type Attachment struct {
	ID              string         `json:"id"`
	MessageID       string         `json:"message_id,omitempty"`
	FileName        string         `json:"file_name"`
	FileData        string         `json:"file_data,omitempty"` // inline data or a URL
	StoragePath     string         `json:"storage_path,omitempty"`
	PublicURL       string         `json:"public_url,omitempty"`
	FileSize        int64          `json:"file_size"`
	MimeType        string         `json:"mime_type"`
	Type            AttachmentType `json:"attachment_type"`
	DurationSeconds *float64       `json:"duration_seconds,omitempty"`
}

// Source is the content reference to display, preferring the public URL.
func (a Attachment) Source() string {
	if a.PublicURL != "" {
		return a.PublicURL
	}
	return a.FileData
}

// Metadata is the optional extension map carried by a message. Only known
// keys are accepted.
type Metadata map[string]string

const maxMetadataValue = 256

var knownMetadataKeys = map[string]struct{}{
	"client":      {},
	"locale":      {},
	"source":      {},
	"reply_to_id": {},
}

func (md Metadata) Validate() error {
	for k, v := range md {
		if _, ok := knownMetadataKeys[k]; !ok {
			return fmt.Errorf("%w: unknown metadata key %q", ErrValidation, k)
		}
		if len(v) > maxMetadataValue {
			return fmt.Errorf("%w: metadata %q exceeds %d bytes", ErrValidation, k, maxMetadataValue)
		}
	}
	return nil
}

// ---------------------------------------------
// ⚡ API request/response shapes
// ---------------------------------------------

type EditRequest struct {
	Message string `json:"message"`
}

type PinRequest struct {
	ID       string `json:"id"`
	IsPinned bool   `json:"is_pinned"`
}

type UploadResponse struct {
	StoragePath string         `json:"storage_path"`
	PublicURL   string         `json:"public_url"`
	FileName    string         `json:"file_name"`
	FileSize    int64          `json:"file_size"`
	MimeType    string         `json:"mime_type"`
	Type        AttachmentType `json:"attachment_type"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const MaxBodyLength = 4000

// Validate checks the fields a new message must carry before it is stored.
func (m *Message) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: id is required", ErrValidation)
	case m.Email == "":
		return fmt.Errorf("%w: email is required", ErrValidation)
	case m.Name == "":
		return fmt.Errorf("%w: name is required", ErrValidation)
	case strings.TrimSpace(m.Body) == "" && len(m.Attachments) == 0:
		return fmt.Errorf("%w: message is empty", ErrValidation)
	case len(m.Body) > MaxBodyLength:
		return fmt.Errorf("%w: message too long", ErrValidation)
	case m.IsReply && m.ReplyTo == "":
		return fmt.Errorf("%w: reply target is required", ErrValidation)
	}
	for _, a := range m.Attachments {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return m.Metadata.Validate()
}
