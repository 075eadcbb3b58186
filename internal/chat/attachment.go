package chat

import (
	"fmt"
	"mime"
	"strings"
)

const MaxAttachmentSize = 50 << 20

var documentTypes = map[string]struct{}{
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"text/plain": {},
}

// ClassifyMIME maps a MIME type onto an attachment category.
func ClassifyMIME(mimeType string) (AttachmentType, error) {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", fmt.Errorf("%w: unsupported file type %q", ErrValidation, mimeType)
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return AttachmentImage, nil
	case strings.HasPrefix(mt, "audio/"):
		return AttachmentAudio, nil
	}
	if _, ok := documentTypes[mt]; ok {
		return AttachmentDocument, nil
	}
	return "", fmt.Errorf("%w: unsupported file type %q", ErrValidation, mimeType)
}

// NewAttachment builds a validated attachment. ref is a public URL or inline data.
func NewAttachment(id, fileName, mimeType string, size int64, ref string) (Attachment, error) {
	kind, err := ClassifyMIME(mimeType)
	if err != nil {
		return Attachment{}, err
	}
	a := Attachment{
		ID:       id,
		FileName: fileName,
		FileSize: size,
		MimeType: mimeType,
		Type:     kind,
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		a.PublicURL = ref
	}
	a.FileData = ref
	return a, a.Validate()
}

// Validate checks an attachment received at a boundary.
func (a Attachment) Validate() error {
	if strings.TrimSpace(a.FileName) == "" {
		return fmt.Errorf("%w: attachment without file name", ErrValidation)
	}
	if !a.Type.Valid() {
		return fmt.Errorf("%w: unknown attachment type %q", ErrValidation, a.Type)
	}
	if a.FileSize < 0 || a.FileSize > MaxAttachmentSize {
		return fmt.Errorf("%w: attachment size %d out of range", ErrValidation, a.FileSize)
	}
	if a.Source() == "" {
		return fmt.Errorf("%w: attachment %q has no content", ErrValidation, a.FileName)
	}
	if a.DurationSeconds != nil && a.Type != AttachmentAudio {
		return fmt.Errorf("%w: duration is only valid for audio", ErrValidation)
	}
	return nil
}
