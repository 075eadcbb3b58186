package apiclient

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"go-smarttalk/internal/chat"
)

// ProgressFunc receives coarse upload milestones in percent.
type ProgressFunc func(percent int)

// Upload validates the file locally, streams it to the API and reports
// progress at 0, 30, 70 and 100 percent.
func (c *Client) Upload(ctx context.Context, fileName, mimeType string, size int64, r io.Reader, progress ProgressFunc) (*chat.UploadResponse, error) {
	if progress == nil {
		progress = func(int) {}
	}
	progress(0)

	if size > chat.MaxAttachmentSize {
		return nil, fmt.Errorf("%w: file exceeds 50MB", chat.ErrValidation)
	}
	if _, err := chat.ClassifyMIME(mimeType); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
		h.Set("Content-Type", mimeType)
		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/upload", nil), pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req.Header)
	progress(30)

	resp, err := c.http.Do(req)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("%w: %v", chat.ErrUpstream, err)
	}
	defer resp.Body.Close()

	var out chat.UploadResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	progress(70)
	if out.PublicURL == "" {
		return nil, fmt.Errorf("%w: upload returned no url", chat.ErrUpstream)
	}
	progress(100)
	return &out, nil
}

// Attachment turns an upload result into an attachment for Send.
func Attachment(up *chat.UploadResponse) chat.Attachment {
	return chat.Attachment{
		FileName:    up.FileName,
		FileData:    up.PublicURL,
		StoragePath: up.StoragePath,
		PublicURL:   up.PublicURL,
		FileSize:    up.FileSize,
		MimeType:    up.MimeType,
		Type:        up.Type,
	}
}
