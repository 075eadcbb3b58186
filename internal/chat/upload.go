package chat

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go-smarttalk/internal/storage"

	"github.com/google/uuid"
)

const (
	// multipart framing on top of the file itself
	uploadOverhead = 1 << 20
	// replaces the server-wide read timeout, which is sized for JSON bodies
	uploadReadTimeout = 5 * time.Minute
)

// ObjectPath namespaces uploads by identity: <email>/<unix-millis>_<random>.<ext>
func ObjectPath(email string, at time.Time, fileName, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("%s/%d_%s%s", strings.ToLower(email), at.UnixMilli(), uuid.NewString()[:8], ext)
}

// POST /api/upload
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, "Upload", err)
		return
	}
	if h.bucket == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "uploads disabled"})
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(time.Now().Add(uploadReadTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.WarnContext(r.Context(), "handler.Upload.SetReadDeadline", slog.Any("err", err))
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxAttachmentSize+uploadOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file exceeds 50MB"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing file"})
		return
	}
	defer file.Close()

	if hdr.Size > MaxAttachmentSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file exceeds 50MB"})
		return
	}

	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	head = head[:n]

	mimeType := hdr.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(head)
	}
	kind, err := ClassifyMIME(mimeType)
	if err != nil {
		writeError(w, r, "Upload", err)
		return
	}

	objectPath := ObjectPath(actor.Key(), time.Now(), hdr.Filename, mimeType)
	url, err := h.bucket.Put(r.Context(), objectPath, mimeType, io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrExists):
			writeJSON(w, http.StatusConflict, ErrorResponse{Error: "object already exists"})
			return
		case errors.Is(err, storage.ErrInvalidPath):
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid file name"})
			return
		}
		slog.ErrorContext(r.Context(), "handler.Upload.Put", slog.String("path", objectPath), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "upload failed"})
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		StoragePath: objectPath,
		PublicURL:   url,
		FileName:    hdr.Filename,
		FileSize:    hdr.Size,
		MimeType:    mimeType,
		Type:        kind,
	})
}
