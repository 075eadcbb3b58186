package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go-smarttalk/internal/identity"
	"go-smarttalk/internal/linkpreview"
	"go-smarttalk/internal/markup"
	"go-smarttalk/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced on the API routes; the feed is read-only.
	},
}

type Handler struct {
	svc      *Service
	hub      *Hub
	bucket   storage.Bucket
	previews linkpreview.Source
}

func NewHandler(svc *Service, hub *Hub, bucket storage.Bucket, previews linkpreview.Source) *Handler {
	return &Handler{
		svc:      svc,
		hub:      hub,
		bucket:   bucket,
		previews: previews,
	}
}

type RenderResponse struct {
	ID       string           `json:"id"`
	Elements []markup.Element `json:"elements"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, ErrForbidden):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, identity.ErrUnauthenticated):
		status, msg = http.StatusUnauthorized, err.Error()
	}
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "handler."+op, slog.Any("err", err))
	} else {
		slog.DebugContext(r.Context(), "handler."+op, slog.Int("status", status), slog.Any("err", err))
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func actorFrom(r *http.Request) (identity.Actor, error) {
	a, ok := identity.FromContext(r.Context())
	if !ok {
		return identity.Actor{}, identity.ErrUnauthenticated
	}
	return a, nil
}

// GET /api/chat
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, "ListMessages", err)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// GET /api/chat/{id}
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "GetMessage", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GET /api/chat/{id}/render
func (h *Handler) RenderMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "RenderMessage", err)
		return
	}
	els := markup.Parse(m.Body)
	if els == nil {
		els = []markup.Element{}
	}
	writeJSON(w, http.StatusOK, RenderResponse{ID: m.ID, Elements: els})
}

// POST /api/chat
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, "CreateMessage", err)
		return
	}
	var m Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	created, err := h.svc.Create(r.Context(), actor, &m)
	if err != nil {
		writeError(w, r, "CreateMessage", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// PUT /api/chat/{id}
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, "EditMessage", err)
		return
	}
	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	m, err := h.svc.Edit(r.Context(), actor, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		writeError(w, r, "EditMessage", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// PATCH /api/chat
func (h *Handler) PinMessage(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, "PinMessage", err)
		return
	}
	var req PinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	m, err := h.svc.SetPinned(r.Context(), actor, req.ID, req.IsPinned)
	if err != nil {
		writeError(w, r, "PinMessage", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DELETE /api/chat/{id}
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, "DeleteMessage", err)
		return
	}
	if err := h.svc.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, "DeleteMessage", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "deleted"})
}

// GET /api/link-preview?url=
func (h *Handler) LinkPreview(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if _, err := linkpreview.ParseTarget(raw); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "url must be an absolute http(s) url"})
		return
	}
	if h.previews == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "link previews disabled"})
		return
	}
	p, err := h.previews.Fetch(r.Context(), raw)
	if err != nil {
		slog.InfoContext(r.Context(), "handler.LinkPreview", slog.String("url", raw), slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "preview unavailable"})
		return
	}
	if p.Empty() {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no preview"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /ws
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, "ServeWs", err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "websocket upgrade", slog.Any("err", err))
		return
	}

	client := &Client{
		Hub:   h.hub,
		Conn:  conn,
		Send:  make(chan []byte, 256),
		Email: actor.Key(),
	}
	if !h.hub.join(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
