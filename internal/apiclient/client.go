package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-smarttalk/internal/chat"
	"go-smarttalk/internal/identity"
	"go-smarttalk/internal/linkpreview"
	myMiddleware "go-smarttalk/internal/middleware"
)

// Credentials decorates outgoing requests with the caller's identity.
type Credentials interface {
	Actor() (identity.Actor, bool)
	Token() string
}

// Client talks to the chat HTTP API. It implements reconciler.Backend.
type Client struct {
	base  *url.URL
	http  *http.Client
	creds Credentials
}

func New(baseURL string, creds Credentials) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid api url %q", baseURL)
	}
	return &Client{
		base:  u,
		http:  &http.Client{Timeout: 30 * time.Second},
		creds: creds,
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) authorize(h http.Header) {
	if c.creds == nil {
		return
	}
	if tok := c.creds.Token(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
		return
	}
	if a, ok := c.creds.Actor(); ok && a.Demo {
		h.Set(myMiddleware.HeaderDemoName, a.Name)
		h.Set(myMiddleware.HeaderDemoEmail, a.Email)
		if a.Avatar != "" {
			h.Set(myMiddleware.HeaderDemoImage, a.Avatar)
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrUpstream, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", chat.ErrUpstream, err)
	}
	return nil
}

// statusError maps API statuses back onto the domain sentinels.
func statusError(resp *http.Response) error {
	var e chat.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
	msg := e.Error
	if msg == "" {
		msg = resp.Status
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		sentinel = chat.ErrValidation
	case http.StatusUnauthorized:
		sentinel = identity.ErrUnauthenticated
	case http.StatusForbidden:
		sentinel = chat.ErrForbidden
	case http.StatusNotFound:
		sentinel = chat.ErrNotFound
	default:
		sentinel = chat.ErrUpstream
	}
	return &StatusError{Code: resp.StatusCode, Message: msg, err: sentinel}
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Code    int
	Message string
	err     error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %s (status %d)", e.err, e.Message, e.Code)
}

func (e *StatusError) Unwrap() error { return e.err }

func (c *Client) List(ctx context.Context) ([]chat.Message, error) {
	var msgs []chat.Message
	if err := c.do(ctx, http.MethodGet, "/api/chat", nil, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) Get(ctx context.Context, id string) (*chat.Message, error) {
	var m chat.Message
	if err := c.do(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(id), nil, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) Create(ctx context.Context, m *chat.Message) error {
	return c.do(ctx, http.MethodPost, "/api/chat", nil, m, nil)
}

func (c *Client) Edit(ctx context.Context, id, body string) (*chat.Message, error) {
	var m chat.Message
	if err := c.do(ctx, http.MethodPut, "/api/chat/"+url.PathEscape(id), nil, chat.EditRequest{Message: body}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/chat/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) SetPinned(ctx context.Context, id string, pinned bool) (*chat.Message, error) {
	var m chat.Message
	if err := c.do(ctx, http.MethodPatch, "/api/chat", nil, chat.PinRequest{ID: id, IsPinned: pinned}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Preview fetches link metadata. Callers treat any error as "no preview".
func (c *Client) Preview(ctx context.Context, link string) (*linkpreview.Preview, error) {
	var p linkpreview.Preview
	if err := c.do(ctx, http.MethodGet, "/api/link-preview", url.Values{"url": {link}}, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// IsNotFound is a convenience for shells.
func IsNotFound(err error) bool { return errors.Is(err, chat.ErrNotFound) }
