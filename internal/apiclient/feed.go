package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go-smarttalk/internal/feed"

	"github.com/gorilla/websocket"
)

// DialFeed opens the live event stream. The channel closes when ctx ends or
// the connection drops.
func (c *Client) DialFeed(ctx context.Context) (<-chan feed.Event, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(c.base.Path, "/") + "/ws"

	header := http.Header{}
	c.authorize(header)
	// Browsers cannot set headers on upgrades, so the server also reads ?token=.
	if tok := header.Get("Authorization"); tok != "" {
		q := u.Query()
		q.Set("token", strings.TrimPrefix(tok, "Bearer "))
		u.RawQuery = q.Encode()
		header.Del("Authorization")
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, statusError(resp)
		}
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	out := make(chan feed.Event, 64)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					slog.Warn("live feed read", "err", err)
				}
				return
			}
			// One frame may batch several events, one per line.
			for _, line := range bytes.Split(data, []byte{'\n'}) {
				if len(bytes.TrimSpace(line)) == 0 {
					continue
				}
				ev, err := feed.Decode(line)
				if err != nil {
					slog.Warn("skip live event", "err", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
