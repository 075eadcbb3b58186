package chat

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 512                 // Peers only send control frames.
)

// Client is a middleman between one websocket connection and the hub. The
// stream is read-only for peers; mutations go through the HTTP API.
type Client struct {
	Hub   *Hub
	Conn  *websocket.Conn
	Send  chan []byte
	Email string
}

// ReadPump drains the connection so pongs and close frames are processed.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read", "email", c.Email, "err", err)
			}
			return
		}
	}
}

// WritePump forwards queued events and pings the peer until the hub drops
// the client or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			if !ok {
				// Hub dropped this client.
				c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.Conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					slog.Debug("websocket close", "email", c.Email, "err", err)
				}
				return
			}
			if err := c.writeEvents(event); err != nil {
				slog.Warn("websocket write", "email", c.Email, "err", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("websocket ping", "email", c.Email, "err", err)
				return
			}
		}
	}
}

// writeEvents sends first plus whatever else is already queued as one text
// frame, one event per line.
func (c *Client) writeEvents(first []byte) error {
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := w.Write(first); err != nil {
		w.Close()
		return err
	}
	for n := len(c.Send); n > 0; n-- {
		event, ok := <-c.Send
		if !ok {
			break
		}
		if _, err := w.Write(append([]byte{'\n'}, event...)); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
