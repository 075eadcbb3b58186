package chat

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePumpBatchesQueuedEventsThenCloses(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &Client{Conn: conn, Send: make(chan []byte, 4), Email: "ann@example.com"}
		c.Send <- []byte(`{"op":"a"}`)
		c.Send <- []byte(`{"op":"b"}`)
		c.Send <- []byte(`{"op":"c"}`)
		close(c.Send)
		c.WritePump()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []string{`{"op":"a"}`, `{"op":"b"}`, `{"op":"c"}`}, strings.Split(string(data), "\n"))

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived), err.Error())
}
