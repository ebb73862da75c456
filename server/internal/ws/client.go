package ws

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	sendBufSize  = 16
	maxInbound   = 512
)

// client is one dashboard connection. send is closed by the hub when the
// client is dropped, which ends writeLoop.
type client struct {
	conn *websocket.Conn
	send chan []byte
	urls map[string]bool
}

func newClient(conn *websocket.Conn, urls []string) *client {
	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}
	if len(urls) > 0 {
		c.urls = make(map[string]bool, len(urls))
		for _, u := range urls {
			c.urls[u] = true
		}
	}
	return c
}

// wants reports whether report events for pageURL go to c.
func (c *client) wants(pageURL string) bool {
	return c.urls == nil || c.urls[pageURL]
}

// writeLoop is the only writer of data frames on c.conn.
func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				bye := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing stream")
				_ = c.conn.WriteControl(websocket.CloseMessage, bye, time.Now().Add(writeTimeout))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("ws: write failed, dropping client", "remote", c.conn.RemoteAddr(), "err", err)
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames so pongs and close frames are processed.
// It returns once the peer goes away or stops answering pings.
func (c *client) readLoop() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxInbound)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				slog.Debug("ws: read ended", "remote", c.conn.RemoteAddr(), "err", err)
			}
			return
		}
	}
}
