package notifications

import (
	"log/slog"
	"time"

	"stableposts/internal/middleware"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// The feed is server to client only, so inbound frames stay small.
	maxMessageSize = 512

	sendBuffer = 256
)

// Client is one post feed connection. Only WritePump writes to Conn.
type Client struct {
	hub *PostHub

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages. The hub closes it on
	// unregister, which makes WritePump send a close frame and return.
	Send chan []byte
}

func newClient(hub *PostHub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
	}
}

// ReadPump drains inbound frames until the peer goes away, keeping the read
// deadline fresh on every pong. It unregisters the client on return.
func (c *Client) ReadPump() {
	defer c.hub.UnregisterClient(c)

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				middleware.Logger.Warn("post feed read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues message without blocking. A full buffer drops the message
// and queues a notice so the peer knows to re-fetch. Callers hold the hub
// read lock, so Send is never closed underneath them.
func (c *Client) TrySend(message []byte) {
	select {
	case c.Send <- message:
	default:
		middleware.WebSocketBackpressureDrops.WithLabelValues(c.hub.Name(), "full").Inc()
		middleware.Logger.Warn("post feed buffer full, dropped message",
			slog.String("hub", c.hub.Name()))

		select {
		case c.Send <- droppedNotice:
		default:
		}
	}
}

var droppedNotice = []byte(`{"type":"messages_dropped","reason":"buffer_full"}`)
