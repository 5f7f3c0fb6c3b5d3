package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"stableposts/internal/middleware"

	"github.com/goccy/go-json"
	"github.com/gofiber/websocket/v2"
)

// maxFeedConns bounds the open post feed connections of one process.
const maxFeedConns = 10000

// ErrHubClosed is returned by Register after Shutdown.
var ErrHubClosed = errors.New("post feed is shutting down")

// PostHub fans post events out to every connected websocket client.
type PostHub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

// NewPostHub creates an empty hub.
func NewPostHub() *PostHub {
	return &PostHub{clients: make(map[*Client]struct{})}
}

// Name returns a human-readable identifier for this hub.
func (h *PostHub) Name() string { return "post feed" }

// Register adds a connection to the hub.
func (h *PostHub) Register(conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if len(h.clients) >= maxFeedConns {
		return nil, errors.New("server connection limit reached")
	}
	client := newClient(h, conn)
	h.clients[client] = struct{}{}
	return client, nil
}

// UnregisterClient removes client and closes its Send channel. It is safe to
// call more than once.
func (h *PostHub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *PostHub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
}

// Len returns the number of registered clients.
func (h *PostHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAll sends message to every connected websocket client.
func (h *PostHub) BroadcastAll(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.TrySend(message)
	}
}

// StartWiring subscribes to post events and forwards each one to every
// client as a JSON text frame.
func (h *PostHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPostSubscriber(ctx, func(ev PostEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			middleware.Logger.Warn("failed to encode post event for feed",
				slog.String("post_id", ev.PostID), slog.String("error", err.Error()))
			return
		}
		h.BroadcastAll(data)
	})
}

// Shutdown unregisters every client, which sends each one a close frame, and
// rejects new registrations.
func (h *PostHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for client := range h.clients {
		h.removeLocked(client)
	}
	return nil
}
