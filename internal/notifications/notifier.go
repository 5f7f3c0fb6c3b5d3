// Package notifications publishes post lifecycle events over Redis pub/sub.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"stableposts/internal/middleware"
	"stableposts/internal/models"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Post event types.
const (
	EventPostCreated = "post.created"
	EventPostUpdated = "post.updated"
	EventPostDeleted = "post.deleted"
)

// PostsChannel is the Redis channel post events are published on.
const PostsChannel = "events:posts"

// PostEvent is the payload published for every post mutation.
type PostEvent struct {
	Type       string      `json:"type"`
	PostID     string      `json:"postId"`
	Post       models.Post `json:"post"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client turns every publish into a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishPostEvent publishes ev on PostsChannel.
func (n *Notifier) PublishPostEvent(ctx context.Context, ev PostEvent) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal post event: %w", err)
	}
	return n.rdb.Publish(ctx, PostsChannel, payload).Err()
}

// StartPostSubscriber subscribes to PostsChannel and calls onEvent for every
// decoded event until ctx is cancelled. The subscription is confirmed before
// StartPostSubscriber returns.
func (n *Notifier) StartPostSubscriber(ctx context.Context, onEvent func(PostEvent)) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, PostsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", PostsChannel, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev PostEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					middleware.Logger.Warn("dropping malformed post event",
						slog.String("channel", msg.Channel), slog.String("error", err.Error()))
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in post subscriber",
								slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
						}
					}()
					onEvent(ev)
				}()
			}
		}
	}()

	return nil
}
