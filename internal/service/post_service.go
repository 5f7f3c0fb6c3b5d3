// Package service implements the post use cases on top of the repository.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stableposts/internal/middleware"
	"stableposts/internal/models"
	"stableposts/internal/notifications"
	"stableposts/internal/repository"
	"stableposts/internal/stable"

	"github.com/google/uuid"
)

// maxIDAttempts bounds how often CreatePost draws a new ID after a collision.
const maxIDAttempts = 3

// EventPublisher receives post lifecycle events.
type EventPublisher interface {
	PublishPostEvent(ctx context.Context, ev notifications.PostEvent) error
}

type PostService struct {
	postRepo repository.PostRepository
	events   EventPublisher
	newID    func() string
	now      func() time.Time
}

// PostServiceOption customizes a PostService.
type PostServiceOption func(*PostService)

// WithClock replaces the wall clock used for createdAt and updatedAt.
func WithClock(now func() time.Time) PostServiceOption {
	return func(s *PostService) { s.now = now }
}

// WithIDGenerator replaces the random UUID generator.
func WithIDGenerator(newID func() string) PostServiceOption {
	return func(s *PostService) { s.newID = newID }
}

type CreatePostInput struct {
	Title  string
	Body   string
	Author string
}

// NewPostService creates a PostService. events may be nil.
func NewPostService(postRepo repository.PostRepository, events EventPublisher, opts ...PostServiceOption) *PostService {
	s := &PostService{
		postRepo: postRepo,
		events:   events,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		post := models.Post{
			ID:        s.newID(),
			Title:     in.Title,
			Body:      in.Body,
			Author:    in.Author,
			CreatedAt: s.now(),
		}
		err := s.postRepo.Create(ctx, post)
		if errors.Is(err, repository.ErrDuplicateID) {
			middleware.Logger.WarnContext(ctx, "post id collision, retrying", slog.String("post_id", post.ID))
			continue
		}
		if err != nil {
			return nil, storeError(err)
		}
		s.publish(ctx, notifications.EventPostCreated, post)
		return &post, nil
	}
	return nil, models.NewInternalError(fmt.Errorf("no unique post id after %d attempts", maxIDAttempts))
}

// ListPosts returns every post in ascending ID order.
func (s *PostService) ListPosts(ctx context.Context) ([]*models.Post, error) {
	posts, err := s.postRepo.List(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return posts, nil
}

func (s *PostService) GetPost(ctx context.Context, id string) (*models.Post, error) {
	opt, err := s.postRepo.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	post, ok := opt.Get()
	if !ok {
		return nil, models.NewNotFoundError("Post", id)
	}
	return &post, nil
}

// UpdatePost merges patch into the stored post and stamps updatedAt. The
// read-modify-write runs atomically in the store. updatedAt never moves
// backwards even if the wall clock does.
func (s *PostService) UpdatePost(ctx context.Context, id string, patch models.PostPatch) (*models.Post, error) {
	opt, err := s.postRepo.Update(ctx, id, func(current models.Post) (models.Post, error) {
		next := patch.Apply(current)
		ts := s.now()
		if last := current.LastModified(); ts.Before(last) {
			ts = last
		}
		next.UpdatedAt = &ts
		return next, nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	post, ok := opt.Get()
	if !ok {
		return nil, models.NewMissingTargetError("update", "Post", id)
	}
	s.publish(ctx, notifications.EventPostUpdated, post)
	return &post, nil
}

// DeletePost removes the post and returns its last stored state.
func (s *PostService) DeletePost(ctx context.Context, id string) (*models.Post, error) {
	opt, err := s.postRepo.Delete(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	post, ok := opt.Get()
	if !ok {
		return nil, models.NewMissingTargetError("delete", "Post", id)
	}
	s.publish(ctx, notifications.EventPostDeleted, post)
	return &post, nil
}

// Ping reports whether the post store is reachable.
func (s *PostService) Ping(ctx context.Context) error {
	return s.postRepo.Ping(ctx)
}

// publish is best-effort: a failed publish is logged and never fails the request.
func (s *PostService) publish(ctx context.Context, eventType string, post models.Post) {
	if s.events == nil {
		return
	}
	ev := notifications.PostEvent{
		Type:       eventType,
		PostID:     post.ID,
		Post:       post,
		OccurredAt: s.now(),
	}
	if err := s.events.PublishPostEvent(ctx, ev); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish post event",
			slog.String("type", eventType),
			slog.String("post_id", post.ID),
			slog.String("error", err.Error()),
		)
	}
}

func storeError(err error) error {
	if errors.Is(err, stable.ErrResourceExhausted) {
		return models.NewResourceExhaustedError(err)
	}
	return models.NewInternalError(err)
}
