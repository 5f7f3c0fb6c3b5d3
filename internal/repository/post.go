// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"stableposts/internal/cache"
	"stableposts/internal/middleware"
	"stableposts/internal/models"
	"stableposts/internal/observability"
	"stableposts/internal/stable"

	"github.com/samber/mo"
)

// ErrDuplicateID is returned by Create when the post ID is already stored.
var ErrDuplicateID = errors.New("post id already exists")

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post models.Post) error
	GetByID(ctx context.Context, id string) (mo.Option[models.Post], error)
	List(ctx context.Context) ([]*models.Post, error)
	Update(ctx context.Context, id string, fn func(models.Post) (models.Post, error)) (mo.Option[models.Post], error)
	Delete(ctx context.Context, id string) (mo.Option[models.Post], error)
	Ping(ctx context.Context) error
}

// postRepository implements PostRepository over a durable map keyed by post ID.
//
// cacheMu orders cache fills against invalidations: a read that filled the
// cache from the map and a write that changed the map never overlap, so a
// fill can never land after the invalidation of the write it predates.
// stale holds IDs whose invalidation failed; their cache entries are not
// trusted until a later invalidation succeeds.
type postRepository struct {
	posts *stable.BTreeMap[models.Post]
	cache *cache.Cache
	log   *observability.StoreLogger
	trace *observability.TraceLayer

	cacheMu sync.Mutex
	stale   map[string]struct{}
}

// NewPostRepository creates a new post repository. c may be nil.
func NewPostRepository(posts *stable.BTreeMap[models.Post], c *cache.Cache) PostRepository {
	return &postRepository{
		posts: posts,
		cache: c,
		log:   observability.NewStoreLogger(posts.Name(), middleware.Logger),
		trace: observability.GetTraceLayer(),
		stale: make(map[string]struct{}),
	}
}

func (r *postRepository) Create(ctx context.Context, post models.Post) (err error) {
	ctx, span := r.trace.TraceRepositoryMethod(ctx, "Create", r.posts.Name())
	defer func() { observability.EndSpan(span, err) }()

	existing, err := r.posts.PutIfAbsent(post.ID, post)
	if err != nil {
		r.log.LogError(ctx, err, "insert", post.ID)
		return err
	}
	if existing.IsPresent() {
		return ErrDuplicateID
	}
	r.log.LogOp(ctx, "insert", post.ID)
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (_ mo.Option[models.Post], err error) {
	ctx, span := r.trace.TraceRepositoryMethod(ctx, "GetByID", r.posts.Name())
	defer func() { observability.EndSpan(span, err) }()

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	var post models.Post
	fetch := func() (bool, error) {
		opt, err := r.posts.Get(id)
		if v, ok := opt.Get(); ok {
			post = v
		}
		return opt.IsPresent(), err
	}

	var found bool
	if r.retryInvalidateLocked(ctx, id) {
		found, err = r.cache.Aside(ctx, cache.PostKey(id), &post, fetch)
	} else {
		found, err = fetch()
	}
	if err != nil {
		r.log.LogError(ctx, err, "get", id)
		return mo.None[models.Post](), err
	}
	r.log.LogOp(ctx, "get", id, slog.Bool("found", found))
	if !found {
		return mo.None[models.Post](), nil
	}
	return mo.Some(post), nil
}

func (r *postRepository) List(ctx context.Context) (_ []*models.Post, err error) {
	ctx, span := r.trace.TraceRepositoryMethod(ctx, "List", r.posts.Name())
	defer func() { observability.EndSpan(span, err) }()

	values, err := r.posts.Values()
	if err != nil {
		r.log.LogError(ctx, err, "values", "")
		return nil, err
	}
	posts := make([]*models.Post, len(values))
	for i := range values {
		posts[i] = &values[i]
	}
	r.log.LogOp(ctx, "values", "", slog.Int("count", len(posts)))
	return posts, nil
}

func (r *postRepository) Update(ctx context.Context, id string, fn func(models.Post) (models.Post, error)) (_ mo.Option[models.Post], err error) {
	ctx, span := r.trace.TraceRepositoryMethod(ctx, "Update", r.posts.Name())
	defer func() { observability.EndSpan(span, err) }()

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	updated, err := r.posts.Update(id, fn)
	if err != nil {
		r.log.LogError(ctx, err, "update", id)
		return updated, err
	}
	if updated.IsPresent() {
		r.invalidateLocked(ctx, id)
	}
	r.log.LogOp(ctx, "update", id, slog.Bool("found", updated.IsPresent()))
	return updated, nil
}

func (r *postRepository) Delete(ctx context.Context, id string) (_ mo.Option[models.Post], err error) {
	ctx, span := r.trace.TraceRepositoryMethod(ctx, "Delete", r.posts.Name())
	defer func() { observability.EndSpan(span, err) }()

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	removed, err := r.posts.Remove(id)
	if err != nil {
		r.log.LogError(ctx, err, "remove", id)
		return removed, err
	}
	if removed.IsPresent() {
		r.invalidateLocked(ctx, id)
	}
	r.log.LogOp(ctx, "remove", id, slog.Bool("found", removed.IsPresent()))
	return removed, nil
}

func (r *postRepository) Ping(_ context.Context) error {
	return r.posts.Ping()
}

// invalidateLocked drops the cached copy of id. On failure id is marked stale
// so reads bypass the cache until a retry succeeds. Callers hold cacheMu.
func (r *postRepository) invalidateLocked(ctx context.Context, id string) bool {
	ctx, span := r.trace.TraceRedisOperation(ctx, "del")
	err := r.cache.Invalidate(ctx, cache.PostKey(id))
	observability.EndSpan(span, err)
	if err != nil {
		r.stale[id] = struct{}{}
		middleware.Logger.WarnContext(ctx, "failed to invalidate cached post",
			slog.String("post_id", id), slog.String("error", err.Error()))
		return false
	}
	delete(r.stale, id)
	return true
}

// retryInvalidateLocked reports whether the cache may be used for id.
func (r *postRepository) retryInvalidateLocked(ctx context.Context, id string) bool {
	if _, ok := r.stale[id]; !ok {
		return true
	}
	return r.invalidateLocked(ctx, id)
}
