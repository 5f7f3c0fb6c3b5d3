// Package seed provides helpers to create demo posts in the post store.
// These helpers are intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stableposts/internal/cache"
	"stableposts/internal/middleware"
	"stableposts/internal/models"
	"stableposts/internal/stable"

	"github.com/brianvoe/gofakeit/v6"
)

// Options tune generated content.
type Options struct {
	// MaxDays spreads createdAt over the last MaxDays days. Defaults to 90.
	MaxDays int
	// EditedRatio is the share of posts that get an updatedAt, in [0, 1].
	EditedRatio float64
	// DryRun builds posts without writing them.
	DryRun bool
	// RandSeed makes output reproducible. Zero seeds from the clock.
	RandSeed int64
}

// Factory builds fake posts.
type Factory struct {
	faker *gofakeit.Faker
	opts  Options
	now   func() time.Time
}

// NewFactory creates a Factory.
func NewFactory(opts Options) *Factory {
	if opts.MaxDays <= 0 {
		opts.MaxDays = 90
	}
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{
		faker: gofakeit.New(seed),
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// BuildPost constructs a post without persisting it. Optional overrides run
// last.
func (f *Factory) BuildPost(overrides ...func(*models.Post)) models.Post {
	age := time.Duration(f.faker.IntRange(0, f.opts.MaxDays*24*60)) * time.Minute
	post := models.Post{
		ID:        f.faker.UUID(),
		Title:     f.faker.Sentence(5),
		Body:      f.faker.Paragraph(1, 3, 12, "\n"),
		Author:    f.faker.Name(),
		CreatedAt: f.now().Add(-age),
	}

	if f.opts.EditedRatio > 0 && f.faker.Float64Range(0, 1) < f.opts.EditedRatio {
		edited := post.CreatedAt.Add(time.Duration(f.faker.IntRange(0, int(age/time.Minute))) * time.Minute)
		post.UpdatedAt = &edited
	}

	for _, override := range overrides {
		override(&post)
	}
	return post
}

// Seeder writes generated posts into a post map.
type Seeder struct {
	posts   *stable.BTreeMap[models.Post]
	cache   *cache.Cache
	factory *Factory
}

// NewSeeder creates a Seeder bound to posts. c is the read cache of the
// running server and may be nil.
func NewSeeder(posts *stable.BTreeMap[models.Post], c *cache.Cache, opts Options) *Seeder {
	return &Seeder{posts: posts, cache: c, factory: NewFactory(opts)}
}

// ClearAll removes every post, drops its cached copy and returns how many
// posts were removed.
func (s *Seeder) ClearAll(ctx context.Context) (int, error) {
	keys, err := s.posts.Keys()
	if err != nil {
		return 0, err
	}
	if s.factory.opts.DryRun {
		middleware.Logger.Info("[dry-run] ClearAll", slog.Int("posts", len(keys)))
		return len(keys), nil
	}
	for _, k := range keys {
		if _, err := s.posts.Remove(k); err != nil {
			return 0, fmt.Errorf("remove post %s: %w", k, err)
		}
		if err := s.cache.Invalidate(ctx, cache.PostKey(k)); err != nil {
			return 0, fmt.Errorf("invalidate cached post %s: %w", k, err)
		}
	}
	return len(keys), nil
}

// SeedPosts inserts n fake posts. A generated ID that is already taken is
// regenerated, so existing posts are never overwritten.
func (s *Seeder) SeedPosts(n int) ([]models.Post, error) {
	out := make([]models.Post, 0, n)
	for len(out) < n {
		post := s.factory.BuildPost()
		if s.factory.opts.DryRun {
			out = append(out, post)
			continue
		}
		existing, err := s.posts.PutIfAbsent(post.ID, post)
		if err != nil {
			return out, fmt.Errorf("seed post %d of %d: %w", len(out)+1, n, err)
		}
		if existing.IsPresent() {
			continue
		}
		out = append(out, post)
	}
	middleware.Logger.Info("seeded posts",
		slog.Int("count", len(out)),
		slog.Bool("dry_run", s.factory.opts.DryRun),
	)
	return out, nil
}
