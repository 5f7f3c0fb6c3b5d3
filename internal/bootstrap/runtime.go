// Package bootstrap opens the process-wide dependencies shared by the server
// and the command line tools.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stableposts/internal/cache"
	"stableposts/internal/config"
	"stableposts/internal/database"
	"stableposts/internal/middleware"
	"stableposts/internal/models"
	"stableposts/internal/notifications"
	"stableposts/internal/observability"
	"stableposts/internal/stable"

	"github.com/redis/go-redis/v9"
)

// PostCodecVersion tags every stored post. Bump it when models.Post changes
// in a way older records cannot decode into.
const PostCodecVersion byte = 1

// Options control runtime initialization behavior.
type Options struct {
	// SkipRedis leaves Redis disabled even when REDIS_URL is set. The CLI
	// tools use it when they only need the store.
	SkipRedis bool
}

// Runtime bundles the long-lived dependencies built from Config.
type Runtime struct {
	Config   *config.Config
	Posts    *stable.BTreeMap[models.Post]
	Redis    *redis.Client
	Cache    *cache.Cache
	Notifier *notifications.Notifier
}

// InitRuntime opens (or creates) the post store and connects to Redis.
// Redis is optional: when it is unreachable the runtime runs without cache,
// events and the distributed rate limiter.
func InitRuntime(cfg *config.Config, opts Options) (*Runtime, error) {
	observability.Config.EnableStoreLogging = cfg.StoreLogging

	posts, err := OpenPostStore(cfg)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Posts: posts}
	if !opts.SkipRedis {
		rt.Redis = cache.InitRedis(cfg.RedisURL)
	}
	rt.Cache = cache.New(rt.Redis, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	rt.Notifier = notifications.NewNotifier(rt.Redis)
	return rt, nil
}

// OpenPostStore opens the configured backend and attaches the posts map to it,
// recovering every previously stored post.
func OpenPostStore(cfg *config.Config) (*stable.BTreeMap[models.Post], error) {
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	posts, err := stable.Open[models.Post](
		cfg.StoreName,
		backend,
		stable.NewJSONCodec[models.Post](PostCodecVersion),
		stable.Options{MaxBytes: cfg.StoreMaxBytes, Logger: middleware.Logger},
	)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to attach post store: %w", err)
	}
	return posts, nil
}

func openBackend(cfg *config.Config) (stable.Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPebble:
		b, err := stable.OpenPebble(stable.PebbleOptions{
			Path:   cfg.StorePath,
			Sync:   cfg.StoreSync,
			Logger: middleware.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble store: %w", err)
		}
		return b, nil
	case config.BackendSQL:
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		b, err := stable.NewSQLBackend(db, stable.SQLOptions{OwnsDB: true})
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, fmt.Errorf("failed to prepare sql store: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// Close releases Redis and closes the store, flushing pending writes.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if rt.Posts != nil {
		if err := rt.Posts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close post store: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	middleware.Logger.Info("runtime closed", slog.String("store", rt.Config.StoreBackend))
	return nil
}
