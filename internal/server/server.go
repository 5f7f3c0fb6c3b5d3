// Package server contains the HTTP handlers and routing for the posts API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"stableposts/internal/bootstrap"
	"stableposts/internal/config"
	"stableposts/internal/middleware"
	"stableposts/internal/models"
	"stableposts/internal/notifications"
	"stableposts/internal/repository"
	"stableposts/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
)

// Version is reported by the readiness endpoint.
const Version = "1.0.0"

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	postService    *service.PostService
	notifier       *notifications.Notifier
	hub            *notifications.PostHub
	stopFeed       context.CancelFunc
	closeRuntime   func() error
}

// NewServer creates a server on top of an initialized runtime. The server
// takes ownership of the runtime and closes it on Shutdown.
func NewServer(cfg *config.Config, rt *bootstrap.Runtime) (*Server, error) {
	if rt == nil || rt.Posts == nil {
		return nil, errors.New("server requires an open post store")
	}

	postRepo := repository.NewPostRepository(rt.Posts, rt.Cache)

	// Initialize Prometheus metrics
	prom := middleware.InitMetrics("stableposts-api")

	return &Server{
		config:         cfg,
		redis:          rt.Redis,
		promMiddleware: prom,
		postService:    service.NewPostService(postRepo, eventPublisher(rt.Notifier)),
		notifier:       rt.Notifier,
		hub:            notifications.NewPostHub(),
		closeRuntime:   rt.Close,
	}, nil
}

// eventPublisher keeps a nil notifier out of the interface so the service
// sees a nil EventPublisher rather than a typed nil.
func eventPublisher(n *notifications.Notifier) service.EventPublisher {
	if n == nil {
		return nil
	}
	return n
}

// NewApp builds the Fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Stable Posts API",
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ErrorHandler: errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(models.ErrorResponse{Error: fiberErr.Message})
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
	return models.RespondWithError(c, fiber.StatusInternalServerError,
		models.NewInternalError(err))
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept",
		MaxAge:       86400, // 24 hours
	}))

	if s.config.RateLimitPerMinute > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        s.config.RateLimitPerMinute,
			Expiration: 1 * time.Minute,
			Next: func(c *fiber.Ctx) bool {
				return c.Method() == fiber.MethodOptions
			},
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Too many requests, please try again later.",
				})
			},
		}))
	}
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	app.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Stable Posts Metrics Dashboard",
	}))

	posts := app.Group("/posts")
	posts.Get("/", s.GetPosts)
	posts.Post("/", s.createPostLimit(), s.CreatePost)
	posts.Get("/:id", s.GetPost)
	posts.Put("/:id", s.UpdatePost)
	posts.Delete("/:id", s.DeletePost)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/posts", s.PostFeedHandler())
}

// createPostLimit throttles POST /posts per client IP through Redis. It is a
// pass-through when CREATE_POST_RATE_LIMIT is zero.
func (s *Server) createPostLimit() fiber.Handler {
	if s.config.CreatePostRateLimit <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	policy := middleware.FailOpen
	if s.config.RateLimitFailClosed {
		policy = middleware.FailClosed
	}
	return middleware.RateLimitWithPolicy(s.redis, s.config.CreatePostRateLimit, time.Minute, policy, "create_post")
}

// LivenessCheck handles GET /health/live
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now().UTC(),
	})
}

// ReadinessCheck handles GET /health/ready and /health. Redis is optional, so an
// unavailable Redis degrades the report without failing it.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	if err := s.postService.Ping(ctx); err != nil {
		storeStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	switch {
	case storeStatus != "healthy":
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	case redisStatus != "healthy":
		overallStatus = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"version": Version,
		"status":  overallStatus,
		"checks": fiber.Map{
			"store": storeStatus,
			"redis": redisStatus,
		},
		"time": time.Now().UTC(),
	})
}

// StartEventFeed forwards post events from Redis to /ws/posts clients until
// Shutdown. Without Redis there are no events and it does nothing.
func (s *Server) StartEventFeed(ctx context.Context) error {
	if s.hub == nil || s.notifier == nil || s.redis == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := s.hub.StartWiring(ctx, s.notifier); err != nil {
		cancel()
		return err
	}
	s.stopFeed = cancel
	return nil
}

// Start starts the server
func (s *Server) Start() error {
	if err := s.StartEventFeed(context.Background()); err != nil {
		middleware.Logger.Warn("post feed disabled", slog.String("error", err.Error()))
	}
	s.app = s.NewApp()
	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown closes the post feed, drains in-flight requests, then closes Redis
// and the store.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopFeed != nil {
		s.stopFeed()
	}
	if s.hub != nil {
		_ = s.hub.Shutdown(ctx)
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if s.closeRuntime != nil {
		if err := s.closeRuntime(); err != nil {
			return err
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
