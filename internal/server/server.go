// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"discuzz/internal/ai"
	"discuzz/internal/cache"
	"discuzz/internal/config"
	"discuzz/internal/database"
	"discuzz/internal/dispatch"
	"discuzz/internal/eventstore"
	"discuzz/internal/fanout"
	"discuzz/internal/featureflags"
	"discuzz/internal/middleware"
	"discuzz/internal/models"
	"discuzz/internal/notifications"
	"discuzz/internal/repository"
	"discuzz/internal/threads"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	eventRepo repository.EventRepository
	notifRepo repository.NotificationRepository
	commRepo  repository.CommentRepository
	subsRepo  repository.SubscriptionRepository

	store      *eventstore.Store
	engine     *fanout.Engine
	worker     *fanout.Worker
	limiter    *dispatch.Limiter
	dispatcher *dispatch.Dispatcher
	aggregator *threads.Aggregator

	notifier *notifications.Notifier
	hub      *notifications.Hub
	live     *notifications.LiveChannel

	flags *featureflags.Manager
}

// gatedDirectory layers the delegate_replies feature flag over the opt-in
// lookup, so AI replies can be rolled out gradually per parent author.
type gatedDirectory struct {
	inner repository.SubscriptionRepository
	flags *featureflags.Manager
}

func (g gatedDirectory) DelegateOptIn(ctx context.Context, userID uint) (bool, error) {
	if !g.flags.Enabled("delegate_replies", userID) {
		return false, nil
	}
	return g.inner.DelegateOptIn(ctx, userID)
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	redisClient := cache.GetClient()

	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	middleware.InitMiddleware(cfg)

	eventRepo := repository.NewEventRepository(db)
	notifRepo := repository.NewNotificationRepository(db)
	commRepo := repository.NewCommentRepository(db)
	subsRepo := repository.NewSubscriptionRepository(db)

	prom := middleware.InitMetrics("discuzz-api")

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: prom,
		eventRepo:      eventRepo,
		notifRepo:      notifRepo,
		commRepo:       commRepo,
		subsRepo:       subsRepo,
	}

	server.notifier = notifications.NewNotifier(redisClient)
	server.hub = notifications.NewHub(redisClient)
	server.live = notifications.NewLiveChannel(server.hub, server.notifier)

	server.store = eventstore.New(eventRepo, redisClient)
	server.engine = fanout.NewEngine(subsRepo, commRepo, notifRepo, cfg.FanoutBatchSize)
	server.limiter = dispatch.NewLimiter(cfg.DispatchGlobalLimit, cfg.DispatchPerRecipientLimit)
	server.dispatcher = dispatch.NewDispatcher(notifRepo, server.live, server.limiter,
		cfg.DispatchMaxAttempts, 200*time.Millisecond)
	server.worker = fanout.NewWorker(server.store, server.engine, server.dispatcher,
		time.Duration(cfg.FanoutPollMillis)*time.Millisecond)

	server.flags = featureflags.NewManager(cfg.FeatureFlags)

	var gen ai.Generator
	if cfg.OpenAIAPIKey != "" {
		gen = ai.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}
	server.aggregator = threads.NewAggregator(commRepo,
		gatedDirectory{inner: subsRepo, flags: server.flags}, server.store, gen,
		time.Duration(cfg.AIReplyTimeoutSeconds)*time.Second)

	// A reconnecting recipient gets their undelivered backlog replayed in order.
	server.hub.SetOnConnect(func(userID uint) {
		if err := server.dispatcher.OnConnect(context.Background(), userID); err != nil {
			middleware.Logger.Warn("Backlog replay failed", "error", err, "user_id", userID)
		}
	})

	return server, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// CORS middleware should run before middlewares that can short-circuit
	// (e.g. limiter) so browser clients still receive CORS headers on errors.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Never rate-limit preflight requests; they should be handled by CORS.
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

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Discuzz Metrics Dashboard",
	}))

	protected := api.Group("", middleware.AuthRequired)

	// Event log: producers append, pollers read from a cursor.
	events := protected.Group("/events")
	events.Post("/", middleware.RateLimit(s.redis, 30, time.Minute, "append_event"), s.AppendEvent)
	events.Get("/", s.ListEvents)
	events.Get("/:id", s.GetEvent)

	// Comment threads.
	threadGroup := protected.Group("/threads")
	threadGroup.Get("/:id/comments", s.GetThread)
	threadGroup.Post("/:id/comments", middleware.RateLimit(
		s.redis, 15, time.Minute, "post_comment"), s.PostComment)
	protected.Delete("/comments/:id", s.DeleteComment)

	// Notifications: pull-based backlog plus read acknowledgments.
	notifs := protected.Group("/notifications")
	notifs.Get("/", s.ListNotifications)
	notifs.Get("/unread_count", s.UnreadCount)
	notifs.Post("/read_all", s.MarkAllNotificationsRead)
	notifs.Post("/:id/read", s.MarkNotificationRead)

	// Follow graph.
	subs := protected.Group("/subscriptions")
	subs.Post("/", s.Subscribe)
	subs.Delete("/:targetId", s.Unsubscribe)

	// Websocket endpoint for live delivery.
	ws := api.Group("/ws", middleware.WebSocketAuthRequired)
	ws.Get("/", s.WebsocketHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		// Redis is optional; delivery degrades to single-node mode without it.
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start starts the server and the background pipeline.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := fiber.New(fiber.Config{
		AppName: "Discuzz Notification API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	s.dispatcher.Start()
	go s.worker.Run(s.shutdownCtx)
	go s.aggregator.RunSweeper(s.shutdownCtx,
		time.Duration(s.config.SweepIntervalSeconds)*time.Second)

	if s.notifier != nil {
		go func() {
			if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				log.Printf("failed to start %s wiring: %v", s.hub.Name(), err)
			}
		}()
	}

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	s.dispatcher.Stop()
	s.aggregator.WaitDelegates()

	if err := s.hub.Shutdown(ctx); err != nil {
		log.Printf("error shutting down %s: %v", s.hub.Name(), err)
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
