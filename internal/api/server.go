package api

import (
	"context"
	"net/http"
	"time"

	"infra-monitor/internal/cache"
	"infra-monitor/internal/middleware"
	"infra-monitor/internal/store"
	"infra-monitor/pkg/config"
	"infra-monitor/pkg/events"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/telemetry"

	"github.com/gin-gonic/gin"
)

// HealthChecker is an optional backing service reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators of the resource API. Only Repo is required.
type Deps struct {
	Repo      *store.Repository
	Cache     *cache.LatestMetrics
	Events    events.Publisher
	Telemetry *telemetry.Metrics
	Redis     HealthChecker
	Storage   HealthChecker
}

type Server struct {
	config    *config.Config
	repo      *store.Repository
	cache     *cache.LatestMetrics
	events    events.Publisher
	telemetry *telemetry.Metrics
	redis     HealthChecker
	storage   HealthChecker
	router    *gin.Engine
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	registerValidation()

	s := &Server{
		config:    cfg,
		repo:      deps.Repo,
		cache:     deps.Cache,
		events:    deps.Events,
		telemetry: deps.Telemetry,
		redis:     deps.Redis,
		storage:   deps.Storage,
		router:    gin.New(),
	}
	if s.events == nil {
		s.events = events.Nop{}
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logging())
	s.router.Use(middleware.CORS(s.config.AllowedOrigins))
	s.router.Use(middleware.Timeout(s.config.RequestTimeout))
	if s.telemetry != nil {
		s.router.Use(s.telemetry.Middleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.telemetry != nil {
		s.router.GET("/internal/prometheus", gin.WrapH(s.telemetry.Handler()))
	}

	api := s.router.Group("/api")

	if s.config.HasResource("systems") {
		systems := api.Group("/systems")
		{
			systems.GET("", s.handleListSystems)
			systems.GET("/stats", s.handleSystemCounts)
			systems.GET("/:id", requireID("system"), s.handleGetSystem)
			systems.POST("", s.handleCreateSystem)
			systems.PATCH("/:id", requireID("system"), s.handleUpdateSystem)
			systems.PUT("/:id", requireID("system"), s.handleUpdateSystem)
			systems.DELETE("/:id", requireID("system"), s.handleDeleteSystem)
			systems.POST("/:id/heartbeat", requireID("system"), s.handleHeartbeat)
		}

		api.GET("/dashboard/stats", s.handleDashboardStats)
	}

	if s.config.HasResource("metrics") {
		metrics := api.Group("/metrics")
		{
			metrics.GET("", s.handleListMetrics)
			metrics.GET("/latest", s.handleLatestMetrics)
			metrics.GET("/:id", requireID("metric"), s.handleGetMetric)
			metrics.POST("", s.handleCreateMetric)
			metrics.POST("/bulk", s.handleCreateMetrics)
		}
	}

	if s.config.HasResource("logs") {
		logs := api.Group("/logs")
		{
			logs.GET("", s.handleListLogs)
			logs.GET("/recent", s.handleRecentLogs)
			logs.GET("/:id", requireID("log"), s.handleGetLog)
			logs.POST("", s.handleCreateLog)
			logs.POST("/:id/resolve", requireID("log"), s.handleResolveLog)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{
		"status":  "ok",
		"service": s.config.ServiceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.repo.Ping(ctx); err != nil {
		health["status"] = "unhealthy"
		health["database"] = "disconnected"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	health["database"] = "connected"

	// Cache and archive outages degrade the service but do not take it down.
	if s.redis != nil {
		if err := s.redis.HealthCheck(ctx); err != nil {
			logger.Warn("Redis health check failed", logger.Err(err))
			health["status"] = "degraded"
			health["redis"] = "disconnected"
		} else {
			health["redis"] = "connected"
		}
	}
	if s.storage != nil {
		if err := s.storage.HealthCheck(ctx); err != nil {
			logger.Warn("Object storage health check failed", logger.Err(err))
			health["status"] = "degraded"
			health["storage"] = "disconnected"
		} else {
			health["storage"] = "connected"
		}
	}

	c.JSON(http.StatusOK, health)
}

// publish emits a change event on a detached context; delivery is best effort.
func (s *Server) publish(event events.ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.events.Publish(ctx, event); err != nil {
		logger.Warn("Failed to publish change event",
			logger.String("routing_key", event.RoutingKey()),
			logger.Err(err),
		)
	}
}
