package dashboard

import (
	"context"
	"net/http"
	"time"

	"infra-monitor/internal/client"
	"infra-monitor/internal/middleware"
	"infra-monitor/internal/poller"
	"infra-monitor/pkg/config"
	"infra-monitor/pkg/models"
	"infra-monitor/pkg/telemetry"

	"github.com/gin-gonic/gin"
)

// Upstream is the part of the Resource API the dashboard writes through.
type Upstream interface {
	GetSystem(ctx context.Context, id int64) (*models.System, error)
	CreateSystem(ctx context.Context, in models.NewSystem) (*models.System, error)
	UpdateSystem(ctx context.Context, id int64, patch models.SystemPatch) (*models.System, error)
	ListMetrics(ctx context.Context, q client.MetricQuery) ([]models.Metric, error)
}

type Server struct {
	config    *config.Config
	poller    *poller.Poller
	upstream  Upstream
	hub       *Hub
	telemetry *telemetry.Metrics
	router    *gin.Engine
}

func NewServer(cfg *config.Config, p *poller.Poller, upstream Upstream, metrics *telemetry.Metrics) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:    cfg,
		poller:    p,
		upstream:  upstream,
		hub:       NewHub(cfg.AllowedOrigins),
		telemetry: metrics,
		router:    gin.New(),
	}

	p.OnRecompute(func(v poller.View) {
		s.hub.Broadcast("stats", v)
	})

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logging())
	s.router.Use(middleware.CORS(s.config.AllowedOrigins))
	if s.telemetry != nil {
		s.router.Use(s.telemetry.Middleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.telemetry != nil {
		s.router.GET("/internal/prometheus", gin.WrapH(s.telemetry.Handler()))
	}

	// the websocket outlives any request timeout
	s.router.GET("/ws/dashboard", s.hub.ServeWS)

	dash := s.router.Group("/dashboard")
	dash.Use(middleware.Timeout(s.requestTimeout()))
	{
		dash.GET("/stats", s.handleStats)
		dash.GET("/status", s.handleStatus)
		dash.GET("/systems", s.handleSystems)
		dash.POST("/systems", s.handleCreateSystem)
		dash.PATCH("/systems/:id", s.handleUpdateSystem)
		dash.GET("/systems/:id/history", s.handleHistory)
		dash.GET("/logs", s.handleLogs)
	}
}

func (s *Server) requestTimeout() time.Duration {
	if s.config.RequestTimeout > 0 {
		return s.config.RequestTimeout
	}
	return 30 * time.Second
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": s.config.ServiceName,
		"time":    time.Now().UTC(),
		"clients": s.hub.Count(),
	})
}
