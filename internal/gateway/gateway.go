package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"infra-monitor/internal/middleware"
	"infra-monitor/pkg/config"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/telemetry"

	"github.com/gin-gonic/gin"
)

const badGatewayBody = `{"error":"Bad Gateway - Service unavailable"}`

type route struct {
	prefix string
	target *url.URL
	proxy  *httputil.ReverseProxy
}

type Server struct {
	config    *config.Config
	routes    []route
	limiter   Limiter
	telemetry *telemetry.Metrics
	router    *gin.Engine
}

func NewServer(cfg *config.Config, limiter Limiter, metrics *telemetry.Metrics) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:    cfg,
		limiter:   limiter,
		telemetry: metrics,
		router:    gin.New(),
	}
	if err := s.router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	upstreams := []struct{ prefix, base string }{
		{"/api/systems", cfg.SystemsServiceURL},
		{"/api/dashboard", cfg.SystemsServiceURL},
		{"/api/metrics", cfg.MetricsServiceURL},
		{"/api/logs", cfg.LogsServiceURL},
	}
	for _, u := range upstreams {
		target, err := url.Parse(u.base)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid upstream URL for %s: %q", u.prefix, u.base)
		}
		s.routes = append(s.routes, route{prefix: u.prefix, target: target, proxy: s.newProxy(target)})
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) Router() *gin.Engine {
	return s.router
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

	api := s.router.Group("/api")
	if s.limiter != nil {
		api.Use(RateLimit(s.limiter, s.telemetry))
	}
	api.Any("/*path", s.forward)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	upstreams := make(map[string]string, len(s.routes))
	for _, r := range s.routes {
		upstreams[r.prefix] = r.target.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   s.config.ServiceName,
		"time":      time.Now().UTC(),
		"upstreams": upstreams,
	})
}

func (s *Server) forward(c *gin.Context) {
	r, ok := s.match(c.Request.URL.Path)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
		return
	}
	r.proxy.ServeHTTP(c.Writer, c.Request)
}

// match picks the route whose prefix is the path or a parent segment of it.
func (s *Server) match(path string) (route, bool) {
	for _, r := range s.routes {
		if path == r.prefix || strings.HasPrefix(path, r.prefix+"/") {
			return r, true
		}
	}
	return route{}, false
}

func (s *Server) newProxy(target *url.URL) *httputil.ReverseProxy {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: transport,
		// CORS and the request id are answered here; upstream copies would
		// duplicate the headers
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Del(middleware.RequestIDHeader)
			for key := range resp.Header {
				if strings.HasPrefix(key, "Access-Control-") {
					resp.Header.Del(key)
				}
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("Upstream unavailable",
				logger.String("upstream", target.String()),
				logger.String("path", r.URL.Path),
				logger.Err(err))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(badGatewayBody))
		},
	}
}
