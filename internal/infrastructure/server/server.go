package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/config"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/logging"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/marketwire/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/marketwire/internal/transport/client"
	"github.com/GriffinCanCode/marketwire/internal/transport/pool"
)

// Deps are the components the admin listener reports on. Client and
// Tracer may be nil.
type Deps struct {
	Pool     *pool.Pool
	Client   *client.Client
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Tracer   *tracing.Tracer
	Logger   *logging.Logger
}

// Server is the read-only admin HTTP listener.
type Server struct {
	router *gin.Engine
	http   *http.Server
	deps   Deps
	logger *logging.Logger
}

// New builds the admin server and registers its routes.
func New(cfg config.AdminConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(deps.Tracer))
	router.Use(monitoring.Middleware(deps.Metrics))
	router.Use(CORS(corsFor(cfg)))
	if cfg.RateLimit > 0 {
		router.Use(GlobalRateLimit(RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit,
			Burst:             cfg.RateLimit * 2,
		}))
	}

	s := &Server{
		router: router,
		deps:   deps,
		logger: deps.Logger.Named("admin"),
		http: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/pool", s.poolStats)
	s.router.GET("/breakers", s.breakers)
	s.router.GET("/robots", s.robots)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	s.router.GET("/metrics/json", s.metricsSnapshot)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address until Shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts admin connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Admin server listening", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Pool == nil || s.deps.Pool.Closed() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "closed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) poolStats(c *gin.Context) {
	if s.deps.Pool == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pool"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Pool.Stats())
}

func (s *Server) breakers(c *gin.Context) {
	states := map[string]string{}
	if s.deps.Client != nil {
		for target, state := range s.deps.Client.BreakerStates() {
			states[target] = state.String()
		}
	}
	c.JSON(http.StatusOK, gin.H{"breakers": states})
}

func (s *Server) robots(c *gin.Context) {
	if s.deps.Client == nil || s.deps.Client.Robots() == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "cached": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "cached": s.deps.Client.Robots().Len()})
}

func (s *Server) metricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Metrics.Snapshot())
}
