package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"futures-core/internal/engine"
	"futures-core/internal/events"
	"futures-core/internal/ledger"
	"futures-core/internal/monitor"
	"futures-core/internal/reconciliation"
	"futures-core/pkg/db"
	"futures-core/pkg/logging"
)

// Commander is the engine surface the HTTP layer drives. Implementations
// must only enqueue work for the engine loop.
type Commander interface {
	Status() engine.Status
	Balance(ctx context.Context) (engine.Balance, error)
	SetAutoTrading(ctx context.Context, enabled bool) error
	ForceFlatten(ctx context.Context) (ledger.TradeResult, error)
	ForceSync(ctx context.Context) (reconciliation.Report, error)
	Shutdown()
}

// Store is the read side of the database used by report endpoints.
type Store interface {
	ListTrades(ctx context.Context, limit int) ([]db.Trade, error)
	ListTradeLog(ctx context.Context, limit int) ([]db.TradeLogRow, error)
	ListOptimizationRuns(ctx context.Context, limit int) ([]db.OptimizationRun, error)
	ListOptimizationResults(ctx context.Context, runID string) ([]db.OptimizationResult, error)
	ListReconciliationReports(ctx context.Context, limit int) ([]db.ReconciliationReport, error)
}

// Options configures the HTTP command channel.
type Options struct {
	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string
	RateLimit         float64
	RateBurst         int
	RequestTimeout    time.Duration
	Version           string
	Mode              string
}

// Server wires HTTP endpoints around the engine and the event bus.
type Server struct {
	Router  *gin.Engine
	Engine  Commander
	Bus     *events.Bus
	Store   Store
	Metrics *monitor.Metrics
	opts    Options
	logger  *zap.Logger
	limits  *ipLimiters
}

func NewServer(eng Commander, bus *events.Bus, store Store, metrics *monitor.Metrics, opts Options, logger *zap.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	logger = logging.OrNop(logger).Named("api")

	r := gin.New()
	s := &Server{
		Router:  r,
		Engine:  eng,
		Bus:     bus,
		Store:   store,
		Metrics: metrics,
		opts:    opts,
		logger:  logger,
		limits:  newIPLimiters(opts.RateLimit, opts.RateBurst),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(s.limits.Middleware(logger))
	r.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	api.Use(TimeoutMiddleware(s.opts.RequestTimeout))
	{
		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.opts.JWTSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/balance", s.getBalance)
			protected.POST("/trading/start", s.startTrading)
			protected.POST("/trading/stop", s.stopTrading)
			protected.POST("/flatten", s.flatten)
			protected.POST("/sync", s.sync)
			protected.POST("/shutdown", s.shutdown)

			protected.GET("/trades", s.getTrades)
			protected.GET("/trade-log", s.getTradeLog)
			protected.GET("/reconciliations", s.getReconciliations)
			protected.GET("/optimizations", s.getOptimizations)
			protected.GET("/optimizations/:id", s.getOptimizationResults)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.opts.Version, "mode": s.opts.Mode})
}

// Handler exposes the router for an http.Server owned by the caller.
func (s *Server) Handler() http.Handler {
	return s.Router
}
