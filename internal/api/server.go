// Package api serves the operator interface: status and trade queries, guard
// controls, a live websocket feed, and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weex-trading-bot/config"
	"weex-trading-bot/internal/database"
	"weex-trading-bot/internal/guards"
	"weex-trading-bot/internal/lifecycle"
	"weex-trading-bot/internal/logging"
	"weex-trading-bot/internal/reconcile"
)

// OrderTracker lists the protective orders mirrored to Redis for a symbol.
// The redis tracker implements it; nil means tracking is disabled.
type OrderTracker interface {
	TrackedOrders(ctx context.Context, symbol string) (map[string]map[string]string, error)
}

type Server struct {
	config     config.ServerConfig
	authConfig config.AuthConfig
	manager    *lifecycle.Manager
	pnlGuard   *guards.PnLGuard
	execGuard  *guards.ExecutionGuard
	engine     *reconcile.Engine
	repo       *database.TradeRepository // nil when the database is disabled
	tracker    OrderTracker              // nil when redis is disabled
	hub        *Hub
	logger     *logging.Logger
	httpServer *http.Server
	startedAt  time.Time
}

type Deps struct {
	Manager   *lifecycle.Manager
	PnLGuard  *guards.PnLGuard
	ExecGuard *guards.ExecutionGuard
	Engine    *reconcile.Engine
	Repo      *database.TradeRepository
	Tracker   OrderTracker
}

func NewServer(cfg config.ServerConfig, authCfg config.AuthConfig, deps Deps) *Server {
	return &Server{
		config:     cfg,
		authConfig: authCfg,
		manager:    deps.Manager,
		pnlGuard:   deps.PnLGuard,
		execGuard:  deps.ExecGuard,
		engine:     deps.Engine,
		repo:       deps.Repo,
		tracker:    deps.Tracker,
		hub:        NewHub(),
		logger:     logging.Default().WithComponent("api"),
		startedAt:  time.Now(),
	}
}

// Hub returns the websocket hub so the trading loop can broadcast updates.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(s.config.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = s.config.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/api/v1/auth/login", s.handleLogin)

	protected := r.Group("/api/v1", s.authMiddleware())
	{
		protected.GET("/status", s.handleStatus)
		protected.GET("/trades", s.handleOpenTrades)
		protected.GET("/trades/history", s.handleTradeHistory)
		protected.GET("/guards", s.handleGuards)
		protected.GET("/orders/tracked", s.handleTrackedOrders)
		protected.POST("/guards/unhalt", s.handleForceUnhalt)
		protected.POST("/reconcile", s.handleReconcileNow)
		protected.GET("/ws", s.hub.HandleConnection)
	}
	return r
}

// Start runs the HTTP server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Ops API listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
