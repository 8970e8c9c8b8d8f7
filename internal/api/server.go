// Package api exposes the status and control HTTP API for the trading
// agent. The trading loop itself never depends on this package.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"kraken-trading-bot/config"
	"kraken-trading-bot/internal/auth"
	"kraken-trading-bot/internal/cache"
	"kraken-trading-bot/internal/database"
	"kraken-trading-bot/internal/kraken"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	repo        *database.Repository
	gateway     *kraken.Gateway
	tickerCache *cache.TickerCache
	jwtManager  *auth.JWTManager
	config      config.ServerConfig
	pair        string
	log         zerolog.Logger
}

// NewServer creates a new API server. tickerCache may be nil when Redis
// is disabled.
func NewServer(cfg config.ServerConfig, pair string, repo *database.Repository, gateway *kraken.Gateway, tickerCache *cache.TickerCache, jwtManager *auth.JWTManager, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.AllowedOrigins}
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowOrigins = nil
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		repo:        repo,
		gateway:     gateway,
		tickerCache: tickerCache,
		jwtManager:  jwtManager,
		config:      cfg,
		pair:        pair,
		log:         log.With().Str("component", "api").Logger(),
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/api/auth/login", s.handleLogin)

	api := s.router.Group("/api")
	api.Use(auth.Middleware(s.jwtManager))
	{
		api.GET("/status", s.handleStatus)

		api.GET("/positions", s.handleGetPositions)
		api.POST("/positions", s.handleCreatePosition)

		api.GET("/orders/open", s.handleGetOpenOrders)
		api.GET("/orders/failed/:ref", s.handleGetOrderFailure)
		api.DELETE("/orders/:txid", s.handleCancelOrder)

		api.GET("/balances", s.handleGetBalances)
		api.GET("/tickers/latest", s.handleGetLatestTicker)
		api.GET("/tickers/recent", s.handleGetRecentTickers)
	}
}

// Start begins listening. It returns once the listener is running or
// has failed to bind.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}

	go func() {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("status API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("status API server failed")
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
