package api

import (
	"net/http"
	"strconv"

	"kraken-trading-bot/internal/auth"
	"kraken-trading-bot/internal/kraken"
	"kraken-trading-bot/internal/position"

	"github.com/gin-gonic/gin"
)

// handleHealth returns basic health status
func (s *Server) handleHealth(c *gin.Context) {
	if err := s.repo.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus reports the traded pair and when a round-trip leg last
// filled
func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{"pair": s.pair}

	tradeLast, found, err := s.repo.GetConfigValue(c.Request.Context(), "trade_last")
	if err != nil {
		s.log.Error().Err(err).Msg("status lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if found {
		status["trade_last"] = tradeLast
	}

	c.JSON(http.StatusOK, status)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleLogin authenticates an operator and issues an access token
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := s.repo.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		s.log.Error().Err(err).Msg("login lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if user == nil || !auth.VerifyPassword(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.jwtManager.GenerateAccessToken(user.Username)
	if err != nil {
		s.log.Error().Err(err).Msg("token generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// handleGetPositions lists all positions
func (s *Server) handleGetPositions(c *gin.Context) {
	positions, err := s.repo.ListPositions(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("listing positions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

type createPositionRequest struct {
	Side          string  `json:"side" binding:"required"`
	Volume        float64 `json:"volume" binding:"required,gt=0"`
	StartingPrice float64 `json:"starting_price"`
	Strategy      struct {
		Kind     string  `json:"kind" binding:"required"`
		Ratio    float64 `json:"ratio"`
		Absolute float64 `json:"absolute"`
		Repeat   bool    `json:"repeat"`
	} `json:"strategy" binding:"required"`
}

// handleCreatePosition registers a new unstarted position. The trading
// loop picks it up on its next cycle.
func (s *Server) handleCreatePosition(c *gin.Context) {
	var req createPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	side := kraken.OrderSide(req.Side)
	if side != kraken.SideBuy && side != kraken.SideSell {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be buy or sell"})
		return
	}

	var strategy position.Strategy
	switch req.Strategy.Kind {
	case string(position.KindRatioExcludingFee):
		if req.Strategy.Ratio <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ratio must be positive"})
			return
		}
		strategy = position.RatioExcludingFee(req.Strategy.Ratio, req.Strategy.Repeat)
	case string(position.KindFixedAbsoluteIncludingFee):
		if req.Strategy.Absolute <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "absolute must be positive"})
			return
		}
		strategy = position.FixedAbsoluteIncludingFee(req.Strategy.Absolute, req.Strategy.Repeat)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown strategy kind"})
		return
	}

	p := position.NewUnstarted(strategy, side, s.pair, req.Volume, req.StartingPrice)
	if err := s.repo.SavePosition(c.Request.Context(), p); err != nil {
		s.log.Error().Err(err).Msg("saving position failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	s.log.Info().Str("position_id", p.ID).Str("side", string(side)).Float64("volume", req.Volume).Msg("position created")
	c.JSON(http.StatusCreated, gin.H{"position": p})
}

// handleGetOpenOrders lists open orders on the exchange
func (s *Server) handleGetOpenOrders(c *gin.Context) {
	orders, err := s.gateway.OpenOrders(c.Request.Context(), "")
	if err != nil {
		s.log.Error().Err(err).Msg("fetching open orders failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "exchange request failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// handleGetOrderFailure returns the recorded rejection for a reference
func (s *Server) handleGetOrderFailure(c *gin.Context) {
	ref, err := strconv.ParseInt(c.Param("ref"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reference"})
		return
	}

	message, found, err := s.repo.FindFailedOrderError(c.Request.Context(), ref)
	if err != nil {
		s.log.Error().Err(err).Msg("failure lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no failure recorded for reference"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ref": ref, "error": message})
}

// handleCancelOrder cancels an order on the exchange
func (s *Server) handleCancelOrder(c *gin.Context) {
	txID := c.Param("txid")
	if err := s.gateway.CancelOrder(c.Request.Context(), txID); err != nil {
		s.log.Error().Err(err).Str("tx_id", txID).Msg("cancel failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "exchange request failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": txID})
}

// handleGetBalances returns the account balances
func (s *Server) handleGetBalances(c *gin.Context) {
	balances, err := s.gateway.Balances(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("fetching balances failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "exchange request failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

// handleGetLatestTicker returns the most recent ticker observation for
// the traded pair, served from the cache when it is warm
func (s *Server) handleGetLatestTicker(c *gin.Context) {
	ctx := c.Request.Context()

	if s.tickerCache != nil {
		ticker, ok, err := s.tickerCache.GetLatest(ctx, s.pair)
		if err == nil && ok {
			c.JSON(http.StatusOK, gin.H{"ticker": ticker, "source": "cache"})
			return
		}
	}

	tickers, err := s.repo.RecentTickers(ctx, s.pair, 1)
	if err != nil {
		s.log.Error().Err(err).Msg("ticker lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if len(tickers) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no ticker observations yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ticker": tickers[0], "source": "database"})
}

// handleGetRecentTickers returns recent ticker observations for the
// traded pair
func (s *Server) handleGetRecentTickers(c *gin.Context) {
	limit := 60
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = parsed
	}

	tickers, err := s.repo.RecentTickers(c.Request.Context(), s.pair, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("listing tickers failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickers": tickers})
}
