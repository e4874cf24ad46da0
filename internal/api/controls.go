package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"futures-core/internal/engine"
	"futures-core/internal/ledger"
)

const defaultListLimit = 100

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status())
}

func (s *Server) getBalance(c *gin.Context) {
	b, err := s.Engine.Balance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    "BROKER_UNAVAILABLE",
			"error":   err.Error(),
			"balance": b,
		})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) startTrading(c *gin.Context) { s.setAutoTrading(c, true) }
func (s *Server) stopTrading(c *gin.Context)  { s.setAutoTrading(c, false) }

func (s *Server) setAutoTrading(c *gin.Context, enabled bool) {
	if err := s.Engine.SetAutoTrading(c.Request.Context(), enabled); err != nil {
		s.commandError(c, err)
		return
	}
	s.logger.Warn("auto-trading set by operator", zap.Bool("enabled", enabled), zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, gin.H{"auto_trading": enabled})
}

func (s *Server) flatten(c *gin.Context) {
	res, err := s.Engine.ForceFlatten(c.Request.Context())
	if err != nil {
		var rej *ledger.RejectedError
		if errors.As(err, &rej) {
			c.JSON(http.StatusConflict, gin.H{"code": "ORDER_REJECTED", "error": err.Error(), "result": res})
			return
		}
		s.commandError(c, err)
		return
	}
	s.logger.Warn("flatten requested by operator", zap.String("operator", CurrentOperator(c)), zap.String("action", string(res.Action)))
	c.JSON(http.StatusOK, res)
}

func (s *Server) sync(c *gin.Context) {
	rep, err := s.Engine.ForceSync(c.Request.Context())
	if err != nil {
		s.commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) shutdown(c *gin.Context) {
	s.logger.Warn("shutdown requested by operator", zap.String("operator", CurrentOperator(c)))
	s.Engine.Shutdown()
	c.JSON(http.StatusAccepted, gin.H{"status": "shutting down"})
}

func (s *Server) commandError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "ENGINE_STOPPED", "error": err.Error()})
	case errors.Is(err, engine.ErrNoMarketPrice):
		c.JSON(http.StatusConflict, gin.H{"code": "NO_MARKET_PRICE", "error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"code": "ENGINE_BUSY", "error": "engine did not answer in time"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
	}
}

func listLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 || n > 1000 {
		return defaultListLimit
	}
	return n
}

func (s *Server) storeReady(c *gin.Context) bool {
	if s.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "NO_STORE", "error": "database not configured"})
		return false
	}
	return true
}

func (s *Server) getTrades(c *gin.Context) {
	if !s.storeReady(c) {
		return
	}
	trades, err := s.Store.ListTrades(c.Request.Context(), listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) getTradeLog(c *gin.Context) {
	if !s.storeReady(c) {
		return
	}
	rows, err := s.Store.ListTradeLog(c.Request.Context(), listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func (s *Server) getReconciliations(c *gin.Context) {
	if !s.storeReady(c) {
		return
	}
	reports, err := s.Store.ListReconciliationReports(c.Request.Context(), listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *Server) getOptimizations(c *gin.Context) {
	if !s.storeReady(c) {
		return
	}
	runs, err := s.Store.ListOptimizationRuns(c.Request.Context(), listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getOptimizationResults(c *gin.Context) {
	if !s.storeReady(c) {
		return
	}
	results, err := s.Store.ListOptimizationResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	if len(results) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "optimization run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
