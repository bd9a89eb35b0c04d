package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime_seconds": int(time.Since(s.startedAt).Seconds())})
}

func (s *Server) handleStatus(c *gin.Context) {
	pnl := s.pnlGuard.Status()
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":   int(time.Since(s.startedAt).Seconds()),
		"open_trades":      s.manager.OpenCount(),
		"portfolio_risk":   s.manager.PortfolioRisk(),
		"equity":           pnl.CurrentEquity,
		"peak_equity":      pnl.PeakEquity,
		"drawdown_percent": pnl.DrawdownPercent,
		"halted":           pnl.Halted,
	})
}

func (s *Server) handleOpenTrades(c *gin.Context) {
	trades := s.manager.OpenTrades()
	out := make([]gin.H, 0, len(trades))
	for i := range trades {
		t := &trades[i]
		out = append(out, gin.H{
			"id":               t.ID,
			"symbol":           t.Symbol,
			"direction":        t.Direction,
			"state":            t.State(),
			"entry_price":      t.EntryPrice,
			"size":             t.Size,
			"stop_loss":        t.StopLoss,
			"take_profit":      t.TakeProfit,
			"profit_lock_tier": t.ProfitLockTier,
			"risk_pct":         t.RiskPct,
			"trade_class":      t.Class,
			"entry_time":       t.EntryTime,
		})
	}
	c.JSON(http.StatusOK, gin.H{"trades": out, "count": len(out)})
}

func (s *Server) handleTradeHistory(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade history requires the database"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := s.repo.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Trade history query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": rows, "count": len(rows)})
}

func (s *Server) handleGuards(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pnl_guard": s.pnlGuard.Status(),
	})
}

func (s *Server) handleTrackedOrders(c *gin.Context) {
	if s.tracker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order tracking requires redis"})
		return
	}
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol query parameter required"})
		return
	}
	orders, err := s.tracker.TrackedOrders(c.Request.Context(), symbol)
	if err != nil {
		s.logger.Error("Tracked order query failed", "symbol", symbol, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "orders": orders, "count": len(orders)})
}

func (s *Server) handleForceUnhalt(c *gin.Context) {
	if !s.pnlGuard.Halted() {
		c.JSON(http.StatusOK, gin.H{"message": "guard is not halted"})
		return
	}
	s.pnlGuard.ForceUnhalt()
	s.logger.Warn("Drawdown halt cleared by operator", "username", c.GetString("username"))
	c.JSON(http.StatusOK, gin.H{"message": "halt cleared, peak equity retained"})
}

func (s *Server) handleReconcileNow(c *gin.Context) {
	if err := s.engine.Run(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("Manual reconciliation pass completed", "username", c.GetString("username"))
	c.JSON(http.StatusOK, gin.H{"message": "reconciliation pass completed"})
}
