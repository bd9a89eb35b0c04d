package guards

import (
	"fmt"
	"sync"
	"time"

	"weex-trading-bot/internal/logging"
)

// PnLGuardConfig controls the drawdown circuit breaker.
type PnLGuardConfig struct {
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
}

// PnLGuardStatus is a snapshot of the guard's state for the status API.
type PnLGuardStatus struct {
	Halted          bool      `json:"halted"`
	HaltReason      string    `json:"halt_reason,omitempty"`
	HaltedAt        time.Time `json:"halted_at,omitempty"`
	PeakEquity      float64   `json:"peak_equity"`
	CurrentEquity   float64   `json:"current_equity"`
	DrawdownPercent float64   `json:"drawdown_percent"`
}

// PnLGuard tracks account equity against its session peak and halts all new
// entries when drawdown breaches the configured limit. The halt is latched:
// equity recovering does not clear it, only Reset or ForceUnhalt does.
type PnLGuard struct {
	mu            sync.Mutex
	config        PnLGuardConfig
	peakEquity    float64
	currentEquity float64
	halted        bool
	haltReason    string
	haltedAt      time.Time
	logger        *logging.Logger
}

func NewPnLGuard(cfg PnLGuardConfig) *PnLGuard {
	if cfg.MaxDrawdownPercent <= 0 {
		cfg.MaxDrawdownPercent = 2.0
	}
	return &PnLGuard{
		config: cfg,
		logger: logging.Default().WithComponent("pnl_guard"),
	}
}

// UpdateEquity feeds the latest account equity into the guard. The first
// observation seeds the peak; subsequent higher readings raise it.
func (g *PnLGuard) UpdateEquity(equity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if equity <= 0 {
		return
	}
	g.currentEquity = equity
	if equity > g.peakEquity {
		g.peakEquity = equity
	}
	if g.halted || g.peakEquity == 0 {
		return
	}

	drawdown := (g.peakEquity - equity) / g.peakEquity * 100
	if drawdown >= g.config.MaxDrawdownPercent {
		g.halted = true
		g.haltedAt = time.Now()
		g.haltReason = fmt.Sprintf("drawdown %.2f%% from peak %.2f (limit %.2f%%)",
			drawdown, g.peakEquity, g.config.MaxDrawdownPercent)
		g.logger.Error("Trading halted", "reason", g.haltReason, "equity", equity)
	}
}

// CheckEntry reports whether new entries are allowed.
func (g *PnLGuard) CheckEntry() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.halted {
		return false, g.haltReason
	}
	return true, ""
}

// Halted reports whether the circuit breaker has tripped.
func (g *PnLGuard) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted
}

// Reset clears the halt and re-seeds the peak from the given equity. The
// lifecycle manager calls this when all positions are flat and the operator
// wants a fresh drawdown baseline.
func (g *PnLGuard) Reset(equity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.halted = false
	g.haltReason = ""
	g.haltedAt = time.Time{}
	g.peakEquity = equity
	g.currentEquity = equity
	g.logger.Info("PnL guard reset", "peak_equity", equity)
}

// ForceUnhalt clears the halt without touching the peak. Exposed through the
// admin API for manual intervention; the next equity update re-evaluates
// drawdown against the original peak.
func (g *PnLGuard) ForceUnhalt() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.halted {
		return
	}
	g.halted = false
	g.haltReason = ""
	g.haltedAt = time.Time{}
	g.logger.Warn("PnL guard force-unhalted, peak retained", "peak_equity", g.peakEquity)
}

// Status returns a snapshot for the status endpoint.
func (g *PnLGuard) Status() PnLGuardStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	var drawdown float64
	if g.peakEquity > 0 {
		drawdown = (g.peakEquity - g.currentEquity) / g.peakEquity * 100
	}
	return PnLGuardStatus{
		Halted:          g.halted,
		HaltReason:      g.haltReason,
		HaltedAt:        g.haltedAt,
		PeakEquity:      g.peakEquity,
		CurrentEquity:   g.currentEquity,
		DrawdownPercent: drawdown,
	}
}
