// Package guards provides pre-trade admission checks that run before any
// order reaches the exchange. The execution guard rate-limits entries per
// symbol and caps order notional; the PnL guard halts all trading when
// account drawdown from its session peak exceeds a configured limit.
package guards

import (
	"fmt"
	"sync"
	"time"

	"weex-trading-bot/internal/logging"
)

// ExecutionGuardConfig controls per-symbol cooldown and notional ceiling.
type ExecutionGuardConfig struct {
	CooldownSeconds int     `json:"cooldown_seconds"`
	MaxNotional     float64 `json:"max_notional"`
}

// ExecutionGuard blocks entries that arrive inside a symbol's cooldown
// window or whose notional exceeds the configured ceiling.
type ExecutionGuard struct {
	mu        sync.Mutex
	config    ExecutionGuardConfig
	lastEntry map[string]time.Time
	logger    *logging.Logger
	now       func() time.Time // injectable for tests
}

// NewExecutionGuard builds the guard. A zero cooldown takes the default; a
// negative one disables the cooldown entirely.
func NewExecutionGuard(cfg ExecutionGuardConfig) *ExecutionGuard {
	if cfg.CooldownSeconds == 0 {
		cfg.CooldownSeconds = 180
	}
	if cfg.CooldownSeconds < 0 {
		cfg.CooldownSeconds = 0
	}
	if cfg.MaxNotional <= 0 {
		cfg.MaxNotional = 500
	}
	return &ExecutionGuard{
		config:    cfg,
		lastEntry: make(map[string]time.Time),
		logger:    logging.Default().WithComponent("execution_guard"),
		now:       time.Now,
	}
}

// CheckEntry reports whether a new entry for symbol with the given notional
// may proceed. It does not record the entry; call RegisterTrade once the
// order has actually been submitted so a rejected or failed order does not
// start a cooldown.
func (g *ExecutionGuard) CheckEntry(symbol string, notional float64) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if notional > g.config.MaxNotional {
		reason := fmt.Sprintf("notional %.2f exceeds limit %.2f", notional, g.config.MaxNotional)
		g.logger.Warn("Entry blocked", "symbol", symbol, "reason", reason)
		return false, reason
	}

	last, ok := g.lastEntry[symbol]
	if ok && g.config.CooldownSeconds > 0 {
		elapsed := g.now().Sub(last)
		cooldown := time.Duration(g.config.CooldownSeconds) * time.Second
		if elapsed < cooldown {
			remaining := cooldown - elapsed
			reason := fmt.Sprintf("cooldown active for %s, %.0fs remaining", symbol, remaining.Seconds())
			g.logger.Warn("Entry blocked", "symbol", symbol, "reason", reason)
			return false, reason
		}
	}

	return true, ""
}

// RegisterTrade starts the cooldown window for symbol. Call only after the
// entry order has been submitted to the exchange.
func (g *ExecutionGuard) RegisterTrade(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastEntry[symbol] = g.now()
}

// CooldownRemaining returns how long until symbol may enter again. Zero
// means the symbol is clear.
func (g *ExecutionGuard) CooldownRemaining(symbol string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	last, ok := g.lastEntry[symbol]
	if !ok {
		return 0
	}
	cooldown := time.Duration(g.config.CooldownSeconds) * time.Second
	remaining := cooldown - g.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}
