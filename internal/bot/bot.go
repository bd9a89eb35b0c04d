// Package bot runs the trading loop: one sequential sweep over the symbol
// list per tick, with equity refresh and protective-order reconciliation on
// their own coarser timers. All per-symbol trade state is mutated from this
// single loop.
package bot

import (
	"context"
	"encoding/json"
	"time"

	"weex-trading-bot/config"
	"weex-trading-bot/internal/guards"
	"weex-trading-bot/internal/lifecycle"
	"weex-trading-bot/internal/logging"
	"weex-trading-bot/internal/metrics"
	"weex-trading-bot/internal/reconcile"
	"weex-trading-bot/internal/signal"
	"weex-trading-bot/internal/weex"
)

// Broadcaster receives a status payload after each sweep. The websocket hub
// implements it; nil disables broadcasting.
type Broadcaster interface {
	Broadcast(msg []byte)
}

type Bot struct {
	config    config.TradingConfig
	client    weex.ExchangeClient
	manager   *lifecycle.Manager
	engine    *reconcile.Engine
	pnlGuard  *guards.PnLGuard
	evaluator signal.Evaluator
	hub       Broadcaster
	logger    *logging.Logger

	ticks map[string][]signal.Tick
}

type Deps struct {
	Client    weex.ExchangeClient
	Manager   *lifecycle.Manager
	Engine    *reconcile.Engine
	PnLGuard  *guards.PnLGuard
	Evaluator signal.Evaluator
	Hub       Broadcaster
}

func New(cfg config.TradingConfig, deps Deps) *Bot {
	return &Bot{
		config:    cfg,
		client:    deps.Client,
		manager:   deps.Manager,
		engine:    deps.Engine,
		pnlGuard:  deps.PnLGuard,
		evaluator: deps.Evaluator,
		hub:       deps.Hub,
		logger:    logging.Default().WithComponent("bot"),
		ticks:     make(map[string][]signal.Tick),
	}
}

// Startup loads contract rules, applies leverage, and seeds the equity
// baseline. Must complete before Run.
func (b *Bot) Startup(ctx context.Context) error {
	for _, symbol := range b.config.Symbols {
		rules, err := b.client.GetContractRules(ctx, symbol)
		if err != nil {
			return err
		}
		b.manager.SetRules(symbol, *rules)

		if err := b.client.SetLeverage(ctx, symbol, b.config.Leverage); err != nil {
			b.logger.Warn("Failed to set leverage", "symbol", symbol, "error", err)
		}
	}

	equity, err := b.client.GetAccountEquity(ctx)
	if err != nil || equity <= 0 {
		b.logger.Warn("Equity query failed at startup, using configured fallback",
			"fallback", b.config.InitialEquity, "error", err)
		equity = b.config.InitialEquity
	}
	b.pnlGuard.UpdateEquity(equity)
	b.manager.SetEquity(equity)
	metrics.AccountEquity.Set(equity)
	b.logger.Info("Startup complete", "symbols", len(b.config.Symbols), "equity", equity, "dry_run", b.config.DryRun)
	return nil
}

// Run drives the loop until the context is canceled. A sweep that is mid
// symbol finishes that symbol, and trades whose protection is still withheld
// get their legs placed (or the position closed) before Run returns, so
// shutdown never abandons an unprotected position.
func (b *Bot) Run(ctx context.Context) error {
	tick := time.NewTicker(time.Duration(b.config.TickInterval) * time.Second)
	defer tick.Stop()
	equityTick := time.NewTicker(time.Duration(b.config.EquityInterval) * time.Second)
	defer equityTick.Stop()
	reconcileTick := time.NewTicker(b.engine.Interval())
	defer reconcileTick.Stop()

	b.logger.Info("Trading loop started",
		"tick_interval", b.config.TickInterval, "reconcile_interval", int(b.engine.Interval().Seconds()))

	for {
		select {
		case <-ctx.Done():
			b.drainPending()
			b.logger.Info("Trading loop stopped")
			return ctx.Err()
		case <-tick.C:
			b.sweep(ctx)
		case <-equityTick.C:
			b.refreshEquity(ctx)
		case <-reconcileTick.C:
			if err := b.engine.Run(ctx); err != nil {
				b.logger.Error("Reconciliation pass failed", "error", err)
			}
		}
	}
}

// drainPending settles trades whose protective legs are still withheld. The
// run context is already canceled, so the exchange calls get a fresh bounded
// one.
func (b *Bot) drainPending() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	b.manager.DrainPending(ctx)
}

// sweep processes every symbol sequentially, then syncs the trade set
// against exchange positions.
func (b *Bot) sweep(ctx context.Context) {
	for _, symbol := range b.config.Symbols {
		if ctx.Err() != nil {
			return
		}
		b.processSymbol(ctx, symbol)
	}
	if err := b.manager.SyncPositions(ctx); err != nil {
		b.logger.Error("Position sync failed", "error", err)
	}
	b.broadcastStatus()
}

func (b *Bot) processSymbol(ctx context.Context, symbol string) {
	ticker, err := b.client.GetTicker(ctx, symbol)
	if err != nil {
		b.logger.Warn("Ticker fetch failed", "symbol", symbol, "error", err)
		return
	}
	price := ticker.Last
	window := b.recordTick(symbol, price, ticker.BaseVolume)

	// Manage existing trades before considering a new entry so a pending
	// protection placement cannot interleave with its own symbol's entry
	b.manager.ManageTrades(ctx, symbol, price)

	if len(window) < 2 {
		return
	}
	atr := signal.ATR(window, len(window)-1)
	if atr <= 0 {
		return
	}

	sig := b.evaluator.Evaluate(symbol, window)
	if !sig.Tradeable() {
		return
	}
	if b.config.DryRun {
		b.logger.Info("Dry run, signal not traded",
			"symbol", symbol, "direction", string(sig.Direction), "confidence", sig.Confidence)
		return
	}

	decision, err := b.manager.HandleSignal(ctx, sig, atr)
	if err != nil {
		b.logger.Error("Entry failed", "symbol", symbol, "error", err)
		return
	}
	switch decision.Outcome {
	case lifecycle.OutcomeAccepted:
		b.logger.Info("Signal accepted", "symbol", symbol, "direction", string(sig.Direction))
	case lifecycle.OutcomeRejected:
		b.logger.Debug("Signal rejected", "symbol", symbol, "reason", decision.Reason)
	case lifecycle.OutcomeDeferred:
		b.logger.Debug("Signal deferred", "symbol", symbol, "reason", decision.Reason)
	}
}

func (b *Bot) recordTick(symbol string, price, volume float64) []signal.Tick {
	window := append(b.ticks[symbol], signal.Tick{Timestamp: time.Now(), Price: price, Volume: volume})
	if max := b.config.TickWindow; max > 0 && len(window) > max {
		window = window[len(window)-max:]
	}
	b.ticks[symbol] = window
	return window
}

func (b *Bot) refreshEquity(ctx context.Context) {
	equity, err := b.client.GetAccountEquity(ctx)
	if err != nil {
		b.logger.Warn("Equity refresh failed", "error", err)
		return
	}
	b.pnlGuard.UpdateEquity(equity)
	b.manager.SetEquity(equity)
	metrics.AccountEquity.Set(equity)
}

func (b *Bot) broadcastStatus() {
	if b.hub == nil {
		return
	}
	pnl := b.pnlGuard.Status()
	payload, err := json.Marshal(map[string]interface{}{
		"type":           "status",
		"timestamp":      time.Now().UTC(),
		"open_trades":    b.manager.OpenTrades(),
		"portfolio_risk": b.manager.PortfolioRisk(),
		"equity":         pnl.CurrentEquity,
		"halted":         pnl.Halted,
	})
	if err != nil {
		return
	}
	b.hub.Broadcast(payload)
}
