// Package reconcile inspects live exchange state on a timer and repairs
// protective orders: it re-places missing legs, collapses duplicates, and
// closes out accidental hedges. Every action is derived from exchange state
// alone, which makes a pass idempotent.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"weex-trading-bot/config"
	"weex-trading-bot/internal/lifecycle"
	"weex-trading-bot/internal/logging"
	"weex-trading-bot/internal/metrics"
	"weex-trading-bot/internal/weex"
)

// TradeSource exposes the manager's view of open trades so the engine can
// skip symbols whose protection is deliberately withheld.
type TradeSource interface {
	TradesFor(symbol string) []lifecycle.Trade
}

type Engine struct {
	config config.ReconcileConfig
	client weex.ExchangeClient
	trades TradeSource
	logger *logging.Logger

	mu    sync.Mutex
	rules map[string]weex.ContractRules
}

func NewEngine(cfg config.ReconcileConfig, client weex.ExchangeClient, trades TradeSource) *Engine {
	return &Engine{
		config: cfg,
		client: client,
		trades: trades,
		logger: logging.Default().WithComponent("reconcile"),
		rules:  make(map[string]weex.ContractRules),
	}
}

// Run performs one reconciliation pass over every symbol the exchange
// reports a position for.
func (e *Engine) Run(ctx context.Context) error {
	positions, err := e.client.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetching positions: %w", err)
	}

	bySymbol := make(map[string][]weex.Position)
	for _, p := range positions {
		if p.Size > 0 {
			bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
		}
	}

	for symbol, held := range bySymbol {
		if err := e.reconcileSymbol(ctx, symbol, held); err != nil {
			e.logger.Error("Reconciliation failed for symbol", "symbol", symbol, "error", err)
		}
	}
	return nil
}

func (e *Engine) reconcileSymbol(ctx context.Context, symbol string, held []weex.Position) error {
	if e.consolidateHedge(ctx, symbol, held) {
		return nil
	}

	// A trade still inside its noise-absorption window has no stop on
	// purpose; repairing it here would race the manager.
	for _, t := range e.trades.TradesFor(symbol) {
		if !t.ProtectionPlaced {
			e.logger.Debug("Skipping symbol with protection pending", "symbol", symbol)
			return nil
		}
	}

	// A symbol-wide cancel-all while repairing one side takes the other
	// side's legs with it, so a pass that replaced orders reruns against
	// fresh state. Cancel-all leaves no duplicates behind, so the second
	// pass can only place missing legs.
	for pass := 0; pass < 2; pass++ {
		orders, err := e.client.GetPlanOrders(ctx, symbol)
		if err != nil {
			return fmt.Errorf("fetching plan orders: %w", err)
		}
		replaced := false
		for _, pos := range held {
			r, err := e.repairPosition(ctx, pos, orders)
			if err != nil {
				return err
			}
			replaced = replaced || r
		}
		if !replaced {
			return nil
		}
	}
	return nil
}

// consolidateHedge closes both sides of a symbol whose long and short
// exposure nearly cancel. The position is economically flat but still pays
// funding on both legs.
func (e *Engine) consolidateHedge(ctx context.Context, symbol string, held []weex.Position) bool {
	var long, short float64
	for _, p := range held {
		switch p.Side {
		case weex.PositionSideLong:
			long += p.Size
		case weex.PositionSideShort:
			short += p.Size
		}
	}
	if long <= 0 || short <= 0 {
		return false
	}

	net := long - short
	if net < 0 {
		net = -net
	}
	gross := long + short
	if gross == 0 || net/gross >= e.config.HedgeNetThreshold {
		return false
	}

	e.logger.Warn("Hedged position detected, closing both sides",
		"symbol", symbol, "long", long, "short", short, "net_fraction", net/gross)
	if err := e.client.CancelAllPlanOrders(ctx, symbol); err != nil {
		e.logger.Error("Failed to cancel plan orders before hedge close", "symbol", symbol, "error", err)
	}
	for _, side := range []weex.PositionSide{weex.PositionSideLong, weex.PositionSideShort} {
		if err := e.client.ClosePosition(ctx, symbol, side); err != nil {
			e.logger.Error("Failed to close hedge side", "symbol", symbol, "side", string(side), "error", err)
		}
	}
	metrics.ReconcileRepairs.WithLabelValues("hedge").Inc()
	return true
}

// repairPosition checks one position's protective legs and repairs a missing
// or duplicated leg. It reports whether a symbol-wide cancel-and-replace ran,
// which invalidates the caller's order snapshot.
func (e *Engine) repairPosition(ctx context.Context, pos weex.Position, orders []weex.PlanOrder) (bool, error) {
	var stops, targets []weex.PlanOrder
	for _, o := range orders {
		if o.PositionSide != pos.Side {
			continue
		}
		if isStop(o, pos) {
			stops = append(stops, o)
		} else {
			targets = append(targets, o)
		}
	}

	if len(stops) > 1 || len(targets) > 1 {
		return true, e.replaceAll(ctx, pos)
	}

	if len(stops) == 1 && len(targets) == 1 {
		return false, nil
	}

	ticker, err := e.client.GetTicker(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("fetching ticker: %w", err)
	}

	if len(stops) == 0 {
		e.logger.Warn("Missing stop leg, placing default", "symbol", pos.Symbol, "side", string(pos.Side))
		if err := e.placeLeg(ctx, pos, weex.PlanTypeLoss, ticker.Last); err != nil {
			return false, err
		}
		metrics.ReconcileRepairs.WithLabelValues("missing").Inc()
	}
	if len(targets) == 0 {
		e.logger.Warn("Missing target leg, placing default", "symbol", pos.Symbol, "side", string(pos.Side))
		if err := e.placeLeg(ctx, pos, weex.PlanTypeProfit, ticker.Last); err != nil {
			return false, err
		}
		metrics.ReconcileRepairs.WithLabelValues("missing").Inc()
	}
	return false, nil
}

// replaceAll cancels every protective order on the symbol and re-places
// exactly one stop and one target at the default band.
func (e *Engine) replaceAll(ctx context.Context, pos weex.Position) error {
	e.logger.Warn("Redundant protective orders, canceling and re-placing",
		"symbol", pos.Symbol, "side", string(pos.Side))
	if err := e.client.CancelAllPlanOrders(ctx, pos.Symbol); err != nil {
		return fmt.Errorf("canceling plan orders: %w", err)
	}
	ticker, err := e.client.GetTicker(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("fetching ticker: %w", err)
	}
	if err := e.placeLeg(ctx, pos, weex.PlanTypeLoss, ticker.Last); err != nil {
		return err
	}
	if err := e.placeLeg(ctx, pos, weex.PlanTypeProfit, ticker.Last); err != nil {
		return err
	}
	metrics.ReconcileRepairs.WithLabelValues("redundant").Inc()
	return nil
}

// placeLeg places one protective order at the default percentage band from
// average entry, clamped against the current price so the trigger cannot
// fire the moment it is accepted.
func (e *Engine) placeLeg(ctx context.Context, pos weex.Position, planType weex.PlanType, current float64) error {
	trigger := alignToStep(e.defaultTrigger(pos, planType, current), e.priceStep(ctx, pos.Symbol))
	_, err := e.client.PlacePlanOrder(ctx, weex.PlanOrderRequest{
		Symbol:       pos.Symbol,
		PlanType:     planType,
		TriggerPrice: trigger,
		Size:         pos.Size,
		PositionSide: pos.Side,
	})
	if err != nil {
		return fmt.Errorf("placing %s repair leg: %w", planType, err)
	}
	e.logger.Info("Repair leg placed",
		"symbol", pos.Symbol, "plan_type", string(planType), "trigger", trigger, "size", pos.Size)
	return nil
}

func (e *Engine) defaultTrigger(pos weex.Position, planType weex.PlanType, current float64) float64 {
	entry := pos.AvgEntryPrice
	clamp := e.config.ClampPct

	if pos.Side == weex.PositionSideLong {
		if planType == weex.PlanTypeLoss {
			trigger := entry * (1 - e.config.DefaultStopPct)
			if limit := current * (1 - clamp); trigger > limit {
				trigger = limit
			}
			return trigger
		}
		trigger := entry * (1 + e.config.DefaultTargetPct)
		if limit := current * (1 + clamp); trigger < limit {
			trigger = limit
		}
		return trigger
	}

	if planType == weex.PlanTypeLoss {
		trigger := entry * (1 + e.config.DefaultStopPct)
		if limit := current * (1 + clamp); trigger < limit {
			trigger = limit
		}
		return trigger
	}
	trigger := entry * (1 - e.config.DefaultTargetPct)
	if limit := current * (1 - clamp); trigger > limit {
		trigger = limit
	}
	return trigger
}

// priceStep returns the symbol's price increment, cached after first fetch.
func (e *Engine) priceStep(ctx context.Context, symbol string) float64 {
	e.mu.Lock()
	r, ok := e.rules[symbol]
	e.mu.Unlock()
	if ok {
		return r.PriceStep
	}

	fetched, err := e.client.GetContractRules(ctx, symbol)
	if err != nil {
		e.logger.Warn("Contract rules unavailable, trigger left unaligned", "symbol", symbol, "error", err)
		return 0
	}
	e.mu.Lock()
	e.rules[symbol] = *fetched
	e.mu.Unlock()
	return fetched.PriceStep
}

func alignToStep(price, step float64) float64 {
	if step <= 0 {
		return price
	}
	return math.Round(price/step) * step
}

// isStop classifies a protective order. The exchange reports the plan type
// on open orders; when that field is missing the trigger's side of the
// average entry decides (below entry for a long is a stop, above a target,
// mirrored for shorts).
func isStop(o weex.PlanOrder, pos weex.Position) bool {
	switch o.PlanType {
	case weex.PlanTypeLoss:
		return true
	case weex.PlanTypeProfit:
		return false
	}
	if pos.Side == weex.PositionSideLong {
		return o.TriggerPrice < pos.AvgEntryPrice
	}
	return o.TriggerPrice > pos.AvgEntryPrice
}

// Interval returns the configured pass interval.
func (e *Engine) Interval() time.Duration {
	return time.Duration(e.config.Interval) * time.Second
}
