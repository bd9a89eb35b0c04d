package lifecycle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"weex-trading-bot/config"
	"weex-trading-bot/internal/guards"
	"weex-trading-bot/internal/logging"
	"weex-trading-bot/internal/metrics"
	"weex-trading-bot/internal/protection"
	"weex-trading-bot/internal/signal"
	"weex-trading-bot/internal/sizing"
	"weex-trading-bot/internal/weex"
)

// Auditor receives one decision record per executed entry. Submission
// failures never roll back a trade.
type Auditor interface {
	SubmitEntryDecision(ctx context.Context, symbol string, direction weex.Direction, confidence float64, explanation string)
}

// Recorder persists trade history. All methods are fire-and-forget from the
// manager's perspective.
type Recorder interface {
	RecordOpen(ctx context.Context, t *Trade)
	RecordClose(ctx context.Context, t *Trade, reason string)
	RecordTierUpgrade(ctx context.Context, t *Trade, price float64)
}

// OrderTracker mirrors protective order IDs into an external store so that
// operator tooling can inspect them without hitting the exchange.
type OrderTracker interface {
	Track(ctx context.Context, symbol string, orderID int64, planType weex.PlanType, trigger float64)
	Forget(ctx context.Context, symbol string, orderID int64)
}

// Deps wires the manager's collaborators. Auditor, Recorder and Tracker may
// be nil.
type Deps struct {
	Client         weex.ExchangeClient
	Calculator     *protection.Calculator
	ExecutionGuard *guards.ExecutionGuard
	PnLGuard       *guards.PnLGuard
	Sizer          *sizing.Sizer
	Auditor        Auditor
	Recorder       Recorder
	Tracker        OrderTracker
}

// Manager owns all open trades. One goroutine drives it per process; the
// mutex exists for the ops API reading snapshots, not for concurrent trading.
type Manager struct {
	mu     sync.Mutex
	config config.LifecycleConfig

	client    weex.ExchangeClient
	calc      *protection.Calculator
	execGuard *guards.ExecutionGuard
	pnlGuard  *guards.PnLGuard
	sizer     *sizing.Sizer
	auditor   Auditor
	recorder  Recorder
	tracker   OrderTracker
	logger    *logging.Logger

	trades   map[string][]*Trade
	inFlight map[string]bool
	rules    map[string]weex.ContractRules
	equity   float64
	leverage int

	now func() time.Time
}

func NewManager(cfg config.LifecycleConfig, leverage int, deps Deps) *Manager {
	return &Manager{
		config:    cfg,
		client:    deps.Client,
		calc:      deps.Calculator,
		execGuard: deps.ExecutionGuard,
		pnlGuard:  deps.PnLGuard,
		sizer:     deps.Sizer,
		auditor:   deps.Auditor,
		recorder:  deps.Recorder,
		tracker:   deps.Tracker,
		logger:    logging.Default().WithComponent("lifecycle"),
		trades:    make(map[string][]*Trade),
		inFlight:  make(map[string]bool),
		rules:     make(map[string]weex.ContractRules),
		equity:    0,
		leverage:  leverage,
		now:       time.Now,
	}
}

// SetRules caches the contract rules for a symbol. Called once per symbol at
// startup.
func (m *Manager) SetRules(symbol string, rules weex.ContractRules) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[symbol] = rules
}

// SetEquity updates the equity reading used for sizing and the portfolio cap.
func (m *Manager) SetEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if equity > 0 {
		m.equity = equity
	}
}

// ==================== ENTRY ====================

// HandleSignal offers a signal to the manager. Guard rejections and policy
// refusals come back as decisions; only transport failures surface as errors.
func (m *Manager) HandleSignal(ctx context.Context, sig signal.Signal, atr float64) (EntryDecision, error) {
	if !sig.Tradeable() {
		return rejected("no tradeable direction"), nil
	}
	if sig.Confidence < m.config.MinConfidence {
		metrics.EntriesRejected.WithLabelValues("confidence").Inc()
		return rejected(fmt.Sprintf("confidence %.2f below threshold %.2f", sig.Confidence, m.config.MinConfidence)), nil
	}

	m.mu.Lock()
	if m.inFlight[sig.Symbol] {
		m.mu.Unlock()
		return deferred("entry already in flight for " + sig.Symbol), nil
	}
	rules, haveRules := m.rules[sig.Symbol]
	equity := m.equity
	m.inFlight[sig.Symbol] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, sig.Symbol)
		m.mu.Unlock()
	}()

	if !haveRules {
		return deferred("contract rules not loaded for " + sig.Symbol), nil
	}

	if ok, reason := m.pnlGuard.CheckEntry(); !ok {
		metrics.EntriesRejected.WithLabelValues("drawdown_halt").Inc()
		return rejected("drawdown halt: " + reason), nil
	}

	class := m.classify(sig.Confidence)
	if dec, flip := m.checkConcurrency(sig, class); dec != nil {
		metrics.EntriesRejected.WithLabelValues("concurrency").Inc()
		return *dec, nil
	} else if flip {
		if err := m.flipPosition(ctx, sig); err != nil {
			return EntryDecision{}, fmt.Errorf("flipping %s before re-entry: %w", sig.Symbol, err)
		}
	}

	plan, err := m.calc.Calculate(sig.Price, sig.Direction, sig.Confidence, sig.Regime, atr, rules.PriceStep)
	if err != nil {
		return rejected("protection plan: " + err.Error()), nil
	}

	sized := m.sizer.Size(equity, sig.Price, plan.StopLoss, m.config.RiskPercent, rules)
	if sized.Quantity == 0 {
		metrics.EntriesRejected.WithLabelValues("sizing").Inc()
		return rejected("sizing: " + sized.Reason), nil
	}

	if open := m.portfolioRisk(); open+sized.RiskPct > m.config.PortfolioRiskCap+1e-9 {
		metrics.EntriesRejected.WithLabelValues("portfolio_cap").Inc()
		return rejected(fmt.Sprintf("portfolio risk %.3f + %.3f exceeds cap %.3f", open, sized.RiskPct, m.config.PortfolioRiskCap)), nil
	}

	if ok, reason := m.execGuard.CheckEntry(sig.Symbol, sized.Notional); !ok {
		metrics.EntriesRejected.WithLabelValues("execution_guard").Inc()
		return rejected(reason), nil
	}

	orderType := weex.OrderTypeOpenLong
	if sig.Direction == weex.DirectionShort {
		orderType = weex.OrderTypeOpenShort
	}
	resp, err := m.client.PlaceOrder(ctx, weex.OrderRequest{
		Symbol:     sig.Symbol,
		ClientOID:  uuid.NewString(),
		Size:       sized.Quantity,
		Type:       orderType,
		MatchPrice: true,
	})
	if err != nil {
		return EntryDecision{}, fmt.Errorf("placing entry order for %s: %w", sig.Symbol, err)
	}
	m.execGuard.RegisterTrade(sig.Symbol)

	trade := &Trade{
		ID:              resp.OrderID,
		Symbol:          sig.Symbol,
		Direction:       sig.Direction,
		EntryPrice:      sig.Price,
		Size:            sized.Quantity,
		StopLoss:        plan.StopLoss,
		TakeProfit:      plan.TakeProfit,
		ATR:             atr,
		EntryTime:       m.now(),
		RiskPct:         sized.RiskPct,
		AppliedLeverage: m.leverage,
		Class:           class,
		Confidence:      sig.Confidence,
		Regime:          sig.Regime,
		Rationale:       plan.Rationale,
	}
	m.mu.Lock()
	m.trades[sig.Symbol] = append(m.trades[sig.Symbol], trade)
	total := m.openCount()
	m.mu.Unlock()

	metrics.TradesOpened.WithLabelValues(sig.Symbol, string(sig.Direction)).Inc()
	metrics.OpenTrades.Set(float64(total))
	m.logger.Info("Trade opened",
		"symbol", sig.Symbol, "direction", string(sig.Direction), "size", sized.Quantity,
		"entry", sig.Price, "stop", plan.StopLoss, "target", plan.TakeProfit,
		"risk_pct", sized.RiskPct, "class", string(class))

	if m.recorder != nil {
		m.recorder.RecordOpen(ctx, trade)
	}
	if m.auditor != nil {
		m.auditor.SubmitEntryDecision(ctx, sig.Symbol, sig.Direction, sig.Confidence, plan.Rationale)
	}
	return accepted(trade), nil
}

func (m *Manager) classify(confidence float64) TradeClass {
	if confidence >= m.config.TrendConfidence {
		return ClassTrend
	}
	return ClassScalp
}

// checkConcurrency applies the per-symbol position rules. It returns a
// decision when the entry must be refused or deferred, or flip=true when an
// opposing position should be closed first. Trades older than the configured
// age no longer block.
func (m *Manager) checkConcurrency(sig signal.Signal, class TradeClass) (*EntryDecision, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxAge := time.Duration(m.config.MaxPositionAgeHours) * time.Hour
	var blocking []*Trade
	for _, t := range m.trades[sig.Symbol] {
		if maxAge > 0 && t.Age() >= maxAge {
			continue
		}
		blocking = append(blocking, t)
	}
	if len(blocking) == 0 {
		return nil, false
	}

	for _, t := range blocking {
		if t.Direction != sig.Direction {
			if sig.Confidence >= m.config.FlipConfidence {
				return nil, true
			}
			d := rejected(fmt.Sprintf("opposing %s position open, confidence %.2f below flip threshold %.2f",
				t.Direction, sig.Confidence, m.config.FlipConfidence))
			return &d, false
		}
	}

	// All blocking trades share the signal's direction
	if class == ClassScalp {
		d := rejected("scalp class allows one position per symbol")
		return &d, false
	}
	if len(blocking) >= m.config.MaxTradesPerSymbol {
		d := rejected(fmt.Sprintf("symbol already holds %d trades (limit %d)", len(blocking), m.config.MaxTradesPerSymbol))
		return &d, false
	}
	if sig.Confidence < m.config.PyramidOverride {
		for _, t := range blocking {
			if !t.InProfit(sig.Price) {
				d := rejected("pyramiding only in the profit direction")
				return &d, false
			}
		}
	}
	return nil, false
}

// flipPosition closes every opposing trade on the signal's symbol so a
// high-confidence reversal can re-enter the other way.
func (m *Manager) flipPosition(ctx context.Context, sig signal.Signal) error {
	m.mu.Lock()
	var opposing []*Trade
	for _, t := range m.trades[sig.Symbol] {
		if t.Direction == sig.Direction.Opposite() {
			opposing = append(opposing, t)
		}
	}
	m.mu.Unlock()

	for _, t := range opposing {
		m.logger.Warn("Flipping position on opposing signal",
			"symbol", t.Symbol, "held", string(t.Direction), "signal", string(sig.Direction), "confidence", sig.Confidence)
		if err := m.closeTrade(ctx, t, "flip"); err != nil {
			return err
		}
	}
	return nil
}

// ==================== PROTECTION & TIER MANAGEMENT ====================

// ManageTrades advances every open trade on symbol against the latest price:
// places withheld protection once the noise window closes, and upgrades
// profit lock tiers.
func (m *Manager) ManageTrades(ctx context.Context, symbol string, price float64) {
	m.mu.Lock()
	open := append([]*Trade(nil), m.trades[symbol]...)
	m.mu.Unlock()

	for _, t := range open {
		if t.closed {
			continue
		}
		if !t.ProtectionPlaced {
			m.maybePlaceProtection(ctx, t, price)
			continue
		}
		m.maybeUpgradeTier(ctx, t, price)
	}
}

// DrainPending places protection immediately for every trade still inside
// its noise window, closing any it cannot protect. Runs at shutdown so the
// process never exits holding an unprotected position.
func (m *Manager) DrainPending(ctx context.Context) {
	m.mu.Lock()
	var pending []*Trade
	for _, list := range m.trades {
		for _, t := range list {
			if !t.ProtectionPlaced && !t.closed {
				pending = append(pending, t)
			}
		}
	}
	m.mu.Unlock()

	for _, t := range pending {
		m.logger.Warn("Shutdown with protection pending, placing legs now", "symbol", t.Symbol)
		m.placeProtection(ctx, t)
	}
}

// noiseWindowOpen reports whether the stop is still withheld: protection is
// placed once the delay elapses or price moves a configured multiple of ATR
// from entry, whichever happens first.
func (m *Manager) noiseWindowOpen(t *Trade, price float64) bool {
	if m.now().Sub(t.EntryTime) >= time.Duration(m.config.ProtectionDelaySecs)*time.Second {
		return false
	}
	move := price - t.EntryPrice
	if move < 0 {
		move = -move
	}
	return move < m.config.ProtectionMoveATR*t.ATR
}

func (m *Manager) maybePlaceProtection(ctx context.Context, t *Trade, price float64) {
	if m.noiseWindowOpen(t, price) {
		return
	}
	m.placeProtection(ctx, t)
}

// placeProtection places both protective legs, or closes the position when
// either leg fails. The trade is never left holding only one leg.
func (m *Manager) placeProtection(ctx context.Context, t *Trade) {
	stopResp, err := m.client.PlacePlanOrder(ctx, weex.PlanOrderRequest{
		Symbol:       t.Symbol,
		PlanType:     weex.PlanTypeLoss,
		TriggerPrice: t.StopLoss,
		Size:         t.Size,
		PositionSide: t.PositionSide(),
	})
	if err != nil {
		m.handleProtectionFailure(ctx, t, weex.PlanTypeLoss, err)
		return
	}

	targetResp, err := m.client.PlacePlanOrder(ctx, weex.PlanOrderRequest{
		Symbol:       t.Symbol,
		PlanType:     weex.PlanTypeProfit,
		TriggerPrice: t.TakeProfit,
		Size:         t.Size,
		PositionSide: t.PositionSide(),
	})
	if err != nil {
		// The stop leg is up but the position is closing; remove it too
		if cancelErr := m.client.CancelPlanOrder(ctx, t.Symbol, stopResp.OrderID); cancelErr != nil {
			m.logger.Error("Failed to cancel orphaned stop leg", "symbol", t.Symbol, "order_id", stopResp.OrderID, "error", cancelErr)
		}
		m.handleProtectionFailure(ctx, t, weex.PlanTypeProfit, err)
		return
	}

	m.mu.Lock()
	t.ProtectionPlaced = true
	t.stopOrderID = stopResp.OrderID
	t.targetOrderID = targetResp.OrderID
	m.mu.Unlock()

	if m.tracker != nil {
		m.tracker.Track(ctx, t.Symbol, stopResp.OrderID, weex.PlanTypeLoss, t.StopLoss)
		m.tracker.Track(ctx, t.Symbol, targetResp.OrderID, weex.PlanTypeProfit, t.TakeProfit)
	}
	m.logger.Info("Protection placed",
		"symbol", t.Symbol, "stop", t.StopLoss, "target", t.TakeProfit,
		"stop_order", stopResp.OrderID, "target_order", targetResp.OrderID)
}

// handleProtectionFailure closes the position rather than holding it
// unprotected. This is a compliance rule, not a recovery heuristic.
func (m *Manager) handleProtectionFailure(ctx context.Context, t *Trade, leg weex.PlanType, cause error) {
	metrics.ProtectionFailures.Inc()
	m.logger.Error("CRITICAL: protection leg failed, closing position",
		"symbol", t.Symbol, "leg", string(leg), "error", cause)
	if err := m.closeTrade(ctx, t, "protection_failure"); err != nil {
		m.logger.Error("CRITICAL: close after protection failure also failed; reconciliation must repair",
			"symbol", t.Symbol, "error", err)
	}
}

func (m *Manager) maybeUpgradeTier(ctx context.Context, t *Trade, price float64) {
	roi := t.ROI(price)
	tier, lockPct := m.tierFor(roi)
	if tier <= t.ProfitLockTier {
		return
	}

	newStop := m.alignToPriceStep(t.Symbol, lockedStop(t.EntryPrice, t.Direction, lockPct))
	// Never loosen: the computed stop must strictly improve on the current one
	if t.Direction == weex.DirectionLong && newStop <= t.StopLoss {
		return
	}
	if t.Direction == weex.DirectionShort && newStop >= t.StopLoss {
		return
	}

	oldStopID := t.stopOrderID
	if oldStopID != 0 {
		if err := m.client.CancelPlanOrder(ctx, t.Symbol, oldStopID); err != nil {
			m.logger.Warn("Tier upgrade deferred, old stop not canceled", "symbol", t.Symbol, "error", err)
			return
		}
	}
	resp, err := m.client.PlacePlanOrder(ctx, weex.PlanOrderRequest{
		Symbol:       t.Symbol,
		PlanType:     weex.PlanTypeLoss,
		TriggerPrice: newStop,
		Size:         t.Size,
		PositionSide: t.PositionSide(),
	})
	if err != nil {
		// Old stop is gone; restore it so the position is never bare
		restore, restoreErr := m.client.PlacePlanOrder(ctx, weex.PlanOrderRequest{
			Symbol:       t.Symbol,
			PlanType:     weex.PlanTypeLoss,
			TriggerPrice: t.StopLoss,
			Size:         t.Size,
			PositionSide: t.PositionSide(),
		})
		if restoreErr != nil {
			m.handleProtectionFailure(ctx, t, weex.PlanTypeLoss, restoreErr)
			return
		}
		m.mu.Lock()
		t.stopOrderID = restore.OrderID
		m.mu.Unlock()
		m.logger.Warn("Tier upgrade failed, previous stop restored", "symbol", t.Symbol, "error", err)
		return
	}

	m.mu.Lock()
	t.ProfitLockTier = tier
	t.StopLoss = newStop
	t.stopOrderID = resp.OrderID
	m.mu.Unlock()

	if m.tracker != nil {
		if oldStopID != 0 {
			m.tracker.Forget(ctx, t.Symbol, oldStopID)
		}
		m.tracker.Track(ctx, t.Symbol, resp.OrderID, weex.PlanTypeLoss, newStop)
	}
	metrics.TierUpgrades.WithLabelValues(t.Symbol).Inc()
	m.logger.Info("Profit lock tier upgraded",
		"symbol", t.Symbol, "tier", tier, "roi", roi, "locked_pct", lockPct, "new_stop", newStop)
	if m.recorder != nil {
		m.recorder.RecordTierUpgrade(ctx, t, price)
	}
}

// tierFor returns the highest tier whose ROI threshold the given ROI has
// crossed, and the profit percentage that tier locks. Tier 0 means none.
func (m *Manager) tierFor(roi float64) (int, float64) {
	tier := 0
	lock := 0.0
	for i, t := range m.config.ProfitLockTiers {
		if roi >= t.ROIPercent {
			tier = i + 1
			lock = t.LockPercent
		}
	}
	return tier, lock
}

// lockedStop converts a locked profit percentage into a stop price relative
// to entry.
func lockedStop(entry float64, direction weex.Direction, lockPct float64) float64 {
	if direction == weex.DirectionShort {
		return entry * (1 - lockPct/100)
	}
	return entry * (1 + lockPct/100)
}

// alignToPriceStep rounds a trigger price to the contract's price increment.
// The exchange rejects unaligned triggers.
func (m *Manager) alignToPriceStep(symbol string, price float64) float64 {
	m.mu.Lock()
	step := m.rules[symbol].PriceStep
	m.mu.Unlock()
	if step <= 0 {
		return price
	}
	return math.Round(price/step) * step
}

// ==================== EXIT & SYNC ====================

// closeTrade market-closes the position slice, cancels its protective legs,
// and removes it from the active set.
func (m *Manager) closeTrade(ctx context.Context, t *Trade, reason string) error {
	if err := m.client.ClosePosition(ctx, t.Symbol, t.PositionSide()); err != nil {
		return fmt.Errorf("closing %s %s: %w", t.Symbol, t.PositionSide(), err)
	}
	for _, id := range []int64{t.stopOrderID, t.targetOrderID} {
		if id == 0 {
			continue
		}
		if err := m.client.CancelPlanOrder(ctx, t.Symbol, id); err != nil {
			m.logger.Warn("Failed to cancel protective order of closed trade", "symbol", t.Symbol, "order_id", id, "error", err)
		}
		if m.tracker != nil {
			m.tracker.Forget(ctx, t.Symbol, id)
		}
	}
	m.removeTrade(ctx, t, reason)
	return nil
}

// removeTrade drops the trade from the active set and records the close.
func (m *Manager) removeTrade(ctx context.Context, t *Trade, reason string) {
	m.mu.Lock()
	t.closed = true
	kept := m.trades[t.Symbol][:0]
	for _, other := range m.trades[t.Symbol] {
		if other != t {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		delete(m.trades, t.Symbol)
	} else {
		m.trades[t.Symbol] = kept
	}
	total := m.openCount()
	m.mu.Unlock()

	metrics.TradesClosed.WithLabelValues(t.Symbol, reason).Inc()
	metrics.OpenTrades.Set(float64(total))
	m.logger.Info("Trade removed", "symbol", t.Symbol, "reason", reason, "state", t.State())
	if m.recorder != nil {
		m.recorder.RecordClose(ctx, t, reason)
	}
}

// SyncPositions reconciles the in-memory trade set against exchange-reported
// positions: any trade whose position size reads zero is removed, whatever
// closed it. With everything flat, a tripped PnL guard is reset because the
// drawdown it measured is no longer at risk.
func (m *Manager) SyncPositions(ctx context.Context) error {
	positions, err := m.client.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetching positions: %w", err)
	}

	held := make(map[string]float64)
	for _, p := range positions {
		if p.Size > 0 {
			held[p.Symbol+"/"+string(p.Side)] += p.Size
		}
	}

	m.mu.Lock()
	var gone []*Trade
	for _, list := range m.trades {
		for _, t := range list {
			if held[t.Symbol+"/"+string(t.PositionSide())] <= 0 {
				gone = append(gone, t)
			}
		}
	}
	m.mu.Unlock()

	for _, t := range gone {
		for _, id := range []int64{t.stopOrderID, t.targetOrderID} {
			if id == 0 {
				continue
			}
			if err := m.client.CancelPlanOrder(ctx, t.Symbol, id); err != nil {
				m.logger.Debug("Protective order already gone", "symbol", t.Symbol, "order_id", id)
			}
			if m.tracker != nil {
				m.tracker.Forget(ctx, t.Symbol, id)
			}
		}
		m.removeTrade(ctx, t, "exchange_closed")
	}

	// The exchange view decides flatness, not the in-memory set: a position
	// the manager never tracked (restart, operator entry) still carries the
	// risk the halt is protecting against.
	if len(held) == 0 && m.pnlGuard.Halted() {
		m.pnlGuard.Reset(m.equityReading())
		m.logger.Info("Exchange reports flat, drawdown halt auto-reset")
	}
	return nil
}

// ==================== SNAPSHOTS ====================

// OpenTrades returns a copy of the active set for the ops API and the
// reconciliation engine.
func (m *Manager) OpenTrades() []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trade
	for _, list := range m.trades {
		for _, t := range list {
			out = append(out, *t)
		}
	}
	return out
}

// TradesFor returns copies of the open trades on one symbol.
func (m *Manager) TradesFor(symbol string) []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trade
	for _, t := range m.trades[symbol] {
		out = append(out, *t)
	}
	return out
}

// OpenCount returns the number of open trades across all symbols.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCount()
}

// PortfolioRisk returns the summed risk fraction across open trades.
func (m *Manager) PortfolioRisk() float64 {
	return m.portfolioRisk()
}

func (m *Manager) portfolioRisk() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0.0
	for _, list := range m.trades {
		for _, t := range list {
			sum += t.RiskPct
		}
	}
	return sum
}

// openCount must be called with the lock held.
func (m *Manager) openCount() int {
	n := 0
	for _, list := range m.trades {
		n += len(list)
	}
	return n
}

func (m *Manager) equityReading() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.equity
}
