package lifecycle

import (
	"context"
	"testing"
	"time"

	"weex-trading-bot/config"
	"weex-trading-bot/internal/guards"
	"weex-trading-bot/internal/protection"
	"weex-trading-bot/internal/signal"
	"weex-trading-bot/internal/sizing"
	"weex-trading-bot/internal/weex"
)

const testSymbol = "cmt_btcusdt"

func testLifecycleConfig() config.LifecycleConfig {
	return config.LifecycleConfig{
		MinConfidence:       0.55,
		RiskPercent:         0.01,
		PortfolioRiskCap:    0.05,
		MaxTradesPerSymbol:  2,
		TrendConfidence:     0.70,
		PyramidOverride:     0.85,
		FlipConfidence:      0.80,
		MaxPositionAgeHours: 24,
		ProtectionDelaySecs: 3,
		ProtectionMoveATR:   0.4,
		ProfitLockTiers: []config.ProfitLockTier{
			{ROIPercent: 2, LockPercent: 0},
			{ROIPercent: 5, LockPercent: 1},
			{ROIPercent: 10, LockPercent: 3},
			{ROIPercent: 15, LockPercent: 5},
			{ROIPercent: 20, LockPercent: 8},
			{ROIPercent: 25, LockPercent: 12},
		},
	}
}

func newTestManager(t *testing.T, drawdownPct float64) (*Manager, *weex.MockClient) {
	t.Helper()
	client := weex.NewMockClient(10000)
	client.SetPrice(testSymbol, 100)

	calc := protection.NewCalculator(protection.Config{
		MinRiskReward:   1.2,
		ATRFloorPercent: 0.012,
		RegimeTable: map[string]protection.Multipliers{
			"TREND_UP":   {Stop: 2.5, Target: 5.0},
			"TREND_DOWN": {Stop: 2.5, Target: 5.0},
			"RANGE":      {Stop: 2.0, Target: 3.5},
		},
	})
	m := NewManager(testLifecycleConfig(), 10, Deps{
		Client:         client,
		Calculator:     calc,
		ExecutionGuard: guards.NewExecutionGuard(guards.ExecutionGuardConfig{CooldownSeconds: -1, MaxNotional: 1e9}),
		PnLGuard:       guards.NewPnLGuard(guards.PnLGuardConfig{MaxDrawdownPercent: drawdownPct}),
		Sizer:          sizing.NewSizer(sizing.Config{RiskPercent: 0.01, Leverage: 10}),
	})
	m.SetRules(testSymbol, weex.ContractRules{Symbol: testSymbol, MinQty: 0.001, QtyStep: 0.001, PriceStep: 0.1})
	m.SetEquity(10000)
	m.pnlGuard.UpdateEquity(10000)
	return m, client
}

func testSignal(direction weex.Direction, confidence, price float64) signal.Signal {
	return signal.Signal{
		Symbol:     testSymbol,
		Direction:  direction,
		Confidence: confidence,
		Regime:     "RANGE",
		Price:      price,
	}
}

func mustAccept(t *testing.T, m *Manager, sig signal.Signal, atr float64) *Trade {
	t.Helper()
	dec, err := m.HandleSignal(context.Background(), sig, atr)
	if err != nil {
		t.Fatalf("HandleSignal error: %v", err)
	}
	if dec.Outcome != OutcomeAccepted {
		t.Fatalf("decision = %s (%s), want accepted", dec.Outcome, dec.Reason)
	}
	return dec.Trade
}

// protect fast-forwards past the noise window and places both legs.
func protect(t *testing.T, m *Manager, price float64) {
	t.Helper()
	base := m.now()
	m.now = func() time.Time { return base.Add(5 * time.Second) }
	m.ManageTrades(context.Background(), testSymbol, price)
}

func TestEntryCreatesPendingTrade(t *testing.T) {
	m, client := newTestManager(t, 50)

	trade := mustAccept(t, m, testSignal(weex.DirectionLong, 0.60, 100), 2.0)
	if trade.State() != StatePendingProtection {
		t.Errorf("state = %s, want %s", trade.State(), StatePendingProtection)
	}
	if trade.Direction != weex.DirectionLong || trade.EntryPrice != 100 {
		t.Errorf("unexpected trade fields: %+v", trade)
	}
	// Risk 1% of 10_000 over a 4.00 stop distance (ATR 2 x stop mult 2)
	if trade.Size != 25 {
		t.Errorf("Size = %v, want 25", trade.Size)
	}

	positions, _ := client.GetPositions(context.Background())
	if len(positions) != 1 || positions[0].Side != weex.PositionSideLong {
		t.Fatalf("exchange positions = %+v, want one long", positions)
	}
	// Stop withheld inside the noise window
	if n := client.PlanAttempts(weex.PlanTypeLoss); n != 0 {
		t.Errorf("stop placed during noise window (%d attempts)", n)
	}
}

func TestEntryRejections(t *testing.T) {
	tests := []struct {
		name string
		sig  signal.Signal
	}{
		{"no direction", testSignal("", 0.9, 100)},
		{"low confidence", testSignal(weex.DirectionLong, 0.50, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, 50)
			dec, err := m.HandleSignal(context.Background(), tt.sig, 2.0)
			if err != nil {
				t.Fatalf("HandleSignal error: %v", err)
			}
			if dec.Outcome != OutcomeRejected {
				t.Errorf("decision = %s, want rejected", dec.Outcome)
			}
		})
	}
}

func TestEntryDeferredWithoutRules(t *testing.T) {
	m, client := newTestManager(t, 50)
	client.SetPrice("cmt_ethusdt", 3000)

	sig := testSignal(weex.DirectionLong, 0.60, 3000)
	sig.Symbol = "cmt_ethusdt"
	dec, err := m.HandleSignal(context.Background(), sig, 50)
	if err != nil {
		t.Fatalf("HandleSignal error: %v", err)
	}
	if dec.Outcome != OutcomeDeferred {
		t.Errorf("decision = %s (%s), want deferred", dec.Outcome, dec.Reason)
	}
}

func TestNoiseWindowTimeBound(t *testing.T) {
	m, client := newTestManager(t, 50)
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.60, 100), 2.0)

	// Inside the window with price unmoved: no protection yet
	m.ManageTrades(context.Background(), testSymbol, 100)
	if n := client.PlanAttempts(weex.PlanTypeLoss); n != 0 {
		t.Fatalf("stop placed inside noise window")
	}

	protect(t, m, 100)
	trades := m.TradesFor(testSymbol)
	if len(trades) != 1 || !trades[0].ProtectionPlaced {
		t.Fatalf("protection not placed after delay: %+v", trades)
	}
	if trades[0].State() != StateProtected {
		t.Errorf("state = %s, want %s", trades[0].State(), StateProtected)
	}
	orders, _ := client.GetPlanOrders(context.Background(), testSymbol)
	if len(orders) != 2 {
		t.Errorf("plan orders = %d, want stop and target", len(orders))
	}
}

func TestNoiseWindowPriceBound(t *testing.T) {
	m, client := newTestManager(t, 50)
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.60, 100), 2.0)

	// 0.4 x ATR 2.0 = 0.8; a move of 0.9 closes the window before the delay
	m.ManageTrades(context.Background(), testSymbol, 100.9)
	trades := m.TradesFor(testSymbol)
	if len(trades) != 1 || !trades[0].ProtectionPlaced {
		t.Fatal("protection not placed after sufficient price move")
	}
	_ = client
}

func TestProtectionFailureClosesPosition(t *testing.T) {
	m, client := newTestManager(t, 50)
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.60, 100), 2.0)

	// Target leg fails after the stop went up
	client.FailPlanOrders(weex.PlanTypeProfit, true)
	protect(t, m, 100)

	if n := m.OpenCount(); n != 0 {
		t.Errorf("open trades = %d, want 0 after protection failure", n)
	}
	positions, _ := client.GetPositions(context.Background())
	if len(positions) != 0 {
		t.Errorf("exchange positions = %+v, want none", positions)
	}
	orders, _ := client.GetPlanOrders(context.Background(), testSymbol)
	if len(orders) != 0 {
		t.Errorf("plan orders = %+v, want orphaned stop canceled", orders)
	}
}

func TestStopLegFailureClosesPosition(t *testing.T) {
	m, client := newTestManager(t, 50)
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.60, 100), 2.0)

	client.FailPlanOrders(weex.PlanTypeLoss, true)
	protect(t, m, 100)

	if n := m.OpenCount(); n != 0 {
		t.Errorf("open trades = %d, want 0", n)
	}
}

func TestProfitLockTiersMonotonic(t *testing.T) {
	m, client := newTestManager(t, 50)
	trade := mustAccept(t, m, testSignal(weex.DirectionShort, 0.60, 100), 2.0)
	protect(t, m, 100)

	// ROI 10% on a short: tier 3, stop locked at entry minus 3%
	m.ManageTrades(context.Background(), testSymbol, 90)
	trades := m.TradesFor(testSymbol)
	if trades[0].ProfitLockTier != 3 {
		t.Fatalf("tier = %d, want 3", trades[0].ProfitLockTier)
	}
	if trades[0].StopLoss != 97 {
		t.Errorf("stop = %v, want 97", trades[0].StopLoss)
	}
	if got := trades[0].State(); got != "LOCK_3" {
		t.Errorf("state = %s, want LOCK_3", got)
	}

	// Bounce back to ROI 6%: tier and stop must not retreat
	m.ManageTrades(context.Background(), testSymbol, 94)
	trades = m.TradesFor(testSymbol)
	if trades[0].ProfitLockTier != 3 || trades[0].StopLoss != 97 {
		t.Errorf("tier/stop loosened on pullback: tier=%d stop=%v", trades[0].ProfitLockTier, trades[0].StopLoss)
	}

	// Deeper profit keeps ratcheting
	m.ManageTrades(context.Background(), testSymbol, 74)
	trades = m.TradesFor(testSymbol)
	if trades[0].ProfitLockTier != 6 {
		t.Errorf("tier = %d, want 6 at ROI 26", trades[0].ProfitLockTier)
	}
	if trades[0].StopLoss != 88 {
		t.Errorf("stop = %v, want 88 (12%% locked)", trades[0].StopLoss)
	}

	// Exactly one stop and one target remain on the exchange
	orders, _ := client.GetPlanOrders(context.Background(), testSymbol)
	var stops, targets int
	for _, o := range orders {
		if o.PlanType == weex.PlanTypeLoss {
			stops++
		} else {
			targets++
		}
	}
	if stops != 1 || targets != 1 {
		t.Errorf("orders after upgrades: %d stops %d targets, want 1/1", stops, targets)
	}
	_ = trade
}

func TestScalpAllowsOnePositionPerSymbol(t *testing.T) {
	m, _ := newTestManager(t, 50)
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.60, 100), 2.0)

	dec, err := m.HandleSignal(context.Background(), testSignal(weex.DirectionLong, 0.60, 100), 2.0)
	if err != nil {
		t.Fatalf("HandleSignal error: %v", err)
	}
	if dec.Outcome != OutcomeRejected {
		t.Errorf("second scalp = %s, want rejected", dec.Outcome)
	}
}

func TestTrendPyramidsOnlyInProfit(t *testing.T) {
	m, _ := newTestManager(t, 50)
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.75, 100), 2.0)

	// Price below entry: pyramiding refused
	dec, _ := m.HandleSignal(context.Background(), testSignal(weex.DirectionLong, 0.75, 99), 2.0)
	if dec.Outcome != OutcomeRejected {
		t.Errorf("losing pyramid = %s, want rejected", dec.Outcome)
	}

	// Price above entry: pyramiding allowed
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.75, 102), 2.0)

	// Symbol cap reached
	dec, _ = m.HandleSignal(context.Background(), testSignal(weex.DirectionLong, 0.75, 104), 2.0)
	if dec.Outcome != OutcomeRejected {
		t.Errorf("third trend entry = %s, want rejected at symbol cap", dec.Outcome)
	}
}

func TestPyramidOverrideBypassesProfitRule(t *testing.T) {
	m, _ := newTestManager(t, 50)
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.75, 100), 2.0)
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.86, 99), 2.0)
}

func TestOpposingSignalFlipsAtHighConfidence(t *testing.T) {
	m, client := newTestManager(t, 50)
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.60, 100), 2.0)

	// Below the flip threshold: blocked
	dec, _ := m.HandleSignal(context.Background(), testSignal(weex.DirectionShort, 0.70, 100), 2.0)
	if dec.Outcome != OutcomeRejected {
		t.Fatalf("weak opposing signal = %s, want rejected", dec.Outcome)
	}

	// At the threshold: old long closed, short opened
	trade := mustAccept(t, m, testSignal(weex.DirectionShort, 0.82, 100), 2.0)
	if trade.Direction != weex.DirectionShort {
		t.Errorf("direction after flip = %s", trade.Direction)
	}
	trades := m.TradesFor(testSymbol)
	if len(trades) != 1 || trades[0].Direction != weex.DirectionShort {
		t.Fatalf("active set after flip = %+v", trades)
	}
	positions, _ := client.GetPositions(context.Background())
	if len(positions) != 1 || positions[0].Side != weex.PositionSideShort {
		t.Errorf("exchange positions after flip = %+v", positions)
	}
}

func TestPortfolioRiskCap(t *testing.T) {
	m, client := newTestManager(t, 50)

	// Five 1% trades on distinct symbols fill the 5% budget
	for i, symbol := range []string{"cmt_a", "cmt_b", "cmt_c", "cmt_d", "cmt_e"} {
		client.SetPrice(symbol, 100)
		m.SetRules(symbol, weex.ContractRules{Symbol: symbol, MinQty: 0.001, QtyStep: 0.001, PriceStep: 0.1})
		s := testSignal(weex.DirectionLong, 0.60, 100)
		s.Symbol = symbol
		dec, err := m.HandleSignal(context.Background(), s, 2.0)
		if err != nil {
			t.Fatalf("trade %d: %v", i, err)
		}
		if dec.Outcome != OutcomeAccepted {
			t.Fatalf("trade %d = %s (%s), want accepted", i, dec.Outcome, dec.Reason)
		}
	}

	client.SetPrice("cmt_f", 100)
	m.SetRules("cmt_f", weex.ContractRules{Symbol: "cmt_f", MinQty: 0.001, QtyStep: 0.001, PriceStep: 0.1})
	s := testSignal(weex.DirectionLong, 0.60, 100)
	s.Symbol = "cmt_f"
	dec, _ := m.HandleSignal(context.Background(), s, 2.0)
	if dec.Outcome != OutcomeRejected {
		t.Errorf("sixth trade = %s, want rejected over portfolio cap", dec.Outcome)
	}
}

func TestDrawdownHaltBlocksEntries(t *testing.T) {
	m, _ := newTestManager(t, 2.0)
	m.pnlGuard.UpdateEquity(9700) // 3% below the 10_000 peak

	dec, _ := m.HandleSignal(context.Background(), testSignal(weex.DirectionLong, 0.60, 100), 2.0)
	if dec.Outcome != OutcomeRejected {
		t.Errorf("decision under halt = %s, want rejected", dec.Outcome)
	}
}

func TestSyncRemovesExchangeClosedTrades(t *testing.T) {
	m, client := newTestManager(t, 50)
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.60, 100), 2.0)
	protect(t, m, 100)

	// The stop fired on the exchange
	client.ClosePosition(context.Background(), testSymbol, weex.PositionSideLong)
	if err := m.SyncPositions(context.Background()); err != nil {
		t.Fatalf("SyncPositions error: %v", err)
	}
	if n := m.OpenCount(); n != 0 {
		t.Errorf("open trades = %d after exchange close, want 0", n)
	}
}

func TestSyncAutoResetsHaltWhenFlat(t *testing.T) {
	m, _ := newTestManager(t, 2.0)
	m.pnlGuard.UpdateEquity(9000)
	if !m.pnlGuard.Halted() {
		t.Fatal("guard should be halted")
	}

	if err := m.SyncPositions(context.Background()); err != nil {
		t.Fatalf("SyncPositions error: %v", err)
	}
	if m.pnlGuard.Halted() {
		t.Error("halt not auto-reset with zero open positions")
	}
}

func TestDrainPendingPlacesWithheldProtection(t *testing.T) {
	m, client := newTestManager(t, 50)
	trade := mustAccept(t, m, testSignal(weex.DirectionLong, 0.60, 100), 2.0)
	if trade.ProtectionPlaced {
		t.Fatal("protection placed before the noise window closed")
	}

	// Shutdown arrives inside the noise window
	m.DrainPending(context.Background())

	trades := m.TradesFor(testSymbol)
	if len(trades) != 1 || !trades[0].ProtectionPlaced {
		t.Fatalf("trade not protected after drain: %+v", trades)
	}
	orders, _ := client.GetPlanOrders(context.Background(), testSymbol)
	var stops, targets int
	for _, o := range orders {
		if o.PlanType == weex.PlanTypeLoss {
			stops++
		} else {
			targets++
		}
	}
	if stops != 1 || targets != 1 {
		t.Errorf("orders after drain: %d stops %d targets, want 1/1", stops, targets)
	}
}

func TestDrainPendingClosesUnprotectablePosition(t *testing.T) {
	m, client := newTestManager(t, 50)
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.60, 100), 2.0)
	client.FailPlanOrders(weex.PlanTypeLoss, true)

	m.DrainPending(context.Background())

	if n := m.OpenCount(); n != 0 {
		t.Errorf("open trades after drain = %d, want 0", n)
	}
	positions, _ := client.GetPositions(context.Background())
	if len(positions) != 0 {
		t.Errorf("exchange positions after drain = %+v, want none", positions)
	}
}

func TestSyncKeepsHaltWithUntrackedExposure(t *testing.T) {
	m, client := newTestManager(t, 2.0)
	// A position the manager never opened: restart or operator entry
	client.SeedPosition(weex.Position{
		Symbol: "cmt_ethusdt", Side: weex.PositionSideLong, Size: 1, AvgEntryPrice: 100,
	})
	m.pnlGuard.UpdateEquity(9000)
	if !m.pnlGuard.Halted() {
		t.Fatal("guard should be halted")
	}

	if err := m.SyncPositions(context.Background()); err != nil {
		t.Fatalf("SyncPositions error: %v", err)
	}
	if !m.pnlGuard.Halted() {
		t.Error("halt cleared while the exchange still reports an open position")
	}
}

func TestTierStopAlignedToPriceStep(t *testing.T) {
	m, client := newTestManager(t, 50)
	client.SetPrice(testSymbol, 100.5)
	mustAccept(t, m, testSignal(weex.DirectionLong, 0.60, 100.5), 2.0)
	protect(t, m, 100.5)

	// ROI 5.47%: tier 2 locks 1%, raw stop 101.505 must land on the 0.1 step
	m.ManageTrades(context.Background(), testSymbol, 106)
	trades := m.TradesFor(testSymbol)
	if trades[0].ProfitLockTier != 2 {
		t.Fatalf("tier = %d, want 2", trades[0].ProfitLockTier)
	}
	if d := trades[0].StopLoss - 101.5; d > 1e-9 || d < -1e-9 {
		t.Errorf("stop = %v, want 101.5 aligned to price step", trades[0].StopLoss)
	}
}
