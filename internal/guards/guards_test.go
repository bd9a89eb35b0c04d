package guards

import (
	"strings"
	"testing"
	"time"
)

func TestExecutionGuardCooldown(t *testing.T) {
	guard := NewExecutionGuard(ExecutionGuardConfig{CooldownSeconds: 180, MaxNotional: 500})

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return current }

	if ok, reason := guard.CheckEntry("cmt_btcusdt", 100); !ok {
		t.Fatalf("first entry blocked: %s", reason)
	}
	guard.RegisterTrade("cmt_btcusdt")

	// Inside the window
	current = current.Add(60 * time.Second)
	if ok, _ := guard.CheckEntry("cmt_btcusdt", 100); ok {
		t.Error("entry allowed inside cooldown window")
	}

	// A different symbol is unaffected
	if ok, reason := guard.CheckEntry("cmt_ethusdt", 100); !ok {
		t.Errorf("other symbol blocked by cooldown: %s", reason)
	}

	// Past the window
	current = current.Add(121 * time.Second)
	if ok, reason := guard.CheckEntry("cmt_btcusdt", 100); !ok {
		t.Errorf("entry blocked after cooldown expired: %s", reason)
	}
}

func TestExecutionGuardCheckDoesNotStartCooldown(t *testing.T) {
	guard := NewExecutionGuard(ExecutionGuardConfig{CooldownSeconds: 180, MaxNotional: 500})

	guard.CheckEntry("cmt_btcusdt", 100)
	if remaining := guard.CooldownRemaining("cmt_btcusdt"); remaining != 0 {
		t.Errorf("CheckEntry started a cooldown: %v remaining", remaining)
	}
}

func TestExecutionGuardNotionalCeiling(t *testing.T) {
	guard := NewExecutionGuard(ExecutionGuardConfig{CooldownSeconds: 180, MaxNotional: 500})

	if ok, _ := guard.CheckEntry("cmt_btcusdt", 500.01); ok {
		t.Error("entry above notional ceiling allowed")
	}
	if ok, reason := guard.CheckEntry("cmt_btcusdt", 500.0); !ok {
		t.Errorf("entry at notional ceiling blocked: %s", reason)
	}
}

func TestPnLGuardHaltsOnDrawdown(t *testing.T) {
	guard := NewPnLGuard(PnLGuardConfig{MaxDrawdownPercent: 2.0})

	guard.UpdateEquity(1000)
	if ok, _ := guard.CheckEntry(); !ok {
		t.Fatal("guard halted at baseline")
	}

	// 1.5% drawdown, still trading
	guard.UpdateEquity(985)
	if guard.Halted() {
		t.Fatal("halted below drawdown limit")
	}

	// 2.1% drawdown from peak trips the breaker
	guard.UpdateEquity(979)
	if !guard.Halted() {
		t.Fatal("not halted above drawdown limit")
	}
	if ok, reason := guard.CheckEntry(); ok || !strings.Contains(reason, "drawdown") {
		t.Errorf("CheckEntry = (%v, %q), want blocked with drawdown reason", ok, reason)
	}
}

func TestPnLGuardHaltLatches(t *testing.T) {
	guard := NewPnLGuard(PnLGuardConfig{MaxDrawdownPercent: 2.0})

	guard.UpdateEquity(1000)
	guard.UpdateEquity(970)
	if !guard.Halted() {
		t.Fatal("not halted")
	}

	// Recovery does not clear the latch
	guard.UpdateEquity(1005)
	if !guard.Halted() {
		t.Error("halt cleared by equity recovery")
	}

	guard.Reset(1005)
	if guard.Halted() {
		t.Error("Reset did not clear halt")
	}
	if st := guard.Status(); st.PeakEquity != 1005 {
		t.Errorf("peak after Reset = %v, want 1005", st.PeakEquity)
	}
}

func TestPnLGuardForceUnhaltKeepsPeak(t *testing.T) {
	guard := NewPnLGuard(PnLGuardConfig{MaxDrawdownPercent: 2.0})

	guard.UpdateEquity(1000)
	guard.UpdateEquity(970)
	guard.ForceUnhalt()

	if guard.Halted() {
		t.Fatal("ForceUnhalt did not clear halt")
	}
	if st := guard.Status(); st.PeakEquity != 1000 {
		t.Errorf("peak after ForceUnhalt = %v, want 1000", st.PeakEquity)
	}

	// Same drawdown against the retained peak trips again
	guard.UpdateEquity(969)
	if !guard.Halted() {
		t.Error("guard did not re-trip against retained peak")
	}
}

func TestPnLGuardPeakRatchetsUp(t *testing.T) {
	guard := NewPnLGuard(PnLGuardConfig{MaxDrawdownPercent: 2.0})

	guard.UpdateEquity(1000)
	guard.UpdateEquity(1100)
	// 1.9% off the old peak but 10.9% off the new one would be wrong math;
	// 1081 is ~1.7% below the 1100 peak
	guard.UpdateEquity(1081)
	if guard.Halted() {
		t.Error("halted below limit against ratcheted peak")
	}
	guard.UpdateEquity(1077)
	if !guard.Halted() {
		t.Error("not halted above limit against ratcheted peak")
	}
}
