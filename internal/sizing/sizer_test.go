package sizing

import (
	"math"
	"testing"

	"weex-trading-bot/internal/weex"
)

func TestSizeRisksConfiguredFraction(t *testing.T) {
	sizer := NewSizer(Config{RiskPercent: 0.01, NotionalCeiling: 100000, Leverage: 10})
	rules := weex.ContractRules{MinQty: 0.001, QtyStep: 0.001}

	// 1% of 10_000 is 100 at risk; stop distance 2_000 gives 0.05 contracts
	res := sizer.Size(10000, 100000, 98000, 0, rules)
	if res.Quantity == 0 {
		t.Fatalf("Size returned zero: %s", res.Reason)
	}
	if math.Abs(res.Quantity-0.05) > 1e-9 {
		t.Errorf("Quantity = %v, want 0.05", res.Quantity)
	}
	if math.Abs(res.RiskAmount-100) > 1e-6 {
		t.Errorf("RiskAmount = %v, want 100", res.RiskAmount)
	}
	if math.Abs(res.Notional-5000) > 1e-6 {
		t.Errorf("Notional = %v, want 5000", res.Notional)
	}
	if math.Abs(res.Margin-500) > 1e-6 {
		t.Errorf("Margin = %v, want 500", res.Margin)
	}
}

func TestSizeRoundsDownToStep(t *testing.T) {
	sizer := NewSizer(Config{RiskPercent: 0.01, Leverage: 10})
	rules := weex.ContractRules{MinQty: 0.01, QtyStep: 0.01}

	// Raw quantity 0.0666... rounds down to 0.06, never up
	res := sizer.Size(10000, 3000, 1500, 0, rules)
	if math.Abs(res.Quantity-0.06) > 1e-9 {
		t.Errorf("Quantity = %v, want 0.06", res.Quantity)
	}
	if res.RiskPct > 0.01+1e-9 {
		t.Errorf("RiskPct = %v, exceeds budget after rounding", res.RiskPct)
	}
}

func TestSizeNotionalCeiling(t *testing.T) {
	sizer := NewSizer(Config{RiskPercent: 0.05, NotionalCeiling: 500, Leverage: 10})
	rules := weex.ContractRules{MinQty: 0.001, QtyStep: 0.001}

	// A tight stop wants a large quantity; the ceiling caps it
	res := sizer.Size(10000, 1000, 990, 0, rules)
	if res.Quantity == 0 {
		t.Fatalf("Size returned zero: %s", res.Reason)
	}
	if res.Notional > 500+1e-6 {
		t.Errorf("Notional = %v, exceeds ceiling 500", res.Notional)
	}
}

func TestSizeRiskPctOverride(t *testing.T) {
	sizer := NewSizer(Config{RiskPercent: 0.01, Leverage: 10})
	rules := weex.ContractRules{MinQty: 0.001, QtyStep: 0.001}

	res := sizer.Size(10000, 100000, 98000, 0.02, rules)
	if math.Abs(res.Quantity-0.1) > 1e-9 {
		t.Errorf("Quantity = %v, want 0.1 at 2%% risk", res.Quantity)
	}
}

func TestSizeReturnsZeroForDegenerateInput(t *testing.T) {
	sizer := NewSizer(Config{RiskPercent: 0.01, Leverage: 10})
	rules := weex.ContractRules{MinQty: 0.1, QtyStep: 0.1}

	tests := []struct {
		name   string
		equity float64
		entry  float64
		stop   float64
	}{
		{"zero equity", 0, 100, 98},
		{"stop equals entry", 1000, 100, 100},
		{"rounds below min qty", 100, 100000, 98000},
		{"zero entry", 1000, 0, 98},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sizer.Size(tt.equity, tt.entry, tt.stop, 0, rules)
			if res.Quantity != 0 {
				t.Errorf("Quantity = %v, want 0 (do not trade)", res.Quantity)
			}
			if res.Reason == "" {
				t.Error("zero result carries no reason")
			}
		})
	}
}

func TestSizeMarginCheck(t *testing.T) {
	sizer := NewSizer(Config{RiskPercent: 0.5, Leverage: 1})
	rules := weex.ContractRules{MinQty: 0.001, QtyStep: 0.001}

	// Half the equity risked with a tight stop produces a notional far above
	// equity at 1x leverage
	res := sizer.Size(1000, 100000, 99900, 0, rules)
	if res.Quantity != 0 {
		t.Errorf("Quantity = %v, want 0 when margin exceeds equity", res.Quantity)
	}
}
