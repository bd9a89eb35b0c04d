// Package sizing converts a risk budget into an order quantity that the
// exchange will accept.
package sizing

import (
	"math"

	"weex-trading-bot/internal/weex"
)

// Config controls risk-based sizing.
type Config struct {
	RiskPercent     float64 `json:"risk_percent"`     // Fraction of equity risked per trade, e.g. 0.01
	NotionalCeiling float64 `json:"notional_ceiling"` // Max quantity * price, 0 disables
	Leverage        int     `json:"leverage"`
}

// Result describes a sized order. A zero Quantity means "do not trade":
// the inputs were degenerate (no equity, stop on top of entry) or the
// quantity rounded below the exchange minimum. Callers skip the entry,
// they do not treat it as a failure.
type Result struct {
	Quantity   float64 `json:"quantity"`
	Notional   float64 `json:"notional"`
	Margin     float64 `json:"margin"`
	RiskAmount float64 `json:"risk_amount"`
	RiskPct    float64 `json:"risk_pct"` // Actual fraction of equity at risk after rounding
	Reason     string  `json:"reason,omitempty"`
}

type Sizer struct {
	config Config
}

func NewSizer(cfg Config) *Sizer {
	if cfg.RiskPercent <= 0 {
		cfg.RiskPercent = 0.01
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 10
	}
	return &Sizer{config: cfg}
}

// Size computes the quantity whose loss at the stop equals the risk budget,
// capped by the notional ceiling and rounded down to the contract's
// quantity step. riskPct overrides the configured default when positive.
func (s *Sizer) Size(equity, entryPrice, stopPrice, riskPct float64, rules weex.ContractRules) Result {
	if equity <= 0 || entryPrice <= 0 {
		return Result{Reason: "no equity or invalid price"}
	}
	stopDistance := math.Abs(entryPrice - stopPrice)
	if stopDistance <= 0 {
		return Result{Reason: "stop distance is zero"}
	}
	if riskPct <= 0 {
		riskPct = s.config.RiskPercent
	}

	riskAmount := equity * riskPct
	quantity := riskAmount / stopDistance

	// Ceiling applies both before and after rounding so step-rounding can
	// never push notional back over the cap
	if s.config.NotionalCeiling > 0 && quantity*entryPrice > s.config.NotionalCeiling {
		quantity = s.config.NotionalCeiling / entryPrice
	}

	quantity = roundDownToStep(quantity, rules.QtyStep)
	if quantity <= 0 || (rules.MinQty > 0 && quantity < rules.MinQty) {
		return Result{Reason: "quantity below contract minimum"}
	}
	if s.config.NotionalCeiling > 0 && quantity*entryPrice > s.config.NotionalCeiling {
		return Result{Reason: "notional ceiling exceeded after rounding"}
	}

	notional := quantity * entryPrice
	margin := notional / float64(s.config.Leverage)
	if margin > equity {
		return Result{Reason: "required margin exceeds equity"}
	}

	return Result{
		Quantity:   quantity,
		Notional:   notional,
		Margin:     margin,
		RiskAmount: quantity * stopDistance,
		RiskPct:    quantity * stopDistance / equity,
	}
}

func roundDownToStep(qty, step float64) float64 {
	if step <= 0 {
		return math.Floor(qty*1e8) / 1e8
	}
	return math.Floor(qty/step+1e-9) * step
}
