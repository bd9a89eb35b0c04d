package protection

import (
	"fmt"
	"math"
	"strings"

	"weex-trading-bot/internal/weex"
)

// maxRationaleLen bounds the rationale text for downstream log submission
const maxRationaleLen = 1000

// Plan is a computed stop-loss/take-profit pair. Immutable once returned.
type Plan struct {
	TakeProfit float64
	StopLoss   float64
	RiskReward float64
	Rationale  string
}

// Multipliers is one row of the per-regime stop/target table
type Multipliers struct {
	Stop   float64
	Target float64
}

// Config holds the calculator policy. The regime table and bounds arrive from
// configuration; nothing here is hardcoded into the calculation.
type Config struct {
	MinRiskReward   float64
	ATRFloorPercent float64 // Volatility floor as a fraction of entry price
	RegimeTable     map[string]Multipliers
	DefaultStop     float64 // Used for regimes missing from the table
	DefaultTarget   float64
}

// Calculator computes protection plans from entry context
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator with the given policy
func NewCalculator(cfg Config) *Calculator {
	if cfg.MinRiskReward <= 0 {
		cfg.MinRiskReward = 1.2
	}
	if cfg.ATRFloorPercent <= 0 {
		cfg.ATRFloorPercent = 0.012
	}
	if cfg.DefaultStop <= 0 {
		cfg.DefaultStop = 1.0
	}
	if cfg.DefaultTarget <= 0 {
		cfg.DefaultTarget = 2.0
	}
	return &Calculator{cfg: cfg}
}

// Calculate produces a protection plan for an entry. priceStep is the
// symbol's price increment; non-positive falls back to 4-decimal rounding.
// A returned plan always has both levels on the correct side of entry and a
// risk-reward ratio at or above the configured minimum.
func (c *Calculator) Calculate(entryPrice float64, direction weex.Direction, confidence float64, regime string, volatility float64, priceStep float64) (*Plan, error) {
	if !direction.Valid() {
		return nil, fmt.Errorf("invalid direction: %q", direction)
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("invalid confidence: %v", confidence)
	}
	if entryPrice <= 0 || volatility <= 0 {
		return nil, fmt.Errorf("invalid entry price or volatility: entry=%v atr=%v", entryPrice, volatility)
	}

	// Volatility floor keeps protection outside normal market noise
	effectiveATR := volatility
	if floor := entryPrice * c.cfg.ATRFloorPercent; effectiveATR < floor {
		effectiveATR = floor
	}

	mults := c.multipliersFor(regime)
	stopDistance := effectiveATR * mults.Stop

	// Higher confidence widens the target, never the stop
	confidenceFactor := 0.8 + confidence*0.4
	targetDistance := effectiveATR * mults.Target * confidenceFactor

	// Enforce the minimum risk-reward by widening the target only
	riskReward := targetDistance / stopDistance
	if riskReward < c.cfg.MinRiskReward {
		targetDistance = stopDistance * c.cfg.MinRiskReward
		riskReward = c.cfg.MinRiskReward
	}

	var stopLoss, takeProfit float64
	if direction == weex.DirectionLong {
		stopLoss = entryPrice - stopDistance
		takeProfit = entryPrice + targetDistance
	} else {
		stopLoss = entryPrice + stopDistance
		takeProfit = entryPrice - targetDistance
	}

	stopLoss = roundToStep(stopLoss, priceStep)
	takeProfit = roundToStep(takeProfit, priceStep)
	if stopLoss <= 0 || takeProfit <= 0 {
		return nil, fmt.Errorf("protection levels collapsed to zero: sl=%v tp=%v", stopLoss, takeProfit)
	}

	plan := &Plan{
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
		RiskReward: riskReward,
		Rationale:  buildRationale(direction, regime, confidence, mults, riskReward, effectiveATR, entryPrice),
	}
	if err := plan.validate(entryPrice, direction); err != nil {
		return nil, err
	}
	return plan, nil
}

func (c *Calculator) multipliersFor(regime string) Multipliers {
	if m, ok := c.cfg.RegimeTable[strings.ToUpper(regime)]; ok {
		return m
	}
	return Multipliers{Stop: c.cfg.DefaultStop, Target: c.cfg.DefaultTarget}
}

// validate confirms levels sit on the correct side of entry for the direction
func (p *Plan) validate(entryPrice float64, direction weex.Direction) error {
	if direction == weex.DirectionLong {
		if p.StopLoss >= entryPrice {
			return fmt.Errorf("LONG stop %v not below entry %v", p.StopLoss, entryPrice)
		}
		if p.TakeProfit <= entryPrice {
			return fmt.Errorf("LONG target %v not above entry %v", p.TakeProfit, entryPrice)
		}
		return nil
	}
	if p.StopLoss <= entryPrice {
		return fmt.Errorf("SHORT stop %v not above entry %v", p.StopLoss, entryPrice)
	}
	if p.TakeProfit >= entryPrice {
		return fmt.Errorf("SHORT target %v not below entry %v", p.TakeProfit, entryPrice)
	}
	return nil
}

func buildRationale(direction weex.Direction, regime string, confidence float64, mults Multipliers, riskReward, atr, entryPrice float64) string {
	regimeDesc := map[string]string{
		"TREND_UP":               "upward trending",
		"TREND_DOWN":             "downward trending",
		"RANGE":                  "range-bound",
		"MEAN_REVERSION":         "mean-reverting",
		"VOLATILITY_COMPRESSION": "low volatility",
		"HIGH_VOLATILITY":        "high volatility",
		"VOLATILE":               "volatile",
	}
	desc, ok := regimeDesc[strings.ToUpper(regime)]
	if !ok {
		desc = strings.ToLower(regime)
	}

	var confDesc string
	switch {
	case confidence >= 0.75:
		confDesc = "very high"
	case confidence >= 0.60:
		confDesc = "high"
	case confidence >= 0.45:
		confDesc = "moderate"
	default:
		confDesc = "low"
	}

	slPct := mults.Stop * atr / entryPrice * 100
	tpPct := mults.Target * atr / entryPrice * 100

	rationale := fmt.Sprintf(
		"%s entry in %s regime with %s confidence (%.0f%%). Stop at %.1fx ATR (~%.2f%% from entry), target at %.1fx ATR (~%.2f%%). Risk-reward %.2f:1.",
		direction, desc, confDesc, confidence*100, mults.Stop, slPct, mults.Target, tpPct, riskReward,
	)
	if len(rationale) > maxRationaleLen {
		rationale = rationale[:maxRationaleLen-3] + "..."
	}
	return rationale
}

func roundToStep(price, step float64) float64 {
	if step <= 0 {
		return math.Round(price*10000) / 10000
	}
	return math.Round(price/step) * step
}
