package signal

import (
	"math"

	"weex-trading-bot/internal/weex"
)

// MomentumEvaluator is the reference signal source: short-window momentum
// scaled into a confidence score, with the regime derived from realized
// volatility. It exists so the bot runs end to end without an external
// model; production deployments swap in their own Evaluator.
type MomentumEvaluator struct {
	Lookback       int     // Ticks used for the momentum measurement
	BaseConfidence float64 // Confidence assigned to the weakest actionable momentum
	MaxConfidence  float64 // Confidence ceiling
}

// NewMomentumEvaluator creates an evaluator with the standard tuning
func NewMomentumEvaluator() *MomentumEvaluator {
	return &MomentumEvaluator{
		Lookback:       10,
		BaseConfidence: 0.48,
		MaxConfidence:  0.85,
	}
}

// Evaluate produces a momentum signal from the tick window
func (e *MomentumEvaluator) Evaluate(symbol string, ticks []Tick) Signal {
	sig := Signal{Symbol: symbol}
	if len(ticks) < e.Lookback+1 {
		return sig
	}

	last := ticks[len(ticks)-1].Price
	prev := ticks[len(ticks)-1-e.Lookback].Price
	sig.Price = last
	if prev <= 0 || last <= 0 {
		return sig
	}

	momentum := (last - prev) / prev
	volatility := relativeATR(ticks, e.Lookback)
	sig.Regime = classifyRegime(momentum, volatility)

	// Weak momentum is noise, not a direction
	if math.Abs(momentum) < 0.0005 {
		return sig
	}

	confidence := e.BaseConfidence + math.Abs(momentum)*300
	if confidence > e.MaxConfidence {
		confidence = e.MaxConfidence
	}
	sig.Confidence = confidence

	if momentum > 0 {
		sig.Direction = weex.DirectionLong
	} else {
		sig.Direction = weex.DirectionShort
	}
	return sig
}

func relativeATR(ticks []Tick, period int) float64 {
	atr := ATR(ticks, period)
	last := ticks[len(ticks)-1].Price
	if last <= 0 {
		return 0
	}
	return atr / last
}

func classifyRegime(momentum, volatility float64) string {
	switch {
	case volatility > 0.004:
		return RegimeHighVol
	case volatility < 0.0005:
		return RegimeCompression
	case momentum > 0.002:
		return RegimeTrendUp
	case momentum < -0.002:
		return RegimeTrendDown
	default:
		return RegimeRange
	}
}
