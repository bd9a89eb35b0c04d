package signal

import (
	"time"

	"weex-trading-bot/internal/weex"
)

// Market regime labels produced by the signal source
const (
	RegimeTrendUp     = "TREND_UP"
	RegimeTrendDown   = "TREND_DOWN"
	RegimeRange       = "RANGE"
	RegimeCompression = "VOLATILITY_COMPRESSION"
	RegimeHighVol     = "HIGH_VOLATILITY"
)

// Tick is one ticker observation in the per-symbol window
type Tick struct {
	Timestamp time.Time
	Price     float64
	Volume    float64
}

// Signal is the per-tick output of the signal source. Direction empty means
// no-trade. Signals are ephemeral and never retained across ticks.
type Signal struct {
	Symbol     string
	Direction  weex.Direction
	Confidence float64
	Regime     string
	Price      float64
}

// Tradeable reports whether the signal proposes an entry at all
func (s Signal) Tradeable() bool {
	return s.Direction.Valid()
}

// Evaluator turns a window of recent ticks into a signal. Implementations are
// pure from the caller's perspective: no side effects, no retained state that
// changes the trading core's behavior.
type Evaluator interface {
	Evaluate(symbol string, ticks []Tick) Signal
}

// ATR estimates volatility from a ticker window as the mean absolute move
// between consecutive prices over the given period. Returns 0 when the
// window is too short.
func ATR(ticks []Tick, period int) float64 {
	if len(ticks) < period+1 {
		return 0
	}
	start := len(ticks) - period
	sum := 0.0
	for i := start; i < len(ticks); i++ {
		move := ticks[i].Price - ticks[i-1].Price
		if move < 0 {
			move = -move
		}
		sum += move
	}
	return sum / float64(period)
}
