package signal

import (
	"math"
	"testing"
	"time"

	"weex-trading-bot/internal/weex"
)

func window(prices ...float64) []Tick {
	ticks := make([]Tick, len(prices))
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, p := range prices {
		ticks[i] = Tick{Timestamp: base.Add(time.Duration(i) * time.Second), Price: p}
	}
	return ticks
}

func TestATR(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		period int
		want   float64
	}{
		{"steady moves", []float64{100, 101, 100, 101, 100}, 4, 1.0},
		{"mixed magnitudes", []float64{100, 102, 101, 105}, 3, (2.0 + 1.0 + 4.0) / 3},
		{"window too short", []float64{100, 101}, 4, 0},
		{"flat", []float64{100, 100, 100, 100}, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ATR(window(tt.prices...), tt.period)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ATR = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMomentumDirection(t *testing.T) {
	e := NewMomentumEvaluator()

	up := window(100, 100.1, 100.2, 100.3, 100.4, 100.5, 100.6, 100.7, 100.8, 100.9, 101)
	sig := e.Evaluate("cmt_btcusdt", up)
	if sig.Direction != weex.DirectionLong {
		t.Errorf("rising window direction = %q, want LONG", sig.Direction)
	}
	if sig.Confidence <= e.BaseConfidence || sig.Confidence > e.MaxConfidence {
		t.Errorf("confidence = %v, want in (%v, %v]", sig.Confidence, e.BaseConfidence, e.MaxConfidence)
	}
	if sig.Price != 101 {
		t.Errorf("signal price = %v, want last tick 101", sig.Price)
	}

	down := window(101, 100.9, 100.8, 100.7, 100.6, 100.5, 100.4, 100.3, 100.2, 100.1, 100)
	sig = e.Evaluate("cmt_btcusdt", down)
	if sig.Direction != weex.DirectionShort {
		t.Errorf("falling window direction = %q, want SHORT", sig.Direction)
	}
}

func TestMomentumNoiseIsNotASignal(t *testing.T) {
	e := NewMomentumEvaluator()

	flat := window(100, 100.01, 100, 100.01, 100, 100.01, 100, 100.01, 100, 100.01, 100.02)
	sig := e.Evaluate("cmt_btcusdt", flat)
	if sig.Tradeable() {
		t.Errorf("flat window produced a %s signal", sig.Direction)
	}

	short := window(100, 101, 102)
	if sig := e.Evaluate("cmt_btcusdt", short); sig.Tradeable() {
		t.Error("window shorter than lookback produced a signal")
	}
}

func TestMomentumConfidenceCapped(t *testing.T) {
	e := NewMomentumEvaluator()

	// A 10% move would map far above the ceiling without the cap
	spike := window(100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110)
	sig := e.Evaluate("cmt_btcusdt", spike)
	if sig.Confidence != e.MaxConfidence {
		t.Errorf("confidence = %v, want capped at %v", sig.Confidence, e.MaxConfidence)
	}
}

func TestClassifyRegime(t *testing.T) {
	tests := []struct {
		name       string
		momentum   float64
		volatility float64
		want       string
	}{
		{"high volatility wins", 0.01, 0.005, RegimeHighVol},
		{"compression", 0.0001, 0.0001, RegimeCompression},
		{"trend up", 0.003, 0.002, RegimeTrendUp},
		{"trend down", -0.003, 0.002, RegimeTrendDown},
		{"range", 0.001, 0.002, RegimeRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyRegime(tt.momentum, tt.volatility); got != tt.want {
				t.Errorf("classifyRegime(%v, %v) = %s, want %s", tt.momentum, tt.volatility, got, tt.want)
			}
		})
	}
}
