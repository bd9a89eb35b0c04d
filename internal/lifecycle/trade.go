// Package lifecycle owns the set of open trades and drives each one through
// entry, protection placement, tiered profit locking, and exit.
package lifecycle

import (
	"fmt"
	"time"

	"weex-trading-bot/internal/weex"
)

// TradeClass separates low-conviction scalps from higher-conviction trend
// trades, which are allowed limited pyramiding.
type TradeClass string

const (
	ClassScalp TradeClass = "scalp"
	ClassTrend TradeClass = "trend"
)

// Trade states. Profit lock tiers refine StateProtected; State() renders
// them as LOCK_n.
const (
	StatePendingProtection = "PENDING_PROTECTION"
	StateProtected         = "PROTECTED"
	StateClosed            = "CLOSED"
)

// Trade is one open position slice, owned exclusively by the Manager. All
// mutation happens under the Manager's lock.
type Trade struct {
	ID               string         `json:"id"`
	Symbol           string         `json:"symbol"`
	Direction        weex.Direction `json:"direction"`
	EntryPrice       float64        `json:"entry_price"`
	Size             float64        `json:"size"`
	StopLoss         float64        `json:"stop_loss"`
	TakeProfit       float64        `json:"take_profit"`
	ATR              float64        `json:"atr"`
	EntryTime        time.Time      `json:"entry_time"`
	ProtectionPlaced bool           `json:"protection_placed"`
	ProfitLockTier   int            `json:"profit_lock_tier"`
	RiskPct          float64        `json:"risk_pct"`
	AppliedLeverage  int            `json:"applied_leverage"`
	Class            TradeClass     `json:"trade_class"`
	Confidence       float64        `json:"confidence"`
	Regime           string         `json:"regime"`
	Rationale        string         `json:"-"`

	stopOrderID   int64
	targetOrderID int64
	closed        bool
}

// State renders the lifecycle state, with the profit lock tier folded in.
func (t *Trade) State() string {
	switch {
	case t.closed:
		return StateClosed
	case !t.ProtectionPlaced:
		return StatePendingProtection
	case t.ProfitLockTier > 0:
		return fmt.Sprintf("LOCK_%d", t.ProfitLockTier)
	default:
		return StateProtected
	}
}

// ROI is the unrealized return at price as a percentage of entry, positive
// when the position is in profit.
func (t *Trade) ROI(price float64) float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	move := (price - t.EntryPrice) / t.EntryPrice * 100
	if t.Direction == weex.DirectionShort {
		move = -move
	}
	return move
}

// InProfit reports whether price is on the favorable side of entry.
func (t *Trade) InProfit(price float64) bool {
	return t.ROI(price) > 0
}

// Age is the time since entry.
func (t *Trade) Age() time.Duration {
	return time.Since(t.EntryTime)
}

// PositionSide maps the trade direction to the exchange's position side.
func (t *Trade) PositionSide() weex.PositionSide {
	if t.Direction == weex.DirectionShort {
		return weex.PositionSideShort
	}
	return weex.PositionSideLong
}
