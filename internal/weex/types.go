package weex

import "time"

// ==================== ENUMS ====================

// Direction is the trade direction of an entry order
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Valid reports whether the direction is one of the two tradeable values
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Opposite returns the opposing direction
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// PositionSide is the side reported by the exchange for a held position
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// PlanType distinguishes the two protective order legs
type PlanType string

const (
	PlanTypeProfit PlanType = "profit_plan"
	PlanTypeLoss   PlanType = "loss_plan"
)

// Order type codes on the contract API: 1 open long, 2 open short,
// 3 close long, 4 close short.
const (
	OrderTypeOpenLong   = "1"
	OrderTypeOpenShort  = "2"
	OrderTypeCloseLong  = "3"
	OrderTypeCloseShort = "4"
)

// ==================== MARKET DATA ====================

// Ticker is a single-symbol ticker snapshot
type Ticker struct {
	Symbol     string  `json:"symbol"`
	Last       float64 `json:"last,string"`
	BestBid    float64 `json:"best_bid,string"`
	BestAsk    float64 `json:"best_ask,string"`
	BaseVolume float64 `json:"base_volume,string"`
	Timestamp  int64   `json:"timestamp,string"`
}

// ContractRules holds the per-symbol order constraints used for rounding.
// Fetched once per symbol at startup and cached.
type ContractRules struct {
	Symbol    string  `json:"symbol"`
	MinQty    float64 `json:"minOrderSize,string"`
	QtyStep   float64 `json:"sizeIncrement,string"`
	PriceStep float64 `json:"priceEndStep,string"`
	MaxLever  int     `json:"maxLeverage,string"`
}

// ==================== ACCOUNT ====================

// AccountAsset is one asset row from the account assets query
type AccountAsset struct {
	Coin      string  `json:"coinName"`
	Equity    float64 `json:"equity,string"`
	Available float64 `json:"available,string"`
	Frozen    float64 `json:"frozen,string"`
}

// Position is an exchange-reported contract position
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Size          float64      `json:"size,string"`
	AvailableSize float64      `json:"available,string"`
	AvgEntryPrice float64      `json:"avgPrice,string"`
	Leverage      int          `json:"leverage,string"`
	UnrealizedPnL float64      `json:"unrealizedPnl,string"`
}

// ==================== ORDERS ====================

// OrderRequest is an entry or close order submission
type OrderRequest struct {
	Symbol     string
	ClientOID  string
	Size       float64
	Price      float64 // Limit price; zero means match at market
	Type       string  // One of the order type codes above
	MatchPrice bool    // True submits at market regardless of Price
}

// OrderResponse is the exchange acknowledgement of an order submission
type OrderResponse struct {
	OrderID   string `json:"order_id"`
	ClientOID string `json:"client_oid"`
}

// PlanOrderRequest is a protective (conditional) order submission
type PlanOrderRequest struct {
	Symbol       string
	PlanType     PlanType
	TriggerPrice float64
	Size         float64
	PositionSide PositionSide
	ExecutePrice float64 // Zero triggers a market execution
}

// PlanOrderResponse is the exchange acknowledgement of a plan order
type PlanOrderResponse struct {
	OrderID int64 `json:"orderId"`
	Success bool  `json:"success"`
}

// PlanOrder is an open protective order as reported by the exchange
type PlanOrder struct {
	OrderID      int64        `json:"orderId"`
	Symbol       string       `json:"symbol"`
	PlanType     PlanType     `json:"planType"`
	TriggerPrice float64      `json:"triggerPrice,string"`
	Size         float64      `json:"size,string"`
	PositionSide PositionSide `json:"positionSide"`
	CreatedAt    time.Time    `json:"-"`
}

// AILogEntry is one decision-audit record for the exchange's compliance
// endpoint
type AILogEntry struct {
	Stage       string `json:"stage"`
	Model       string `json:"model"`
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation"`
}

// APIError is a non-2xx or error-coded response from the contract API
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return "weex: " + e.Code + ": " + e.Message
	}
	return "weex: " + e.Message
}
