package weex

import "context"

// ExchangeClient is the surface of the WEEX contract API the trading core
// depends on. Client implements it against the live API; MockClient implements
// it in memory for dry-run mode and tests.
type ExchangeClient interface {
	// Market data
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetContractRules(ctx context.Context, symbol string) (*ContractRules, error)

	// Account
	GetAccountEquity(ctx context.Context) (float64, error)
	GetPositions(ctx context.Context) ([]Position, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// Orders
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	ClosePosition(ctx context.Context, symbol string, side PositionSide) error

	// Protective orders
	PlacePlanOrder(ctx context.Context, req PlanOrderRequest) (*PlanOrderResponse, error)
	GetPlanOrders(ctx context.Context, symbol string) ([]PlanOrder, error)
	CancelPlanOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllPlanOrders(ctx context.Context, symbol string) error
}
