package weex

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient implements ExchangeClient in memory for dry-run mode and tests
type MockClient struct {
	mu          sync.RWMutex
	prices      map[string]float64
	rules       map[string]*ContractRules
	positions   map[string]*Position // key: symbol + "/" + side
	planOrders  map[int64]*PlanOrder
	leverage    map[string]int
	equity      float64
	nextOrderID int64
	aiLogs      []AILogEntry

	// Failure injection for tests
	failPlanTypes map[PlanType]bool
	planAttempts  map[PlanType]int
}

// NewMockClient creates a mock exchange seeded with an account equity
func NewMockClient(initialEquity float64) *MockClient {
	return &MockClient{
		prices:        make(map[string]float64),
		rules:         make(map[string]*ContractRules),
		positions:     make(map[string]*Position),
		planOrders:    make(map[int64]*PlanOrder),
		leverage:      make(map[string]int),
		equity:        initialEquity,
		nextOrderID:   1000,
		failPlanTypes: make(map[PlanType]bool),
		planAttempts:  make(map[PlanType]int),
	}
}

func positionKey(symbol string, side PositionSide) string {
	return symbol + "/" + string(side)
}

// SetPrice sets the mock market price for a symbol
func (c *MockClient) SetPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
}

// SetRules sets the contract rules returned for a symbol
func (c *MockClient) SetRules(symbol string, rules ContractRules) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rules.Symbol = symbol
	c.rules[symbol] = &rules
}

// SetEquity sets the reported account equity
func (c *MockClient) SetEquity(equity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.equity = equity
}

// FailPlanOrders makes subsequent plan order placements of the given type fail
func (c *MockClient) FailPlanOrders(planType PlanType, fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPlanTypes[planType] = fail
}

// SeedPosition installs an exchange position directly, bypassing order flow
func (c *MockClient) SeedPosition(pos Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := pos
	c.positions[positionKey(pos.Symbol, pos.Side)] = &p
}

// SeedPlanOrder installs a protective order directly, bypassing order flow
func (c *MockClient) SeedPlanOrder(order PlanOrder) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if order.OrderID == 0 {
		c.nextOrderID++
		order.OrderID = c.nextOrderID
	}
	o := order
	c.planOrders[order.OrderID] = &o
	return order.OrderID
}

// ==================== MARKET DATA ====================

func (c *MockClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no price for %s", symbol)
	}
	return &Ticker{
		Symbol:    symbol,
		Last:      price,
		BestBid:   price,
		BestAsk:   price,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func (c *MockClient) GetContractRules(ctx context.Context, symbol string) (*ContractRules, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rules, ok := c.rules[symbol]; ok {
		r := *rules
		return &r, nil
	}
	return &ContractRules{Symbol: symbol, MinQty: 0.001, QtyStep: 0.001, PriceStep: 0.1, MaxLever: 20}, nil
}

// ==================== ACCOUNT ====================

func (c *MockClient) GetAccountEquity(ctx context.Context) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.equity, nil
}

func (c *MockClient) GetPositions(ctx context.Context) ([]Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	positions := make([]Position, 0, len(c.positions))
	for _, pos := range c.positions {
		if pos.Size > 0 {
			positions = append(positions, *pos)
		}
	}
	return positions, nil
}

func (c *MockClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leverage[symbol] = leverage
	return nil
}

// ==================== ORDERS ====================

func (c *MockClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Size <= 0 {
		return nil, fmt.Errorf("mock: invalid order size %v", req.Size)
	}
	price := c.prices[req.Symbol]
	if req.Price > 0 && !req.MatchPrice {
		price = req.Price
	}
	if price <= 0 {
		return nil, fmt.Errorf("mock: no price for %s", req.Symbol)
	}

	switch req.Type {
	case OrderTypeOpenLong:
		c.fill(req.Symbol, PositionSideLong, req.Size, price)
	case OrderTypeOpenShort:
		c.fill(req.Symbol, PositionSideShort, req.Size, price)
	case OrderTypeCloseLong:
		c.reduce(req.Symbol, PositionSideLong, req.Size)
	case OrderTypeCloseShort:
		c.reduce(req.Symbol, PositionSideShort, req.Size)
	default:
		return nil, fmt.Errorf("mock: unknown order type %q", req.Type)
	}

	c.nextOrderID++
	return &OrderResponse{
		OrderID:   fmt.Sprintf("%d", c.nextOrderID),
		ClientOID: req.ClientOID,
	}, nil
}

func (c *MockClient) fill(symbol string, side PositionSide, size, price float64) {
	key := positionKey(symbol, side)
	pos, ok := c.positions[key]
	if !ok {
		c.positions[key] = &Position{
			Symbol:        symbol,
			Side:          side,
			Size:          size,
			AvailableSize: size,
			AvgEntryPrice: price,
			Leverage:      c.leverage[symbol],
		}
		return
	}
	total := pos.Size + size
	pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Size + price*size) / total
	pos.Size = total
	pos.AvailableSize = total
}

func (c *MockClient) reduce(symbol string, side PositionSide, size float64) {
	key := positionKey(symbol, side)
	pos, ok := c.positions[key]
	if !ok {
		return
	}
	pos.Size -= size
	if pos.Size <= 1e-9 {
		delete(c.positions, key)
		return
	}
	pos.AvailableSize = pos.Size
}

func (c *MockClient) ClosePosition(ctx context.Context, symbol string, side PositionSide) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.positions, positionKey(symbol, side))
	return nil
}

// ==================== PROTECTIVE ORDERS ====================

func (c *MockClient) PlacePlanOrder(ctx context.Context, req PlanOrderRequest) (*PlanOrderResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.planAttempts[req.PlanType]++
	if c.failPlanTypes[req.PlanType] {
		return nil, fmt.Errorf("mock: %s placement failed", req.PlanType)
	}
	if req.TriggerPrice <= 0 || req.Size <= 0 {
		return nil, fmt.Errorf("mock: invalid plan order trigger=%v size=%v", req.TriggerPrice, req.Size)
	}

	c.nextOrderID++
	c.planOrders[c.nextOrderID] = &PlanOrder{
		OrderID:      c.nextOrderID,
		Symbol:       req.Symbol,
		PlanType:     req.PlanType,
		TriggerPrice: req.TriggerPrice,
		Size:         req.Size,
		PositionSide: req.PositionSide,
		CreatedAt:    time.Now(),
	}
	return &PlanOrderResponse{OrderID: c.nextOrderID, Success: true}, nil
}

func (c *MockClient) GetPlanOrders(ctx context.Context, symbol string) ([]PlanOrder, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	orders := make([]PlanOrder, 0)
	for _, order := range c.planOrders {
		if order.Symbol == symbol {
			orders = append(orders, *order)
		}
	}
	return orders, nil
}

func (c *MockClient) CancelPlanOrder(ctx context.Context, symbol string, orderID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.planOrders[orderID]
	if !ok || order.Symbol != symbol {
		return fmt.Errorf("mock: plan order %d not found on %s", orderID, symbol)
	}
	delete(c.planOrders, orderID)
	return nil
}

func (c *MockClient) CancelAllPlanOrders(ctx context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, order := range c.planOrders {
		if order.Symbol == symbol {
			delete(c.planOrders, id)
		}
	}
	return nil
}

func (c *MockClient) UploadAILog(ctx context.Context, entry AILogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aiLogs = append(c.aiLogs, entry)
	return nil
}

// AILogs returns the audit records submitted so far
func (c *MockClient) AILogs() []AILogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]AILogEntry(nil), c.aiLogs...)
}

// PlanAttempts reports how many placements of a plan type were attempted
func (c *MockClient) PlanAttempts(planType PlanType) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.planAttempts[planType]
}
