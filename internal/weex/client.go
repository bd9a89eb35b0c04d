package weex

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"weex-trading-bot/internal/logging"
	"weex-trading-bot/internal/metrics"
)

// Retry configuration for API calls
const (
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// DefaultBaseURL is the production WEEX contract API URL
const DefaultBaseURL = "https://api-contract.weex.com"

// Client implements ExchangeClient against the WEEX contract REST API
type Client struct {
	apiKey     string
	secretKey  string
	passphrase string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
}

// ClientConfig holds the settings needed to construct a Client
type ClientConfig struct {
	APIKey         string
	SecretKey      string
	Passphrase     string
	BaseURL        string
	RequestTimeout time.Duration
	RateLimitRPS   int
}

// NewClient creates a new WEEX contract API client
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 8
	}

	// Trim whitespace from keys - stray newlines break signature generation
	return &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		secretKey:  strings.TrimSpace(cfg.SecretKey),
		passphrase: strings.TrimSpace(cfg.Passphrase),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps*2),
		logger:     logging.WithComponent("weex"),
	}
}

// ==================== MARKET DATA ====================

// GetTicker returns the latest ticker snapshot for a symbol
func (c *Client) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	resp, err := c.get(ctx, "/capi/v2/market/ticker", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("error fetching ticker for %s: %w", symbol, err)
	}

	var ticker Ticker
	if err := unmarshalData(resp, &ticker); err != nil {
		return nil, fmt.Errorf("error parsing ticker: %w", err)
	}
	if ticker.Symbol == "" {
		ticker.Symbol = symbol
	}
	return &ticker, nil
}

// GetContractRules returns the order size/price constraints for a symbol
func (c *Client) GetContractRules(ctx context.Context, symbol string) (*ContractRules, error) {
	resp, err := c.get(ctx, "/capi/v2/market/contracts", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("error fetching contract rules for %s: %w", symbol, err)
	}

	// The contracts endpoint returns a list even for a single symbol
	var rules []ContractRules
	if err := unmarshalData(resp, &rules); err != nil {
		var single ContractRules
		if err2 := unmarshalData(resp, &single); err2 != nil {
			return nil, fmt.Errorf("error parsing contract rules: %w", err)
		}
		rules = []ContractRules{single}
	}
	for i := range rules {
		if rules[i].Symbol == symbol {
			return &rules[i], nil
		}
	}
	if len(rules) > 0 {
		return &rules[0], nil
	}
	return nil, fmt.Errorf("contract rules not found for symbol: %s", symbol)
}

// ==================== ACCOUNT ====================

// GetAccountEquity returns the USDT equity of the contract account
func (c *Client) GetAccountEquity(ctx context.Context) (float64, error) {
	resp, err := c.get(ctx, "/capi/v2/account/assets", nil)
	if err != nil {
		return 0, fmt.Errorf("error fetching account assets: %w", err)
	}

	var assets []AccountAsset
	if err := unmarshalData(resp, &assets); err != nil {
		return 0, fmt.Errorf("error parsing account assets: %w", err)
	}
	for _, asset := range assets {
		if strings.EqualFold(asset.Coin, "USDT") {
			return asset.Equity, nil
		}
	}
	if len(assets) > 0 {
		return assets[0].Equity, nil
	}
	return 0, fmt.Errorf("no assets returned")
}

// GetPositions returns all currently held contract positions
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	resp, err := c.get(ctx, "/capi/v2/account/holds", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching positions: %w", err)
	}

	var positions []Position
	if err := unmarshalData(resp, &positions); err != nil {
		return nil, fmt.Errorf("error parsing positions: %w", err)
	}
	return positions, nil
}

// SetLeverage sets both long and short leverage for a symbol
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]interface{}{
		"symbol":        symbol,
		"marginMode":    1,
		"longLeverage":  strconv.Itoa(leverage),
		"shortLeverage": strconv.Itoa(leverage),
	}
	if _, err := c.post(ctx, "/capi/v2/account/leverage", body); err != nil {
		return fmt.Errorf("error setting leverage for %s: %w", symbol, err)
	}
	return nil
}

// ==================== ORDERS ====================

// PlaceOrder submits an entry or close order
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if req.Size <= 0 {
		return nil, fmt.Errorf("invalid order size: %v", req.Size)
	}

	matchPrice := "0"
	if req.MatchPrice {
		matchPrice = "1"
	}
	body := map[string]interface{}{
		"symbol":      req.Symbol,
		"client_oid":  req.ClientOID,
		"size":        formatFloat(req.Size),
		"type":        req.Type,
		"order_type":  "0",
		"match_price": matchPrice,
		"price":       formatFloat(req.Price),
	}

	resp, err := c.post(ctx, "/capi/v2/order/placeOrder", body)
	if err != nil {
		return nil, fmt.Errorf("error placing order on %s: %w", req.Symbol, err)
	}

	var orderResp OrderResponse
	if err := unmarshalData(resp, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	return &orderResp, nil
}

// ClosePosition closes the full available size of one side at market
func (c *Client) ClosePosition(ctx context.Context, symbol string, side PositionSide) error {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return err
	}

	for _, pos := range positions {
		if pos.Symbol != symbol || pos.Side != side || pos.Size <= 0 {
			continue
		}
		closeType := OrderTypeCloseLong
		if side == PositionSideShort {
			closeType = OrderTypeCloseShort
		}
		_, err := c.PlaceOrder(ctx, OrderRequest{
			Symbol:     symbol,
			ClientOID:  fmt.Sprintf("close-%s-%d", symbol, time.Now().UnixMilli()),
			Size:       pos.AvailableSize,
			Type:       closeType,
			MatchPrice: true,
		})
		if err != nil {
			return fmt.Errorf("error closing %s %s: %w", symbol, side, err)
		}
		return nil
	}
	return nil
}

// ==================== PROTECTIVE ORDERS ====================

// PlacePlanOrder submits a stop-loss or take-profit conditional order
func (c *Client) PlacePlanOrder(ctx context.Context, req PlanOrderRequest) (*PlanOrderResponse, error) {
	if req.TriggerPrice <= 0 || req.Size <= 0 {
		return nil, fmt.Errorf("invalid plan order: trigger=%v size=%v", req.TriggerPrice, req.Size)
	}

	body := map[string]interface{}{
		"symbol":       req.Symbol,
		"planType":     string(req.PlanType),
		"triggerPrice": formatFloat(req.TriggerPrice),
		"size":         formatFloat(req.Size),
		"positionSide": string(req.PositionSide),
		"executePrice": formatFloat(req.ExecutePrice),
		"marginMode":   1,
	}

	resp, err := c.post(ctx, "/capi/v2/order/placeTpSlOrder", body)
	if err != nil {
		return nil, fmt.Errorf("error placing %s on %s: %w", req.PlanType, req.Symbol, err)
	}

	// The endpoint answers with a single-element result list
	var results []PlanOrderResponse
	if err := unmarshalData(resp, &results); err != nil {
		var single PlanOrderResponse
		if err2 := unmarshalData(resp, &single); err2 != nil {
			return nil, fmt.Errorf("error parsing plan order response: %w", err)
		}
		results = []PlanOrderResponse{single}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("empty plan order response for %s", req.Symbol)
	}
	if !results[0].Success && results[0].OrderID == 0 {
		return nil, fmt.Errorf("plan order rejected for %s %s", req.Symbol, req.PlanType)
	}
	return &results[0], nil
}

// GetPlanOrders returns the active protective orders for a symbol
func (c *Client) GetPlanOrders(ctx context.Context, symbol string) ([]PlanOrder, error) {
	resp, err := c.get(ctx, "/capi/v2/order/currentPlan", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("error fetching plan orders for %s: %w", symbol, err)
	}

	var orders []PlanOrder
	if err := unmarshalData(resp, &orders); err != nil {
		return nil, fmt.Errorf("error parsing plan orders: %w", err)
	}
	return orders, nil
}

// CancelPlanOrder cancels a single protective order
func (c *Client) CancelPlanOrder(ctx context.Context, symbol string, orderID int64) error {
	body := map[string]interface{}{
		"symbol":  symbol,
		"orderId": orderID,
	}
	if _, err := c.post(ctx, "/capi/v2/order/cancelPlan", body); err != nil {
		return fmt.Errorf("error cancelling plan order %d on %s: %w", orderID, symbol, err)
	}
	return nil
}

// CancelAllPlanOrders cancels every protective order on a symbol
func (c *Client) CancelAllPlanOrders(ctx context.Context, symbol string) error {
	orders, err := c.GetPlanOrders(ctx, symbol)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if err := c.CancelPlanOrder(ctx, symbol, order.OrderID); err != nil {
			return err
		}
	}
	return nil
}

// UploadAILog submits one decision-audit record to the exchange's
// compliance endpoint. Callers own retry policy; this is a single attempt.
func (c *Client) UploadAILog(ctx context.Context, entry AILogEntry) error {
	body := map[string]interface{}{
		"stage":       entry.Stage,
		"model":       entry.Model,
		"input":       entry.Input,
		"output":      entry.Output,
		"explanation": truncate(entry.Explanation, 1000),
	}
	if _, err := c.post(ctx, "/capi/v2/order/uploadAiLog", body); err != nil {
		return fmt.Errorf("error uploading ai log: %w", err)
	}
	return nil
}

// ==================== SIGNING ====================

func (c *Client) timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// sign produces the ACCESS-SIGN header: base64(HMAC-SHA256(ts+METHOD+path+query+body))
func (c *Client) sign(timestamp, method, path, query, body string) string {
	message := timestamp + strings.ToUpper(method) + path + query + body
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) headers(req *http.Request, signature, timestamp string) {
	req.Header.Set("ACCESS-KEY", c.apiKey)
	req.Header.Set("ACCESS-SIGN", signature)
	req.Header.Set("ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("ACCESS-PASSPHRASE", c.passphrase)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")
}

// ==================== CORE REQUEST ====================

func (c *Client) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	query := ""
	if len(params) > 0 {
		parts := make([]string, 0, len(params))
		for k, v := range params {
			parts = append(parts, k+"="+v)
		}
		query = "?" + strings.Join(parts, "&")
	}
	return c.doWithRetry(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) post(ctx context.Context, path string, body map[string]interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return c.doWithRetry(ctx, http.MethodPost, path, "", payload)
}

// doWithRetry performs a signed request with bounded retries on transient
// failures. A fresh timestamp and signature are generated per attempt.
func (c *Client) doWithRetry(ctx context.Context, method, path, query string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		data, err := c.do(ctx, method, path, query, body)
		if err == nil {
			metrics.APIRequests.WithLabelValues(path, "ok").Inc()
			return data, nil
		}
		metrics.APIRequests.WithLabelValues(path, "error").Inc()
		lastErr = err

		if !isRetryable(err) || attempt == maxRetries {
			return nil, err
		}

		delay := retryDelay(attempt)
		c.logger.Warn("request failed, retrying",
			"method", method, "path", path, "attempt", attempt+1, "delay", delay.String(), "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, path, query string, body []byte) ([]byte, error) {
	ts := c.timestamp()
	signature := c.sign(ts, method, path, query, string(body))

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+query, reader)
	if err != nil {
		return nil, err
	}
	c.headers(req, signature, ts)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(data), 500),
		}
	}

	// Some endpoints wrap failures in a 200 with an error code
	var envelope struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Code != "" && envelope.Code != "00000" {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: envelope.Code, Message: envelope.Msg}
	}

	return data, nil
}

// isRetryable reports whether an error is transient. Timeouts, connection
// failures, 429s and 5xx responses are retried; everything else surfaces.
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

// retryDelay returns delay with exponential backoff and jitter
func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter - (delay / 4)
}

// unmarshalData decodes either a bare payload or a {"data": ...} envelope
func unmarshalData(raw []byte, v interface{}) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 {
		return json.Unmarshal(envelope.Data, v)
	}
	return json.Unmarshal(raw, v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
