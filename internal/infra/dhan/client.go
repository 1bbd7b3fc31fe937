// internal/infra/dhan/client.go
package dhan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tranche_investor/internal/domain/broker"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	exchangeSegmentNSE = "NSE_EQ"
	maxBodyBytes       = 1 << 20
)

// Config holds the Dhan API credentials and limits.
type Config struct {
	ClientID    string
	AccessToken string
	BaseURL     string  // e.g. https://api.dhan.co/v2
	RatePerSec  float64 // requests per second across all endpoints
	Timeout     time.Duration
}

// Client talks to the Dhan trading API and implements broker.Broker.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Entry
}

func NewClient(cfg Config, logger *logrus.Entry) *Client {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		logger:     logger.WithField("component", "dhan"),
	}
}

// apiError is the error body returned on non-2xx responses.
type apiError struct {
	ErrorType    string `json:"errorType"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Status       int    `json:"-"`
}

func (e *apiError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("dhan: http %d %s: %s", e.Status, e.ErrorCode, e.ErrorMessage)
	}
	return fmt.Sprintf("dhan: http %d: %s", e.Status, e.ErrorMessage)
}

type fundLimitResponse struct {
	AvailableBalance    decimal.NullDecimal `json:"availabelBalance"` // sic, as sent by the API
	WithdrawableBalance decimal.NullDecimal `json:"withdrawableBalance"`
}

// GetWithdrawableBalance returns the cash that can be used for new orders.
func (c *Client) GetWithdrawableBalance(ctx context.Context) (decimal.Decimal, error) {
	var resp fundLimitResponse
	if err := c.do(ctx, http.MethodGet, "/fundlimit", nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("%w: fund limit: %w", broker.ErrUnavailable, err)
	}
	switch {
	case resp.WithdrawableBalance.Valid:
		return resp.WithdrawableBalance.Decimal, nil
	case resp.AvailableBalance.Valid:
		return resp.AvailableBalance.Decimal, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: fund limit response carries no balance", broker.ErrUnavailable)
	}
}

type ltpResponse struct {
	Status string                                 `json:"status"`
	Data   map[string]map[string]ltpResponseQuote `json:"data"`
}

type ltpResponseQuote struct {
	LastPrice decimal.Decimal `json:"last_price"`
}

// GetQuote returns the last traded price of an NSE equity.
func (c *Client) GetQuote(ctx context.Context, securityID string) (decimal.Decimal, error) {
	id, err := strconv.ParseInt(securityID, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid security id %q", broker.ErrUnavailable, securityID)
	}
	body := map[string][]int64{exchangeSegmentNSE: {id}}

	var resp ltpResponse
	if err := c.do(ctx, http.MethodPost, "/marketfeed/ltp", body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("%w: ltp for %s: %w", broker.ErrUnavailable, securityID, err)
	}
	quote, ok := resp.Data[exchangeSegmentNSE][securityID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no ltp for %s", broker.ErrUnavailable, securityID)
	}
	return quote.LastPrice, nil
}

type orderRequest struct {
	DhanClientID    string `json:"dhanClientId"`
	CorrelationID   string `json:"correlationId,omitempty"`
	TransactionType string `json:"transactionType"`
	ExchangeSegment string `json:"exchangeSegment"`
	ProductType     string `json:"productType"`
	OrderType       string `json:"orderType"`
	Validity        string `json:"validity"`
	SecurityID      string `json:"securityId"`
	Quantity        int64  `json:"quantity"`
	Price           int    `json:"price"`
	AfterMarket     bool   `json:"afterMarketOrder"`
}

type orderResponse struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
}

// PlaceMarketBuy places a delivery (CNC) market buy for a whole number of units.
func (c *Client) PlaceMarketBuy(ctx context.Context, order broker.MarketOrder) (broker.OrderResult, error) {
	if order.Quantity <= 0 {
		return broker.OrderResult{}, &broker.OrderError{Message: fmt.Sprintf("invalid quantity %d", order.Quantity)}
	}
	req := orderRequest{
		DhanClientID:    c.cfg.ClientID,
		CorrelationID:   order.CorrelationID,
		TransactionType: "BUY",
		ExchangeSegment: exchangeSegmentNSE,
		ProductType:     "CNC",
		OrderType:       "MARKET",
		Validity:        "DAY",
		SecurityID:      order.SecurityID,
		Quantity:        order.Quantity,
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", req, &resp); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			return broker.OrderResult{}, &broker.OrderError{Code: apiErr.ErrorCode, Message: apiErr.ErrorMessage, Err: err}
		}
		return broker.OrderResult{}, &broker.OrderError{Message: err.Error(), Err: err}
	}
	if resp.OrderID == "" {
		return broker.OrderResult{}, &broker.OrderError{Message: "order response carries no order id"}
	}
	if strings.EqualFold(resp.OrderStatus, "REJECTED") {
		return broker.OrderResult{}, &broker.OrderError{Code: resp.OrderStatus, Message: "order " + resp.OrderID + " rejected"}
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":       resp.OrderID,
		"order_status":   resp.OrderStatus,
		"security_id":    order.SecurityID,
		"quantity":       order.Quantity,
		"correlation_id": order.CorrelationID,
	}).Info("Market buy placed")
	return broker.OrderResult{OrderID: resp.OrderID, Status: resp.OrderStatus}, nil
}

type holdingResponse struct {
	SecurityID      string          `json:"securityId"`
	TradingSymbol   string          `json:"tradingSymbol"`
	AvailableQty    int64           `json:"availableQty"`
	TotalQty        int64           `json:"totalQty"`
	AvgCostPrice    decimal.Decimal `json:"avgCostPrice"`
	LastTradedPrice decimal.Decimal `json:"lastTradedPrice"`
}

// GetHoldings returns the demat holdings.
func (c *Client) GetHoldings(ctx context.Context) ([]broker.Holding, error) {
	var resp []holdingResponse
	if err := c.do(ctx, http.MethodGet, "/holdings", nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: holdings: %w", broker.ErrUnavailable, err)
	}
	holdings := make([]broker.Holding, 0, len(resp))
	for _, h := range resp {
		qty := h.AvailableQty
		if qty == 0 {
			qty = h.TotalQty
		}
		holdings = append(holdings, broker.Holding{
			SecurityID:      h.SecurityID,
			Symbol:          h.TradingSymbol,
			Quantity:        qty,
			AvgCostPrice:    h.AvgCostPrice,
			LastTradedPrice: h.LastTradedPrice,
		})
	}
	return holdings, nil
}

// do sends a JSON request and decodes a 2xx JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", c.cfg.AccessToken)
	req.Header.Set("client-id", c.cfg.ClientID)

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   res.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("Dhan request")

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		apiErr := &apiError{Status: res.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.ErrorMessage == "" {
			apiErr.ErrorMessage = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
