// REST CLIENT FOR THE BROKER BRIDGE SIDECAR
// The sidecar owns the OAuth session and exposes the broker order API as JSON.
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"exitexecutor/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

// -----------------------------
// CONFIG
// -----------------------------
const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second

	defaultBridgeURL = "http://127.0.0.1:8787"

	// broker side limit on client order ids
	clientOrderIDLen = 20
)

// -----------------------------
// WIRE TYPES
// -----------------------------
type bridgeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type bridgeOrdersResponse struct {
	Orders []model.BrokerOrder `json:"orders"`
}

type bridgePreviewRequest struct {
	Order model.OrderSpec `json:"order"`
}

type bridgePlaceRequest struct {
	Order     model.OrderSpec `json:"order"`
	PreviewID int64           `json:"preview_id"`
}

type bridgePlaceResponse struct {
	OrderID int64 `json:"order_id"`
}

// -----------------------------
// CLIENT
// -----------------------------
type BridgeGateway struct {
	baseURL string
	http    *resty.Client
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return true
	}
	return false
}

func NewBridgeGateway(baseURL string, timeout time.Duration) *BridgeGateway {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBridgeURL
		logger.Warnf("No broker bridge URL provided, using default: %s", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "exitexecutor/bridge").
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &BridgeGateway{baseURL: baseURL, http: httpClient}
}

// newClientOrderID returns a random id that fits the broker limit.
func newClientOrderID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:clientOrderIDLen]
}

func (c *BridgeGateway) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req = req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	raw := resp.Body()
	if resp.StatusCode()/100 != 2 {
		ge := &GatewayError{StatusCode: resp.StatusCode(), Message: strings.TrimSpace(string(raw))}
		var be bridgeError
		if json.Unmarshal(raw, &be) == nil {
			ge.Code = be.Code
			if be.Message != "" {
				ge.Message = be.Message
			} else if be.Error != "" {
				ge.Message = be.Error
			}
		}
		logger.WithFields(map[string]interface{}{
			"method": method,
			"path":   path,
			"status": ge.StatusCode,
			"code":   ge.Code,
		}).Warn("Broker bridge returned an error")
		return ge
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func accountPath(accountKey string, parts ...string) string {
	p := "/v1/accounts/" + url.PathEscape(accountKey) + "/orders"
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// -----------------------------
// GATEWAY METHODS
// -----------------------------
func (c *BridgeGateway) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	var q model.Quote
	if err := c.do(ctx, http.MethodGet, "/v1/quote/"+url.PathEscape(strings.ToUpper(symbol)), nil, &q); err != nil {
		return model.Quote{}, err
	}
	if q.Symbol == "" {
		q.Symbol = strings.ToUpper(symbol)
	}
	return q, nil
}

func (c *BridgeGateway) GetOrders(ctx context.Context, accountKey, status string) ([]model.BrokerOrder, error) {
	path := accountPath(accountKey)
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out bridgeOrdersResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

func (c *BridgeGateway) PreviewOrder(ctx context.Context, accountKey string, order model.OrderSpec) (PreviewResult, error) {
	if order.ClientOrderID == "" {
		order.ClientOrderID = newClientOrderID()
	}
	if order.OrderTerm == "" {
		order.OrderTerm = model.OrderTermGoodForDay
	}

	var out PreviewResult
	if err := c.do(ctx, http.MethodPost, accountPath(accountKey, "preview"), bridgePreviewRequest{Order: order}, &out); err != nil {
		return PreviewResult{}, err
	}
	if out.PreviewID == 0 {
		return PreviewResult{}, fmt.Errorf("preview %s %s: empty preview id", order.Action, order.Symbol)
	}
	if out.ClientOrderID == "" {
		out.ClientOrderID = order.ClientOrderID
	}
	return out, nil
}

// PlaceOrder reuses the preview client order id, so a retried place is
// deduplicated by the broker.
func (c *BridgeGateway) PlaceOrder(ctx context.Context, accountKey string, order model.OrderSpec, preview PreviewResult) (int64, error) {
	order.ClientOrderID = preview.ClientOrderID
	if order.OrderTerm == "" {
		order.OrderTerm = model.OrderTermGoodForDay
	}

	var out bridgePlaceResponse
	body := bridgePlaceRequest{Order: order, PreviewID: preview.PreviewID}
	if err := c.do(ctx, http.MethodPost, accountPath(accountKey, "place"), body, &out); err != nil {
		return 0, err
	}
	if out.OrderID == 0 {
		return 0, fmt.Errorf("place %s %s: empty order id", order.Action, order.Symbol)
	}
	return out.OrderID, nil
}

func (c *BridgeGateway) CancelOrder(ctx context.Context, accountKey string, orderID int64) error {
	return c.do(ctx, http.MethodPut, accountPath(accountKey, strconv.FormatInt(orderID, 10), "cancel"), nil, nil)
}
