package connectors

import (
	"context"
	"errors"
	"fmt"

	"exitexecutor/src/model"
)

// Gateway is the subset of the broker order API the exit executor relies on.
// Implementations must be safe for concurrent use.
type Gateway interface {
	GetQuote(ctx context.Context, symbol string) (model.Quote, error)
	// GetOrders lists account orders; an empty status returns every order.
	GetOrders(ctx context.Context, accountKey, status string) ([]model.BrokerOrder, error)
	PreviewOrder(ctx context.Context, accountKey string, order model.OrderSpec) (PreviewResult, error)
	PlaceOrder(ctx context.Context, accountKey string, order model.OrderSpec, preview PreviewResult) (int64, error)
	CancelOrder(ctx context.Context, accountKey string, orderID int64) error
}

const (
	OrderStatusOpen      = "OPEN"
	OrderStatusExecuted  = "EXECUTED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRejected  = "REJECTED"
	OrderStatusExpired   = "EXPIRED"
)

// PreviewResult must be passed back unchanged to PlaceOrder.
type PreviewResult struct {
	PreviewID     int64  `json:"preview_id"`
	ClientOrderID string `json:"client_order_id"`
}

// GatewayError is a non 2xx answer from the broker.
type GatewayError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("broker HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRejection reports a definitive 4xx refusal, as opposed to a transient failure.
func (e *GatewayError) IsRejection() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 408 && e.StatusCode != 429
}

// IsRejection reports whether err carries a broker rejection. Network errors
// and 5xx answers are transient.
func IsRejection(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.IsRejection()
}
