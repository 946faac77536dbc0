package connectors

import (
	"context"
	"time"

	"exitexecutor/src/metrics"
	"exitexecutor/src/model"
)

// Instrumented wraps a Gateway and records call counts and latency.
type Instrumented struct {
	next Gateway
}

func NewInstrumented(next Gateway) *Instrumented {
	return &Instrumented{next: next}
}

// observe must run in a deferred closure so it sees the named error result.
func observe(op string, start time.Time, err error) {
	metrics.ObserveBrokerCall(op, err, time.Since(start))
}

func (g *Instrumented) GetQuote(ctx context.Context, symbol string) (q model.Quote, err error) {
	defer func(start time.Time) { observe("quote", start, err) }(time.Now())
	return g.next.GetQuote(ctx, symbol)
}

func (g *Instrumented) GetOrders(ctx context.Context, accountKey, status string) (orders []model.BrokerOrder, err error) {
	defer func(start time.Time) { observe("orders", start, err) }(time.Now())
	return g.next.GetOrders(ctx, accountKey, status)
}

func (g *Instrumented) PreviewOrder(ctx context.Context, accountKey string, order model.OrderSpec) (p PreviewResult, err error) {
	defer func(start time.Time) { observe("preview", start, err) }(time.Now())
	return g.next.PreviewOrder(ctx, accountKey, order)
}

func (g *Instrumented) PlaceOrder(ctx context.Context, accountKey string, order model.OrderSpec, preview PreviewResult) (id int64, err error) {
	defer func(start time.Time) { observe("place", start, err) }(time.Now())
	return g.next.PlaceOrder(ctx, accountKey, order, preview)
}

func (g *Instrumented) CancelOrder(ctx context.Context, accountKey string, orderID int64) (err error) {
	defer func(start time.Time) { observe("cancel", start, err) }(time.Now())
	return g.next.CancelOrder(ctx, accountKey, orderID)
}
