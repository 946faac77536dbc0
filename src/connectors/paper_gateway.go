package connectors

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"exitexecutor/src/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperCall is one recorded gateway call.
type PaperCall struct {
	Op      string
	OrderID int64
	Order   model.OrderSpec
}

type paperOrder struct {
	spec   model.OrderSpec
	status string
	filled decimal.Decimal
	price  decimal.Decimal
}

// PaperGateway is an in-memory broker for dry runs and tests. Quotes, fills
// and failures are set by the caller; orders never leave the process.
type PaperGateway struct {
	mu       sync.Mutex
	nextID   int64
	quotes   map[string]model.Quote
	orders   map[int64]*paperOrder
	failures map[string]error
	calls    []PaperCall
}

func NewPaperGateway() *PaperGateway {
	return &PaperGateway{
		nextID:   100000,
		quotes:   make(map[string]model.Quote),
		orders:   make(map[int64]*paperOrder),
		failures: make(map[string]error),
	}
}

// SetPrice sets last, bid and ask of symbol to price.
func (g *PaperGateway) SetPrice(symbol string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	g.quotes[symbol] = model.Quote{Symbol: symbol, Last: &price, Bid: &price, Ask: &price}
}

func (g *PaperGateway) SetQuote(q model.Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q.Symbol = strings.ToUpper(q.Symbol)
	g.quotes[q.Symbol] = q
}

// AddOrder registers an order that was placed outside the gateway, such as
// the opening order of a plan.
func (g *PaperGateway) AddOrder(orderID int64, spec model.OrderSpec) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders[orderID] = &paperOrder{spec: spec, status: OrderStatusOpen}
}

// Fill marks the order as fully executed at price.
func (g *PaperGateway) Fill(orderID int64, price decimal.Decimal) {
	g.FillPartial(orderID, decimal.Zero, price)
}

// FillPartial sets the filled quantity; zero means the full ordered quantity.
func (g *PaperGateway) FillPartial(orderID int64, qty, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		o = &paperOrder{status: OrderStatusOpen}
		g.orders[orderID] = o
	}
	ordered := decimal.NewFromInt(int64(o.spec.Quantity))
	if qty.IsZero() {
		qty = ordered
	}
	o.filled = qty
	o.price = price
	if qty.GreaterThanOrEqual(ordered) {
		o.status = OrderStatusExecuted
	}
}

// SetStatus forces the broker status of an order, e.g. REJECTED.
func (g *PaperGateway) SetStatus(orderID int64, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[orderID]; ok {
		o.status = status
	}
}

// FailNext makes the next call of op ("quote", "orders", "preview", "place",
// "cancel") return err.
func (g *PaperGateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = err
}

// Calls returns the recorded calls, optionally restricted to one op.
func (g *PaperGateway) Calls(op string) []PaperCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []PaperCall
	for _, c := range g.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (g *PaperGateway) Status(orderID int64) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[orderID]; ok {
		return o.status
	}
	return ""
}

// record must be called with g.mu held.
func (g *PaperGateway) record(c PaperCall) error {
	g.calls = append(g.calls, c)
	if err, ok := g.failures[c.Op]; ok {
		delete(g.failures, c.Op)
		return err
	}
	return nil
}

func (g *PaperGateway) GetQuote(_ context.Context, symbol string) (model.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(PaperCall{Op: "quote", Order: model.OrderSpec{Symbol: symbol}}); err != nil {
		return model.Quote{}, err
	}
	symbol = strings.ToUpper(symbol)
	q, ok := g.quotes[symbol]
	if !ok {
		return model.Quote{Symbol: symbol}, nil
	}
	return q, nil
}

func (g *PaperGateway) GetOrders(_ context.Context, _ string, status string) ([]model.BrokerOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(PaperCall{Op: "orders"}); err != nil {
		return nil, err
	}

	out := make([]model.BrokerOrder, 0, len(g.orders))
	for id, o := range g.orders {
		if status != "" && o.status != status {
			continue
		}
		out = append(out, model.BrokerOrder{
			OrderID: id,
			Status:  o.status,
			Instruments: []model.Instrument{{
				Symbol:                o.spec.Symbol,
				OrderedQuantity:       decimal.NewFromInt(int64(o.spec.Quantity)),
				FilledQuantity:        o.filled,
				AverageExecutionPrice: o.price,
			}},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (g *PaperGateway) PreviewOrder(_ context.Context, _ string, order model.OrderSpec) (PreviewResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(PaperCall{Op: "preview", Order: order}); err != nil {
		return PreviewResult{}, err
	}
	if order.Quantity <= 0 {
		return PreviewResult{}, &GatewayError{StatusCode: 400, Code: "INVALID_QUANTITY", Message: "quantity must be positive"}
	}
	g.nextID++
	cid := order.ClientOrderID
	if cid == "" {
		cid = strings.ReplaceAll(uuid.NewString(), "-", "")[:clientOrderIDLen]
	}
	return PreviewResult{PreviewID: g.nextID, ClientOrderID: cid}, nil
}

// PlaceOrder returns the existing order when an open one already carries the
// preview client order id, like a broker rejecting a duplicate submission.
func (g *PaperGateway) PlaceOrder(_ context.Context, _ string, order model.OrderSpec, preview PreviewResult) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(PaperCall{Op: "place", Order: order}); err != nil {
		return 0, err
	}
	if preview.PreviewID == 0 {
		return 0, &GatewayError{StatusCode: 400, Code: "NO_PREVIEW", Message: "order was not previewed"}
	}
	order.ClientOrderID = preview.ClientOrderID
	if id, ok := g.liveByClientID(order.ClientOrderID); ok {
		return id, nil
	}
	g.nextID++
	g.orders[g.nextID] = &paperOrder{spec: order, status: OrderStatusOpen}
	return g.nextID, nil
}

// liveByClientID finds an open order placed with cid. Must be called with g.mu held.
func (g *PaperGateway) liveByClientID(cid string) (int64, bool) {
	if cid == "" {
		return 0, false
	}
	for id, o := range g.orders {
		if o.spec.ClientOrderID == cid && o.status == OrderStatusOpen {
			return id, true
		}
	}
	return 0, false
}

func (g *PaperGateway) CancelOrder(_ context.Context, _ string, orderID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(PaperCall{Op: "cancel", OrderID: orderID}); err != nil {
		return err
	}
	o, ok := g.orders[orderID]
	if !ok {
		return &GatewayError{StatusCode: 404, Code: "ORDER_NOT_FOUND", Message: fmt.Sprintf("order %d not found", orderID)}
	}
	if o.status == OrderStatusExecuted {
		return &GatewayError{StatusCode: 400, Code: "ORDER_EXECUTED", Message: fmt.Sprintf("order %d already executed", orderID)}
	}
	o.status = OrderStatusCancelled
	return nil
}
