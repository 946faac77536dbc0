package exitplan

import (
	"exitexecutor/src/model"

	"github.com/shopspring/decimal"
)

// Event is an observation fed into Decide.
type Event interface {
	Name() string
}

// FillObserved: the opening order was seen fully filled at Price.
type FillObserved struct {
	Price decimal.Decimal
}

// OpeningRejected: the broker reports the opening order as cancelled or rejected.
type OpeningRejected struct {
	Status string
}

// Tick evaluates the lazy timeouts without any market observation.
type Tick struct{}

// PriceObserved carries the current price while waiting for confirmation.
type PriceObserved struct {
	Price decimal.Decimal
}

// OrdersPlaced reports the broker ids of every closing leg placed.
type OrdersPlaced struct {
	StopOrderID   *int64
	ProfitOrderID *int64
}

// PlacementFailed reports a rejected closing leg. LiveOrderIDs holds legs
// that were already accepted before the failure.
type PlacementFailed struct {
	Reason       string
	LiveOrderIDs []int64
}

// ExitFilled reports which closing legs were observed fully filled.
type ExitFilled struct {
	StopFilled   bool
	ProfitFilled bool
}

// CancelRequested is an explicit cancellation by the caller.
type CancelRequested struct{}

func (FillObserved) Name() string    { return "fill_observed" }
func (OpeningRejected) Name() string { return "opening_rejected" }
func (Tick) Name() string            { return "tick" }
func (PriceObserved) Name() string   { return "price_observed" }
func (OrdersPlaced) Name() string    { return "orders_placed" }
func (PlacementFailed) Name() string { return "placement_failed" }
func (ExitFilled) Name() string      { return "exit_filled" }
func (CancelRequested) Name() string { return "cancel_requested" }

// Effect is a broker call the caller of Decide must perform.
type Effect interface {
	effect()
}

type LegRole string

const (
	RoleStop   LegRole = "stop"
	RoleProfit LegRole = "profit"
)

// Leg is one closing order to preview and place.
type Leg struct {
	Role  LegRole
	Order model.OrderSpec
}

// PlaceOrders must be executed in order, stopping at the first failure. The
// outcome goes back into Decide as OrdersPlaced or PlacementFailed.
type PlaceOrders struct {
	Legs []Leg
}

// CancelOrders is best effort: failures are logged, never fed back.
type CancelOrders struct {
	OrderIDs []int64
}

func (PlaceOrders) effect()  {}
func (CancelOrders) effect() {}
