package controller

import (
	"github.com/shopspring/decimal"

	"exitexecutor/src/model"
)

// FillResult answers CheckFill. TimedOut means the opening order never
// filled; the caller decides whether to cancel it.
type FillResult struct {
	OpeningOrderID int64            `json:"opening_order_id"`
	State          model.State      `json:"state"`
	Filled         bool             `json:"filled"`
	FillPrice      *decimal.Decimal `json:"fill_price,omitempty"`
	TriggerPrice   *decimal.Decimal `json:"trigger_price,omitempty"`
	TimedOut       bool             `json:"timed_out"`
	ErrorKind      model.ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage   *string          `json:"error_message,omitempty"`
}

func newFillResult(p model.ExitOrderPlan) FillResult {
	return FillResult{
		OpeningOrderID: p.OpeningOrderID,
		State:          p.State,
		Filled:         p.FillPrice != nil,
		FillPrice:      p.FillPrice,
		TriggerPrice:   p.TriggerPrice,
		TimedOut:       p.ErrorKind == model.ErrorKindFillTimeout,
		ErrorKind:      p.ErrorKind,
		ErrorMessage:   p.ErrorMessage,
	}
}

// ClosingPrices are the prices computed when confirmation was reached.
type ClosingPrices struct {
	StopPrice        *decimal.Decimal `json:"stop_price,omitempty"`
	StopLimitPrice   *decimal.Decimal `json:"stop_limit_price,omitempty"`
	ProfitLimitPrice *decimal.Decimal `json:"profit_limit_price,omitempty"`
	TrailAmount      *decimal.Decimal `json:"trail_amount,omitempty"`
	MinProfit        decimal.Decimal  `json:"min_profit"`
}

type ConfirmationResult struct {
	OpeningOrderID int64            `json:"opening_order_id"`
	State          model.State      `json:"state"`
	Confirmed      bool             `json:"confirmed"`
	OrdersPlaced   bool             `json:"orders_placed"`
	CurrentPrice   *decimal.Decimal `json:"current_price,omitempty"`
	TriggerPrice   *decimal.Decimal `json:"trigger_price,omitempty"`
	StopOrderID    *int64           `json:"stop_order_id,omitempty"`
	ProfitOrderID  *int64           `json:"profit_order_id,omitempty"`
	Prices         ClosingPrices    `json:"prices"`
	TimedOut       bool             `json:"timed_out"`
	ErrorKind      model.ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage   *string          `json:"error_message,omitempty"`
}

func newConfirmationResult(p model.ExitOrderPlan, current *decimal.Decimal) ConfirmationResult {
	placed := p.StopOrderID != nil
	return ConfirmationResult{
		OpeningOrderID: p.OpeningOrderID,
		State:          p.State,
		Confirmed:      placed || (p.State == model.StateError && p.ErrorKind == model.ErrorKindPlacement),
		OrdersPlaced:   placed,
		CurrentPrice:   current,
		TriggerPrice:   p.TriggerPrice,
		StopOrderID:    p.StopOrderID,
		ProfitOrderID:  p.ProfitOrderID,
		Prices: ClosingPrices{
			StopPrice:        p.StopPrice,
			StopLimitPrice:   p.StopLimitPrice,
			ProfitLimitPrice: p.ProfitLimitPrice,
			TrailAmount:      p.TrailAmount,
			MinProfit:        p.MinProfit(),
		},
		TimedOut:     p.ErrorKind == model.ErrorKindConfirmationTimeout,
		ErrorKind:    p.ErrorKind,
		ErrorMessage: p.ErrorMessage,
	}
}

type ExitResult struct {
	OpeningOrderID int64           `json:"opening_order_id"`
	State          model.State     `json:"state"`
	Triggered      bool            `json:"triggered"`
	StopPlaced     bool            `json:"stop_placed"`
	StopFilled     bool            `json:"stop_filled"`
	ProfitFilled   bool            `json:"profit_filled"`
	MinProfit      decimal.Decimal `json:"min_profit"`
}

func newExitResult(p model.ExitOrderPlan) ExitResult {
	return ExitResult{
		OpeningOrderID: p.OpeningOrderID,
		State:          p.State,
		Triggered:      p.StopOrderID != nil,
		StopPlaced:     p.StopOrderID != nil,
		StopFilled:     p.State == model.StateStopFilled,
		ProfitFilled:   p.State == model.StateProfitFilled,
		MinProfit:      p.MinProfit(),
	}
}

type CancelResult struct {
	OpeningOrderID    int64       `json:"opening_order_id"`
	State             model.State `json:"state"`
	RequestedOrderIDs []int64     `json:"requested_order_ids"`
	CancelledOrderIDs []int64     `json:"cancelled_order_ids"`
}

// PlanView is a plan as shown to API clients, with derived fields.
type PlanView struct {
	model.ExitOrderPlan
	IsLong    bool            `json:"is_long"`
	MinProfit decimal.Decimal `json:"min_profit"`
}

func NewPlanView(p model.ExitOrderPlan) PlanView {
	return PlanView{ExitOrderPlan: p, IsLong: p.IsLong(), MinProfit: p.MinProfit()}
}
