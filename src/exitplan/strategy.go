package exitplan

import (
	"exitexecutor/src/model"
	"exitexecutor/src/tp_sl"

	"github.com/shopspring/decimal"
)

// ExitStrategy is the part of the lifecycle that differs between exit types:
// how confirmation is detected and which closing orders are placed once it is.
type ExitStrategy interface {
	Kind() model.Strategy
	// PlacedState is entered once every closing leg is live.
	PlacedState() model.State
	Triggered(p *model.ExitOrderPlan, price decimal.Decimal) bool
	// Prepare records the closing prices on p and returns the legs to place.
	Prepare(p *model.ExitOrderPlan, price decimal.Decimal) []Leg
}

// NewStrategy returns the strategy for kind. sideAware only affects the
// trailing stop limit trigger check.
func NewStrategy(kind model.Strategy, sideAware bool) (ExitStrategy, error) {
	switch kind {
	case model.StrategyBracket:
		return Bracket{}, nil
	case model.StrategyConfirmationStop:
		return ConfirmationStop{}, nil
	case model.StrategyTrailingStopLimit:
		return TrailingStopLimit{SideAwareTrigger: sideAware}, nil
	}
	return nil, ErrUnknownStrategy
}

func closingOrder(p *model.ExitOrderPlan, priceType model.PriceType) model.OrderSpec {
	return model.OrderSpec{
		Symbol:    p.Symbol,
		Quantity:  p.Quantity,
		Action:    p.ClosingSide(),
		PriceType: priceType,
		OrderTerm: model.OrderTermGoodForDay,
	}
}

func ptr[T any](v T) *T { return &v }

// Bracket places a stop limit and a profit limit, one cancels the other.
type Bracket struct{}

func (Bracket) Kind() model.Strategy     { return model.StrategyBracket }
func (Bracket) PlacedState() model.State { return model.StateBracketPlaced }

func (Bracket) Triggered(p *model.ExitOrderPlan, price decimal.Decimal) bool {
	return tp_sl.Reached(p.Side(), price, *p.TriggerPrice)
}

func (Bracket) Prepare(p *model.ExitOrderPlan, price decimal.Decimal) []Leg {
	stop, limit := tp_sl.StopPrices(p.Side(), price, p.Config.Stop, tp_sl.NudgePercentAware)
	profit := tp_sl.ProfitPrice(p.Side(), price, p.Config.Profit)
	p.StopPrice, p.StopLimitPrice, p.ProfitLimitPrice = ptr(stop), ptr(limit), ptr(profit)

	stopLeg := closingOrder(p, model.PriceTypeStopLimit)
	stopLeg.StopPrice, stopLeg.LimitPrice = ptr(stop), ptr(limit)

	profitLeg := closingOrder(p, model.PriceTypeLimit)
	profitLeg.LimitPrice = ptr(profit)

	return []Leg{{Role: RoleStop, Order: stopLeg}, {Role: RoleProfit, Order: profitLeg}}
}

// ConfirmationStop places a single stop limit once the trade moved in favour.
type ConfirmationStop struct{}

func (ConfirmationStop) Kind() model.Strategy     { return model.StrategyConfirmationStop }
func (ConfirmationStop) PlacedState() model.State { return model.StateStopPlaced }

func (ConfirmationStop) Triggered(p *model.ExitOrderPlan, price decimal.Decimal) bool {
	return tp_sl.Reached(p.Side(), price, *p.TriggerPrice)
}

func (ConfirmationStop) Prepare(p *model.ExitOrderPlan, price decimal.Decimal) []Leg {
	stop, limit := tp_sl.StopPrices(p.Side(), price, p.Config.Stop, tp_sl.NudgeTick)
	p.StopPrice, p.StopLimitPrice = ptr(stop), ptr(limit)

	leg := closingOrder(p, model.PriceTypeStopLimit)
	leg.StopPrice, leg.LimitPrice = ptr(stop), ptr(limit)
	return []Leg{{Role: RoleStop, Order: leg}}
}

// TrailingStopLimit hands the exit to a broker native trailing stop.
//
// Without SideAwareTrigger the trigger is "price not below trigger" for both
// sides, which is how the existing deployments behave for short positions.
type TrailingStopLimit struct {
	SideAwareTrigger bool
}

func (TrailingStopLimit) Kind() model.Strategy     { return model.StrategyTrailingStopLimit }
func (TrailingStopLimit) PlacedState() model.State { return model.StateStopPlaced }

func (s TrailingStopLimit) Triggered(p *model.ExitOrderPlan, price decimal.Decimal) bool {
	if s.SideAwareTrigger {
		return tp_sl.Reached(p.Side(), price, *p.TriggerPrice)
	}
	return !price.LessThan(*p.TriggerPrice)
}

func (TrailingStopLimit) Prepare(p *model.ExitOrderPlan, price decimal.Decimal) []Leg {
	trail := tp_sl.TrailAmount(price, p.Config.Stop)
	p.TrailAmount = ptr(trail)

	leg := closingOrder(p, model.PriceTypeTrailingStop)
	leg.TrailAmount = ptr(trail)
	return []Leg{{Role: RoleStop, Order: leg}}
}
