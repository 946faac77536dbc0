package exitplan

import (
	"testing"
	"time"

	"exitexecutor/src/model"
	"exitexecutor/src/tp_sl"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func msftBracket(t *testing.T) model.ExitOrderPlan {
	t.Helper()
	p, err := NewPlan(model.StrategyBracket, Request{
		OpeningOrderID: 1001,
		Symbol:         "msft",
		Quantity:       100,
		AccountKey:     "acct-1",
		OpeningSide:    "BUY",
		Confirmation:   tp_sl.Dollar("2.00"),
		Stop:           tp_sl.Dollar("1.00"),
		Profit:         tp_sl.Dollar("3.00"),
	}, t0)
	require.NoError(t, err)
	return p
}

func tslaShort(t *testing.T, kind model.Strategy) model.ExitOrderPlan {
	t.Helper()
	p, err := NewPlan(kind, Request{
		OpeningOrderID: 2002,
		Symbol:         "TSLA",
		Quantity:       50,
		AccountKey:     "acct-1",
		OpeningSide:    "SELL_SHORT",
		Confirmation:   tp_sl.Percent("1"),
		Stop:           tp_sl.Dollar("1.00"),
		Profit:         tp_sl.Dollar("5.00"),
	}, t0)
	require.NoError(t, err)
	return p
}

func filled(t *testing.T, s ExitStrategy, p model.ExitOrderPlan, price string) model.ExitOrderPlan {
	t.Helper()
	dec := Decide(s, p, FillObserved{Price: d(price)}, t0.Add(2*time.Second))
	require.True(t, dec.Changed)
	return dec.Plan
}

func placed(t *testing.T, s ExitStrategy, p model.ExitOrderPlan, price string) model.ExitOrderPlan {
	t.Helper()
	dec := Decide(s, p, PriceObserved{Price: d(price)}, t0.Add(time.Minute))
	require.True(t, dec.Changed)
	require.Len(t, dec.Effects, 1)
	stop, profit := int64(9001), int64(9002)
	ev := OrdersPlaced{StopOrderID: &stop}
	if s.Kind() == model.StrategyBracket {
		ev.ProfitOrderID = &profit
	}
	dec = Decide(s, dec.Plan, ev, t0.Add(time.Minute))
	require.True(t, dec.Transitioned())
	return dec.Plan
}

func TestNewPlan_Validation(t *testing.T) {
	base := Request{
		OpeningOrderID: 1, Symbol: "AAPL", Quantity: 1, AccountKey: "a", OpeningSide: "BUY",
		Confirmation: tp_sl.Dollar("1"), Stop: tp_sl.Dollar("1"), Profit: tp_sl.Dollar("1"),
	}

	p, err := NewPlan(model.StrategyBracket, base, t0)
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingFill, p.State)
	assert.Equal(t, model.DefaultFillTimeoutSeconds, p.Config.FillTimeoutSeconds)
	assert.Equal(t, model.DefaultConfirmationTimeoutSeconds, p.Config.ConfirmationTimeoutSeconds)

	cases := map[string]func(r *Request){
		"zero id":       func(r *Request) { r.OpeningOrderID = 0 },
		"empty symbol":  func(r *Request) { r.Symbol = " " },
		"zero quantity": func(r *Request) { r.Quantity = 0 },
		"bad side":      func(r *Request) { r.OpeningSide = "HOLD" },
		"bad stop":      func(r *Request) { r.Stop = tp_sl.Offset{Type: "ticks"} },
		"no profit":     func(r *Request) { r.Profit = tp_sl.Offset{} },
		"neg timeout":   func(r *Request) { r.FillTimeoutSeconds = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := base
			mutate(&r)
			_, err := NewPlan(model.StrategyBracket, r, t0)
			require.ErrorIs(t, err, ErrInvalidPlan)
		})
	}

	// profit is only required for brackets
	r := base
	r.Profit = tp_sl.Offset{}
	_, err = NewPlan(model.StrategyConfirmationStop, r, t0)
	require.NoError(t, err)
}

func TestDecide_MSFTBracketScenario(t *testing.T) {
	s := Bracket{}
	p := filled(t, s, msftBracket(t), "300.00")

	require.Equal(t, model.StateWaitingConfirmation, p.State)
	require.True(t, p.TriggerPrice.Equal(d("302.00")), "trigger %s", p.TriggerPrice)

	// below trigger: nothing happens
	dec := Decide(s, p, PriceObserved{Price: d("301.99")}, t0.Add(time.Minute))
	require.False(t, dec.Changed)
	require.Empty(t, dec.Effects)

	dec = Decide(s, p, PriceObserved{Price: d("302.50")}, t0.Add(time.Minute))
	require.True(t, dec.Changed)
	require.Equal(t, model.StateWaitingConfirmation, dec.Plan.State)
	assert.True(t, dec.Plan.StopPrice.Equal(d("301.50")))
	assert.True(t, dec.Plan.StopLimitPrice.Equal(d("301.49")))
	assert.True(t, dec.Plan.ProfitLimitPrice.Equal(d("305.50")))

	place, ok := dec.Effects[0].(PlaceOrders)
	require.True(t, ok)
	require.Len(t, place.Legs, 2)
	assert.Equal(t, RoleStop, place.Legs[0].Role)
	assert.Equal(t, model.PriceTypeStopLimit, place.Legs[0].Order.PriceType)
	assert.Equal(t, model.ActionSell, place.Legs[0].Order.Action)
	assert.Equal(t, 100, place.Legs[0].Order.Quantity)
	assert.Equal(t, "MSFT", place.Legs[0].Order.Symbol)
	assert.Equal(t, RoleProfit, place.Legs[1].Role)
	assert.Equal(t, model.PriceTypeLimit, place.Legs[1].Order.PriceType)
	assert.True(t, place.Legs[1].Order.LimitPrice.Equal(d("305.50")))

	// the input plan is untouched
	assert.Nil(t, p.StopPrice)

	stop, profit := int64(77), int64(78)
	dec = Decide(s, dec.Plan, OrdersPlaced{StopOrderID: &stop, ProfitOrderID: &profit}, t0.Add(time.Minute))
	require.Equal(t, model.StateBracketPlaced, dec.Plan.State)
	require.NotNil(t, dec.Plan.PlacedAt)
	assert.True(t, dec.Plan.MinProfit().Equal(d("1.50")))
}

func TestDecide_TSLAShortTrigger(t *testing.T) {
	p := filled(t, ConfirmationStop{}, tslaShort(t, model.StrategyConfirmationStop), "250.00")
	require.True(t, p.TriggerPrice.Equal(d("247.50")), "trigger %s", p.TriggerPrice)
	require.True(t, p.TriggerPrice.LessThan(*p.FillPrice))
}

func TestDecide_TriggerDirection(t *testing.T) {
	for _, side := range []string{"BUY", "BUY_TO_COVER", "SELL_SHORT", "SELL"} {
		for _, off := range []tp_sl.Offset{tp_sl.Dollar("0.05"), tp_sl.Percent("0.1"), tp_sl.Dollar("3")} {
			p, err := NewPlan(model.StrategyConfirmationStop, Request{
				OpeningOrderID: 1, Symbol: "X", Quantity: 1, AccountKey: "a", OpeningSide: side,
				Confirmation: off, Stop: tp_sl.Dollar("1"),
			}, t0)
			require.NoError(t, err)
			p = filled(t, ConfirmationStop{}, p, "123.45")
			if p.IsLong() {
				require.True(t, p.TriggerPrice.GreaterThan(*p.FillPrice), "%s %v", side, off)
			} else {
				require.True(t, p.TriggerPrice.LessThan(*p.FillPrice), "%s %v", side, off)
			}
		}
	}
}

func TestDecide_BracketPriceOrdering(t *testing.T) {
	offsets := []tp_sl.Offset{tp_sl.Dollar("0.50"), tp_sl.Dollar("2"), tp_sl.Percent("0.5"), tp_sl.Percent("3")}
	for _, side := range []string{"BUY", "SELL_SHORT"} {
		for _, stopOff := range offsets {
			for _, profitOff := range offsets {
				p, err := NewPlan(model.StrategyBracket, Request{
					OpeningOrderID: 1, Symbol: "X", Quantity: 1, AccountKey: "a", OpeningSide: side,
					Confirmation: tp_sl.Dollar("1"), Stop: stopOff, Profit: profitOff,
				}, t0)
				require.NoError(t, err)
				p = filled(t, Bracket{}, p, "100.00")
				current := d("101.25")
				if !p.IsLong() {
					current = d("98.75")
				}
				dec := Decide(Bracket{}, p, PriceObserved{Price: current}, t0.Add(time.Minute))
				require.True(t, dec.Changed)
				got := dec.Plan
				if p.IsLong() {
					require.True(t, got.StopLimitPrice.LessThan(*got.StopPrice))
					require.True(t, got.StopPrice.LessThan(current))
					require.True(t, current.LessThan(*got.ProfitLimitPrice))
				} else {
					require.True(t, got.StopLimitPrice.GreaterThan(*got.StopPrice))
					require.True(t, got.StopPrice.GreaterThan(current))
					require.True(t, current.GreaterThan(*got.ProfitLimitPrice))
				}
			}
		}
	}
}

func TestDecide_ConfirmationTimeoutBoundary(t *testing.T) {
	s := Bracket{}
	p := msftBracket(t)
	fillAt := t0.Add(2 * time.Second)
	p = filled(t, s, p, "300.00")
	timeout := time.Duration(p.Config.ConfirmationTimeoutSeconds) * time.Second

	dec := Decide(s, p, Tick{}, fillAt.Add(timeout))
	require.False(t, dec.Changed, "equality is not a timeout")

	// a price below trigger at exactly the boundary keeps waiting
	dec = Decide(s, p, PriceObserved{Price: d("301")}, fillAt.Add(timeout))
	require.False(t, dec.Changed)

	dec = Decide(s, p, PriceObserved{Price: d("310")}, fillAt.Add(timeout+time.Nanosecond))
	require.True(t, dec.Transitioned())
	require.Equal(t, model.StateError, dec.Plan.State)
	require.Equal(t, model.ErrorKindConfirmationTimeout, dec.Plan.ErrorKind)
	require.Empty(t, dec.Effects, "no orders after a timeout")
	require.NotNil(t, dec.Plan.ErrorMessage)
	require.Contains(t, *dec.Plan.ErrorMessage, "confirmation timeout")
}

func TestDecide_FillTimeout(t *testing.T) {
	s := ConfirmationStop{}
	p := tslaShort(t, model.StrategyConfirmationStop)

	dec := Decide(s, p, Tick{}, t0.Add(15*time.Second))
	require.False(t, dec.Changed)

	dec = Decide(s, p, Tick{}, t0.Add(16*time.Second))
	require.Equal(t, model.StateError, dec.Plan.State)
	require.Equal(t, model.ErrorKindFillTimeout, dec.Plan.ErrorKind)
	require.Nil(t, dec.Plan.FillPrice)
}

func TestDecide_FillIgnoredOutsidePendingFill(t *testing.T) {
	s := Bracket{}
	p := filled(t, s, msftBracket(t), "300.00")

	dec := Decide(s, p, FillObserved{Price: d("299")}, t0.Add(time.Minute))
	require.False(t, dec.Changed)
	require.True(t, dec.Plan.FillPrice.Equal(d("300.00")))

	// zero average price is not a fill
	dec = Decide(s, msftBracket(t), FillObserved{Price: decimal.Zero}, t0)
	require.False(t, dec.Changed)
}

func TestDecide_OpeningRejected(t *testing.T) {
	dec := Decide(Bracket{}, msftBracket(t), OpeningRejected{Status: "CANCELLED"}, t0)
	require.Equal(t, model.StateError, dec.Plan.State)
	require.Equal(t, model.ErrorKindGateway, dec.Plan.ErrorKind)
	require.Contains(t, *dec.Plan.ErrorMessage, "cancelled")
}

func TestDecide_PlacementFailureKeepsLiveLeg(t *testing.T) {
	s := Bracket{}
	p := filled(t, s, msftBracket(t), "300.00")
	dec := Decide(s, p, PriceObserved{Price: d("302.50")}, t0.Add(time.Minute))

	dec = Decide(s, dec.Plan, PlacementFailed{Reason: "limit price rejected", LiveOrderIDs: []int64{555}}, t0.Add(time.Minute))
	require.Equal(t, model.StateError, dec.Plan.State)
	require.Equal(t, model.ErrorKindPlacement, dec.Plan.ErrorKind)
	require.Contains(t, *dec.Plan.ErrorMessage, "555")
	require.Nil(t, dec.Plan.StopOrderID)
	require.Empty(t, dec.Effects, "no compensating cancel")
}

func TestDecide_OCOStopFilled(t *testing.T) {
	s := Bracket{}
	p := placed(t, s, filled(t, s, msftBracket(t), "300.00"), "302.50")

	dec := Decide(s, p, ExitFilled{StopFilled: true}, t0.Add(time.Hour))
	require.Equal(t, model.StateStopFilled, dec.Plan.State)
	require.Equal(t, []Effect{CancelOrders{OrderIDs: []int64{9002}}}, dec.Effects)

	// later observations, including the other leg, change nothing
	for _, ev := range []Event{ExitFilled{StopFilled: true}, ExitFilled{ProfitFilled: true}, ExitFilled{StopFilled: true, ProfitFilled: true}} {
		again := Decide(s, dec.Plan, ev, t0.Add(2*time.Hour))
		require.False(t, again.Changed)
		require.Empty(t, again.Effects)
		require.Equal(t, model.StateStopFilled, again.Plan.State)
	}
}

func TestDecide_OCOExactlyOneTerminal(t *testing.T) {
	s := Bracket{}
	p := placed(t, s, filled(t, s, msftBracket(t), "300.00"), "302.50")

	dec := Decide(s, p, ExitFilled{ProfitFilled: true}, t0.Add(time.Hour))
	require.Equal(t, model.StateProfitFilled, dec.Plan.State)
	require.Equal(t, []Effect{CancelOrders{OrderIDs: []int64{9001}}}, dec.Effects)

	both := Decide(s, p, ExitFilled{StopFilled: true, ProfitFilled: true}, t0.Add(time.Hour))
	require.Equal(t, model.StateStopFilled, both.Plan.State)
	require.Len(t, both.Effects, 1)

	none := Decide(s, p, ExitFilled{}, t0.Add(time.Hour))
	require.False(t, none.Changed)
	require.Equal(t, model.StateBracketPlaced, none.Plan.State)
}

func TestDecide_ConfirmationStopUsesTickNudge(t *testing.T) {
	s := ConfirmationStop{}
	p, err := NewPlan(model.StrategyConfirmationStop, Request{
		OpeningOrderID: 3, Symbol: "AAPL", Quantity: 10, AccountKey: "a", OpeningSide: "BUY",
		Confirmation: tp_sl.Dollar("1"), Stop: tp_sl.Percent("1"),
	}, t0)
	require.NoError(t, err)
	p = filled(t, s, p, "199.00")

	dec := Decide(s, p, PriceObserved{Price: d("200")}, t0.Add(time.Minute))
	require.True(t, dec.Plan.StopPrice.Equal(d("198.00")))
	require.True(t, dec.Plan.StopLimitPrice.Equal(d("197.99")))
	require.Nil(t, dec.Plan.ProfitLimitPrice)
	legs := dec.Effects[0].(PlaceOrders).Legs
	require.Len(t, legs, 1)

	p = placed(t, s, p, "200")
	require.Equal(t, model.StateStopPlaced, p.State)
	dec = Decide(s, p, ExitFilled{StopFilled: true}, t0.Add(time.Hour))
	require.Equal(t, model.StateStopFilled, dec.Plan.State)
	require.Empty(t, dec.Effects)
}

func TestDecide_TrailingStopLimit(t *testing.T) {
	s := TrailingStopLimit{}
	p, err := NewPlan(model.StrategyTrailingStopLimit, Request{
		OpeningOrderID: 4, Symbol: "NVDA", Quantity: 5, AccountKey: "a", OpeningSide: "BUY",
		Confirmation: tp_sl.Dollar("1"), Stop: tp_sl.Percent("0.5"),
	}, t0)
	require.NoError(t, err)
	p = filled(t, s, p, "151.37")

	dec := Decide(s, p, PriceObserved{Price: d("152.37")}, t0.Add(time.Minute))
	require.True(t, dec.Changed)
	require.True(t, dec.Plan.TrailAmount.Equal(d("0.76")))
	leg := dec.Effects[0].(PlaceOrders).Legs[0]
	assert.Equal(t, model.PriceTypeTrailingStop, leg.Order.PriceType)
	assert.True(t, leg.Order.TrailAmount.Equal(d("0.76")))
	assert.Equal(t, model.ActionSell, leg.Order.Action)
}

func TestTrailingStopLimit_ShortTriggerComparison(t *testing.T) {
	p := filled(t, TrailingStopLimit{}, tslaShort(t, model.StrategyTrailingStopLimit), "250.00")
	// trigger 247.50: price moved in favour of the short position
	favourable := d("247.00")
	adverse := d("251.00")

	legacy := TrailingStopLimit{}
	require.False(t, legacy.Triggered(&p, favourable))
	require.True(t, legacy.Triggered(&p, adverse))

	sideAware := TrailingStopLimit{SideAwareTrigger: true}
	require.True(t, sideAware.Triggered(&p, favourable))
	require.False(t, sideAware.Triggered(&p, adverse))

	dec := Decide(sideAware, p, PriceObserved{Price: favourable}, t0.Add(time.Minute))
	leg := dec.Effects[0].(PlaceOrders).Legs[0]
	require.Equal(t, model.ActionBuy, leg.Order.Action)
	require.True(t, leg.Order.TrailAmount.Equal(d("1.00")))
}

func TestDecide_Cancel(t *testing.T) {
	s := Bracket{}

	pending := msftBracket(t)
	dec := Decide(s, pending, CancelRequested{}, t0)
	require.Equal(t, model.StateCancelled, dec.Plan.State)
	require.Equal(t, []Effect{CancelOrders{OrderIDs: []int64{1001}}}, dec.Effects)

	live := placed(t, s, filled(t, s, msftBracket(t), "300.00"), "302.50")
	dec = Decide(s, live, CancelRequested{}, t0.Add(time.Hour))
	require.Equal(t, model.StateCancelled, dec.Plan.State)
	require.Equal(t, []Effect{CancelOrders{OrderIDs: []int64{1001, 9001, 9002}}}, dec.Effects)

	// error plans keep their cause but still clean up orders
	errored := Decide(s, pending, OpeningRejected{Status: "REJECTED"}, t0).Plan
	dec = Decide(s, errored, CancelRequested{}, t0)
	require.False(t, dec.Changed)
	require.Equal(t, model.StateError, dec.Plan.State)
	require.Len(t, dec.Effects, 1)

	done := Decide(s, live, ExitFilled{StopFilled: true}, t0.Add(time.Hour)).Plan
	dec = Decide(s, done, CancelRequested{}, t0.Add(2*time.Hour))
	require.False(t, dec.Changed)
	require.Empty(t, dec.Effects)
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy(model.StrategyTrailingStopLimit, true)
	require.NoError(t, err)
	require.Equal(t, TrailingStopLimit{SideAwareTrigger: true}, s)

	_, err = NewStrategy("iceberg", false)
	require.ErrorIs(t, err, ErrUnknownStrategy)
}
