package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"exitexecutor/src/connectors"
	"exitexecutor/src/exitplan"
	"exitexecutor/src/metrics"
	"exitexecutor/src/model"
)

// Change is a committed plan update handed to observers.
type Change struct {
	Plan    model.ExitOrderPlan
	From    model.State
	Event   string
	Price   *decimal.Decimal
	Removed bool
	At      time.Time
}

// Observer is notified after a plan change is stored in the registry. It
// runs outside the plan lock and must not call back into the controller.
type Observer interface {
	PlanChanged(ctx context.Context, ch Change)
}

type ObserverFunc func(ctx context.Context, ch Change)

func (f ObserverFunc) PlanChanged(ctx context.Context, ch Change) { f(ctx, ch) }

// ExitController drives the plans of one strategy: it reads the broker,
// feeds observations to exitplan.Decide and executes the resulting orders.
type ExitController struct {
	registry   *exitplan.Registry
	strategy   exitplan.ExitStrategy
	gateway    connectors.Gateway
	exceptions exceptionRepository
	observers  []Observer
	now        func() time.Time
}

type Option func(*ExitController)

func WithClock(now func() time.Time) Option {
	return func(c *ExitController) { c.now = now }
}

func WithObservers(obs ...Observer) Option {
	return func(c *ExitController) { c.observers = append(c.observers, obs...) }
}

func WithExceptionRepository(repo exceptionRepository) Option {
	return func(c *ExitController) { c.exceptions = repo }
}

func NewExitController(registry *exitplan.Registry, strategy exitplan.ExitStrategy, gateway connectors.Gateway, opts ...Option) *ExitController {
	c := &ExitController{
		registry: registry,
		strategy: strategy,
		gateway:  gateway,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ExitController) Strategy() model.Strategy { return c.strategy.Kind() }

func (c *ExitController) Registry() *exitplan.Registry { return c.registry }

// AddObserver must be called before the controller is shared between goroutines.
func (c *ExitController) AddObserver(o Observer) { c.observers = append(c.observers, o) }

func (c *ExitController) log(p *model.ExitOrderPlan) *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"strategy": c.strategy.Kind(),
		"order_id": p.OpeningOrderID,
		"symbol":   p.Symbol,
		"state":    p.State,
	})
}

// publish notifies observers and refreshes metrics. Called without any lock
// held, so observers may see changes of one plan out of order and must use
// Plan.Revision to drop stale ones.
func (c *ExitController) publish(ctx context.Context, changes ...Change) {
	if len(changes) == 0 {
		return
	}
	for _, ch := range changes {
		if ch.From != ch.Plan.State {
			metrics.ObserveTransition(string(c.strategy.Kind()), string(ch.Plan.State))
			c.log(&ch.Plan).WithFields(map[string]interface{}{
				"from":  ch.From,
				"event": ch.Event,
			}).Info("Exit plan transition")
		}
		for _, o := range c.observers {
			o.PlanChanged(ctx, ch)
		}
	}
	metrics.SetActivePlans(string(c.strategy.Kind()), len(c.registry.Active()))
}

func change(d exitplan.Decision, ev exitplan.Event, price *decimal.Decimal, at time.Time) *Change {
	return &Change{Plan: d.Plan, From: d.From, Event: ev.Name(), Price: price, At: at}
}

// committed attaches the stored plan, revision included, to a pending change.
func committed(ch *Change, plan model.ExitOrderPlan) []Change {
	if ch == nil {
		return nil
	}
	ch.Plan = plan
	return []Change{*ch}
}

// CreatePlan registers a new plan in StatePendingFill.
func (c *ExitController) CreatePlan(ctx context.Context, req exitplan.Request) (model.ExitOrderPlan, error) {
	now := c.now()
	plan, err := exitplan.NewPlan(c.strategy.Kind(), req, now)
	if err != nil {
		return model.ExitOrderPlan{}, err
	}
	plan, err = c.registry.Register(plan)
	if err != nil {
		return model.ExitOrderPlan{}, err
	}

	c.log(&plan).WithFields(map[string]interface{}{
		"side":         plan.OpeningSide,
		"quantity":     plan.Quantity,
		"confirmation": plan.Config.Confirmation,
		"stop":         plan.Config.Stop,
	}).Info("Exit plan created")
	c.publish(ctx, Change{Plan: plan, Event: "created", At: now})
	return plan, nil
}

// CheckFill looks for a full fill of the opening order. Plans past
// StatePendingFill are reported as they are, without any broker call.
func (c *ExitController) CheckFill(ctx context.Context, id int64) (FillResult, error) {
	var pending *Change

	plan, err := c.registry.WithPlan(id, func(p *model.ExitOrderPlan) error {
		if p.State != model.StatePendingFill {
			return nil
		}

		orders, err := c.gateway.GetOrders(ctx, p.AccountKey, "")
		if err != nil {
			c.log(p).WithError(err).Warn("Failed to fetch orders while checking fill")
			return fmt.Errorf("check fill %d: %w", id, err)
		}

		now := c.now()
		var ev exitplan.Event = exitplan.Tick{}
		var price *decimal.Decimal
		if o, ok := model.FindFullyFilled(orders, id); ok && o.ExecutionPrice().IsPositive() {
			fill := o.ExecutionPrice()
			price = &fill
			ev = exitplan.FillObserved{Price: fill}
		} else if status, ok := openingStatus(orders, id); ok && isDead(status) {
			ev = exitplan.OpeningRejected{Status: status}
		}

		d := exitplan.Decide(c.strategy, *p, ev, now)
		if d.Changed {
			*p = d.Plan
			pending = change(d, ev, price, now)
		}
		return nil
	})
	if err != nil {
		return FillResult{}, err
	}

	c.publish(ctx, committed(pending, plan)...)
	return newFillResult(plan), nil
}

// CheckConfirmation compares the current price with the trigger and places
// the closing orders once it is reached.
func (c *ExitController) CheckConfirmation(ctx context.Context, id int64) (ConfirmationResult, error) {
	var (
		pending *Change
		current *decimal.Decimal
	)

	plan, err := c.registry.WithPlan(id, func(p *model.ExitOrderPlan) error {
		if p.State != model.StateWaitingConfirmation {
			return nil
		}

		now := c.now()
		tick := exitplan.Tick{}
		if d := exitplan.Decide(c.strategy, *p, tick, now); d.Changed {
			c.log(p).Warn("Confirmation timeout reached, no orders placed")
			*p = d.Plan
			pending = change(d, tick, nil, now)
			return nil
		}

		quote, err := c.gateway.GetQuote(ctx, p.Symbol)
		if err != nil {
			c.log(p).WithError(err).Warn("Failed to fetch quote while checking confirmation")
			return fmt.Errorf("check confirmation %d: %w", id, err)
		}
		price, ok := quotePrice(quote)
		if !ok {
			c.log(p).Debug("No usable price in quote")
			return nil
		}
		current = &price

		observed := exitplan.PriceObserved{Price: price}
		d := exitplan.Decide(c.strategy, *p, observed, now)
		if !d.Changed {
			return nil
		}
		if len(d.Effects) == 0 {
			*p = d.Plan
			pending = change(d, observed, current, now)
			return nil
		}

		c.log(p).WithFields(map[string]interface{}{
			"price":   price,
			"trigger": p.TriggerPrice,
		}).Info("Confirmation trigger reached, placing closing orders")

		place := d.Effects[0].(exitplan.PlaceOrders)
		outcome, err := c.place(ctx, d.Plan, place)
		if err != nil {
			return fmt.Errorf("check confirmation %d: %w", id, err)
		}
		final := exitplan.Decide(c.strategy, d.Plan, outcome, now)
		*p = final.Plan
		pending = change(final, outcome, current, now)
		return nil
	})
	if err != nil {
		return ConfirmationResult{}, err
	}

	c.publish(ctx, committed(pending, plan)...)
	return newConfirmationResult(plan, current), nil
}

// place previews and places every leg in order and stops at the first
// failure. A transient failure before any leg is live leaves the plan as it
// was; everything else is reported back as an event. Each leg carries a
// client order id derived from the plan, so a leg that reached the broker
// before a transient error is deduplicated when the next check retries it.
func (c *ExitController) place(ctx context.Context, plan model.ExitOrderPlan, eff exitplan.PlaceOrders) (exitplan.Event, error) {
	kind := string(c.strategy.Kind())
	placed := exitplan.OrdersPlaced{}
	var live []int64

	for _, leg := range eff.Legs {
		order := leg.Order
		if order.ClientOrderID == "" {
			order.ClientOrderID = clientOrderID(&plan, leg.Role)
		}
		id, err := c.placeLeg(ctx, plan.AccountKey, order)
		if err != nil {
			entry := c.log(&plan).WithFields(map[string]interface{}{
				"leg":        leg.Role,
				"price_type": leg.Order.PriceType,
				"live":       live,
			}).WithError(err)

			if len(live) == 0 && !connectors.IsRejection(err) {
				entry.Warn("Transient failure placing closing order, will retry on next check")
				metrics.ObservePlacement(kind, "transient")
				return nil, err
			}

			result := "rejected"
			if len(live) > 0 {
				result = "partial"
				entry.Error("Closing order placement failed with a leg already live, manual cancel required")
			} else {
				entry.Error("Closing order rejected by broker")
			}
			metrics.ObservePlacement(kind, result)
			Capture(ctx, c.exceptions, &plan, kind, "PlaceOrders", "error", err, map[string]interface{}{
				"leg":       leg.Role,
				"live":      live,
				"order":     leg.Order,
				"triggered": plan.TriggerPrice,
			})
			return exitplan.PlacementFailed{Reason: fmt.Sprintf("%s order: %v", leg.Role, err), LiveOrderIDs: live}, nil
		}

		live = append(live, id)
		switch leg.Role {
		case exitplan.RoleStop:
			placed.StopOrderID = &id
		case exitplan.RoleProfit:
			placed.ProfitOrderID = &id
		}
		c.log(&plan).WithFields(map[string]interface{}{
			"leg":      leg.Role,
			"broker":   id,
			"action":   leg.Order.Action,
			"stop":     leg.Order.StopPrice,
			"limit":    leg.Order.LimitPrice,
			"trailing": leg.Order.TrailAmount,
		}).Info("Closing order placed")
	}

	metrics.ObservePlacement(kind, "ok")
	return placed, nil
}

// clientOrderID is stable for a plan and leg role and fits the 20 character
// broker limit.
func clientOrderID(p *model.ExitOrderPlan, role exitplan.LegRole) string {
	prefix := "x"
	if s := string(p.Strategy); s != "" {
		prefix += s[:1]
	}
	suffix := "s"
	if role == exitplan.RoleProfit {
		suffix = "p"
	}
	return prefix + strconv.FormatInt(p.OpeningOrderID, 36) + suffix
}

func (c *ExitController) placeLeg(ctx context.Context, accountKey string, order model.OrderSpec) (int64, error) {
	preview, err := c.gateway.PreviewOrder(ctx, accountKey, order)
	if err != nil {
		return 0, fmt.Errorf("preview: %w", err)
	}
	id, err := c.gateway.PlaceOrder(ctx, accountKey, order, preview)
	if err != nil {
		return 0, fmt.Errorf("place: %w", err)
	}
	return id, nil
}

// CheckExitFilled polls the closing orders. When one fills the plan becomes
// terminal and, for brackets, the other leg is cancelled once.
func (c *ExitController) CheckExitFilled(ctx context.Context, id int64) (ExitResult, error) {
	var pending *Change

	plan, err := c.registry.WithPlan(id, func(p *model.ExitOrderPlan) error {
		if p.State != c.strategy.PlacedState() || p.StopOrderID == nil {
			return nil
		}

		orders, err := c.gateway.GetOrders(ctx, p.AccountKey, connectors.OrderStatusExecuted)
		if err != nil {
			c.log(p).WithError(err).Warn("Failed to fetch orders while checking exit fill")
			return fmt.Errorf("check exit %d: %w", id, err)
		}

		ev := exitplan.ExitFilled{}
		_, ev.StopFilled = model.FindFullyFilled(orders, *p.StopOrderID)
		if p.ProfitOrderID != nil {
			_, ev.ProfitFilled = model.FindFullyFilled(orders, *p.ProfitOrderID)
		}

		now := c.now()
		d := exitplan.Decide(c.strategy, *p, ev, now)
		if !d.Changed {
			return nil
		}
		c.cancelAll(ctx, &d.Plan, d.Effects)
		*p = d.Plan
		pending = change(d, ev, nil, now)
		return nil
	})
	if err != nil {
		return ExitResult{}, err
	}

	c.publish(ctx, committed(pending, plan)...)
	return newExitResult(plan), nil
}

// cancelAll executes cancel effects best effort and returns the ids the
// broker accepted.
func (c *ExitController) cancelAll(ctx context.Context, p *model.ExitOrderPlan, effects []exitplan.Effect) []int64 {
	var cancelled []int64
	for _, eff := range effects {
		cancel, ok := eff.(exitplan.CancelOrders)
		if !ok {
			continue
		}
		for _, orderID := range cancel.OrderIDs {
			if err := c.gateway.CancelOrder(ctx, p.AccountKey, orderID); err != nil {
				c.log(p).WithError(err).WithField("cancel_id", orderID).Warn("Failed to cancel order")
				continue
			}
			c.log(p).WithField("cancel_id", orderID).Info("Order cancelled")
			cancelled = append(cancelled, orderID)
		}
	}
	return cancelled
}

// CancelPlan cancels every live order of the plan and removes it.
func (c *ExitController) CancelPlan(ctx context.Context, id int64) (CancelResult, error) {
	var (
		res     CancelResult
		pending *Change
	)

	plan, err := c.registry.WithRemoval(id, func(p *model.ExitOrderPlan) error {
		now := c.now()
		d := exitplan.Decide(c.strategy, *p, exitplan.CancelRequested{}, now)
		for _, eff := range d.Effects {
			if cancel, ok := eff.(exitplan.CancelOrders); ok {
				res.RequestedOrderIDs = append(res.RequestedOrderIDs, cancel.OrderIDs...)
			}
		}
		res.CancelledOrderIDs = c.cancelAll(ctx, p, d.Effects)
		*p = d.Plan
		pending = change(d, exitplan.CancelRequested{}, nil, now)
		pending.Removed = true
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	res.OpeningOrderID = plan.OpeningOrderID
	res.State = plan.State
	c.publish(ctx, committed(pending, plan)...)
	return res, nil
}

func (c *ExitController) ListPlans() []model.ExitOrderPlan { return c.registry.List() }

func (c *ExitController) ListPlansByState(state model.State) []model.ExitOrderPlan {
	return c.registry.ListByState(state)
}

// ActivePlans lists the plans that still need polling.
func (c *ExitController) ActivePlans() []model.ExitOrderPlan { return c.registry.Active() }

func (c *ExitController) GetPlan(id int64) (model.ExitOrderPlan, error) { return c.registry.Get(id) }

func (c *ExitController) Snapshot() ([]byte, error) { return c.registry.Snapshot() }

// Restore replaces every plan with the snapshot content.
func (c *ExitController) Restore(ctx context.Context, data []byte) (int, error) {
	n, err := c.registry.Restore(data)
	if err != nil {
		return 0, err
	}
	logger.WithFields(map[string]interface{}{
		"strategy": c.strategy.Kind(),
		"plans":    n,
	}).Info("Exit plans restored from snapshot")

	now := c.now()
	plans := c.registry.List()
	changes := make([]Change, 0, len(plans))
	for _, p := range plans {
		changes = append(changes, Change{Plan: p, From: p.State, Event: "restored", At: now})
	}
	c.publish(ctx, changes...)
	metrics.SetActivePlans(string(c.strategy.Kind()), len(c.registry.Active()))
	return n, nil
}

// Advance runs the check matching the plan state. It is what the poll loop
// calls for every active plan.
func (c *ExitController) Advance(ctx context.Context, id int64) (model.State, error) {
	p, err := c.registry.Get(id)
	if err != nil {
		return "", err
	}

	switch p.State {
	case model.StatePendingFill:
		r, err := c.CheckFill(ctx, id)
		return r.State, err
	case model.StateWaitingConfirmation:
		r, err := c.CheckConfirmation(ctx, id)
		return r.State, err
	case c.strategy.PlacedState():
		r, err := c.CheckExitFilled(ctx, id)
		return r.State, err
	}
	if p.State.Terminal() {
		return p.State, exitplan.ErrTerminal
	}
	return p.State, nil
}

// quotePrice prefers the last trade and falls back to the bid/ask midpoint.
func quotePrice(q model.Quote) (decimal.Decimal, bool) {
	if q.Last != nil && q.Last.IsPositive() {
		return *q.Last, true
	}
	if q.Bid != nil && q.Ask != nil && q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.Add(*q.Ask).Div(decimal.NewFromInt(2)), true
	}
	return decimal.Zero, false
}

func openingStatus(orders []model.BrokerOrder, id int64) (string, bool) {
	for _, o := range orders {
		if o.OrderID == id {
			return o.Status, true
		}
	}
	return "", false
}

func isDead(status string) bool {
	switch status {
	case connectors.OrderStatusCancelled, connectors.OrderStatusRejected, connectors.OrderStatusExpired:
		return true
	}
	return false
}

// IsNotFound reports an unknown opening order id.
func IsNotFound(err error) bool { return errors.Is(err, exitplan.ErrPlanNotFound) }
