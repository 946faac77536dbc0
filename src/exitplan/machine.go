package exitplan

import (
	"fmt"
	"strings"
	"time"

	"exitexecutor/src/model"
	"exitexecutor/src/tp_sl"
)

// Decision is the outcome of one event. Plan is a copy; the input plan is
// never modified. Changed is false when the event did not apply.
type Decision struct {
	Plan    model.ExitOrderPlan
	From    model.State
	Effects []Effect
	Changed bool
}

// Transitioned reports whether the plan moved to a different state.
func (d Decision) Transitioned() bool {
	return d.Changed && d.From != d.Plan.State
}

// Decide is the exit plan transition function. It performs no I/O: broker
// calls are returned as effects and their outcome is fed back as a new event.
func Decide(s ExitStrategy, plan model.ExitOrderPlan, ev Event, now time.Time) Decision {
	next := plan
	d := Decision{From: plan.State}

	switch e := ev.(type) {
	case FillObserved:
		if plan.State != model.StatePendingFill || !e.Price.IsPositive() {
			break
		}
		fill := tp_sl.Round(e.Price)
		trigger := tp_sl.TriggerPrice(plan.Side(), fill, plan.Config.Confirmation)
		next.FillPrice = &fill
		next.FillTime = ptr(now)
		next.TriggerPrice = &trigger
		next.State = model.StateWaitingConfirmation
		d.Changed = true

	case OpeningRejected:
		if plan.State != model.StatePendingFill {
			break
		}
		fail(&next, model.ErrorKindGateway, fmt.Sprintf("opening order %d %s at broker", plan.OpeningOrderID, strings.ToLower(e.Status)), now)
		d.Changed = true

	case Tick:
		d.Changed = expire(&next, now)

	case PriceObserved:
		if plan.State != model.StateWaitingConfirmation {
			break
		}
		if expire(&next, now) {
			d.Changed = true
			break
		}
		if !e.Price.IsPositive() || !s.Triggered(&next, e.Price) {
			break
		}
		legs := s.Prepare(&next, e.Price)
		d.Effects = append(d.Effects, PlaceOrders{Legs: legs})
		d.Changed = true

	case OrdersPlaced:
		if plan.State != model.StateWaitingConfirmation || e.StopOrderID == nil {
			break
		}
		next.StopOrderID = e.StopOrderID
		next.ProfitOrderID = e.ProfitOrderID
		next.PlacedAt = ptr(now)
		next.State = s.PlacedState()
		d.Changed = true

	case PlacementFailed:
		if plan.State != model.StateWaitingConfirmation {
			break
		}
		msg := "order placement failed: " + e.Reason
		if len(e.LiveOrderIDs) > 0 {
			msg = fmt.Sprintf("%s; live order(s) %s need manual cancel", msg, joinIDs(e.LiveOrderIDs))
		}
		fail(&next, model.ErrorKindPlacement, msg, now)
		d.Changed = true

	case ExitFilled:
		if plan.State != s.PlacedState() {
			break
		}
		// stop wins if both legs report filled in the same poll
		switch {
		case e.StopFilled:
			next.State = model.StateStopFilled
			if plan.ProfitOrderID != nil {
				d.Effects = append(d.Effects, CancelOrders{OrderIDs: []int64{*plan.ProfitOrderID}})
			}
		case e.ProfitFilled && plan.ProfitOrderID != nil:
			next.State = model.StateProfitFilled
			d.Effects = append(d.Effects, CancelOrders{OrderIDs: []int64{*plan.StopOrderID}})
		default:
			return Decision{Plan: plan, From: plan.State}
		}
		next.CompletedAt = ptr(now)
		d.Changed = true

	case CancelRequested:
		switch plan.State {
		case model.StateCancelled, model.StateStopFilled, model.StateProfitFilled:
		case model.StateError:
			d.Effects = append(d.Effects, CancelOrders{OrderIDs: plan.OrderIDs()})
		default:
			d.Effects = append(d.Effects, CancelOrders{OrderIDs: plan.OrderIDs()})
			next.State = model.StateCancelled
			next.CompletedAt = ptr(now)
			d.Changed = true
		}
	}

	if !d.Changed {
		next = plan
	}
	d.Plan = next
	return d
}

// expire moves a plan whose lazy timeout has elapsed to StateError.
func expire(p *model.ExitOrderPlan, now time.Time) bool {
	switch {
	case p.State == model.StatePendingFill && p.FillExpired(now):
		fail(p, model.ErrorKindFillTimeout, fmt.Sprintf("opening order not filled within %ds", p.Config.FillTimeoutSeconds), now)
		return true
	case p.State == model.StateWaitingConfirmation && p.ConfirmationExpired(now):
		fail(p, model.ErrorKindConfirmationTimeout, fmt.Sprintf("confirmation timeout after %ds", p.Config.ConfirmationTimeoutSeconds), now)
		return true
	}
	return false
}

func fail(p *model.ExitOrderPlan, kind model.ErrorKind, msg string, now time.Time) {
	p.State = model.StateError
	p.ErrorKind = kind
	p.ErrorMessage = &msg
	p.CompletedAt = ptr(now)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
