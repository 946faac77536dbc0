package tp_sl

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

type OffsetType string

const (
	OffsetDollar  OffsetType = "dollar"
	OffsetPercent OffsetType = "percent"
)

// Offset is a distance from a reference price, either absolute or relative.
type Offset struct {
	Type  OffsetType      `json:"type" gorm:"size:10"`
	Value decimal.Decimal `json:"value" gorm:"type:numeric(18,4)"`
}

func Dollar(v string) Offset  { return Offset{Type: OffsetDollar, Value: decimal.RequireFromString(v)} }
func Percent(v string) Offset { return Offset{Type: OffsetPercent, Value: decimal.RequireFromString(v)} }

var ErrInvalidOffset = errors.New("invalid offset")

func (o Offset) Validate() error {
	switch o.Type {
	case OffsetDollar, OffsetPercent:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOffset, o.Type)
	}
	if o.Value.IsNegative() {
		return fmt.Errorf("%w: negative value %s", ErrInvalidOffset, o.Value.String())
	}
	return nil
}

type Direction int

const (
	Increase Direction = iota
	Decrease
)

const moneyPlaces int32 = 2

var (
	hundred   = decimal.NewFromInt(100)
	tick      = decimal.RequireFromString("0.01")
	nudgeDown = decimal.RequireFromString("0.9999")
	nudgeUp   = decimal.RequireFromString("1.0001")
)

// Round applies the money rounding policy: 2 decimal places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal { return d.Round(moneyPlaces) }

func shift(ref decimal.Decimal, o Offset, dir Direction) decimal.Decimal {
	if o.Type == OffsetPercent {
		factor := o.Value.Div(hundred)
		if dir == Increase {
			return ref.Mul(decimal.NewFromInt(1).Add(factor))
		}
		return ref.Mul(decimal.NewFromInt(1).Sub(factor))
	}
	if dir == Increase {
		return ref.Add(o.Value)
	}
	return ref.Sub(o.Value)
}

// ApplyOffset moves reference by the offset in the given direction and rounds the result.
func ApplyOffset(reference decimal.Decimal, o Offset, dir Direction) decimal.Decimal {
	return Round(shift(reference, o, dir))
}

// Favorable is the direction in which price moves into profit for the side.
func Favorable(side Side) Direction {
	if side == SideShort {
		return Decrease
	}
	return Increase
}

// Adverse is the direction in which price moves against the side.
func Adverse(side Side) Direction {
	if side == SideShort {
		return Increase
	}
	return Decrease
}

// TriggerPrice is the confirmation level derived from the fill price.
func TriggerPrice(side Side, fill decimal.Decimal, confirmation Offset) decimal.Decimal {
	return ApplyOffset(fill, confirmation, Favorable(side))
}

// Reached reports whether price has moved to or beyond trigger in the favorable direction.
func Reached(side Side, price, trigger decimal.Decimal) bool {
	if side == SideShort {
		return price.LessThanOrEqual(trigger)
	}
	return price.GreaterThanOrEqual(trigger)
}

type NudgePolicy int

const (
	// NudgeTick offsets the stop limit by one cent beyond the stop.
	NudgeTick NudgePolicy = iota
	// NudgePercentAware keeps the one cent nudge for dollar stops but scales
	// percent stops by 0.9999 (long) or 1.0001 (short).
	NudgePercentAware
)

// StopPrices computes the stop trigger and its limit price, anchored to current.
//
// Long:  stop = current - offset, limit just below stop
// Short: stop = current + offset, limit just above stop
func StopPrices(side Side, current decimal.Decimal, stop Offset, policy NudgePolicy) (stopPrice, limitPrice decimal.Decimal) {
	raw := shift(current, stop, Adverse(side))

	var rawLimit decimal.Decimal
	switch {
	case policy == NudgePercentAware && stop.Type == OffsetPercent && side == SideShort:
		rawLimit = raw.Mul(nudgeUp)
	case policy == NudgePercentAware && stop.Type == OffsetPercent:
		rawLimit = raw.Mul(nudgeDown)
	case side == SideShort:
		rawLimit = raw.Add(tick)
	default:
		rawLimit = raw.Sub(tick)
	}
	return Round(raw), Round(rawLimit)
}

// ProfitPrice is the profit target limit price anchored to current.
func ProfitPrice(side Side, current decimal.Decimal, profit Offset) decimal.Decimal {
	return ApplyOffset(current, profit, Favorable(side))
}

// TrailAmount converts a trail offset into a dollar distance. Percent trails
// are measured against current, the price at trigger time.
func TrailAmount(current decimal.Decimal, trail Offset) decimal.Decimal {
	if trail.Type == OffsetPercent {
		return Round(current.Mul(trail.Value).Div(hundred))
	}
	return Round(trail.Value)
}

// MinProfit is the per share profit locked in by the stop.
func MinProfit(side Side, fill, stop decimal.Decimal) decimal.Decimal {
	if side == SideShort {
		return fill.Sub(stop)
	}
	return stop.Sub(fill)
}
