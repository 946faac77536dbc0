package model

import (
	"strings"
	"time"

	"exitexecutor/src/tp_sl"

	"github.com/shopspring/decimal"
)

// Strategy names the exit behaviour attached to an opening order.
type Strategy string

const (
	StrategyBracket           Strategy = "bracket"
	StrategyConfirmationStop  Strategy = "confirmation_stop"
	StrategyTrailingStopLimit Strategy = "trailing_stop_limit"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyBracket, StrategyConfirmationStop, StrategyTrailingStopLimit:
		return true
	}
	return false
}

// State is the lifecycle position of an exit plan.
type State string

const (
	StatePendingFill         State = "pending_fill"         // opening order not filled yet
	StateWaitingConfirmation State = "waiting_confirmation" // filled, waiting for the trigger price
	StateBracketPlaced       State = "bracket_placed"       // stop + profit legs live
	StateStopPlaced          State = "stop_placed"          // single stop (or trailing stop) live
	StateStopFilled          State = "stop_filled"
	StateProfitFilled        State = "profit_filled"
	StateCancelled           State = "cancelled"
	StateError               State = "error"
)

func (s State) Terminal() bool {
	switch s {
	case StateStopFilled, StateProfitFilled, StateCancelled, StateError:
		return true
	}
	return false
}

// ErrorKind tells callers why a plan ended in StateError.
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindFillTimeout         ErrorKind = "fill_timeout"
	ErrorKindConfirmationTimeout ErrorKind = "confirmation_timeout"
	ErrorKindPlacement           ErrorKind = "placement"
	ErrorKindGateway             ErrorKind = "gateway" // opening order cancelled or rejected at the broker
)

// OrderAction is the broker order action of a single order.
type OrderAction string

const (
	ActionBuy        OrderAction = "BUY"
	ActionSell       OrderAction = "SELL"
	ActionSellShort  OrderAction = "SELL_SHORT"
	ActionBuyToCover OrderAction = "BUY_TO_COVER"
)

func ParseOrderAction(s string) (OrderAction, bool) {
	a := OrderAction(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case ActionBuy, ActionSell, ActionSellShort, ActionBuyToCover:
		return a, true
	}
	return a, false
}

func (a OrderAction) IsLong() bool {
	return a == ActionBuy || a == ActionBuyToCover
}

// Side maps the opening action to the position direction.
func (a OrderAction) Side() tp_sl.Side {
	if a.IsLong() {
		return tp_sl.SideLong
	}
	return tp_sl.SideShort
}

// Closing is the action that exits a position opened with a.
func (a OrderAction) Closing() OrderAction {
	if a.IsLong() {
		return ActionSell
	}
	return ActionBuy
}

const (
	DefaultFillTimeoutSeconds         = 15
	DefaultConfirmationTimeoutSeconds = 300
)

// PlanConfig is fixed when the plan is created.
type PlanConfig struct {
	Confirmation               tp_sl.Offset `json:"confirmation" gorm:"embedded;embeddedPrefix:confirmation_"`
	Stop                       tp_sl.Offset `json:"stop" gorm:"embedded;embeddedPrefix:stop_"`
	Profit                     tp_sl.Offset `json:"profit" gorm:"embedded;embeddedPrefix:profit_"`
	FillTimeoutSeconds         int          `json:"fill_timeout_seconds"`
	ConfirmationTimeoutSeconds int          `json:"confirmation_timeout_seconds"`
}

func (c PlanConfig) FillTimeout() time.Duration {
	return time.Duration(c.FillTimeoutSeconds) * time.Second
}

func (c PlanConfig) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutSeconds) * time.Second
}

// ExitOrderPlan tracks one opening order through fill, confirmation and exit.
// The same struct is the JSON snapshot entry and the persisted row.
type ExitOrderPlan struct {
	Strategy       Strategy    `json:"strategy" gorm:"primaryKey;size:30"`
	OpeningOrderID int64       `json:"opening_order_id" gorm:"primaryKey;autoIncrement:false"`
	Symbol         string      `json:"symbol" gorm:"size:20;index"`
	Quantity       int         `json:"quantity"`
	AccountKey     string      `json:"account_key" gorm:"size:100;index"`
	OpeningSide    OrderAction `json:"opening_side" gorm:"size:20"`

	Config PlanConfig `json:"config" gorm:"embedded"`

	State        State            `json:"state" gorm:"size:30;index"`
	FillPrice    *decimal.Decimal `json:"fill_price" gorm:"type:numeric(18,4)"`
	FillTime     *time.Time       `json:"fill_time"`
	TriggerPrice *decimal.Decimal `json:"trigger_price" gorm:"type:numeric(18,4)"`

	StopOrderID      *int64           `json:"stop_order_id"`
	ProfitOrderID    *int64           `json:"profit_order_id"`
	StopPrice        *decimal.Decimal `json:"stop_price" gorm:"type:numeric(18,4)"`
	StopLimitPrice   *decimal.Decimal `json:"stop_limit_price" gorm:"type:numeric(18,4)"`
	ProfitLimitPrice *decimal.Decimal `json:"profit_limit_price" gorm:"type:numeric(18,4)"`
	TrailAmount      *decimal.Decimal `json:"trail_amount" gorm:"type:numeric(18,4)"`

	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime:false"`
	PlacedAt     *time.Time `json:"placed_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	ErrorMessage *string    `json:"error_message" gorm:"type:text"`
	ErrorKind    ErrorKind  `json:"error_kind" gorm:"size:30"`

	// Revision grows with every committed change; stored rows never go back
	// to a lower one.
	Revision int64 `json:"revision" gorm:"not null;default:0"`
}

func (ExitOrderPlan) TableName() string {
	return "exit_order_plans"
}

// Canonical returns the plan in the form its JSON encoding decodes to:
// decimals without trailing zeros and times in UTC.
func (p ExitOrderPlan) Canonical() ExitOrderPlan {
	p.Config.Confirmation.Value = canonicalDecimal(p.Config.Confirmation.Value)
	p.Config.Stop.Value = canonicalDecimal(p.Config.Stop.Value)
	p.Config.Profit.Value = canonicalDecimal(p.Config.Profit.Value)

	p.FillPrice = canonicalDecimalPtr(p.FillPrice)
	p.TriggerPrice = canonicalDecimalPtr(p.TriggerPrice)
	p.StopPrice = canonicalDecimalPtr(p.StopPrice)
	p.StopLimitPrice = canonicalDecimalPtr(p.StopLimitPrice)
	p.ProfitLimitPrice = canonicalDecimalPtr(p.ProfitLimitPrice)
	p.TrailAmount = canonicalDecimalPtr(p.TrailAmount)

	p.CreatedAt = p.CreatedAt.UTC()
	p.FillTime = utcPtr(p.FillTime)
	p.PlacedAt = utcPtr(p.PlacedAt)
	p.CompletedAt = utcPtr(p.CompletedAt)
	return p
}

func canonicalDecimal(d decimal.Decimal) decimal.Decimal {
	return decimal.RequireFromString(d.String())
}

func canonicalDecimalPtr(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := canonicalDecimal(*d)
	return &c
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (p *ExitOrderPlan) IsLong() bool { return p.OpeningSide.IsLong() }

func (p *ExitOrderPlan) Side() tp_sl.Side { return p.OpeningSide.Side() }

func (p *ExitOrderPlan) ClosingSide() OrderAction { return p.OpeningSide.Closing() }

// MinProfit is the per share profit guaranteed by the stop, zero until both
// the fill and stop prices are known.
func (p *ExitOrderPlan) MinProfit() decimal.Decimal {
	if p.FillPrice == nil || p.StopPrice == nil {
		return decimal.Zero
	}
	return tp_sl.MinProfit(p.Side(), *p.FillPrice, *p.StopPrice)
}

// OrderIDs lists every non-null order id owned by the plan, opening order first.
func (p *ExitOrderPlan) OrderIDs() []int64 {
	ids := []int64{p.OpeningOrderID}
	if p.StopOrderID != nil {
		ids = append(ids, *p.StopOrderID)
	}
	if p.ProfitOrderID != nil {
		ids = append(ids, *p.ProfitOrderID)
	}
	return ids
}

func (p *ExitOrderPlan) ConfirmationExpired(now time.Time) bool {
	if p.FillTime == nil {
		return false
	}
	return now.After(p.FillTime.Add(p.Config.ConfirmationTimeout()))
}

func (p *ExitOrderPlan) FillExpired(now time.Time) bool {
	if p.Config.FillTimeoutSeconds <= 0 {
		return false
	}
	return now.After(p.CreatedAt.Add(p.Config.FillTimeout()))
}
