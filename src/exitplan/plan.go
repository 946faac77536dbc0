package exitplan

import (
	"fmt"
	"strings"
	"time"

	"exitexecutor/src/model"
	"exitexecutor/src/tp_sl"
)

// Request holds the caller supplied fields of a new plan. Zero timeouts take
// the defaults.
type Request struct {
	OpeningOrderID             int64        `json:"opening_order_id"`
	Symbol                     string       `json:"symbol"`
	Quantity                   int          `json:"quantity"`
	AccountKey                 string       `json:"account_key"`
	OpeningSide                string       `json:"opening_side"`
	Confirmation               tp_sl.Offset `json:"confirmation"`
	Stop                       tp_sl.Offset `json:"stop"`
	Profit                     tp_sl.Offset `json:"profit"`
	FillTimeoutSeconds         int          `json:"fill_timeout_seconds"`
	ConfirmationTimeoutSeconds int          `json:"confirmation_timeout_seconds"`
}

// NewPlan validates req and builds a plan in StatePendingFill.
func NewPlan(kind model.Strategy, req Request, now time.Time) (model.ExitOrderPlan, error) {
	invalid := func(format string, args ...interface{}) (model.ExitOrderPlan, error) {
		return model.ExitOrderPlan{}, fmt.Errorf("%w: %s", ErrInvalidPlan, fmt.Sprintf(format, args...))
	}

	if !kind.Valid() {
		return invalid("unknown strategy %q", kind)
	}
	if req.OpeningOrderID <= 0 {
		return invalid("opening order id must be positive")
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return invalid("symbol is required")
	}
	if req.Quantity <= 0 {
		return invalid("quantity must be positive")
	}
	if strings.TrimSpace(req.AccountKey) == "" {
		return invalid("account key is required")
	}
	side, ok := model.ParseOrderAction(req.OpeningSide)
	if !ok {
		return invalid("unknown opening side %q", req.OpeningSide)
	}
	if err := req.Confirmation.Validate(); err != nil {
		return invalid("confirmation: %v", err)
	}
	if err := req.Stop.Validate(); err != nil {
		return invalid("stop: %v", err)
	}
	if kind == model.StrategyBracket {
		if err := req.Profit.Validate(); err != nil {
			return invalid("profit: %v", err)
		}
	}
	if req.FillTimeoutSeconds < 0 || req.ConfirmationTimeoutSeconds < 0 {
		return invalid("timeouts must not be negative")
	}

	fillTimeout := req.FillTimeoutSeconds
	if fillTimeout == 0 {
		fillTimeout = model.DefaultFillTimeoutSeconds
	}
	confTimeout := req.ConfirmationTimeoutSeconds
	if confTimeout == 0 {
		confTimeout = model.DefaultConfirmationTimeoutSeconds
	}

	return model.ExitOrderPlan{
		Strategy:       kind,
		OpeningOrderID: req.OpeningOrderID,
		Symbol:         symbol,
		Quantity:       req.Quantity,
		AccountKey:     req.AccountKey,
		OpeningSide:    side,
		Config: model.PlanConfig{
			Confirmation:               req.Confirmation,
			Stop:                       req.Stop,
			Profit:                     req.Profit,
			FillTimeoutSeconds:         fillTimeout,
			ConfirmationTimeoutSeconds: confTimeout,
		},
		State:     model.StatePendingFill,
		CreatedAt: now.UTC(),
	}, nil
}
