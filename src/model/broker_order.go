package model

import (
	"github.com/shopspring/decimal"
)

// PriceType is the broker order price type.
type PriceType string

const (
	PriceTypeMarket       PriceType = "MARKET"
	PriceTypeLimit        PriceType = "LIMIT"
	PriceTypeStopLimit    PriceType = "STOP_LIMIT"
	PriceTypeTrailingStop PriceType = "TRAILING_STOP"
)

const OrderTermGoodForDay = "GOOD_FOR_DAY"

// OrderSpec is everything the broker needs to preview and place one order.
type OrderSpec struct {
	Symbol        string           `json:"symbol"`
	Quantity      int              `json:"quantity"`
	Action        OrderAction      `json:"order_action"`
	PriceType     PriceType        `json:"price_type"`
	OrderTerm     string           `json:"order_term,omitempty"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	TrailAmount   *decimal.Decimal `json:"trail_amount,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// Quote fields are nil when the market is closed or there is no data.
type Quote struct {
	Symbol string           `json:"symbol"`
	Last   *decimal.Decimal `json:"last"`
	Bid    *decimal.Decimal `json:"bid"`
	Ask    *decimal.Decimal `json:"ask"`
}

// Instrument is one leg of a broker order as reported by the order list.
type Instrument struct {
	Symbol                string          `json:"symbol"`
	OrderedQuantity       decimal.Decimal `json:"ordered_quantity"`
	FilledQuantity        decimal.Decimal `json:"filled_quantity"`
	AverageExecutionPrice decimal.Decimal `json:"average_execution_price"`
}

// BrokerOrder is a single order as returned by the broker order list.
type BrokerOrder struct {
	OrderID     int64        `json:"order_id"`
	Status      string       `json:"status"`
	Instruments []Instrument `json:"instruments"`
}

// FullyFilled reports whether every instrument filled at least its ordered
// quantity. Partial fills are not fills.
func (o BrokerOrder) FullyFilled() bool {
	if len(o.Instruments) == 0 {
		return false
	}
	for _, in := range o.Instruments {
		if in.OrderedQuantity.IsZero() || in.FilledQuantity.LessThan(in.OrderedQuantity) {
			return false
		}
	}
	return true
}

// ExecutionPrice is the average execution price of the first instrument.
func (o BrokerOrder) ExecutionPrice() decimal.Decimal {
	if len(o.Instruments) == 0 {
		return decimal.Zero
	}
	return o.Instruments[0].AverageExecutionPrice
}

// FindFullyFilled looks up orderID among orders and returns it only when fully filled.
func FindFullyFilled(orders []BrokerOrder, orderID int64) (BrokerOrder, bool) {
	for _, o := range orders {
		if o.OrderID == orderID && o.FullyFilled() {
			return o, true
		}
	}
	return BrokerOrder{}, false
}
