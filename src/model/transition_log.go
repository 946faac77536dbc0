package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanTransitionLog is one state change of an exit plan. Rows are append only
// and form the audit trail of every plan the executor has handled.
type PlanTransitionLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Strategy       Strategy `gorm:"size:30;index:idx_transition_plan" json:"strategy"`
	OpeningOrderID int64    `gorm:"index:idx_transition_plan" json:"opening_order_id"`
	Symbol         string   `gorm:"size:20" json:"symbol"`

	FromState State  `gorm:"size:30" json:"from_state"`
	ToState   State  `gorm:"size:30;not null" json:"to_state"`
	Event     string `gorm:"size:50" json:"event"`

	// Prices known at the time of the transition
	Price        *decimal.Decimal `gorm:"type:numeric(18,4)" json:"price,omitempty"`
	TriggerPrice *decimal.Decimal `gorm:"type:numeric(18,4)" json:"trigger_price,omitempty"`
	StopPrice    *decimal.Decimal `gorm:"type:numeric(18,4)" json:"stop_price,omitempty"`

	StopOrderID   *int64 `json:"stop_order_id,omitempty"`
	ProfitOrderID *int64 `json:"profit_order_id,omitempty"`

	ErrorMessage *string   `gorm:"type:text" json:"error_message,omitempty"`
	OccurredAt   time.Time `gorm:"index" json:"occurred_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (PlanTransitionLog) TableName() string {
	return "plan_transition_logs"
}
