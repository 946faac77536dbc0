package model

import "time"

// Exception is an error worth keeping after the log line is gone: placement
// failures, partial brackets, broker errors seen while polling.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Service string `gorm:"size:100;index" json:"service"` // e.g. "exit_executor"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "bracket"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "CheckConfirmation"

	// Plan the error belongs to, zero when not plan specific
	Strategy       Strategy `gorm:"size:30;index" json:"strategy,omitempty"`
	OpeningOrderID int64    `gorm:"index" json:"opening_order_id,omitempty"`

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	Level string `gorm:"size:20;index" json:"level"` // warn | error

	// JSON encoded extra fields
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
