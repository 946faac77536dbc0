package exitplan

import "errors"

var (
	ErrPlanNotFound    = errors.New("exit plan not found")
	ErrPlanExists      = errors.New("exit plan already registered")
	ErrInvalidPlan     = errors.New("invalid exit plan")
	ErrTerminal        = errors.New("exit plan is terminal")
	ErrUnknownStrategy = errors.New("unknown exit strategy")
	ErrBusy            = errors.New("exit plan check in progress")
)
