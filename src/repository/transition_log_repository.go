package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"exitexecutor/src/model"
)

// TransitionLogRepository appends and reads the audit trail of plan transitions.
type TransitionLogRepository struct {
	db *gorm.DB
}

func NewTransitionLogRepository(db *gorm.DB) *TransitionLogRepository {
	return &TransitionLogRepository{db: db}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *TransitionLogRepository) WithDB(db *gorm.DB) *TransitionLogRepository {
	return &TransitionLogRepository{db: db}
}

func (r *TransitionLogRepository) Append(ctx context.Context, entry *model.PlanTransitionLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TransitionLogRepository",
			"op":       "Append",
			"strategy": entry.Strategy,
			"order_id": entry.OpeningOrderID,
			"to":       entry.ToState,
		}).WithError(err).Error("Failed to append plan transition")
		return err
	}
	return nil
}

// ListByPlan returns the transitions of one plan, oldest first.
func (r *TransitionLogRepository) ListByPlan(ctx context.Context, strategy model.Strategy, id int64) ([]model.PlanTransitionLog, error) {
	var logs []model.PlanTransitionLog
	err := r.db.WithContext(ctx).
		Where("strategy = ? AND opening_order_id = ?", strategy, id).
		Order("occurred_at, id").
		Find(&logs).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TransitionLogRepository",
			"op":       "ListByPlan",
			"strategy": strategy,
			"order_id": id,
		}).WithError(err).Error("Failed to list plan transitions")
		return nil, err
	}
	return logs, nil
}
