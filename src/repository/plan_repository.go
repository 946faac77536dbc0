package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"exitexecutor/src/model"
)

// PlanRepository keeps the durable copy of every exit plan. Rows mirror the
// in-memory registry and are reloaded at startup.
type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PlanRepository) WithDB(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// staleRevision keeps an upsert from replacing a row with an older revision.
var staleRevision = clause.Where{Exprs: []clause.Expression{
	clause.Expr{SQL: "exit_order_plans.revision <= excluded.revision"},
}}

// Save inserts the plan or overwrites the stored row with the same key. A row
// holding a newer revision is left alone, so saves of one plan may arrive in
// any order.
func (r *PlanRepository) Save(ctx context.Context, plan *model.ExitOrderPlan) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "strategy"}, {Name: "opening_order_id"}},
			Where:     staleRevision,
			UpdateAll: true,
		}).
		Create(plan)
	err := res.Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "PlanRepository",
			"op":       "Save",
			"strategy": plan.Strategy,
			"order_id": plan.OpeningOrderID,
		}).WithError(err).Error("Failed to save exit plan")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "PlanRepository",
		"op":       "Save",
		"strategy": plan.Strategy,
		"order_id": plan.OpeningOrderID,
		"state":    plan.State,
		"revision": plan.Revision,
		"written":  res.RowsAffected > 0,
	}).Debug("Exit plan saved")

	return nil
}

// FindByID returns nil, nil when the plan is unknown.
func (r *PlanRepository) FindByID(ctx context.Context, strategy model.Strategy, id int64) (*model.ExitOrderPlan, error) {
	var plan model.ExitOrderPlan
	err := r.db.WithContext(ctx).
		Where("strategy = ? AND opening_order_id = ?", strategy, id).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":     "PlanRepository",
			"op":       "FindByID",
			"strategy": strategy,
			"order_id": id,
		}).WithError(err).Error("Failed to fetch exit plan")
		return nil, err
	}
	return &plan, nil
}

// ListByStrategy returns the plans of one strategy ordered by opening order id.
// With activeOnly set, terminal plans are left out.
func (r *PlanRepository) ListByStrategy(ctx context.Context, strategy model.Strategy, activeOnly bool) ([]model.ExitOrderPlan, error) {
	q := r.db.WithContext(ctx).Where("strategy = ?", strategy)
	if activeOnly {
		q = q.Where("state NOT IN ?", []model.State{
			model.StateStopFilled,
			model.StateProfitFilled,
			model.StateCancelled,
			model.StateError,
		})
	}

	var plans []model.ExitOrderPlan
	if err := q.Order("opening_order_id").Find(&plans).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PlanRepository",
			"op":          "ListByStrategy",
			"strategy":    strategy,
			"active_only": activeOnly,
		}).WithError(err).Error("Failed to list exit plans")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PlanRepository",
		"op":          "ListByStrategy",
		"strategy":    strategy,
		"active_only": activeOnly,
		"rows_return": len(plans),
	}).Debug("Exit plans listed")

	return plans, nil
}
