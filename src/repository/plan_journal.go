package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"

	"exitexecutor/src/controller"
	"exitexecutor/src/model"
)

// PlanJournal is a controller observer that writes every committed change to
// the database: the plan row is upserted and state changes are appended to
// the transition log. Changes of one plan can arrive out of order; the row
// keeps the highest revision. Failures are logged and never reach the controller.
type PlanJournal struct {
	plans *PlanRepository
	logs  *TransitionLogRepository
}

func NewPlanJournal(plans *PlanRepository, logs *TransitionLogRepository) *PlanJournal {
	return &PlanJournal{plans: plans, logs: logs}
}

func (j *PlanJournal) PlanChanged(ctx context.Context, ch controller.Change) {
	plan := ch.Plan
	if err := j.plans.Save(ctx, &plan); err != nil {
		logger.WithFields(map[string]interface{}{
			"strategy": plan.Strategy,
			"order_id": plan.OpeningOrderID,
			"event":    ch.Event,
		}).WithError(err).Warn("Exit plan not persisted")
	}

	if ch.From == plan.State {
		return
	}
	entry := &model.PlanTransitionLog{
		Strategy:       plan.Strategy,
		OpeningOrderID: plan.OpeningOrderID,
		Symbol:         plan.Symbol,
		FromState:      ch.From,
		ToState:        plan.State,
		Event:          ch.Event,
		Price:          ch.Price,
		TriggerPrice:   plan.TriggerPrice,
		StopPrice:      plan.StopPrice,
		StopOrderID:    plan.StopOrderID,
		ProfitOrderID:  plan.ProfitOrderID,
		ErrorMessage:   plan.ErrorMessage,
		OccurredAt:     ch.At,
	}
	if err := j.logs.Append(ctx, entry); err != nil {
		logger.WithFields(map[string]interface{}{
			"strategy": plan.Strategy,
			"order_id": plan.OpeningOrderID,
			"to":       plan.State,
		}).WithError(err).Warn("Plan transition not logged")
	}
}
