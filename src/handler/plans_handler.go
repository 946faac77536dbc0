package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"exitexecutor/src/controller"
	"exitexecutor/src/exitplan"
	"exitexecutor/src/model"
)

const maxBodyBytes = 1 << 20

// planController is the part of controller.ExitController the API needs.
type planController interface {
	CreatePlan(ctx context.Context, req exitplan.Request) (model.ExitOrderPlan, error)
	CheckFill(ctx context.Context, id int64) (controller.FillResult, error)
	CheckConfirmation(ctx context.Context, id int64) (controller.ConfirmationResult, error)
	CheckExitFilled(ctx context.Context, id int64) (controller.ExitResult, error)
	CancelPlan(ctx context.Context, id int64) (controller.CancelResult, error)
	ListPlans() []model.ExitOrderPlan
	ListPlansByState(state model.State) []model.ExitOrderPlan
	GetPlan(id int64) (model.ExitOrderPlan, error)
	Snapshot() ([]byte, error)
	Restore(ctx context.Context, data []byte) (int, error)
}

// TransitionLister reads the stored transition history of a plan.
type TransitionLister interface {
	ListByPlan(ctx context.Context, strategy model.Strategy, id int64) ([]model.PlanTransitionLog, error)
}

// Controllers resolves the {strategy} URL segment.
type Controllers map[model.Strategy]planController

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeControllerError maps controller errors to status codes. Anything not
// recognised is a broker failure the caller may retry.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exitplan.ErrPlanNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, exitplan.ErrPlanExists), errors.Is(err, exitplan.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, exitplan.ErrInvalidPlan):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.WithError(err).Warn("exit plan request failed")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (c Controllers) resolve(w http.ResponseWriter, r *http.Request) (planController, bool) {
	name := model.Strategy(strings.ToLower(chi.URLParam(r, "strategy")))
	ctl, ok := c[name]
	if !ok {
		writeError(w, http.StatusNotFound, exitplan.ErrUnknownStrategy.Error())
		return nil, false
	}
	return ctl, true
}

func planID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid plan id")
		return 0, false
	}
	return id, true
}

func views(plans []model.ExitOrderPlan) []controller.PlanView {
	out := make([]controller.PlanView, 0, len(plans))
	for _, p := range plans {
		out = append(out, controller.NewPlanView(p))
	}
	return out
}

// CreatePlanHandler registers a plan for an opening order that was just placed.
func CreatePlanHandler(ctls Controllers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := ctls.resolve(w, r)
		if !ok {
			return
		}

		var req exitplan.Request
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			logger.WithError(err).Warn("invalid exit plan payload")
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		plan, err := ctl.CreatePlan(r.Context(), req)
		if err != nil {
			writeControllerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, controller.NewPlanView(plan))
	}
}

// ListPlansHandler lists the plans of a strategy, optionally filtered by ?state=.
func ListPlansHandler(ctls Controllers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := ctls.resolve(w, r)
		if !ok {
			return
		}

		if state := r.URL.Query().Get("state"); state != "" {
			writeJSON(w, http.StatusOK, views(ctl.ListPlansByState(model.State(strings.ToLower(state)))))
			return
		}
		writeJSON(w, http.StatusOK, views(ctl.ListPlans()))
	}
}

func GetPlanHandler(ctls Controllers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := ctls.resolve(w, r)
		if !ok {
			return
		}
		id, ok := planID(w, r)
		if !ok {
			return
		}

		plan, err := ctl.GetPlan(id)
		if err != nil {
			writeControllerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, controller.NewPlanView(plan))
	}
}

// checkHandler adapts one of the check operations to an HTTP endpoint.
func checkHandler[T any](ctls Controllers, check func(planController, context.Context, int64) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := ctls.resolve(w, r)
		if !ok {
			return
		}
		id, ok := planID(w, r)
		if !ok {
			return
		}

		res, err := check(ctl, r.Context(), id)
		if err != nil {
			writeControllerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func CheckFillHandler(ctls Controllers) http.HandlerFunc {
	return checkHandler(ctls, planController.CheckFill)
}

func CheckConfirmationHandler(ctls Controllers) http.HandlerFunc {
	return checkHandler(ctls, planController.CheckConfirmation)
}

func CheckExitHandler(ctls Controllers) http.HandlerFunc {
	return checkHandler(ctls, planController.CheckExitFilled)
}

func CancelPlanHandler(ctls Controllers) http.HandlerFunc {
	return checkHandler(ctls, planController.CancelPlan)
}

// SnapshotHandler returns the registry as a JSON document keyed by opening order id.
func SnapshotHandler(ctls Controllers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := ctls.resolve(w, r)
		if !ok {
			return
		}

		data, err := ctl.Snapshot()
		if err != nil {
			logger.WithError(err).Error("failed to build snapshot")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(data); err != nil {
			logger.WithError(err).Error("failed to write snapshot")
		}
	}
}

type restoreResponse struct {
	Restored int `json:"restored"`
}

// RestoreHandler replaces every plan of the strategy with the uploaded snapshot.
func RestoreHandler(ctls Controllers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := ctls.resolve(w, r)
		if !ok {
			return
		}

		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		n, err := ctl.Restore(r.Context(), data)
		if err != nil {
			writeControllerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, restoreResponse{Restored: n})
	}
}

// TransitionsHandler returns the stored audit trail of a plan. It answers 404
// when persistence is disabled.
func TransitionsHandler(ctls Controllers, logs TransitionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ctls.resolve(w, r); !ok {
			return
		}
		id, ok := planID(w, r)
		if !ok {
			return
		}
		if logs == nil {
			writeError(w, http.StatusNotFound, "transition history is disabled")
			return
		}

		strategy := model.Strategy(strings.ToLower(chi.URLParam(r, "strategy")))
		out, err := logs.ListByPlan(r.Context(), strategy, id)
		if err != nil {
			logger.WithError(err).Error("failed to list plan transitions")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// Routes mounts the plan API under /api/{strategy}.
func Routes(r chi.Router, ctls Controllers, logs TransitionLister) {
	r.Route("/api/{strategy}", func(r chi.Router) {
		r.Post("/plans", CreatePlanHandler(ctls))
		r.Get("/plans", ListPlansHandler(ctls))
		r.Get("/plans/{id}", GetPlanHandler(ctls))
		r.Delete("/plans/{id}", CancelPlanHandler(ctls))
		r.Post("/plans/{id}/check-fill", CheckFillHandler(ctls))
		r.Post("/plans/{id}/check-confirmation", CheckConfirmationHandler(ctls))
		r.Post("/plans/{id}/check-exit", CheckExitHandler(ctls))
		r.Get("/plans/{id}/transitions", TransitionsHandler(ctls, logs))
		r.Get("/snapshot", SnapshotHandler(ctls))
		r.Put("/snapshot", RestoreHandler(ctls))
	})
}
