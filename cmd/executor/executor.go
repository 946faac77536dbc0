package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"exitexecutor/src/connectors"
	"exitexecutor/src/controller"
	"exitexecutor/src/database"
	"exitexecutor/src/executors"
	"exitexecutor/src/exitplan"
	"exitexecutor/src/handler"
	"exitexecutor/src/model"
	"exitexecutor/src/repository"
	"exitexecutor/src/server"
)

var strategies = []model.Strategy{
	model.StrategyBracket,
	model.StrategyConfirmationStop,
	model.StrategyTrailingStopLimit,
}

// Executor is the composition root: one registry and controller per
// strategy, sharing a gateway, the plan feed and the optional database.
type Executor struct {
	Controllers []*controller.ExitController
	Hub         *server.Hub
	Transitions *repository.TransitionLogRepository
	plans       *repository.PlanRepository
}

// Build wires the executor. With ENABLE_DB the database is opened and
// migrated, changes are journaled and active plans are reloaded.
func Build(ctx context.Context, gw connectors.Gateway) (*Executor, error) {
	ctlCfg := controller.GetConfig()
	dbCfg := database.GetConfig()

	e := &Executor{Hub: server.NewHub(server.GetConfig().WSSendBuffer)}
	opts := []controller.Option{controller.WithObservers(e.Hub)}

	if dbCfg.EnableDB {
		if err := database.InitMainDB(); err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		e.plans = repository.NewPlanRepository(database.MainDB)
		e.Transitions = repository.NewTransitionLogRepository(database.MainDB)
		opts = append(opts, controller.WithObservers(repository.NewPlanJournal(e.plans, e.Transitions)))
		if ctlCfg.CaptureExceptions {
			opts = append(opts, controller.WithExceptionRepository(repository.NewExceptionRepository(database.MainDB)))
		}
	}

	for _, kind := range strategies {
		s, err := exitplan.NewStrategy(kind, ctlCfg.TSLSideAwareTrigger)
		if err != nil {
			return nil, err
		}
		e.Controllers = append(e.Controllers, controller.NewExitController(exitplan.NewRegistry(kind), s, gw, opts...))
	}

	if err := e.reload(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// reload fills the registries from the database, or from snapshot files
// when the database is disabled.
func (e *Executor) reload(ctx context.Context) error {
	dir := executors.GetConfig().SnapshotDir

	for _, ctl := range e.Controllers {
		log := logrus.WithField("strategy", ctl.Strategy())

		if e.plans != nil {
			plans, err := e.plans.ListByStrategy(ctx, ctl.Strategy(), true)
			if err != nil {
				return fmt.Errorf("reload %s plans: %w", ctl.Strategy(), err)
			}
			log.WithField("plans", ctl.Registry().Load(plans)).Info("Active exit plans reloaded from database")
			continue
		}

		if dir == "" {
			continue
		}
		data, err := os.ReadFile(executors.SnapshotPath(dir, ctl.Strategy()))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s snapshot: %w", ctl.Strategy(), err)
		}
		if _, err := ctl.Restore(ctx, data); err != nil {
			return fmt.Errorf("restore %s snapshot: %w", ctl.Strategy(), err)
		}
	}
	return nil
}

func (e *Executor) poller() *executors.Poller {
	advancers := make([]executors.PlanAdvancer, 0, len(e.Controllers))
	for _, ctl := range e.Controllers {
		advancers = append(advancers, ctl)
	}
	return executors.NewPoller(executors.GetConfig(), advancers...)
}

func (e *Executor) routes() handler.Controllers {
	ctls := handler.Controllers{}
	for _, ctl := range e.Controllers {
		ctls[ctl.Strategy()] = ctl
	}
	return ctls
}

// Serve runs the HTTP API, the plan feed and, unless disabled, the poll
// loop until SIGINT or SIGTERM.
func (e *Executor) Serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer e.Hub.Close()

	cfg := server.GetConfig()
	if GetConfig().EnablePoller {
		period := executors.GetConfig().LoopPeriod
		go func() {
			if err := e.poller().StartLoop(ctx, period); err != nil {
				logrus.WithError(err).Error("Poll loop failed")
			}
		}()
	}

	var logs handler.TransitionLister
	if e.Transitions != nil {
		logs = e.Transitions
	}
	return server.StartServer(ctx, cfg.Port, server.NewRouter(e.routes(), logs, e.Hub), cfg.ShutdownTimeout)
}

// Poll runs only the poll loop until SIGINT or SIGTERM.
func (e *Executor) Poll() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	period := executors.GetConfig().LoopPeriod
	logrus.WithField("period", period).Info("Starting exit plan poller")
	return e.poller().StartLoop(ctx, period)
}
