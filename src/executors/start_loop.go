package executors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"exitexecutor/src/exitplan"
	"exitexecutor/src/model"
)

// PlanAdvancer is the part of controller.ExitController the poller drives.
type PlanAdvancer interface {
	Strategy() model.Strategy
	ActivePlans() []model.ExitOrderPlan
	Advance(ctx context.Context, id int64) (model.State, error)
	Snapshot() ([]byte, error)
}

// Poller walks every active plan of every strategy and runs the check that
// matches its state.
type Poller struct {
	controllers []PlanAdvancer
	concurrency int
	snapshotDir string
}

func NewPoller(cfg Config, controllers ...PlanAdvancer) *Poller {
	n := cfg.PollConcurrency
	if n <= 0 {
		n = 1
	}
	return &Poller{controllers: controllers, concurrency: n, snapshotDir: cfg.SnapshotDir}
}

// TickSummary counts what one pass over the registries did.
type TickSummary struct {
	Checked int
	Changed int
	Failed  int
}

type job struct {
	ctl  PlanAdvancer
	plan model.ExitOrderPlan
}

// RunOnce advances every active plan once. Broker failures are logged and
// retried on the next tick.
func (p *Poller) RunOnce(ctx context.Context) TickSummary {
	var jobs []job
	for _, ctl := range p.controllers {
		for _, plan := range ctl.ActivePlans() {
			jobs = append(jobs, job{ctl: ctl, plan: plan})
		}
	}

	var (
		mu      sync.Mutex
		summary TickSummary
		wg      sync.WaitGroup
		sem     = make(chan struct{}, p.concurrency)
	)
	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(j job) {
			defer func() {
				<-sem
				wg.Done()
			}()

			state, err := j.ctl.Advance(ctx, j.plan.OpeningOrderID)

			mu.Lock()
			defer mu.Unlock()
			summary.Checked++
			switch {
			case err == nil:
				if state != j.plan.State {
					summary.Changed++
				}
			case errors.Is(err, exitplan.ErrPlanNotFound), errors.Is(err, exitplan.ErrTerminal):
				// cancelled or finished since the listing
			default:
				summary.Failed++
				logger.WithFields(map[string]interface{}{
					"strategy": j.ctl.Strategy(),
					"order_id": j.plan.OpeningOrderID,
					"state":    j.plan.State,
				}).WithError(err).Warn("Exit plan check failed, will retry next tick")
			}
		}(j)
	}
	wg.Wait()

	if p.snapshotDir != "" {
		if err := p.writeSnapshots(); err != nil {
			logger.WithError(err).Error("Failed to write plan snapshots")
		}
	}
	return summary
}

// StartLoop runs RunOnce every period until ctx is cancelled.
func (p *Poller) StartLoop(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("loop period must be positive, got %s", period)
	}

	ticker := time.NewTicker(period) // Set up a ticker that fires periodically
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("poll loop stopped")
			return nil

		case <-ticker.C:
			s := p.RunOnce(ctx)
			entry := logger.WithFields(map[string]interface{}{
				"checked": s.Checked,
				"changed": s.Changed,
				"failed":  s.Failed,
			})
			if s.Checked > 0 {
				entry.Info("poll tick")
			} else {
				entry.Debug("poll tick")
			}
		}
	}
}

// SnapshotPath is where the snapshot of one strategy is written.
func SnapshotPath(dir string, strategy model.Strategy) string {
	return filepath.Join(dir, string(strategy)+".json")
}

func (p *Poller) writeSnapshots() error {
	if err := os.MkdirAll(p.snapshotDir, 0o755); err != nil {
		return err
	}
	for _, ctl := range p.controllers {
		data, err := ctl.Snapshot()
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", ctl.Strategy(), err)
		}
		path := SnapshotPath(p.snapshotDir, ctl.Strategy())
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			return err
		}
	}
	return nil
}
