package executors

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"exitexecutor/src/connectors"
	"exitexecutor/src/controller"
	"exitexecutor/src/exitplan"
	"exitexecutor/src/model"
	"exitexecutor/src/tp_sl"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newBracketController(t *testing.T, gw connectors.Gateway) *controller.ExitController {
	t.Helper()
	s, err := exitplan.NewStrategy(model.StrategyBracket, false)
	require.NoError(t, err)
	return controller.NewExitController(exitplan.NewRegistry(model.StrategyBracket), s, gw)
}

func createMSFT(t *testing.T, ctl *controller.ExitController, gw *connectors.PaperGateway) {
	t.Helper()
	gw.AddOrder(1001, model.OrderSpec{Symbol: "MSFT", Quantity: 100, Action: model.ActionBuy})
	_, err := ctl.CreatePlan(context.Background(), exitplan.Request{
		OpeningOrderID: 1001,
		Symbol:         "MSFT",
		Quantity:       100,
		AccountKey:     "acct-1",
		OpeningSide:    "BUY",
		Confirmation:   tp_sl.Dollar("2.00"),
		Stop:           tp_sl.Dollar("1.00"),
		Profit:         tp_sl.Dollar("3.00"),
	})
	require.NoError(t, err)
}

// Walks a bracket from fill to stop fill, one poll tick per step.
func TestPollerRunOnceAdvancesPlans(t *testing.T) {
	ctx := context.Background()
	gw := connectors.NewPaperGateway()
	ctl := newBracketController(t, gw)
	createMSFT(t, ctl, gw)

	p := NewPoller(Config{PollConcurrency: 2}, ctl)

	s := p.RunOnce(ctx)
	if s.Checked != 1 || s.Changed != 0 {
		t.Fatalf("expected one unchanged check, got %+v", s)
	}

	gw.Fill(1001, decimal.RequireFromString("300.00"))
	require.Equal(t, 1, p.RunOnce(ctx).Changed)

	gw.SetPrice("MSFT", decimal.RequireFromString("302.10"))
	require.Equal(t, 1, p.RunOnce(ctx).Changed)

	plan, err := ctl.GetPlan(1001)
	require.NoError(t, err)
	require.Equal(t, model.StateBracketPlaced, plan.State)

	gw.Fill(*plan.StopOrderID, decimal.RequireFromString("301.50"))
	require.Equal(t, 1, p.RunOnce(ctx).Changed)

	plan, _ = ctl.GetPlan(1001)
	require.Equal(t, model.StateStopFilled, plan.State)
	require.Equal(t, connectors.OrderStatusCancelled, gw.Status(*plan.ProfitOrderID))

	if s := p.RunOnce(ctx); s.Checked != 0 {
		t.Fatalf("terminal plans must not be polled, got %+v", s)
	}
}

func TestPollerCountsTransientFailures(t *testing.T) {
	gw := connectors.NewPaperGateway()
	ctl := newBracketController(t, gw)
	createMSFT(t, ctl, gw)
	gw.FailNext("orders", errors.New("bridge unavailable"))

	s := NewPoller(Config{}, ctl).RunOnce(context.Background())
	require.Equal(t, TickSummary{Checked: 1, Failed: 1}, s)

	plan, _ := ctl.GetPlan(1001)
	require.Equal(t, model.StatePendingFill, plan.State)
}

func TestPollerWritesSnapshots(t *testing.T) {
	dir := t.TempDir()
	gw := connectors.NewPaperGateway()
	ctl := newBracketController(t, gw)
	createMSFT(t, ctl, gw)

	NewPoller(Config{SnapshotDir: dir}, ctl).RunOnce(context.Background())

	data, err := os.ReadFile(SnapshotPath(dir, model.StrategyBracket))
	require.NoError(t, err)

	restored := exitplan.NewRegistry(model.StrategyBracket)
	n, err := restored.Restore(data)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestStartLoopStopsOnCancel(t *testing.T) {
	gw := connectors.NewPaperGateway()
	p := NewPoller(Config{}, newBracketController(t, gw))

	require.Error(t, p.StartLoop(context.Background(), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.StartLoop(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}
