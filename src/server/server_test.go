package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"exitexecutor/src/connectors"
	"exitexecutor/src/controller"
	"exitexecutor/src/exitplan"
	"exitexecutor/src/handler"
	"exitexecutor/src/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planBody = `{
	"opening_order_id": 2001,
	"symbol": "TSLA",
	"quantity": 10,
	"account_key": "acct-1",
	"opening_side": "BUY",
	"confirmation": {"type": "dollar", "value": "2.50"},
	"stop": {"type": "dollar", "value": "1.00"}
}`

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()

	hub := NewHub(8)
	s, err := exitplan.NewStrategy(model.StrategyConfirmationStop, false)
	require.NoError(t, err)
	ctl := controller.NewExitController(
		exitplan.NewRegistry(model.StrategyConfirmationStop), s, connectors.NewPaperGateway(),
		controller.WithObservers(hub),
	)

	srv := httptest.NewServer(NewRouter(handler.Controllers{model.StrategyConfirmationStop: ctl}, nil, hub))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, hub
}

func TestHealthcheckAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthcheck")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("unexpected healthcheck answer %d %q", resp.StatusCode, body)
	}

	resp, err = http.Post(srv.URL+"/api/confirmation_stop/plans", "application/json", strings.NewReader(planBody))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), `exit_plan_transitions_total{state="pending_fill",strategy="confirmation_stop"}`)
	assert.Contains(t, string(body), `exit_plans_active{strategy="confirmation_stop"}`)
}

func TestPlanFeedBroadcastsChanges(t *testing.T) {
	srv, hub := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/plans"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/confirmation_stop/plans", "application/json", strings.NewReader(planBody))
	require.NoError(t, err)
	_ = resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev PlanEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "plan_changed", ev.Type)
	assert.Equal(t, "created", ev.Event)
	assert.Equal(t, model.StrategyConfirmationStop, ev.Strategy)
	assert.Equal(t, int64(2001), ev.Plan.OpeningOrderID)
	assert.Equal(t, model.StatePendingFill, ev.Plan.State)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStartServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartServer(ctx, "0", http.NotFoundHandler(), time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
