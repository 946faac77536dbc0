package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveTransition(t *testing.T) {
	before := testutil.ToFloat64(mtxTransitions.WithLabelValues("bracket", "stop_filled"))
	ObserveTransition("bracket", "stop_filled")
	after := testutil.ToFloat64(mtxTransitions.WithLabelValues("bracket", "stop_filled"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestObserveBrokerCall(t *testing.T) {
	before := testutil.ToFloat64(mtxBrokerCalls.WithLabelValues("place", "error"))
	ObserveBrokerCall("place", errors.New("rejected"), 10*time.Millisecond)
	if got := testutil.ToFloat64(mtxBrokerCalls.WithLabelValues("place", "error")) - before; got != 1 {
		t.Fatalf("expected one error call, got %v", got)
	}
}

func TestHandlerExposesSeries(t *testing.T) {
	SetActivePlans("confirmation_stop", 3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `exit_plans_active{strategy="confirmation_stop"} 3`) {
		t.Fatalf("active plans gauge missing from exposition")
	}
}
