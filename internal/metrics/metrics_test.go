package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"cryptofeeds/logger"
)

func TestObserveCounters(t *testing.T) {
	Init()
	Init()

	ObserveFrame("metrics_test", 42)
	ObserveUpdate("metrics_test")
	ObserveDropped("metrics_test", "crossed")
	ObserveParseError("metrics_test")
	ObserveReconnect("metrics_test")
	SetState("metrics_test", 2)

	if got := testutil.ToFloat64(updates.WithLabelValues("metrics_test")); got != 1 {
		t.Fatalf("updates = %v, want 1", got)
	}
	if got := testutil.ToFloat64(dropped.WithLabelValues("metrics_test", "crossed")); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(state.WithLabelValues("metrics_test")); got != 2 {
		t.Fatalf("state = %v, want 2", got)
	}

	s := logger.Stats()["metrics_test"]
	if s.Frames != 1 || s.Bytes != 42 || s.Reconnects != 1 {
		t.Fatalf("logger stats not updated: %+v", s)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	Init()
	ObserveFrame("handler_test", 1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `cryptofeeds_frames_total{feed="handler_test"} 1`) {
		t.Fatalf("frames metric missing:\n%s", rec.Body.String())
	}
}
