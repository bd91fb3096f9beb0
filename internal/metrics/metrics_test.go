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

func TestInitAndObserve(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if probesTotal == nil || batchesTotal == nil || outcomeQueueLength == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveProbe("eu", "UP", 120*time.Millisecond)
	if val := testutil.ToFloat64(probesTotal.WithLabelValues("eu", "UP")); val != 1 {
		t.Errorf("expected probes_total{eu,UP} to be 1, got %f", val)
	}

	ObserveLostMeasurement("eu")
	if val := testutil.ToFloat64(lostMeasurementsTotal.WithLabelValues("eu")); val != 1 {
		t.Errorf("expected lost measurements to be 1, got %f", val)
	}

	before := testutil.ToFloat64(ticksInsertedTotal)
	ObserveBatch(10, nil)
	ObserveBatch(0, errors.New("insert failed"))
	if val := testutil.ToFloat64(ticksInsertedTotal); val != before+10 {
		t.Errorf("expected ticks inserted to grow by 10, got %f", val-before)
	}
	if val := testutil.ToFloat64(batchesTotal.WithLabelValues("error")); val != 1 {
		t.Errorf("expected one failed batch, got %f", val)
	}

	SetQueueLength(42)
	if val := testutil.ToFloat64(outcomeQueueLength); val != 42 {
		t.Errorf("expected queue length 42, got %f", val)
	}

	ObserveDispatch(3, nil)
	if val := testutil.ToFloat64(dispatchCyclesTotal.WithLabelValues("ok")); val != 1 {
		t.Errorf("expected one ok dispatch cycle, got %f", val)
	}

	ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)
	ObserveRateLimitDelay("example.com", 20*time.Millisecond)
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/healthz", "200")); val != 1 {
		t.Errorf("expected one healthz request, got %f", val)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "uptime_outcome_queue_length 42") {
		t.Errorf("expected metrics output to include queue length")
	}
}
