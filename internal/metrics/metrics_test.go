package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderMetrics(t *testing.T) {
	rec := New()

	rec.IncTick()
	rec.IncTick()
	if got := testutil.ToFloat64(rec.ticks); got != 2 {
		t.Fatalf("expected ticks counter 2, got %f", got)
	}

	rec.IncRefresh()
	if got := testutil.ToFloat64(rec.refreshes); got != 1 {
		t.Fatalf("expected refresh counter 1, got %f", got)
	}

	rec.IncAlarmRaised("above")
	rec.IncAlarmRaised("above")
	rec.IncAlarmRaised("below")
	if got := testutil.ToFloat64(rec.alarmsRaised.WithLabelValues("above")); got != 2 {
		t.Fatalf("expected above alarms 2, got %f", got)
	}
	if got := testutil.ToFloat64(rec.alarmsRaised.WithLabelValues("below")); got != 1 {
		t.Fatalf("expected below alarms 1, got %f", got)
	}

	rec.IncAcknowledged()
	if got := testutil.ToFloat64(rec.acks); got != 1 {
		t.Fatalf("expected ack counter 1, got %f", got)
	}

	rec.IncRejected("out-of-safety-bounds")
	if got := testutil.ToFloat64(rec.rejections.WithLabelValues("out-of-safety-bounds")); got != 1 {
		t.Fatalf("expected rejection counter 1, got %f", got)
	}

	rec.ObserveReadings(1.85, 64.5, true, false)
	if got := testutil.ToFloat64(rec.ec); got != 1.85 {
		t.Fatalf("expected ec gauge 1.85, got %f", got)
	}
	if got := testutil.ToFloat64(rec.waterLevel); got != 64.5 {
		t.Fatalf("expected water gauge 64.5, got %f", got)
	}
	if got := testutil.ToFloat64(rec.online); got != 1 {
		t.Fatalf("expected online gauge 1, got %f", got)
	}
	if got := testutil.ToFloat64(rec.alarmActive); got != 0 {
		t.Fatalf("expected alarm gauge 0, got %f", got)
	}

	rec.SetSubscribers(3)
	if got := testutil.ToFloat64(rec.subscribers); got != 3 {
		t.Fatalf("expected subscribers gauge 3, got %f", got)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := New()
	rec.IncTick()

	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "hydro_simulation_ticks_total 1") {
		t.Errorf("exposition missing tick counter; got %q", string(body))
	}
}

func TestNilRecorder(t *testing.T) {
	var rec *Recorder
	rec.IncTick()
	rec.IncRefresh()
	rec.IncAlarmRaised("above")
	rec.IncAcknowledged()
	rec.IncRejected("non-numeric")
	rec.ObserveReadings(1, 1, true, true)
	rec.SetSubscribers(1)

	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d; want %d", w.Code, http.StatusNotFound)
	}
}
