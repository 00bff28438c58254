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

func TestNew_DefaultNamespace(t *testing.T) {
	m := New("")
	m.RecordCaptureBlock(8192)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "voice_intake_capture_blocks_total 1") {
		t.Errorf("expected capture counter in output, got:\n%s", rec.Body.String())
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordSessionOutcome("connected")
	m.RecordConnected()
	m.RecordDisconnected(time.Second)
	m.RecordState("connected", []string{"connected"})
	m.RecordCaptureBlock(10)
	m.RecordPlaybackChunk(10)
	m.RecordDecodeFailure()
	m.RecordInterruption()
	m.RecordToolCall("saveSupportTicket", "accepted")
	m.RecordTicketSink("store", nil)

	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
	if m.Handler() == nil {
		t.Error("nil metrics should still return a handler")
	}
}

func TestRecordState_OneHot(t *testing.T) {
	m := New("test")
	all := []string{"disconnected", "connecting", "connected", "error"}

	m.RecordState("connecting", all)
	m.RecordState("connected", all)

	if v := testutil.ToFloat64(m.ConnectionState.WithLabelValues("connected")); v != 1 {
		t.Errorf("expected connected=1, got %v", v)
	}
	if v := testutil.ToFloat64(m.ConnectionState.WithLabelValues("connecting")); v != 0 {
		t.Errorf("expected connecting=0, got %v", v)
	}
}

func TestRecordTicketSink(t *testing.T) {
	m := New("test")
	m.RecordTicketSink("store", nil)
	m.RecordTicketSink("store", errors.New("boom"))
	m.RecordTicketSink("store", errors.New("boom"))

	if v := testutil.ToFloat64(m.TicketsPublished.WithLabelValues("store", "ok")); v != 1 {
		t.Errorf("expected 1 ok, got %v", v)
	}
	if v := testutil.ToFloat64(m.TicketsPublished.WithLabelValues("store", "error")); v != 2 {
		t.Errorf("expected 2 errors, got %v", v)
	}
}

func TestRecordDisconnected(t *testing.T) {
	m := New("test")
	m.RecordConnected()
	if v := testutil.ToFloat64(m.SessionsActive); v != 1 {
		t.Errorf("expected active 1, got %v", v)
	}
	m.RecordDisconnected(3 * time.Second)
	if v := testutil.ToFloat64(m.SessionsActive); v != 0 {
		t.Errorf("expected active 0, got %v", v)
	}
}
