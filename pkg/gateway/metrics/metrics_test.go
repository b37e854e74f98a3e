package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_PlaybackAndLookupCounters(t *testing.T) {
	t.Parallel()
	m := NewMetrics("test")

	m.PlaybackStarted()
	m.FramePublished()
	m.FramePublished()
	m.PlaybackEnded("channel_closed")
	m.LookupObserved("answered", 700*time.Millisecond, true)
	m.LookupObserved("no_match", 10*time.Millisecond, false)
	m.LookupObserved("unavailable", 0, false)

	if got := testutil.ToFloat64(m.FramesPublishedTotal); got != 2 {
		t.Fatalf("frames=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PlaybacksActive); got != 0 {
		t.Fatalf("active=%v, want 0", got)
	}
	if got := testutil.ToFloat64(m.PlaybacksTotal.WithLabelValues("channel_closed")); got != 1 {
		t.Fatalf("playbacks=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StatusUpdatesTotal.WithLabelValues("fired")); got != 1 {
		t.Fatalf("fired=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StatusUpdatesTotal.WithLabelValues("cancelled")); got != 1 {
		t.Fatalf("cancelled=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LookupsTotal.WithLabelValues("unavailable")); got != 1 {
		t.Fatalf("unavailable=%v, want 1", got)
	}
}

func TestViewerObserver_AggregatesAcrossRooms(t *testing.T) {
	t.Parallel()
	m := NewMetrics("test")
	a, b := m.ViewerObserver(), m.ViewerObserver()

	a(1)
	a(2)
	b(3)
	a(0)
	if got := testutil.ToFloat64(m.ViewersActive); got != 3 {
		t.Fatalf("viewers=%v, want 3", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.FramePublished()
	m.PlaybackEnded("requested")
	m.LookupObserved("answered", time.Second, true)
	m.ViewerObserver()(4)
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestHandler_ExposesNamespace(t *testing.T) {
	t.Parallel()
	m := NewMetrics("vai_agent")
	m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `vai_agent_http_requests_total{method="POST",status="404"} 1`) {
		t.Fatalf("metrics body missing request counter:\n%s", body)
	}
}
