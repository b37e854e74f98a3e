// Package metrics exposes Prometheus metrics for rooms, playback and
// knowledge lookups.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's collectors on a private registry. A nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	RoomsActive     prometheus.Gauge
	ViewersActive   prometheus.Gauge
	DispatchesTotal *prometheus.CounterVec

	FramesPublishedTotal prometheus.Counter
	FramesDroppedTotal   prometheus.Counter
	PlaybacksActive      prometheus.Gauge
	PlaybacksTotal       *prometheus.CounterVec

	LookupsTotal       *prometheus.CounterVec
	LookupDuration     *prometheus.HistogramVec
	StatusUpdatesTotal *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_agent"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method"}),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of open rooms",
		}),
		ViewersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewers_active",
			Help:      "Number of connected screen viewers",
		}),
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Total number of job dispatches",
		}, []string{"source", "status"}),
		FramesPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_published_total",
			Help:      "Total frames submitted to publish sessions",
		}),
		FramesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total frames dropped for slow viewers",
		}),
		PlaybacksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playbacks_active",
			Help:      "Number of running playbacks",
		}),
		PlaybacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbacks_total",
			Help:      "Total finished playbacks by stop reason",
		}, []string{"reason"}),
		LookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Total knowledge lookups by outcome",
		}, []string{"outcome"}),
		LookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Knowledge lookup duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"outcome"}),
		StatusUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Delayed status updates by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RoomsActive,
		m.ViewersActive,
		m.DispatchesTotal,
		m.FramesPublishedTotal,
		m.FramesDroppedTotal,
		m.PlaybacksActive,
		m.PlaybacksTotal,
		m.LookupsTotal,
		m.LookupDuration,
		m.StatusUpdatesTotal,
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FramePublished() {
	if m == nil {
		return
	}
	m.FramesPublishedTotal.Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDroppedTotal.Inc()
}

func (m *Metrics) PlaybackStarted() {
	if m == nil {
		return
	}
	m.PlaybacksActive.Inc()
}

func (m *Metrics) PlaybackEnded(reason string) {
	if m == nil {
		return
	}
	m.PlaybacksActive.Dec()
	m.PlaybacksTotal.WithLabelValues(reason).Inc()
}

// LookupObserved records a finished lookup. Unavailable lookups never race a
// status update and are not counted as cancelled.
func (m *Metrics) LookupObserved(outcome string, elapsed time.Duration, statusFired bool) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(outcome).Inc()
	if outcome == "unavailable" {
		return
	}
	m.LookupDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if statusFired {
		m.StatusUpdatesTotal.WithLabelValues("fired").Inc()
	} else {
		m.StatusUpdatesTotal.WithLabelValues("cancelled").Inc()
	}
}

func (m *Metrics) RoomOpened() {
	if m == nil {
		return
	}
	m.RoomsActive.Inc()
}

func (m *Metrics) RoomClosed() {
	if m == nil {
		return
	}
	m.RoomsActive.Dec()
}

func (m *Metrics) Dispatch(source, status string) {
	if m == nil {
		return
	}
	m.DispatchesTotal.WithLabelValues(source, status).Inc()
}

// ViewerObserver returns a callback for one room's viewer count. It folds
// the room's count changes into the global viewers gauge.
func (m *Metrics) ViewerObserver() func(n int) {
	var (
		mu   sync.Mutex
		prev int
	)
	return func(n int) {
		if m == nil {
			return
		}
		mu.Lock()
		delta := n - prev
		prev = n
		mu.Unlock()
		m.ViewersActive.Add(float64(delta))
	}
}

// Instrument counts and times requests handled by next.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack supports websocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
