package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-agent/pkg/agent"
	"github.com/vango-go/vai-agent/pkg/agent/persona"
	"github.com/vango-go/vai-agent/pkg/gateway/config"
	"github.com/vango-go/vai-agent/pkg/gateway/live/room"
	"github.com/vango-go/vai-agent/pkg/gateway/metrics"
	"github.com/vango-go/vai-agent/pkg/gateway/rooms"
)

func testServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if cfg.AuthMode == "" {
		cfg.AuthMode = config.AuthModeDisabled
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 16
	}
	cfg.PublishWidth, cfg.PublishHeight = 640, 360
	m := metrics.NewMetrics("test")
	mgr := rooms.NewManager(rooms.Config{
		Room:     room.Config{WriteTimeout: time.Second, PingInterval: time.Hour, ReplyTimeout: time.Second},
		Agent:    agent.Config{Persona: persona.Default()},
		Observer: m,
		Logger:   logger,
	})
	s := New(cfg, logger, Deps{Rooms: mgr, Metrics: m})
	t.Cleanup(func() { s.CloseRooms() })
	return s
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := testServer(t, config.Config{})

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) || rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("body=%q request_id=%q", rr.Body.String(), rr.Header().Get("X-Request-ID"))
	}
}

func TestServer_MetricsExposeRequests(t *testing.T) {
	s := testServer(t, config.Config{})
	h := s.Handler()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "test_http_requests_total") {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_AuthRequiredOnRoomRoutes(t *testing.T) {
	s := testServer(t, config.Config{
		AuthMode: config.AuthModeRequired,
		APIKeys:  map[string]struct{}{"vai_sk_test": {}},
	})
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/rooms/r1/dispatch", strings.NewReader(`{}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no key: status=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/rooms/r1/dispatch", strings.NewReader(`{"id":"j1"}`))
	req.Header.Set("Authorization", "Bearer vai_sk_test")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("with key: status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz: status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_DrainingWarnsAndCloses(t *testing.T) {
	s := testServer(t, config.Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/rooms/r1/screen", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	rm, ok := s.Rooms().Get("r1")
	if !ok {
		t.Fatalf("room not created")
	}
	if err := rm.WaitForViewer(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("WaitForViewer: %v", err)
	}

	s.SetDraining()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz while draining: status=%d", rr.Code)
	}
	if n := s.WarnRoomsDraining(); n != 1 {
		t.Fatalf("warned=%d, want 1", n)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil || !strings.Contains(string(data), `"code":"draining"`) {
		t.Fatalf("warning=%q err=%v", data, err)
	}

	if n := s.CloseRooms(); n != 1 {
		t.Fatalf("closed=%d, want 1", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !s.WaitRooms(ctx) {
		t.Fatalf("websockets did not unwind")
	}
}
