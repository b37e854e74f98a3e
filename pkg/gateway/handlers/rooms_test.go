package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-agent/pkg/agent"
	"github.com/vango-go/vai-agent/pkg/agent/persona"
	"github.com/vango-go/vai-agent/pkg/gateway/config"
	"github.com/vango-go/vai-agent/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-agent/pkg/gateway/live/room"
	"github.com/vango-go/vai-agent/pkg/gateway/rooms"
)

type countingDispatch struct{ accepted, rejected atomic.Int64 }

func (c *countingDispatch) Dispatch(source, status string) {
	switch status {
	case "accepted":
		c.accepted.Add(1)
	case "rejected":
		c.rejected.Add(1)
	}
}

type testGateway struct {
	mgr      *rooms.Manager
	lc       *lifecycle.Lifecycle
	observer *countingDispatch
	ts       *httptest.Server
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	cfg := config.Config{
		MaxBodyBytes:       1 << 10,
		CORSAllowedOrigins: map[string]struct{}{"https://app.example.com": {}},
	}
	g := &testGateway{
		mgr: rooms.NewManager(rooms.Config{
			Room: room.Config{
				AgentName:          "context-agent",
				ParticipantTimeout: 200 * time.Millisecond,
				WriteTimeout:       time.Second,
				PingInterval:       time.Hour,
				ReplyTimeout:       2 * time.Second,
			},
			Agent:          agent.Config{Persona: persona.Default()},
			SpeakerTimeout: 2 * time.Second,
		}),
		lc:       &lifecycle.Lifecycle{},
		observer: &countingDispatch{},
	}
	mux := http.NewServeMux()
	mux.Handle("/v1/rooms/{room}/dispatch", DispatchHandler{Config: cfg, Rooms: g.mgr, Lifecycle: g.lc, Observer: g.observer})
	mux.Handle("/v1/rooms/{room}", RoomHandler{Rooms: g.mgr})
	mux.Handle("/v1/rooms/{room}/control", SocketHandler{Config: cfg, Rooms: g.mgr, Lifecycle: g.lc, Kind: SocketControl})
	mux.Handle("/v1/rooms/{room}/screen", SocketHandler{Config: cfg, Rooms: g.mgr, Lifecycle: g.lc, Kind: SocketScreen})
	for _, tool := range []string{ToolShareMedia, ToolStopSharing, ToolLookup} {
		mux.Handle("/v1/rooms/{room}/tools/"+tool, ToolHandler{Config: cfg, Rooms: g.mgr, Tool: tool})
	}
	g.ts = httptest.NewServer(mux)
	t.Cleanup(func() {
		g.mgr.CloseAll()
		g.ts.Close()
	})
	return g
}

func (g *testGateway) post(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(g.ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (g *testGateway) dial(t *testing.T, path string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(g.ts.URL, "http")+path, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readEvent(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if msg["type"] == typ {
			return msg
		}
	}
}

func TestDispatch_GreetsOverControlSocket(t *testing.T) {
	g := newTestGateway(t)

	code, body := g.post(t, "/v1/rooms/call-1/dispatch", `{"id":"job-9","name":"Ana","contentId":"c1"}`)
	if code != http.StatusAccepted || body["job_id"] != "job-9" {
		t.Fatalf("code=%d body=%v", code, body)
	}
	if g.observer.accepted.Load() != 1 {
		t.Fatalf("accepted=%d", g.observer.accepted.Load())
	}

	ctrl, _, err := g.dial(t, "/v1/rooms/call-1/control", nil)
	if err != nil {
		t.Fatalf("dial control: %v", err)
	}
	if err := ctrl.WriteJSON(map[string]any{"type": "hello", "protocol_version": "1"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	say := readEvent(t, ctrl, "say")
	if !strings.HasPrefix(say["instructions"].(string), "Hey Ana!") {
		t.Fatalf("say=%v", say)
	}
}

func TestDispatch_Rejections(t *testing.T) {
	g := newTestGateway(t)

	if code, _ := g.post(t, "/v1/rooms/call-1/dispatch", `{"name":`); code != http.StatusBadRequest {
		t.Fatalf("malformed metadata: code=%d", code)
	}
	if code, _ := g.post(t, "/v1/rooms/bad%20room/dispatch", `{}`); code != http.StatusBadRequest {
		t.Fatalf("bad room name: code=%d", code)
	}
	if code, _ := g.post(t, "/v1/rooms/call-1/dispatch", `{"description":"`+strings.Repeat("x", 2048)+`"}`); code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: code=%d", code)
	}
	g.lc.Drain()
	code, body := g.post(t, "/v1/rooms/call-1/dispatch", `{}`)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("draining: code=%d body=%v", code, body)
	}
	if g.observer.rejected.Load() != 3 {
		t.Fatalf("rejected=%d, want 3", g.observer.rejected.Load())
	}
}

func TestTools_ReturnTextResults(t *testing.T) {
	g := newTestGateway(t)
	if code, _ := g.post(t, "/v1/rooms/call-1/dispatch", `{"name":"Ana"}`); code != http.StatusAccepted {
		t.Fatalf("dispatch code=%d", code)
	}
	p := persona.Default()

	code, body := g.post(t, "/v1/rooms/call-1/tools/lookup", `{"query":"how many bedrooms"}`)
	if code != http.StatusOK || body["result"] != p.Unavailable {
		t.Fatalf("lookup code=%d body=%v", code, body)
	}
	code, body = g.post(t, "/v1/rooms/call-1/tools/stop_sharing", ``)
	if code != http.StatusOK || body["result"] != p.NotSharing {
		t.Fatalf("stop_sharing code=%d body=%v", code, body)
	}
	code, body = g.post(t, "/v1/rooms/call-1/tools/share_media", `{"locator":"/tmp/tour.mp4"}`)
	if code != http.StatusOK || !strings.HasPrefix(body["result"].(string), "Failed to share screen") {
		t.Fatalf("share_media code=%d body=%v", code, body)
	}
}

func TestTools_Errors(t *testing.T) {
	g := newTestGateway(t)

	if code, _ := g.post(t, "/v1/rooms/nobody/tools/lookup", `{"query":"q"}`); code != http.StatusNotFound {
		t.Fatalf("unknown room: code=%d", code)
	}
	if _, err := g.mgr.GetOrCreate("empty"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if code, body := g.post(t, "/v1/rooms/empty/tools/stop_sharing", `{}`); code != http.StatusConflict {
		t.Fatalf("no agent: code=%d body=%v", code, body)
	}
	_, _ = g.post(t, "/v1/rooms/call-1/dispatch", `{}`)
	code, body := g.post(t, "/v1/rooms/call-1/tools/lookup", `{"query":"  "}`)
	errBody, _ := body["error"].(map[string]any)
	if code != http.StatusBadRequest || errBody["param"] != "query" {
		t.Fatalf("empty query: code=%d body=%v", code, body)
	}
}

func TestRoomHandler_StatusAndClose(t *testing.T) {
	g := newTestGateway(t)
	_, _ = g.post(t, "/v1/rooms/call-1/dispatch", `{"id":"job-1"}`)

	resp, err := http.Get(g.ts.URL + "/v1/rooms/call-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var status map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || status["job_id"] != "job-1" || status["sharing"] != false {
		t.Fatalf("code=%d status=%v", resp.StatusCode, status)
	}

	req, _ := http.NewRequest(http.MethodDelete, g.ts.URL+"/v1/rooms/call-1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE code=%d", resp.StatusCode)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second DELETE code=%d", resp.StatusCode)
	}
}

func TestSocketHandler_OriginAllowlist(t *testing.T) {
	g := newTestGateway(t)

	_, resp, err := g.dial(t, "/v1/rooms/call-1/screen", http.Header{"Origin": {"https://evil.example.com"}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("evil origin: err=%v resp=%v", err, resp)
	}
	if _, _, err := g.dial(t, "/v1/rooms/call-1/screen", http.Header{"Origin": {"https://app.example.com"}}); err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	rm, ok := g.mgr.Get("call-1")
	if !ok {
		t.Fatalf("room not created by viewer")
	}
	deadline := time.Now().Add(2 * time.Second)
	for rm.ViewerCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rm.ViewerCount() != 1 {
		t.Fatalf("viewers=%d", rm.ViewerCount())
	}
}
