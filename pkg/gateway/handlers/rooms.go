package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-agent/pkg/agent"
	"github.com/vango-go/vai-agent/pkg/core"
	"github.com/vango-go/vai-agent/pkg/gateway/auth"
	"github.com/vango-go/vai-agent/pkg/gateway/config"
	"github.com/vango-go/vai-agent/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-agent/pkg/gateway/live/room"
	"github.com/vango-go/vai-agent/pkg/gateway/mw"
	"github.com/vango-go/vai-agent/pkg/gateway/rooms"
)

// DispatchObserver counts dispatches. *metrics.Metrics satisfies it.
type DispatchObserver interface {
	Dispatch(source, status string)
}

// DispatchHandler accepts a job for a room. The body is the job metadata.
type DispatchHandler struct {
	Config    config.Config
	Rooms     *rooms.Manager
	Lifecycle *lifecycle.Lifecycle
	Observer  DispatchObserver
	Logger    *slog.Logger
}

func (h DispatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	status := "error"
	defer func() {
		if h.Observer != nil {
			h.Observer.Dispatch("http", status)
		}
	}()

	if h.Lifecycle.IsDraining() {
		status = "rejected"
		writeError(w, r, rooms.ErrDraining)
		return
	}
	body, err := readBody(w, r, h.Config.MaxBodyBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	md, err := agent.ParseJobMetadata(body)
	if err != nil {
		status = "rejected"
		writeError(w, r, core.NewInvalidRequestError(err.Error()))
		return
	}
	name := r.PathValue("room")
	if _, err := h.Rooms.Dispatch(name, md); err != nil {
		status = "rejected"
		writeError(w, r, err)
		return
	}
	status = "accepted"
	logger(h.Logger).Info("dispatch accepted", "room", name, "job_id", md.ID, "content_id", md.ContentID, "key_id", auth.KeyIDFrom(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]any{"room": name, "job_id": md.ID})
}

// RoomHandler reports (GET) or closes (DELETE) a room.
type RoomHandler struct {
	Rooms *rooms.Manager
}

func (h RoomHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("room")
	switch r.Method {
	case http.MethodGet:
		rm, ok := h.Rooms.Get(name)
		if !ok {
			writeError(w, r, rooms.ErrNotFound)
			return
		}
		resp := map[string]any{
			"room":     name,
			"viewers":  rm.ViewerCount(),
			"speakers": rm.SpeakerCount(),
			"sharing":  false,
		}
		if a, err := h.Rooms.Agent(name); err == nil {
			resp["sharing"] = a.Sharing()
			resp["job_id"] = a.Metadata().ID
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodDelete:
		if !h.Rooms.Close(name) {
			writeError(w, r, rooms.ErrNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r)
	}
}

// SocketKind selects which side of a room a websocket joins.
type SocketKind int

const (
	SocketScreen SocketKind = iota
	SocketControl
)

// SocketHandler upgrades to a websocket and attaches it to a room as a
// viewer or as the voice runtime.
type SocketHandler struct {
	Config    config.Config
	Rooms     *rooms.Manager
	Lifecycle *lifecycle.Lifecycle
	Kind      SocketKind
	Logger    *slog.Logger
}

func (h SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	if h.Lifecycle.IsDraining() {
		writeError(w, r, rooms.ErrDraining)
		return
	}
	if !mw.OriginAllowed(h.Config, r.Header.Get("Origin")) {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin"}, http.StatusForbidden)
		return
	}
	rm, err := h.Rooms.GetOrCreate(r.PathValue("room"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(64 << 10)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	defer h.Rooms.Track(rm.Name(), cancel)()

	var serveErr error
	switch h.Kind {
	case SocketControl:
		serveErr = rm.ServeControl(ctx, conn)
	default:
		serveErr = rm.ServeViewer(ctx, conn)
	}
	if serveErr != nil && !errors.Is(serveErr, room.ErrRoomClosed) {
		logger(h.Logger).Debug("websocket ended", "room", rm.Name(), "kind", h.Kind.String(), "error", serveErr)
	}
}

func (k SocketKind) String() string {
	if k == SocketControl {
		return "control"
	}
	return "screen"
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
