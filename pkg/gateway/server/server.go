package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-agent/pkg/gateway/config"
	"github.com/vango-go/vai-agent/pkg/gateway/handlers"
	"github.com/vango-go/vai-agent/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-agent/pkg/gateway/metrics"
	"github.com/vango-go/vai-agent/pkg/gateway/mw"
	"github.com/vango-go/vai-agent/pkg/gateway/rooms"
)

// Deps are the runtime pieces the routes serve. Store and Knowledge may be
// nil; Rooms and Metrics are created when nil.
type Deps struct {
	Rooms     *rooms.Manager
	Metrics   *metrics.Metrics
	Store     handlers.Pinger
	Knowledge interface{ Available() bool }
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	rooms     *rooms.Manager
	metrics   *metrics.Metrics
	lifecycle *lifecycle.Lifecycle
	deps      Deps
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics("")
	}
	if deps.Rooms == nil {
		deps.Rooms = rooms.NewManager(rooms.Config{Observer: deps.Metrics, Logger: logger})
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		rooms:     deps.Rooms,
		metrics:   deps.Metrics,
		lifecycle: &lifecycle.Lifecycle{},
		deps:      deps,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Store:     s.deps.Store,
		Knowledge: s.deps.Knowledge,
		Rooms:     s.rooms,
	})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.Handle("/v1/rooms/{room}", handlers.RoomHandler{Rooms: s.rooms})
	s.mux.Handle("/v1/rooms/{room}/dispatch", handlers.DispatchHandler{
		Config:    s.cfg,
		Rooms:     s.rooms,
		Lifecycle: s.lifecycle,
		Observer:  s.metrics,
		Logger:    s.logger,
	})
	s.mux.Handle("/v1/rooms/{room}/control", handlers.SocketHandler{
		Config: s.cfg, Rooms: s.rooms, Lifecycle: s.lifecycle, Kind: handlers.SocketControl, Logger: s.logger,
	})
	s.mux.Handle("/v1/rooms/{room}/screen", handlers.SocketHandler{
		Config: s.cfg, Rooms: s.rooms, Lifecycle: s.lifecycle, Kind: handlers.SocketScreen, Logger: s.logger,
	})
	for _, tool := range []string{handlers.ToolShareMedia, handlers.ToolStopSharing, handlers.ToolLookup} {
		s.mux.Handle("/v1/rooms/{room}/tools/"+tool, handlers.ToolHandler{Config: s.cfg, Rooms: s.rooms, Tool: tool})
	}
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = s.metrics.Instrument(h)
	h = mw.RequestID(h)
	return h
}

// Rooms returns the room registry, for dispatch sources outside HTTP.
func (s *Server) Rooms() *rooms.Manager { return s.rooms }

// SetDraining makes readiness fail and refuses new dispatches and
// websockets.
func (s *Server) SetDraining() {
	if s.lifecycle.Drain() {
		s.logger.Info("gateway draining", "rooms", s.rooms.Count())
	}
}

// WarnRoomsDraining tells every connected peer that the server is going
// away.
func (s *Server) WarnRoomsDraining() int {
	return s.rooms.WarnAll("draining", "server is shutting down")
}

// WaitRooms blocks until live websockets and agent start-ups have finished
// or ctx is done.
func (s *Server) WaitRooms(ctx context.Context) bool {
	return s.rooms.Wait(ctx)
}

// CloseRooms stops every room, ending playbacks and disconnecting peers.
func (s *Server) CloseRooms() int {
	n := s.rooms.CloseAll()
	s.rooms.CancelLive()
	return n
}
