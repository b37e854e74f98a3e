// Package room hosts one call's agent-side surfaces: the screen-share publish
// channel watched by viewer websockets and the control channel used to ask
// the voice runtime to speak.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-agent/pkg/core/media"
	"github.com/vango-go/vai-agent/pkg/gateway/live/protocol"
)

var (
	ErrRoomClosed           = errors.New("room: closed")
	ErrParticipantTimeout   = errors.New("room: no participant joined in time")
	errViewerQueueSaturated = errors.New("room: viewer control queue saturated")
)

// Conn is the websocket surface the room needs. *websocket.Conn satisfies it.
type Conn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
}

// Hooks are optional observers, used for metrics.
type Hooks struct {
	OnFrameDropped func()
	OnViewers      func(n int)
}

type Config struct {
	Name      string
	AgentName string

	// ParticipantTimeout bounds how long Publish waits for a first viewer.
	ParticipantTimeout time.Duration
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	PingInterval       time.Duration

	// ViewerQueueFrames is the per-viewer video backlog. Frames beyond it are
	// dropped for that viewer.
	ViewerQueueFrames int

	// ViewerGrace is how long a session outlives its last viewer. A viewer
	// reconnecting within it keeps the track.
	ViewerGrace time.Duration

	// ReplyTimeout bounds how long GenerateReply waits for reply_done.
	ReplyTimeout time.Duration

	Logger *slog.Logger
	Hooks  Hooks
}

func (c Config) withDefaults() Config {
	if c.ParticipantTimeout <= 0 {
		c.ParticipantTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.ViewerQueueFrames <= 0 {
		c.ViewerQueueFrames = 2
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 30 * time.Second
	}
	if c.ViewerGrace <= 0 {
		c.ViewerGrace = 5 * time.Second
	}
	return c
}

// Room is safe for concurrent use.
type Room struct {
	name   string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	viewers  map[string]*peer
	controls map[string]*peer
	joined   chan struct{}
	attached chan struct{}
	session  *Session
	grace    *time.Timer
	pending  map[string]chan protocol.ControlReplyDone
	instr    string
	closed   bool
	done     chan struct{}
}

// peer is one connected websocket with its outbound queues. The queues are
// never closed; quit ends the writer.
type peer struct {
	id       string
	priority chan outboundFrame
	normal   chan outboundFrame
	quit     chan struct{}
	quitOnce sync.Once
	dropped  atomic.Int64
}

func newPeer(normalCap int) *peer {
	p := &peer{
		id:       uuid.NewString(),
		priority: make(chan outboundFrame, 32),
		quit:     make(chan struct{}),
	}
	if normalCap > 0 {
		p.normal = make(chan outboundFrame, normalCap)
	}
	return p
}

func (p *peer) sendPriority(f outboundFrame) bool {
	select {
	case p.priority <- f:
		return true
	default:
		return false
	}
}

func (p *peer) sendFrame(f outboundFrame) bool {
	select {
	case p.normal <- f:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

func (p *peer) stop() {
	p.quitOnce.Do(func() { close(p.quit) })
}

func New(cfg Config) *Room {
	cfg = cfg.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Room{
		name:     cfg.Name,
		cfg:      cfg,
		logger:   logger.With("room", cfg.Name),
		now:      time.Now,
		viewers:  make(map[string]*peer),
		controls: make(map[string]*peer),
		joined:   make(chan struct{}),
		attached: make(chan struct{}),
		pending:  make(map[string]chan protocol.ControlReplyDone),
		done:     make(chan struct{}),
	}
}

func (r *Room) Name() string { return r.name }

// Done is closed by Close.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) ViewerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}

// ActiveSession returns the open publish session, if any.
func (r *Room) ActiveSession() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// ServeViewer attaches a viewer websocket and blocks until it disconnects or
// the room closes. A viewer joining mid-share is told about the active track
// before any of its frames.
func (r *Room) ServeViewer(ctx context.Context, conn Conn) error {
	defer conn.Close()

	v := newPeer(r.cfg.ViewerQueueFrames)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	// Queued before the viewer is visible to Submit.
	if r.session != nil {
		if msg, ok := r.session.publishedMessage(); ok {
			v.sendPriority(outboundFrame{textPayload: msg})
		}
	}
	r.viewers[v.id] = v
	r.disarmGraceLocked()
	close(r.joined)
	r.joined = make(chan struct{})
	n := len(r.viewers)
	r.mu.Unlock()

	r.logger.Info("room: viewer joined", "viewer_id", v.id, "viewers", n)
	r.observeViewers(n)
	defer r.removeViewer(v)

	return r.servePeer(ctx, conn, v, func([]byte) {})
}

// servePeer runs the writer for p on the calling goroutine and a reader that
// hands text frames to onText. It returns when either side ends, p is
// stopped, or ctx is done.
func (r *Room) servePeer(ctx context.Context, conn Conn, p *peer, onText func([]byte)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-p.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.TextMessage {
				onText(data)
			}
		}
	}()

	w := &outboundWriter{
		ws:           conn,
		ctx:          ctx,
		writeTimeout: r.cfg.WriteTimeout,
		pingInterval: r.cfg.PingInterval,
		priority:     p.priority,
		normal:       p.normal,
	}
	err := w.Run()
	cancel()
	_ = conn.Close()
	<-readDone
	return err
}

func (r *Room) removeViewer(v *peer) {
	r.mu.Lock()
	delete(r.viewers, v.id)
	n := len(r.viewers)
	if n == 0 && r.session != nil {
		r.armGraceLocked(r.session)
	}
	r.mu.Unlock()

	v.stop()
	r.logger.Info("room: viewer left", "viewer_id", v.id, "viewers", n, "dropped_frames", v.dropped.Load())
	r.observeViewers(n)
}

// armGraceLocked closes s with reason no_viewers unless a viewer joins
// within the grace period. r.mu must be held.
func (r *Room) armGraceLocked(s *Session) {
	r.disarmGraceLocked()
	var t *time.Timer
	t = time.AfterFunc(r.cfg.ViewerGrace, func() {
		r.mu.Lock()
		if r.grace != t {
			r.mu.Unlock()
			return
		}
		r.grace = nil
		stale := len(r.viewers) > 0 || r.session != s
		r.mu.Unlock()
		if stale {
			return
		}
		r.logger.Info("room: no viewer returned", "track_id", s.trackID, "grace", r.cfg.ViewerGrace)
		s.closeWith("no_viewers")
	})
	r.grace = t
}

func (r *Room) disarmGraceLocked() {
	if r.grace != nil {
		r.grace.Stop()
		r.grace = nil
	}
}

func (r *Room) observeViewers(n int) {
	if r.cfg.Hooks.OnViewers != nil {
		r.cfg.Hooks.OnViewers(n)
	}
}

// WaitForViewer blocks until at least one viewer is connected, the timeout
// elapses, ctx is done, or the room closes.
func (r *Room) WaitForViewer(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return ErrRoomClosed
		}
		if len(r.viewers) > 0 {
			r.mu.Unlock()
			return nil
		}
		joined := r.joined
		r.mu.Unlock()

		select {
		case <-joined:
		case <-timer.C:
			return ErrParticipantTimeout
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return ErrRoomClosed
		}
	}
}

// Publish creates the room's publish session for frames of the given size
// and format. Any active session is torn down first. It waits up to the
// participant timeout for a viewer and fails with media.ErrChannelUnavailable.
func (r *Room) Publish(ctx context.Context, width, height int, format media.PixelFormat) (*Session, error) {
	if width <= 0 || height <= 0 || format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("%w: invalid track %dx%d %q", media.ErrChannelUnavailable, width, height, format)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", media.ErrChannelUnavailable, ErrRoomClosed)
	}
	prev := r.session
	r.mu.Unlock()
	if prev != nil {
		prev.closeWith("replaced")
	}

	if err := r.WaitForViewer(ctx, r.cfg.ParticipantTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", media.ErrChannelUnavailable, err)
	}

	s := &Session{
		room:    r,
		trackID: "TR_" + uuid.NewString(),
		width:   width,
		height:  height,
		format:  format,
		started: r.now(),
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", media.ErrChannelUnavailable, ErrRoomClosed)
	}
	raced := r.session
	r.session = s
	viewers := r.viewerSnapshotLocked()
	if len(viewers) == 0 {
		r.armGraceLocked(s)
	}
	r.mu.Unlock()
	if raced != nil {
		raced.closeWith("replaced")
	}

	if msg, ok := s.publishedMessage(); ok {
		for _, v := range viewers {
			if !v.sendPriority(outboundFrame{textPayload: msg}) {
				r.logger.Warn("room: viewer too slow for track event, disconnecting", "viewer_id", v.id, "error", errViewerQueueSaturated)
				v.stop()
			}
		}
	}
	r.logger.Info("room: track published", "track_id", s.trackID, "resolution", fmt.Sprintf("%dx%d", width, height), "format", format, "viewers", len(viewers))
	return s, nil
}

func (r *Room) viewerSnapshotLocked() []*peer {
	out := make([]*peer, 0, len(r.viewers))
	for _, v := range r.viewers {
		out = append(out, v)
	}
	return out
}

func (r *Room) viewerSnapshot() []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewerSnapshotLocked()
}

func (r *Room) detach(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == s {
		r.session = nil
		r.disarmGraceLocked()
	}
}

// Warn sends a non-fatal error event to every connected peer.
func (r *Room) Warn(code, message string) int {
	r.mu.Lock()
	peers := r.viewerSnapshotLocked()
	for _, c := range r.controls {
		peers = append(peers, c)
	}
	r.mu.Unlock()

	msg := marshalEvent(protocol.ServerError{Type: "error", Scope: "room", Code: code, Message: message})
	sent := 0
	for _, p := range peers {
		if p.sendPriority(outboundFrame{textPayload: msg}) {
			sent++
		}
	}
	return sent
}

// Close tears down the active session and disconnects every peer. It is
// idempotent.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	r.disarmGraceLocked()
	sess := r.session
	peers := r.viewerSnapshotLocked()
	for _, c := range r.controls {
		peers = append(peers, c)
	}
	r.mu.Unlock()

	if sess != nil {
		sess.closeWith("room_closed")
	}
	for _, p := range peers {
		p.stop()
	}
	r.logger.Info("room: closed")
}

func marshalEvent(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
