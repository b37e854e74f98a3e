// Package rooms keeps the gateway's rooms and the agent dispatched into each
// of them.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-agent/pkg/agent"
	"github.com/vango-go/vai-agent/pkg/core/media"
	"github.com/vango-go/vai-agent/pkg/gateway/live/room"
)

var (
	ErrInvalidName = errors.New("rooms: invalid room name")
	ErrNotFound    = errors.New("rooms: room not found")
	ErrNoAgent     = errors.New("rooms: no agent dispatched")
	ErrDraining    = errors.New("rooms: draining")
)

var _ agent.QueuedSpeaker = (*room.Room)(nil)

// Observer receives room lifecycle events. *metrics.Metrics satisfies it.
type Observer interface {
	RoomOpened()
	RoomClosed()
	FrameDropped()
	ViewerObserver() func(n int)
}

type Config struct {
	// Room is the template for new rooms; Name, Logger and Hooks are set per
	// room.
	Room room.Config

	// Agent is the template for dispatched agents; Room, Metadata, Speaker,
	// Publisher and Logger are set per dispatch.
	Agent agent.Config

	// SpeakerTimeout bounds how long a dispatched agent waits for a voice
	// runtime before giving up on its greeting.
	SpeakerTimeout time.Duration

	Observer Observer
	Logger   *slog.Logger
}

type Manager struct {
	cfg    Config
	logger *slog.Logger
	work   *tracker

	mu       sync.Mutex
	entries  map[string]*entry
	draining bool
}

type entry struct {
	room  *room.Room
	agent *agent.Agent
	stop  context.CancelFunc
}

func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SpeakerTimeout <= 0 {
		cfg.SpeakerTimeout = 30 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		work:    newTracker(),
		entries: make(map[string]*entry),
	}
}

// ValidName reports whether name can address a room.
func ValidName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_.:", r):
		default:
			return false
		}
	}
	return true
}

// GetOrCreate returns the named room, creating it if needed.
func (m *Manager) GetOrCreate(name string) (*room.Room, error) {
	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	return e.room, nil
}

func (m *Manager) entry(name string) (*entry, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return nil, ErrDraining
	}
	if e, ok := m.entries[name]; ok {
		return e, nil
	}

	rc := m.cfg.Room
	rc.Name = name
	rc.Logger = m.logger
	if m.cfg.Observer != nil {
		rc.Hooks = room.Hooks{
			OnFrameDropped: m.cfg.Observer.FrameDropped,
			OnViewers:      m.cfg.Observer.ViewerObserver(),
		}
		m.cfg.Observer.RoomOpened()
	}
	e := &entry{room: room.New(rc)}
	m.entries[name] = e
	m.logger.Info("rooms: opened", "room", name)
	return e, nil
}

func (m *Manager) Get(name string) (*room.Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, false
	}
	return e.room, true
}

// Agent returns the agent dispatched into the named room.
func (m *Manager) Agent(name string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.agent == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoAgent, name)
	}
	return e.agent, nil
}

// Dispatch puts a new agent into the named room, replacing any previous
// one. The agent greets the user once a voice runtime attaches; Dispatch
// does not wait for that.
func (m *Manager) Dispatch(name string, md agent.JobMetadata) (*agent.Agent, error) {
	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	rm := e.room

	ac := m.cfg.Agent
	ac.Room = name
	ac.Metadata = md
	ac.Speaker = rm
	ac.Publisher = agent.PublisherFunc(func(ctx context.Context, width, height int, format media.PixelFormat) (agent.Session, error) {
		s, err := rm.Publish(ctx, width, height, format)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	ac.Logger = m.logger
	a := agent.New(ac)

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.draining || m.entries[name] != e {
		m.mu.Unlock()
		cancel()
		a.Close()
		return nil, ErrDraining
	}
	prev, prevStop := e.agent, e.stop
	e.agent, e.stop = a, cancel
	m.mu.Unlock()

	if prev != nil {
		prevStop()
		prev.Close()
		m.logger.Info("rooms: agent replaced", "room", name)
	}

	done := m.work.add(name, cancel)
	go func() {
		defer done()
		if err := rm.WaitForSpeaker(ctx, m.cfg.SpeakerTimeout); err != nil {
			m.logger.Warn("rooms: agent not started", "room", name, "job_id", a.Metadata().ID, "error", err)
			return
		}
		_ = a.Start(ctx)
	}()
	return a, nil
}

// Close shuts the named room and its agent.
func (m *Manager) Close(name string) bool {
	m.mu.Lock()
	e, ok := m.entries[name]
	if ok {
		delete(m.entries, name)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.closeEntry(name, e)
	return true
}

func (m *Manager) closeEntry(name string, e *entry) {
	if e.stop != nil {
		e.stop()
	}
	if e.agent != nil {
		e.agent.Close()
	}
	e.room.Close()
	m.work.cancel(name)
	if m.cfg.Observer != nil {
		m.cfg.Observer.RoomClosed()
	}
	m.logger.Info("rooms: closed", "room", name)
}

// CloseAll shuts every room and refuses new ones.
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	m.draining = true
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for name, e := range entries {
		m.closeEntry(name, e)
	}
	m.work.cancel("")
	return len(entries)
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Track registers a live connection to the named room. The returned func
// must be called when the connection ends.
func (m *Manager) Track(name string, cancel func()) (done func()) {
	return m.work.add(name, cancel)
}

// Live reports tracked connections and pending agent start-ups.
func (m *Manager) Live() int { return m.work.count() }

// WarnAll sends a non-fatal warning to every peer in every room.
func (m *Manager) WarnAll(code, message string) int {
	m.mu.Lock()
	rooms := make([]*room.Room, 0, len(m.entries))
	for _, e := range m.entries {
		rooms = append(rooms, e.room)
	}
	m.mu.Unlock()

	sent := 0
	for _, rm := range rooms {
		sent += rm.Warn(code, message)
	}
	return sent
}

// CancelLive cancels every tracked connection and start-up.
func (m *Manager) CancelLive() int { return m.work.cancel("") }

// Wait blocks until tracked work has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) bool { return m.work.wait(ctx) }
