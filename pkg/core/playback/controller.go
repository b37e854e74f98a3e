// Package playback runs a looping, rate-paced media playback into a publish sink.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-agent/pkg/core/media"
)

// DefaultFPS is used when a source does not report a usable native rate.
const DefaultFPS = 30.0

// State is the controller lifecycle state.
type State int32

const (
	StateIdle State = iota
	StatePlaying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReason records why a controller left the Playing state.
type StopReason string

const (
	StopRequested     StopReason = "requested"
	StopChannelClosed StopReason = "channel_closed"
	StopError         StopReason = "error"
)

// ErrAlreadyStarted is returned when Start is called on a controller that is
// not Idle. Controllers are single use.
var ErrAlreadyStarted = errors.New("playback: controller already started")

// ResourceError reports a locator that could not be opened or played.
type ResourceError struct {
	Locator string
	Err     error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("playback: cannot play %q: %v", e.Locator, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Sink receives publish-ready frames in source order.
type Sink interface {
	// Submit writes one frame. It returns media.ErrChannelClosed (wrapped or
	// bare) once the channel is gone.
	Submit(ctx context.Context, frame media.PublishFrame) error
}

// Hooks are optional observers invoked from the playback goroutine.
type Hooks struct {
	OnFrame  func()
	OnRewind func()
	OnStop   func(reason StopReason, err error)
}

type Config struct {
	Width  int
	Height int
	Format media.PixelFormat

	// DefaultFPS replaces a missing or non-positive native rate.
	DefaultFPS float64

	Transformer media.Transformer
	Logger      *slog.Logger
	Hooks       Hooks
}

// Controller drives one playback: it owns the source handle from Start until
// the loop exits, paces frames to the native rate, loops on end of stream and
// stops on request, on a closed channel, or on the first other error.
type Controller struct {
	opener media.Opener
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	starting bool
	locator  string
	src      media.Source
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	reason   StopReason
	err      error

	closeOnce sync.Once
}

func New(opener media.Opener, cfg Config) *Controller {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 1280, 720
	}
	if cfg.Format == "" {
		cfg.Format = media.FormatARGB
	}
	if cfg.DefaultFPS <= 0 {
		cfg.DefaultFPS = DefaultFPS
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		opener: opener,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start opens locator and begins publishing into sink. ctx bounds the open
// only; the loop runs until Stop, a closed channel, or an error.
func (c *Controller) Start(ctx context.Context, locator string, sink Sink) error {
	c.mu.Lock()
	if c.state != StateIdle || c.starting {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.starting = true
	c.locator = locator
	c.mu.Unlock()

	src, err := c.opener.Open(ctx, locator)
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.state = StateStopped
		c.reason = StopError
		c.err = &ResourceError{Locator: locator, Err: err}
		c.mu.Unlock()
		return c.err
	}

	fps := src.FrameRate()
	if fps <= 0 {
		fps = c.cfg.DefaultFPS
	}
	interval := time.Duration(float64(time.Second) / fps)

	c.mu.Lock()
	c.starting = false
	c.src = src
	if c.state == StateStopped {
		// Stop raced with Open.
		c.mu.Unlock()
		c.closeSource()
		return context.Canceled
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.interval = interval
	c.state = StatePlaying
	done := c.done
	c.mu.Unlock()

	c.logger.Info("playback: started",
		"locator", locator,
		"native_fps", src.FrameRate(),
		"interval_ms", interval.Milliseconds(),
		"resolution", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
	)

	go c.run(loopCtx, src, sink, interval, done)
	return nil
}

// Stop ends playback and returns once the source handle is closed. It is
// idempotent. It must not be called from the Hooks, which run on the
// playback goroutine.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateStopped {
		c.state = StateStopped
		if c.reason == "" {
			c.reason = StopRequested
		}
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Closing unblocks a NextFrame that does not watch ctx.
	c.closeSource()
	if done != nil {
		<-done
	}
}

// Done is closed when the playback loop has exited and released the source.
// It returns nil before Start has succeeded.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Interval is the pacing interval chosen at Start.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Reason and Err describe how the controller stopped.
func (c *Controller) Reason() StopReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Locator() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locator
}

func (c *Controller) run(ctx context.Context, src media.Source, sink Sink, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer func() {
		c.closeSource()
		reason, err := c.Reason(), c.Err()
		if err != nil {
			c.logger.Error("playback: stopped", "locator", c.locator, "reason", reason, "error", err)
		} else {
			c.logger.Info("playback: stopped", "locator", c.locator, "reason", reason)
		}
		if c.cfg.Hooks.OnStop != nil {
			c.cfg.Hooks.OnStop(reason, err)
		}
	}()

	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	next := c.now()
	sawFrame := true

	for c.State() == StatePlaying {
		raw, err := src.NextFrame(ctx)
		if errors.Is(err, media.ErrEndOfStream) {
			if !sawFrame {
				c.fail(&ResourceError{Locator: c.locator, Err: fmt.Errorf("%w: no frames before end of stream", media.ErrUnreadable)})
				return
			}
			sawFrame = false
			if err := src.Rewind(); err != nil {
				c.fail(&ResourceError{Locator: c.locator, Err: err})
				return
			}
			if c.cfg.Hooks.OnRewind != nil {
				c.cfg.Hooks.OnRewind()
			}
			c.logger.Debug("playback: rewound", "locator", c.locator)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(fmt.Errorf("read frame: %w", err))
			return
		}
		sawFrame = true

		frame, err := c.cfg.Transformer.ToPublishFormat(raw, c.cfg.Width, c.cfg.Height, c.cfg.Format)
		if err != nil {
			c.fail(fmt.Errorf("transform frame: %w", err))
			return
		}

		if err := sink.Submit(ctx, frame); err != nil {
			if errors.Is(err, media.ErrChannelClosed) {
				c.transition(StopChannelClosed, nil)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.fail(fmt.Errorf("submit frame: %w", err))
			return
		}
		if c.cfg.Hooks.OnFrame != nil {
			c.cfg.Hooks.OnFrame()
		}

		next = next.Add(interval)
		now := c.now()
		if now.Sub(next) > interval {
			// Fell more than a frame behind; resync instead of bursting.
			next = now
		}
		wait := next.Sub(now)
		if wait <= 0 {
			continue
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (c *Controller) fail(err error) {
	c.transition(StopError, err)
}

func (c *Controller) transition(reason StopReason, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying {
		return
	}
	c.state = StateStopped
	c.reason = reason
	c.err = err
}

func (c *Controller) closeSource() {
	c.mu.Lock()
	src := c.src
	c.mu.Unlock()
	if src == nil {
		return
	}
	c.closeOnce.Do(func() {
		if err := src.Close(); err != nil {
			c.logger.Warn("playback: close source failed", "locator", c.locator, "error", err)
		}
	})
}
