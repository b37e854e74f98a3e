// Package agent ties a room's speaker and publish channel to media playback
// and knowledge lookups. Its tool methods return user-facing text and never
// fail.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-agent/pkg/agent/persona"
	"github.com/vango-go/vai-agent/pkg/core/knowledge"
	"github.com/vango-go/vai-agent/pkg/core/media"
	"github.com/vango-go/vai-agent/pkg/core/playback"
	"github.com/vango-go/vai-agent/pkg/core/speculative"
	"github.com/vango-go/vai-agent/pkg/store"
)

// DefaultStatusDelay is how long a lookup may run before a status update is
// spoken.
const DefaultStatusDelay = 500 * time.Millisecond

// Speaker asks the voice runtime to say something.
type Speaker interface {
	GenerateReply(ctx context.Context, instructions string) error
}

// QueuedSpeaker is implemented by speakers that can report when an utterance
// has been handed to the runtime, ahead of its acknowledgement.
type QueuedSpeaker interface {
	GenerateReplyNotify(ctx context.Context, instructions string, queued func()) error
}

// Instructor is implemented by speakers that accept system instructions.
type Instructor interface {
	SetInstructions(instructions string)
}

// Session is one publish channel.
type Session interface {
	playback.Sink
	Close()
}

type Publisher interface {
	Publish(ctx context.Context, width, height int, format media.PixelFormat) (Session, error)
}

type PublisherFunc func(ctx context.Context, width, height int, format media.PixelFormat) (Session, error)

func (f PublisherFunc) Publish(ctx context.Context, width, height int, format media.PixelFormat) (Session, error) {
	return f(ctx, width, height, format)
}

type Searcher interface {
	Available() bool
	Search(ctx context.Context, req knowledge.Request) ([]knowledge.Document, error)
}

// ContentStore finds videos attached to dispatched content.
type ContentStore interface {
	HasVideos(ctx context.Context, contentID string) (bool, error)
	Videos(ctx context.Context, contentID string) ([]store.Media, error)
}

// Metrics observes agent activity. Implementations must be safe for
// concurrent use.
type Metrics interface {
	FramePublished()
	PlaybackStarted()
	PlaybackEnded(reason string)
	LookupObserved(outcome string, elapsed time.Duration, statusFired bool)
}

type nopMetrics struct{}

func (nopMetrics) FramePublished()                            {}
func (nopMetrics) PlaybackStarted()                           {}
func (nopMetrics) PlaybackEnded(string)                       {}
func (nopMetrics) LookupObserved(string, time.Duration, bool) {}

// Lookup outcomes reported to Metrics.
const (
	OutcomeAnswered    = "answered"
	OutcomeNoMatch     = "no_match"
	OutcomeFailed      = "failed"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

type Config struct {
	Room     string
	Metadata JobMetadata
	Persona  persona.Persona

	Speaker   Speaker
	Publisher Publisher
	Opener    media.Opener
	Knowledge Searcher
	Content   ContentStore

	// Playback carries the publish geometry, format and transform. Its Hooks
	// and Logger are set by the agent.
	Playback playback.Config

	// DefaultVideo is shared when no locator is given and the content has no
	// video of its own.
	DefaultVideo string
	StatusDelay  time.Duration
	TopK         int

	Metrics Metrics
	Logger  *slog.Logger
}

type Agent struct {
	cfg     Config
	logger  *slog.Logger
	metrics Metrics

	shareMu sync.Mutex // serializes ShareMedia and StopSharing

	mu     sync.Mutex
	ctrl   *playback.Controller
	sess   Session
	closed bool
}

func New(cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if cfg.StatusDelay <= 0 {
		cfg.StatusDelay = DefaultStatusDelay
	}
	if cfg.TopK <= 0 {
		cfg.TopK = knowledge.DefaultTopK
	}
	cfg.Metadata = cfg.Metadata.withDefaults()
	return &Agent{
		cfg:     cfg,
		logger:  logger.With("room", cfg.Room),
		metrics: metrics,
	}
}

func (a *Agent) Metadata() JobMetadata { return a.cfg.Metadata }

// Start hands the persona instructions to the speaker and speaks the
// greeting.
func (a *Agent) Start(ctx context.Context) error {
	if a.cfg.Speaker == nil {
		return errors.New("agent: no speaker configured")
	}
	name := a.cfg.Metadata.Name
	if in, ok := a.cfg.Speaker.(Instructor); ok {
		in.SetInstructions(a.cfg.Persona.RenderInstructions(name))
	}
	a.logger.Info("agent: started",
		"job_id", a.cfg.Metadata.ID,
		"content_id", a.cfg.Metadata.ContentID,
		"user", name,
		"knowledge", a.cfg.Knowledge != nil && a.cfg.Knowledge.Available(),
	)
	if err := a.cfg.Speaker.GenerateReply(ctx, a.cfg.Persona.RenderGreeting(name)); err != nil {
		a.logger.Warn("agent: greeting failed", "error", err)
		return err
	}
	return nil
}

// ShareMedia starts looping locator into a new publish session, replacing any
// active share. An empty locator selects the content's first video, or the
// default video.
func (a *Agent) ShareMedia(ctx context.Context, locator string) string {
	a.shareMu.Lock()
	defer a.shareMu.Unlock()

	if locator == "" {
		locator = a.pickVideo(ctx)
	}
	if locator == "" {
		return a.cfg.Persona.RenderShareFailed(errors.New("no video available"))
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return a.cfg.Persona.RenderShareFailed(errors.New("agent closed"))
	}
	a.mu.Unlock()
	a.teardown()

	if a.cfg.Publisher == nil || a.cfg.Opener == nil {
		return a.cfg.Persona.RenderShareFailed(media.ErrChannelUnavailable)
	}

	pc := a.cfg.Playback
	pc.Logger = a.logger
	pc.Hooks = playback.Hooks{OnFrame: a.metrics.FramePublished}
	sess, err := a.cfg.Publisher.Publish(ctx, pc.Width, pc.Height, pc.Format)
	if err != nil {
		a.logger.Warn("agent: publish failed", "error", err)
		return a.cfg.Persona.RenderShareFailed(err)
	}

	ctrl := playback.New(a.cfg.Opener, pc)
	if err := ctrl.Start(ctx, locator, sess); err != nil {
		sess.Close()
		a.logger.Warn("agent: playback failed to start", "locator", locator, "error", err)
		return a.cfg.Persona.RenderShareFailed(err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		ctrl.Stop()
		sess.Close()
		return a.cfg.Persona.RenderShareFailed(errors.New("agent closed"))
	}
	a.ctrl, a.sess = ctrl, sess
	a.mu.Unlock()
	a.metrics.PlaybackStarted()

	go a.watch(ctrl, sess)
	return a.cfg.Persona.ShareStarted
}

// watch releases the session once the loop exits on its own.
func (a *Agent) watch(ctrl *playback.Controller, sess Session) {
	<-ctrl.Done()
	sess.Close()
	a.mu.Lock()
	if a.ctrl == ctrl {
		a.ctrl, a.sess = nil, nil
	}
	a.mu.Unlock()
	a.metrics.PlaybackEnded(string(ctrl.Reason()))
	if err := ctrl.Err(); err != nil {
		a.logger.Warn("agent: playback ended", "reason", ctrl.Reason(), "error", err)
	}
}

// StopSharing stops the active share.
func (a *Agent) StopSharing(_ context.Context) string {
	a.shareMu.Lock()
	defer a.shareMu.Unlock()
	if !a.teardown() {
		return a.cfg.Persona.NotSharing
	}
	return a.cfg.Persona.ShareStopped
}

// Sharing reports whether a playback is active.
func (a *Agent) Sharing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctrl != nil
}

// teardown stops the active playback, then closes its session.
func (a *Agent) teardown() bool {
	a.mu.Lock()
	ctrl, sess := a.ctrl, a.sess
	a.ctrl, a.sess = nil, nil
	a.mu.Unlock()
	if ctrl == nil {
		return false
	}
	ctrl.Stop()
	sess.Close()
	return true
}

func (a *Agent) pickVideo(ctx context.Context) string {
	id := a.cfg.Metadata.ContentID
	if id == "" || a.cfg.Content == nil {
		return a.cfg.DefaultVideo
	}
	has, err := a.cfg.Content.HasVideos(ctx, id)
	if err != nil {
		a.logger.Warn("agent: video lookup failed, using default", "content_id", id, "error", err)
		return a.cfg.DefaultVideo
	}
	if !has {
		return a.cfg.DefaultVideo
	}
	videos, err := a.cfg.Content.Videos(ctx, id)
	if err != nil || len(videos) == 0 {
		if err != nil {
			a.logger.Warn("agent: list videos failed, using default", "content_id", id, "error", err)
		}
		return a.cfg.DefaultVideo
	}
	return videos[0].URL
}

// Lookup searches the knowledge base. If the search outlasts the status
// delay, a status update is spoken first.
func (a *Agent) Lookup(ctx context.Context, query string) string {
	p := a.cfg.Persona
	if a.cfg.Knowledge == nil || !a.cfg.Knowledge.Available() {
		a.metrics.LookupObserved(OutcomeUnavailable, 0, false)
		return p.Unavailable
	}

	start := time.Now()
	status := func(ctx context.Context, emitted func()) {
		if a.cfg.Speaker == nil {
			return
		}
		var err error
		if qs, ok := a.cfg.Speaker.(QueuedSpeaker); ok {
			err = qs.GenerateReplyNotify(ctx, p.RenderStatus(query), emitted)
		} else {
			err = a.cfg.Speaker.GenerateReply(ctx, p.RenderStatus(query))
		}
		if err != nil {
			a.logger.Warn("agent: status update failed", "error", err)
		}
	}
	req := knowledge.Request{
		Query:  query,
		Filter: knowledge.URLFilter(a.cfg.Metadata.URL),
		K:      a.cfg.TopK,
	}
	out := speculative.Race(ctx, a.cfg.StatusDelay, status, func(ctx context.Context) ([]knowledge.Document, error) {
		return a.cfg.Knowledge.Search(ctx, req)
	})

	text, outcome := a.lookupText(query, out.Value, out.Err)
	a.metrics.LookupObserved(outcome, time.Since(start), out.StatusFired)
	a.logger.Info("agent: lookup finished",
		"query", query,
		"outcome", outcome,
		"status_fired", out.StatusFired,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return text
}

func (a *Agent) lookupText(query string, docs []knowledge.Document, err error) (string, string) {
	p := a.cfg.Persona
	var failed *knowledge.LookupFailedError
	switch {
	case err == nil:
		return p.RenderAnswer(query, knowledge.FormatSources(docs)), OutcomeAnswered
	case errors.Is(err, knowledge.ErrNoMatch):
		return p.RenderNoMatch(query), OutcomeNoMatch
	case errors.As(err, &failed):
		return p.RenderFailed(query), OutcomeFailed
	case errors.Is(err, knowledge.ErrLookupUnavailable):
		return p.Unavailable, OutcomeUnavailable
	default:
		a.logger.Error("agent: lookup error", "query", query, "error", err)
		return p.RenderSnag(query), OutcomeError
	}
}

// Close stops any active share. The agent cannot share again afterwards.
func (a *Agent) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()
	a.teardown()
}
