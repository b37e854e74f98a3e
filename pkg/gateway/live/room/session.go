package room

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-agent/pkg/core/media"
	"github.com/vango-go/vai-agent/pkg/gateway/live/protocol"
)

// Session is one published screen-share track. Frames submitted to it are
// fanned out to every connected viewer in submission order; a viewer whose
// backlog is full loses that frame.
type Session struct {
	room    *Room
	trackID string
	width   int
	height  int
	format  media.PixelFormat
	started time.Time
	seq     atomic.Int64

	mu     sync.Mutex
	closed bool
	reason string
	done   chan struct{}
}

func (s *Session) TrackID() string { return s.trackID }

// Done is closed when the session is closed for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason reports why the session closed, or "" while open.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Submit queues one frame for every viewer. It returns media.ErrChannelClosed
// once the session is closed. While no viewer is connected the frame is
// discarded.
func (s *Session) Submit(ctx context.Context, frame media.PublishFrame) error {
	if s.Closed() {
		return media.ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if frame.Width != s.width || frame.Height != s.height || frame.Format != s.format {
		return fmt.Errorf("room: frame %dx%d %s does not match track %dx%d %s",
			frame.Width, frame.Height, frame.Format, s.width, s.height, s.format)
	}

	viewers := s.room.viewerSnapshot()
	if len(viewers) == 0 {
		return nil
	}

	header := marshalEvent(protocol.ServerFrameHeader{
		Type:        "frame",
		TrackID:     s.trackID,
		Seq:         s.seq.Add(1),
		Width:       frame.Width,
		Height:      frame.Height,
		Format:      string(frame.Format),
		Bytes:       len(frame.Data),
		TimestampMS: s.room.now().Sub(s.started).Milliseconds(),
	})
	out := outboundFrame{binaryPair: &binaryPair{header: header, data: frame.Data}}
	for _, v := range viewers {
		if !v.sendFrame(out) && s.room.cfg.Hooks.OnFrameDropped != nil {
			s.room.cfg.Hooks.OnFrameDropped()
		}
	}
	return nil
}

// Close unpublishes the track. It is idempotent.
func (s *Session) Close() {
	s.closeWith("unpublished")
}

func (s *Session) closeWith(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.reason = reason
	close(s.done)
	s.mu.Unlock()

	s.room.detach(s)
	msg := marshalEvent(protocol.ServerTrackUnpublished{Type: "track_unpublished", TrackID: s.trackID, Reason: reason})
	for _, v := range s.room.viewerSnapshot() {
		v.sendPriority(outboundFrame{textPayload: msg})
	}
	s.room.logger.Info("room: track unpublished", "track_id", s.trackID, "reason", reason, "frames", s.seq.Load())
}

func (s *Session) publishedMessage() ([]byte, bool) {
	if s.Closed() {
		return nil, false
	}
	msg := marshalEvent(protocol.ServerTrackPublished{
		Type:    "track_published",
		TrackID: s.trackID,
		Source:  protocol.TrackSourceScreenShare,
		Width:   s.width,
		Height:  s.height,
		Format:  string(s.format),
	})
	return msg, msg != nil
}
