// Package gstsource decodes local media files into raw BGR frames with a
// GStreamer appsink pipeline.
//
// Pipeline structure:
//
//	filesrc → decodebin → videoconvert → capsfilter(BGR) → appsink
//
// The appsink runs unsynchronised (sync=false); pacing is the caller's job.
package gstsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/vango-go/vai-agent/pkg/core/media"
)

var initOnce sync.Once

const pullSlice = 100 * time.Millisecond

// Opener opens local files through GStreamer.
type Opener struct {
	Logger *slog.Logger

	// MaxBuffers bounds how far the decoder may run ahead of the reader.
	MaxBuffers int
}

// NewOpener returns an Opener with default settings.
func NewOpener(logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{Logger: logger, MaxBuffers: 4}
}

// Open builds and prerolls a pipeline for the file at path. The native frame
// rate is read from the negotiated caps.
func (o *Opener) Open(ctx context.Context, path string) (media.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", media.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", media.ErrUnreadable, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", media.ErrUnreadable, path)
	}

	initOnce.Do(func() { gst.Init(nil) })

	maxBuffers := o.MaxBuffers
	if maxBuffers <= 0 {
		maxBuffers = 4
	}
	launch := fmt.Sprintf(
		"filesrc name=src ! decodebin ! videoconvert ! video/x-raw,format=BGR ! appsink name=sink sync=false max-buffers=%d drop=false",
		maxBuffers,
	)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("%w: create pipeline: %v", media.ErrUnreadable, err)
	}
	src, err := pipeline.GetElementByName("src")
	if err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: find filesrc: %v", media.ErrUnreadable, err)
	}
	if err := src.SetProperty("location", path); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: set location: %v", media.ErrUnreadable, err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: find appsink: %v", media.ErrUnreadable, err)
	}
	sink := app.SinkFromElement(elem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: start pipeline: %v", media.ErrUnreadable, err)
	}

	preroll := sink.PullPreroll()
	if preroll == nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: no decodable video stream in %s", media.ErrUnreadable, path)
	}
	caps := preroll.GetCaps()
	if caps == nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: preroll sample has no caps", media.ErrUnreadable)
	}
	desc := parseCaps(caps.String())
	if desc.width <= 0 || desc.height <= 0 {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: caps without geometry: %s", media.ErrUnreadable, caps.String())
	}

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("gstsource: opened",
		"path", path,
		"resolution", fmt.Sprintf("%dx%d", desc.width, desc.height),
		"fps", desc.fps,
	)

	return &Source{
		path:     path,
		pipeline: pipeline,
		sink:     sink,
		width:    desc.width,
		height:   desc.height,
		fps:      desc.fps,
		logger:   logger,
	}, nil
}

// Source is an open GStreamer pipeline.
type Source struct {
	path     string
	pipeline *gst.Pipeline
	sink     *app.Sink
	width    int
	height   int
	fps      float64
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (s *Source) FrameRate() float64 { return s.fps }

// NextFrame pulls the next decoded buffer and copies it out of GStreamer's
// memory; the buffer is reused once unmapped.
func (s *Source) NextFrame(ctx context.Context) (media.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return media.RawFrame{}, err
	}
	if s.isClosed() {
		return media.RawFrame{}, media.ErrClosed
	}

	sample, err := s.pull(ctx)
	if err != nil {
		return media.RawFrame{}, err
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return media.RawFrame{}, fmt.Errorf("%w: sample without buffer", media.ErrUnreadable)
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	frameData, err := compactRows(data, s.width, s.height)
	buffer.Unmap()
	if err != nil {
		return media.RawFrame{}, fmt.Errorf("%w: %v", media.ErrUnreadable, err)
	}

	return media.RawFrame{
		Width:  s.width,
		Height: s.height,
		Format: media.FormatBGR24,
		Data:   frameData,
	}, nil
}

// pull waits for the next sample in short slices so that cancellation, Close
// and decoder errors posted on the bus end the wait.
func (s *Source) pull(ctx context.Context) (*gst.Sample, error) {
	for {
		if sample := s.sink.TryPullSample(pullSlice); sample != nil {
			return sample, nil
		}
		if s.isClosed() {
			return nil, media.ErrClosed
		}
		if s.sink.IsEOS() {
			return nil, media.ErrEndOfStream
		}
		if msg := s.pipeline.GetPipelineBus().PopFiltered(gst.MessageError); msg != nil {
			return nil, fmt.Errorf("%w: %s: %v", media.ErrUnreadable, s.path, msg.ParseError())
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Rewind issues a flushing seek to the start, which also clears EOS on the
// appsink.
func (s *Source) Rewind() error {
	if s.isClosed() {
		return media.ErrClosed
	}
	if ok := s.pipeline.SeekSimple(0, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit); !ok {
		return fmt.Errorf("%w: seek to start failed for %s", media.ErrUnreadable, s.path)
	}
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		s.logger.Warn("gstsource: failed to stop pipeline", "path", s.path, "error", err)
		return err
	}
	s.logger.Debug("gstsource: closed", "path", s.path)
	return nil
}

func (s *Source) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type capsDesc struct {
	width  int
	height int
	fps    float64
}

var (
	capsWidthRe     = regexp.MustCompile(`width=\(int\)(\d+)`)
	capsHeightRe    = regexp.MustCompile(`height=\(int\)(\d+)`)
	capsFramerateRe = regexp.MustCompile(`framerate=\(fraction\)(\d+)/(\d+)`)
)

// parseCaps reads geometry and frame rate from a caps string such as
// "video/x-raw, format=(string)BGR, width=(int)1280, height=(int)720, framerate=(fraction)30000/1001".
// A missing or variable (0/1) frame rate yields fps 0.
func parseCaps(caps string) capsDesc {
	var d capsDesc
	if m := capsWidthRe.FindStringSubmatch(caps); m != nil {
		d.width, _ = strconv.Atoi(m[1])
	}
	if m := capsHeightRe.FindStringSubmatch(caps); m != nil {
		d.height, _ = strconv.Atoi(m[1])
	}
	if m := capsFramerateRe.FindStringSubmatch(caps); m != nil {
		num, _ := strconv.ParseFloat(m[1], 64)
		den, _ := strconv.ParseFloat(m[2], 64)
		if den > 0 {
			d.fps = num / den
		}
	}
	return d
}

// compactRows copies a BGR buffer into a tightly packed slice. GStreamer pads
// 24-bit rows to a multiple of four bytes.
func compactRows(data []byte, width, height int) ([]byte, error) {
	rowBytes := width * 3
	packed := rowBytes * height
	if len(data) == packed {
		out := make([]byte, packed)
		copy(out, data)
		return out, nil
	}
	stride := (rowBytes + 3) &^ 3
	if len(data) < stride*(height-1)+rowBytes {
		return nil, fmt.Errorf("buffer of %d bytes too small for %dx%d BGR", len(data), width, height)
	}
	out := make([]byte, packed)
	for y := 0; y < height; y++ {
		copy(out[y*rowBytes:(y+1)*rowBytes], data[y*stride:y*stride+rowBytes])
	}
	return out, nil
}
