package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEndOfStream is returned by Source.NextFrame once the source is exhausted.
	// The source stays open; the caller decides whether to rewind or stop.
	ErrEndOfStream = errors.New("media: end of stream")

	// ErrNotFound means the locator does not name an existing media resource.
	ErrNotFound = errors.New("media: not found")

	// ErrUnreadable means the resource exists but cannot be decoded.
	ErrUnreadable = errors.New("media: unreadable")

	// ErrClosed is returned when a closed source is used.
	ErrClosed = errors.New("media: source closed")

	// ErrChannelUnavailable means a publish channel could not be created.
	ErrChannelUnavailable = errors.New("media: publish channel unavailable")

	// ErrChannelClosed means the publish channel went away while frames were
	// being written to it.
	ErrChannelClosed = errors.New("media: publish channel closed")
)

// PixelFormat identifies the byte layout of a packed pixel buffer.
type PixelFormat string

const (
	FormatBGR24 PixelFormat = "bgr24"
	FormatRGB24 PixelFormat = "rgb24"
	FormatRGBA  PixelFormat = "rgba"
	FormatBGRA  PixelFormat = "bgra"
	FormatARGB  PixelFormat = "argb"
)

// BytesPerPixel returns the packed size of one pixel, or 0 for unknown formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatBGR24, FormatRGB24:
		return 3
	case FormatRGBA, FormatBGRA, FormatARGB:
		return 4
	default:
		return 0
	}
}

// HasAlpha reports whether the format carries an alpha channel.
func (f PixelFormat) HasAlpha() bool {
	return f.BytesPerPixel() == 4
}

// ParsePixelFormat parses a case-insensitive format name.
func ParsePixelFormat(raw string) (PixelFormat, error) {
	f := PixelFormat(strings.ToLower(strings.TrimSpace(raw)))
	if f.BytesPerPixel() == 0 {
		return "", fmt.Errorf("unsupported pixel format %q", raw)
	}
	return f, nil
}

// RawFrame is a decoded frame in the source's resolution and channel order.
// It is only valid for one iteration of the playback loop.
type RawFrame struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte
}

// Validate checks that the buffer matches the declared geometry.
func (f RawFrame) Validate() error {
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("raw frame: unsupported format %q", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("raw frame: invalid size %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * bpp; len(f.Data) != want {
		return fmt.Errorf("raw frame: %d bytes for %dx%d %s, want %d", len(f.Data), f.Width, f.Height, f.Format, want)
	}
	return nil
}

// PublishFrame is a frame in the publish resolution and wire channel order.
type PublishFrame struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte
}

// Source is an open, decodable media handle.
//
// A Source is owned by exactly one playback loop and is not safe for
// concurrent NextFrame/Rewind calls. Close may be called from any goroutine
// and more than once.
type Source interface {
	// NextFrame decodes the next frame. It returns ErrEndOfStream when the
	// stream is exhausted without closing the source.
	NextFrame(ctx context.Context) (RawFrame, error)

	// Rewind repositions the source at its first frame.
	Rewind() error

	// FrameRate is the native rate queried at open time. Values <= 0 mean
	// the container did not report one.
	FrameRate() float64

	Close() error
}

// Opener opens media locators into Sources.
type Opener interface {
	// Open returns ErrNotFound or ErrUnreadable (wrapped) on failure.
	Open(ctx context.Context, locator string) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, locator string) (Source, error)

func (f OpenerFunc) Open(ctx context.Context, locator string) (Source, error) {
	return f(ctx, locator)
}
