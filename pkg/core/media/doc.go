// Package media defines the frame types shared by the screen-share pipeline:
// decoded source frames, publish-ready frames, the Source/Opener contracts a
// decoder implements, and the pure Transformer that turns one into the other.
//
// # Data Flow
//
//	Opener.Open → Source.NextFrame → Transformer.ToPublishFormat → publish session
//
// Sources report ErrEndOfStream without closing; the playback loop rewinds.
// Publish sinks report ErrChannelClosed once the viewer side is gone.
package media
