package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordedWrite struct {
	messageType int
	data        string
}

type fakeWSWriter struct {
	mu       sync.Mutex
	writes   []recordedWrite
	failNext bool
}

func (f *fakeWSWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return errors.New("broken pipe")
	}
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	return nil
}

func (f *fakeWSWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	_ = deadline
	return f.WriteMessage(messageType, data)
}

func (f *fakeWSWriter) Close() error { return nil }

func (f *fakeWSWriter) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func TestOutboundWriter_PriorityBeatsQueuedFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)
	normal <- outboundFrame{binaryPair: &binaryPair{header: []byte(`{"type":"frame","seq":1}`), data: []byte{1, 2}}}
	priority <- outboundFrame{textPayload: []byte(`{"type":"track_published"}`)}

	ws := &fakeWSWriter{}
	w := outboundWriter{ws: ws, ctx: ctx, writeTimeout: time.Second, pingInterval: time.Hour, priority: priority, normal: normal}

	errc := make(chan error, 1)
	go func() { errc <- w.Run() }()

	deadline := time.Now().Add(2 * time.Second)
	for len(ws.snapshot()) < 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) < 3 {
		t.Fatalf("writes=%d, want at least 3", len(writes))
	}
	if writes[0].data != `{"type":"track_published"}` {
		t.Fatalf("first write=%q, want track event", writes[0].data)
	}
	if writes[1].messageType != websocket.TextMessage || writes[2].messageType != websocket.BinaryMessage {
		t.Fatalf("frame pair types=%d,%d", writes[1].messageType, writes[2].messageType)
	}
	last := writes[len(writes)-1]
	if last.messageType != websocket.CloseMessage {
		t.Fatalf("last write type=%d, want close", last.messageType)
	}
}

func TestOutboundWriter_ReturnsWriteError(t *testing.T) {
	priority := make(chan outboundFrame, 1)
	priority <- outboundFrame{textPayload: []byte(`{"type":"say"}`)}

	ws := &fakeWSWriter{failNext: true}
	w := outboundWriter{ws: ws, ctx: context.Background(), writeTimeout: time.Second, pingInterval: time.Hour, priority: priority}
	if err := w.Run(); err == nil {
		t.Fatalf("expected write error")
	}
}
