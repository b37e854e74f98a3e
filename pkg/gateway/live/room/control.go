package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-agent/pkg/gateway/live/protocol"
)

var (
	// ErrNoSpeaker means no voice runtime is attached to the control channel.
	ErrNoSpeaker = errors.New("room: no voice runtime connected")

	ErrReplyTimeout = errors.New("room: reply not acknowledged in time")
)

// ServeControl attaches a voice runtime. The first frame must be a hello;
// afterwards the runtime acknowledges say requests with reply_done.
func (r *Room) ServeControl(ctx context.Context, conn Conn) error {
	defer conn.Close()

	if d, ok := conn.(interface{ SetReadDeadline(time.Time) error }); ok {
		_ = d.SetReadDeadline(time.Now().Add(r.cfg.HandshakeTimeout))
	}
	messageType, first, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if messageType != websocket.TextMessage {
		r.writeControlError(conn, "bad_request", "first frame must be hello")
		return errors.New("first frame must be hello")
	}
	decoded, err := protocol.DecodeControlMessage(first)
	if err != nil {
		r.writeControlError(conn, decodeCode(err), err.Error())
		return err
	}
	hello, ok := decoded.(protocol.ControlHello)
	if !ok {
		r.writeControlError(conn, "bad_request", "first frame must be hello")
		return errors.New("first frame must be hello")
	}
	if d, ok := conn.(interface{ SetReadDeadline(time.Time) error }); ok {
		_ = d.SetReadDeadline(time.Time{})
	}

	c := newPeer(0)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.writeControlError(conn, "room_closed", "room is closed")
		return ErrRoomClosed
	}
	r.controls[c.id] = c
	close(r.attached)
	r.attached = make(chan struct{})
	instructions := r.instr
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.controls, c.id)
		r.mu.Unlock()
		c.stop()
		r.logger.Info("room: voice runtime detached", "control_id", c.id)
	}()

	r.logger.Info("room: voice runtime attached", "control_id", c.id, "runtime", hello.Runtime)
	c.sendPriority(outboundFrame{textPayload: marshalEvent(protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		Room:            r.name,
		AgentName:       r.cfg.AgentName,
		Instructions:    instructions,
	})})

	return r.servePeer(ctx, conn, c, func(data []byte) {
		r.handleControlFrame(c, data)
	})
}

func (r *Room) handleControlFrame(c *peer, data []byte) {
	decoded, err := protocol.DecodeControlMessage(data)
	if err != nil {
		c.sendPriority(outboundFrame{textPayload: marshalEvent(protocol.ServerError{
			Type: "error", Scope: "control", Code: decodeCode(err), Message: err.Error(),
		})})
		return
	}
	switch msg := decoded.(type) {
	case protocol.ControlReplyDone:
		r.mu.Lock()
		ch, ok := r.pending[msg.ReplyID]
		r.mu.Unlock()
		if !ok {
			r.logger.Debug("room: reply_done for unknown reply", "reply_id", msg.ReplyID)
			return
		}
		select {
		case ch <- msg:
		default:
		}
	case protocol.ControlParticipant:
		r.logger.Info("room: participant event", "identity", msg.Identity, "joined", msg.Joined)
	case protocol.ControlHello:
		r.logger.Debug("room: duplicate hello ignored", "control_id", c.id)
	}
}

// WaitForSpeaker blocks until a voice runtime is attached, the timeout
// elapses, ctx is done, or the room closes.
func (r *Room) WaitForSpeaker(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return ErrRoomClosed
		}
		if len(r.controls) > 0 {
			r.mu.Unlock()
			return nil
		}
		attached := r.attached
		r.mu.Unlock()

		select {
		case <-attached:
		case <-timer.C:
			return ErrNoSpeaker
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return ErrRoomClosed
		}
	}
}

// SpeakerCount reports the attached voice runtimes.
func (r *Room) SpeakerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controls)
}

// SetInstructions replaces the system instructions for the voice runtime.
// Attached runtimes receive them immediately; later ones get them in
// hello_ack.
func (r *Room) SetInstructions(instructions string) {
	r.mu.Lock()
	r.instr = instructions
	controls := make([]*peer, 0, len(r.controls))
	for _, c := range r.controls {
		controls = append(controls, c)
	}
	r.mu.Unlock()

	msg := marshalEvent(protocol.ServerInstructions{Type: "instructions", Instructions: instructions})
	for _, c := range controls {
		c.sendPriority(outboundFrame{textPayload: msg})
	}
}

// GenerateReply asks the attached voice runtime to speak from instructions
// and waits until it acknowledges the reply, ctx ends, or the reply timeout
// elapses.
func (r *Room) GenerateReply(ctx context.Context, instructions string) error {
	return r.GenerateReplyNotify(ctx, instructions, nil)
}

// GenerateReplyNotify is GenerateReply that calls queued, if set, once the say
// event is on the control queues and before waiting for the acknowledgement.
func (r *Room) GenerateReplyNotify(ctx context.Context, instructions string, queued func()) error {
	replyID := "reply_" + uuid.NewString()
	ack := make(chan protocol.ControlReplyDone, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	controls := make([]*peer, 0, len(r.controls))
	for _, c := range r.controls {
		controls = append(controls, c)
	}
	if len(controls) == 0 {
		r.mu.Unlock()
		return ErrNoSpeaker
	}
	r.pending[replyID] = ack
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, replyID)
		r.mu.Unlock()
	}()

	msg := marshalEvent(protocol.ServerSay{Type: "say", ReplyID: replyID, Instructions: instructions})
	sent := 0
	for _, c := range controls {
		if c.sendPriority(outboundFrame{textPayload: msg}) {
			sent++
		}
	}
	if sent == 0 {
		return fmt.Errorf("%w: control queues full", ErrNoSpeaker)
	}
	if queued != nil {
		queued()
	}

	timer := time.NewTimer(r.cfg.ReplyTimeout)
	defer timer.Stop()
	select {
	case done := <-ack:
		if done.Interrupted {
			r.logger.Debug("room: reply interrupted", "reply_id", replyID)
		}
		return nil
	case <-timer.C:
		return ErrReplyTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRoomClosed
	}
}

func (r *Room) writeControlError(conn Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	_ = conn.WriteMessage(websocket.TextMessage, marshalEvent(protocol.ServerError{
		Type: "error", Scope: "control", Code: code, Message: message, Close: true,
	}))
}

func decodeCode(err error) string {
	var de *protocol.DecodeError
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	return "bad_request"
}
