// Package protocol defines the websocket messages exchanged on a room's
// control channel (voice runtime) and screen channel (viewers).
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	TrackSourceScreenShare = "screenshare"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ControlHello is the first frame a voice runtime sends on the control channel.
type ControlHello struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Runtime         string `json:"runtime,omitempty"`
}

// ControlReplyDone acknowledges that a say request finished playing out.
type ControlReplyDone struct {
	Type        string `json:"type"`
	ReplyID     string `json:"reply_id"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// ControlParticipant reports a participant joining or leaving the call.
type ControlParticipant struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
	Joined   bool   `json:"joined"`
}

// DecodeControlMessage decodes a client frame received on the control channel.
func DecodeControlMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ControlHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if strings.TrimSpace(msg.ProtocolVersion) != ProtocolVersion1 {
			return nil, unsupported("unsupported protocol_version", "protocol_version")
		}
		return msg, nil
	case "reply_done":
		var msg ControlReplyDone
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid reply_done", "")
		}
		if strings.TrimSpace(msg.ReplyID) == "" {
			return nil, badRequest("reply_done.reply_id is required", "reply_id")
		}
		return msg, nil
	case "participant":
		var msg ControlParticipant
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid participant", "")
		}
		if strings.TrimSpace(msg.Identity) == "" {
			return nil, badRequest("participant.identity is required", "identity")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

type ServerHelloAck struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Room            string `json:"room"`
	AgentName       string `json:"agent_name,omitempty"`
	Instructions    string `json:"instructions,omitempty"`
}

// ServerInstructions replaces the runtime's system instructions.
type ServerInstructions struct {
	Type         string `json:"type"`
	Instructions string `json:"instructions"`
}

// ServerSay asks the voice runtime to generate and speak a reply.
type ServerSay struct {
	Type         string `json:"type"`
	ReplyID      string `json:"reply_id"`
	Instructions string `json:"instructions"`
}

type ServerError struct {
	Type      string         `json:"type"`
	Scope     string         `json:"scope,omitempty"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Close     bool           `json:"close,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type ServerTrackPublished struct {
	Type    string `json:"type"`
	TrackID string `json:"track_id"`
	Source  string `json:"source"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
}

// ServerFrameHeader precedes every binary frame payload on the screen channel.
type ServerFrameHeader struct {
	Type        string `json:"type"`
	TrackID     string `json:"track_id"`
	Seq         int64  `json:"seq"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Format      string `json:"format"`
	Bytes       int    `json:"bytes"`
	TimestampMS int64  `json:"timestamp_ms,omitempty"`
}

type ServerTrackUnpublished struct {
	Type    string `json:"type"`
	TrackID string `json:"track_id"`
	Reason  string `json:"reason,omitempty"`
}
