package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
)

// Opcode identifies the purpose of a gateway frame
type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpPresenceUpdate Opcode = 3
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

// Intent bits declared during Identify
// https://discord.com/developers/docs/events/gateway#gateway-intents
type Intent int

const (
	IntentGuildMessages  Intent = 1 << 9
	IntentDirectMessages Intent = 1 << 12
)

// ComputeIntents ORs the given capability bits into a single bitmask.
// Duplicates contribute their bit once.
func ComputeIntents(intents ...Intent) int {
	mask := 0
	for _, i := range intents {
		mask |= int(i)
	}
	return mask
}

// ErrMalformedFrame is returned when an inbound message cannot be parsed
// as a gateway frame. Callers treat it as benign and drop the message.
var ErrMalformedFrame = errors.New("malformed gateway frame")

// Frame is the wire shape of every gateway message: {"op","d","s","t"}
type Frame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// Event is a decoded inbound frame
type Event struct {
	Opcode   Opcode
	Name     string // dispatch event name, empty for non-dispatch frames
	Sequence *int64
	Data     json.RawMessage
}

// EncodeFrame marshals an outbound payload into a text frame
func EncodeFrame(op Opcode, d interface{}) ([]byte, error) {
	var raw json.RawMessage
	if d != nil {
		var err error
		raw, err = json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encoding op %d payload: %w", op, err)
		}
	} else {
		raw = json.RawMessage("null")
	}
	return json.Marshal(Frame{Op: op, D: raw})
}

// DecodeFrame parses one complete websocket message into an Event.
// The transport's message boundary is the frame boundary: the caller hands
// in whatever a single ReadMessage returned, never a fixed-size slice of
// the stream. Binary messages carry a zlib-deflated JSON payload.
func DecodeFrame(messageType int, data []byte) (*Event, error) {
	if messageType == websocket.BinaryMessage {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	}
	return decodeFrom(bytes.NewReader(data))
}

func decodeFrom(r io.Reader) (*Event, error) {
	var f Frame
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &Event{
		Opcode:   f.Op,
		Name:     f.T,
		Sequence: f.S,
		Data:     f.D,
	}, nil
}

// --- Payloads ---

// HelloData is the op 10 payload
type HelloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"` // milliseconds
}

// IdentifyData is the op 2 payload
type IdentifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties IdentifyProperties `json:"properties"`
}

// IdentifyProperties is the client metadata block inside Identify
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// ReadyData is the op 0 READY dispatch payload subset we use
type ReadyData struct {
	SessionID string `json:"session_id"`
}

// PresenceData is the op 3 payload
type PresenceData struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

// Activity is one displayed activity inside a presence update
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

// EventNameReady marks authentication complete on the session
const EventNameReady = "READY"
