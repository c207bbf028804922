package comms

import (
	"github.com/CodedInternet/osl/onboard"
)

const (
	TypeState = "state"
	TypeError = "error"
	TypeAck   = "ack"
)

// StatePayload is broadcast to every telemetry client at the frame rate.
type StatePayload struct {
	Type string `json:"type"`
	onboard.Snapshot
}

// ReplyPayload answers a single client's command.
type ReplyPayload struct {
	Type  string `json:"type"`
	Cmd   string `json:"cmd,omitempty"`
	Error string `json:"error,omitempty"`
}
