package client

import (
	"encoding/json"
	"time"

	"personal/discord_gateway/src/opcodes"
)

type EventKind int

const (
	EventOpen EventKind = iota
	EventClose
	EventIdentifySent
	EventResumeSent
	EventHeartbeatSent
	EventHeartbeatAck
	EventReady
	EventResumed
	EventDispatch
	EventMembersChunked
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventIdentifySent:
		return "identify_sent"
	case EventResumeSent:
		return "resume_sent"
	case EventHeartbeatSent:
		return "heartbeat_sent"
	case EventHeartbeatAck:
		return "heartbeat_ack"
	case EventReady:
		return "ready"
	case EventResumed:
		return "resumed"
	case EventDispatch:
		return "dispatch"
	case EventMembersChunked:
		return "members_chunked"
	default:
		return "unknown"
	}
}

// Event is one entry of a shard's event stream. Only the fields relevant to
// Kind are set.
type Event struct {
	Shard int
	Kind  EventKind

	// EventDispatch
	Type     string
	Sequence int64
	Data     json.RawMessage

	// EventClose
	Code    int
	Verdict opcodes.Verdict

	// EventHeartbeatAck
	Latency time.Duration

	// EventResumed
	Replayed int

	// EventReady
	SessionID string

	// EventMembersChunked
	Nonce    string
	NotFound bool
}
