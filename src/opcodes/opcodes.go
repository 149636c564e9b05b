package opcodes

import "strconv"

// 0	Dispatch	Receive	An event was dispatched.
// 1	Heartbeat	Send/Receive	Fired periodically by the client to keep the connection alive.
// 2	Identify	Send	Starts a new session during the initial handshake.
// 3	Presence Update	Send	Update the client's presence.
// 4	Voice State Update	Send	Used to join/leave or move between voice channels.
// 6	Resume	Send	Resume a previous session that was disconnected.
// 7	Reconnect	Receive	You should attempt to reconnect and resume immediately.
// 8	Request Guild Members	Send	Request information about offline guild members in a large guild.
// 9	Invalid Session	Receive	The session has been invalidated. You should reconnect and identify/resume accordingly.
// 10	Hello	Receive	Sent immediately after connecting, contains the heartbeat_interval to use.
// 11	Heartbeat ACK	Receive	Sent in response to receiving a heartbeat to acknowledge that it has been received.

// Op is a gateway operation code.
type Op int

const (
	Dispatch            Op = 0
	Heartbeat           Op = 1
	Identify            Op = 2
	PresenceUpdate      Op = 3
	VoiceStateUpdate    Op = 4
	Resume              Op = 6
	Reconnect           Op = 7
	RequestGuildMembers Op = 8
	InvalidSession      Op = 9
	Hello               Op = 10
	HeartbeatACK        Op = 11
)

// Priority reports whether frames with this opcode may use the outbound
// headroom reserved for keeping the session alive.
func (o Op) Priority() bool {
	return o == Heartbeat || o == Resume
}

func (o Op) String() string {
	switch o {
	case Dispatch:
		return "DISPATCH"
	case Heartbeat:
		return "HEARTBEAT"
	case Identify:
		return "IDENTIFY"
	case PresenceUpdate:
		return "PRESENCE_UPDATE"
	case VoiceStateUpdate:
		return "VOICE_STATE_UPDATE"
	case Resume:
		return "RESUME"
	case Reconnect:
		return "RECONNECT"
	case RequestGuildMembers:
		return "REQUEST_GUILD_MEMBERS"
	case InvalidSession:
		return "INVALID_SESSION"
	case Hello:
		return "HELLO"
	case HeartbeatACK:
		return "HEARTBEAT_ACK"
	default:
		return "OP_" + strconv.Itoa(int(o))
	}
}
