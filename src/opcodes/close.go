package opcodes

// Close codes received from the gateway or raised locally by the shard.
// Codes 49xx never come from the server; the shard uses them to close its own
// socket so the reason survives into the decision table.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseNoStatus  = 1005
	CloseAbnormal  = 1006
	CloseTLS       = 1015

	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSequence      = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014

	CloseReconnectRequested       = 4900
	CloseHeartbeatTimeout         = 4901
	CloseConnectTimeout           = 4902
	CloseInvalidSessionResumable  = 4903
	CloseInvalidSessionNewSession = 4904
	CloseInternalError            = 4905
	CloseIdentifyLockFailed       = 4906
	CloseUserTerminate            = 4999
)

// Verdict is what the shard should do after its socket closed with a code.
type Verdict struct {
	Reconnect    bool `json:"reconnect"`
	ClearSession bool `json:"clear_session"`
}

var closeTable = map[int]Verdict{
	CloseNormal:    {Reconnect: true, ClearSession: true},
	CloseGoingAway: {Reconnect: true},
	CloseAbnormal:  {Reconnect: true},

	CloseUnknownError:         {Reconnect: true},
	CloseUnknownOpcode:        {Reconnect: true},
	CloseDecodeError:          {Reconnect: true},
	CloseNotAuthenticated:     {Reconnect: true, ClearSession: true},
	CloseAuthenticationFailed: {},
	CloseAlreadyAuthenticated: {},
	CloseInvalidSequence:      {Reconnect: true, ClearSession: true},
	CloseRateLimited:          {Reconnect: true},
	CloseSessionTimedOut:      {Reconnect: true, ClearSession: true},
	CloseInvalidShard:         {ClearSession: true},
	CloseShardingRequired:     {ClearSession: true},
	CloseInvalidAPIVersion:    {ClearSession: true},
	CloseInvalidIntents:       {ClearSession: true},
	CloseDisallowedIntents:    {ClearSession: true},

	CloseReconnectRequested:       {Reconnect: true},
	CloseHeartbeatTimeout:         {Reconnect: true},
	CloseConnectTimeout:           {Reconnect: true},
	CloseInvalidSessionResumable:  {Reconnect: true},
	CloseInvalidSessionNewSession: {Reconnect: true, ClearSession: true},
	CloseInternalError:            {Reconnect: true},
	CloseIdentifyLockFailed:       {Reconnect: true},
	CloseUserTerminate:            {},
}

// Classify maps a close code to its recovery verdict. Codes missing from the
// table are treated as transient network failures.
//
// Clean close (1000) clears the session while going-away (1001) keeps it; the
// asymmetry matches how the gateway treats those codes and is kept on purpose.
func Classify(code int) Verdict {
	if v, ok := closeTable[code]; ok {
		return v
	}
	return Verdict{Reconnect: true}
}

// WireCode returns the code to put on a close frame we send. Reserved codes
// that must not appear on the wire are mapped to CloseReconnectRequested,
// which also keeps the server side session resumable.
func WireCode(code int) int {
	switch {
	case code == CloseNormal, code == CloseGoingAway:
		return code
	case code >= 3000 && code <= 4999:
		return code
	default:
		return CloseReconnectRequested
	}
}

// CloseName is a short label for logs and metrics.
func CloseName(code int) string {
	switch code {
	case CloseNormal:
		return "normal"
	case CloseGoingAway:
		return "going_away"
	case CloseNoStatus:
		return "no_status"
	case CloseAbnormal:
		return "abnormal"
	case CloseTLS:
		return "tls"
	case CloseUnknownError:
		return "unknown_error"
	case CloseUnknownOpcode:
		return "unknown_opcode"
	case CloseDecodeError:
		return "decode_error"
	case CloseNotAuthenticated:
		return "not_authenticated"
	case CloseAuthenticationFailed:
		return "authentication_failed"
	case CloseAlreadyAuthenticated:
		return "already_authenticated"
	case CloseInvalidSequence:
		return "invalid_sequence"
	case CloseRateLimited:
		return "rate_limited"
	case CloseSessionTimedOut:
		return "session_timed_out"
	case CloseInvalidShard:
		return "invalid_shard"
	case CloseShardingRequired:
		return "sharding_required"
	case CloseInvalidAPIVersion:
		return "invalid_api_version"
	case CloseInvalidIntents:
		return "invalid_intents"
	case CloseDisallowedIntents:
		return "disallowed_intents"
	case CloseReconnectRequested:
		return "reconnect_requested"
	case CloseHeartbeatTimeout:
		return "heartbeat_timeout"
	case CloseConnectTimeout:
		return "connect_timeout"
	case CloseInvalidSessionResumable:
		return "invalid_session_resumable"
	case CloseInvalidSessionNewSession:
		return "invalid_session"
	case CloseInternalError:
		return "internal_error"
	case CloseIdentifyLockFailed:
		return "identify_lock_failed"
	case CloseUserTerminate:
		return "user_terminate"
	default:
		return "other"
	}
}
