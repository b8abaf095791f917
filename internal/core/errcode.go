package core

import "fmt"

// ErrCode is a stable numeric code delivered to clients in every
// failed acknowledgment. Values are part of the wire contract.
type ErrCode int

const (
	CodeOK ErrCode = 0

	SystemError       ErrCode = -1
	IllegalRequest    ErrCode = -2
	IllegalParameters ErrCode = -3
	Unauthorized      ErrCode = -4
	InvalidAuthInfo   ErrCode = -5

	LiveContestExisted        ErrCode = 100000
	LiveContestNotFound       ErrCode = 100001
	LiveContestMemberNotFound ErrCode = 100002

	BroadcastNotReady                      ErrCode = 200000
	BroadcastMediaRoomBroken               ErrCode = 200001
	BroadcastMediaRoomPeerMissing          ErrCode = 200002
	BroadcastMediaRoomRequiredTrackMissing ErrCode = 200003
	BroadcastMediaRoomCannotConsume        ErrCode = 200004
)

var errMessages = map[ErrCode]string{
	SystemError:       "system error, please try again later",
	IllegalRequest:    "illegal request",
	IllegalParameters: "illegal parameters",
	Unauthorized:      "unauthorized operation",
	InvalidAuthInfo:   "authorization failed due to invalid auth info",

	LiveContestExisted:        "live contest already exists",
	LiveContestNotFound:       "live contest not found",
	LiveContestMemberNotFound: "live contest member not found",

	BroadcastNotReady:                      "broadcast is not ready",
	BroadcastMediaRoomBroken:               "broadcast media room is broken",
	BroadcastMediaRoomPeerMissing:          "broadcast media room peer is missing",
	BroadcastMediaRoomRequiredTrackMissing: "requested broadcast track is missing",
	BroadcastMediaRoomCannotConsume:        "cannot consume requested broadcast track",
}

// Message returns the human-readable message for a code. Unknown codes
// fall back to the SystemError message, clients treat them the same way.
func Message(code ErrCode) string {
	if msg, ok := errMessages[code]; ok {
		return msg
	}
	return errMessages[SystemError]
}

// LogicError is a domain error raised inside an event handler. The
// dispatch boundary converts it into the acknowledgment envelope; it
// never reaches the caller as a transport-level failure.
type LogicError struct {
	Code ErrCode
}

func NewLogicError(code ErrCode) *LogicError {
	return &LogicError{Code: code}
}

func (e *LogicError) Error() string {
	return fmt.Sprintf("logic error %d: %s", e.Code, Message(e.Code))
}
