package domain

import "errors"

var (
	ErrReceiverUnreachable = errors.New("receiver unreachable")
	ErrInvalidState        = errors.New("invalid state")
	ErrAlreadyBound        = errors.New("connection already bound to another identity")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrNotPresent          = errors.New("identity not present")
	ErrSessionNotFound     = errors.New("call session not found")
	ErrNotParticipant      = errors.New("not a participant of this call")
	ErrIdentityRequired    = errors.New("identity required")
	ErrInvalidRole         = errors.New("invalid role")
	ErrNotRoomMember       = errors.New("not a member of this room")
	ErrBadRequest          = errors.New("bad request")
)

// Wire codes carried by the "error" and "call-failed" events.
const (
	CodeReceiverUnreachable = "ReceiverUnreachable"
	CodeInvalidState        = "InvalidState"
	CodeAlreadyBound        = "AlreadyBound"
	CodeNotFound            = "NotFound"
	CodeNotParticipant      = "NotParticipant"
	CodeIdentityRequired    = "IdentityRequired"
	CodeBadRequest          = "BadRequest"
	CodeInternal            = "Internal"
)

// ErrorCode maps an error returned by the core to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrReceiverUnreachable):
		return CodeReceiverUnreachable
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrAlreadyBound):
		return CodeAlreadyBound
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrConnectionNotFound), errors.Is(err, ErrNotPresent):
		return CodeNotFound
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrNotRoomMember):
		return CodeNotParticipant
	case errors.Is(err, ErrIdentityRequired):
		return CodeIdentityRequired
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrInvalidRole):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}
