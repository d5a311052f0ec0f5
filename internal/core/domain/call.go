package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type CallState string

const (
	StateInitiated CallState = "INITIATED"
	StateRinging   CallState = "RINGING"
	StateAccepted  CallState = "ACCEPTED"
	StateRejected  CallState = "REJECTED"
	StateConnected CallState = "CONNECTED"
	StateEnded     CallState = "ENDED"
)

// EndReason explains why a session reached ENDED.
type EndReason string

const (
	ReasonHangup           EndReason = "Hangup"
	ReasonBusy             EndReason = "Busy"
	ReasonCancelled        EndReason = "Cancelled"
	ReasonTimeout          EndReason = "Timeout"
	ReasonPeerDisconnected EndReason = "PeerDisconnected"
)

// ClientEndReason validates a reason sent with end-call. Timeout and
// PeerDisconnected are produced by the server only and are refused; empty or
// unknown reasons become Hangup.
func ClientEndReason(r EndReason) (EndReason, error) {
	switch r {
	case ReasonHangup, ReasonBusy, ReasonCancelled:
		return r, nil
	case ReasonTimeout, ReasonPeerDisconnected:
		return "", fmt.Errorf("%w: reason %q is reserved", ErrBadRequest, r)
	default:
		return ReasonHangup, nil
	}
}

var transitions = map[CallState][]CallState{
	StateInitiated: {StateRinging, StateEnded},
	StateRinging:   {StateAccepted, StateRejected, StateEnded},
	StateAccepted:  {StateConnected, StateEnded},
	StateConnected: {StateEnded},
}

// CanTransition reports whether from -> to is an edge of the call state machine.
func CanTransition(from, to CallState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s CallState) Terminal() bool {
	return s == StateEnded || s == StateRejected
}

// CallSession is the record of one call attempt. Values handed out by the
// session store are copies.
type CallSession struct {
	ID         CallID          `json:"callId"`
	CallerID   Identity        `json:"callerId"`
	ReceiverID Identity        `json:"receiverId"`
	RoomName   RoomName        `json:"roomName"`
	State      CallState       `json:"state"`
	EndReason  EndReason       `json:"endReason,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func (s CallSession) Involves(id Identity) bool {
	return s.CallerID == id || s.ReceiverID == id
}

// Peer returns the other party of the call.
func (s CallSession) Peer(id Identity) Identity {
	if s.CallerID == id {
		return s.ReceiverID
	}
	return s.CallerID
}
