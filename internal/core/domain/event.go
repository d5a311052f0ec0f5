package domain

import "encoding/json"

type EventName string

// Inbound events.
const (
	EventAnnounceIdentity EventName = "announce-identity"
	EventCallInitiate     EventName = "call-initiate"
	EventCallResponse     EventName = "call-response"
	EventJoinRoom         EventName = "join-room"
	EventLeaveRoom        EventName = "leave-room"
	EventEndCall          EventName = "end-call"
	EventRoomSignal       EventName = "room-signal"
)

// Outbound events.
const (
	EventIdentityAnnounced EventName = "identity-announced"
	EventCallIncoming      EventName = "call-incoming"
	EventCallRinging       EventName = "call-ringing"
	EventCallFailed        EventName = "call-failed"
	EventCallAccepted      EventName = "call-accepted"
	EventCallRejected      EventName = "call-rejected"
	EventPeerJoined        EventName = "peer-joined"
	EventPeerLeft          EventName = "peer-left"
	EventRoomJoined        EventName = "room-joined"
	EventCallEnded         EventName = "call-ended"
	EventError             EventName = "error"
)

var inboundEvents = map[EventName]struct{}{
	EventAnnounceIdentity: {},
	EventCallInitiate:     {},
	EventCallResponse:     {},
	EventJoinRoom:         {},
	EventLeaveRoom:        {},
	EventEndCall:          {},
	EventRoomSignal:       {},
}

func (e EventName) Inbound() bool {
	_, ok := inboundEvents[e]
	return ok
}

// Inbound is a decoded client frame. Data is decoded lazily by the handler
// registered for Name.
type Inbound struct {
	Name EventName       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame.
type Event struct {
	Name EventName `json:"event"`
	Data any       `json:"data,omitempty"`
}

type AnnounceIdentity struct {
	Role     Role     `json:"role"`
	Identity Identity `json:"identity"`
}

type CallInitiate struct {
	CallerID   Identity        `json:"callerId"`
	ReceiverID Identity        `json:"receiverId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type CallResponse struct {
	CallID   CallID `json:"callId"`
	Accepted bool   `json:"accepted"`
}

type JoinRoom struct {
	RoomName RoomName `json:"roomName"`
	Identity Identity `json:"identity,omitempty"`
}

type LeaveRoom struct {
	RoomName RoomName `json:"roomName"`
}

type EndCall struct {
	CallID CallID    `json:"callId"`
	Reason EndReason `json:"reason,omitempty"`
}

type RoomSignal struct {
	RoomName RoomName        `json:"roomName"`
	Payload  json.RawMessage `json:"payload"`
}

type IdentityAnnounced struct {
	Identity     Identity     `json:"identity"`
	Role         Role         `json:"role"`
	ConnectionID ConnectionID `json:"connectionId"`
}

type CallIncoming struct {
	CallID     CallID          `json:"callId"`
	RoomName   RoomName        `json:"roomName"`
	CallerID   Identity        `json:"callerId"`
	ReceiverID Identity        `json:"receiverId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type CallRinging struct {
	CallID     CallID   `json:"callId"`
	RoomName   RoomName `json:"roomName"`
	ReceiverID Identity `json:"receiverId"`
}

type CallFailed struct {
	ReceiverID Identity `json:"receiverId"`
	Reason     string   `json:"reason"`
}

// CallAnswer is the data of call-accepted and call-rejected.
type CallAnswer struct {
	CallID     CallID   `json:"callId"`
	RoomName   RoomName `json:"roomName"`
	CallerID   Identity `json:"callerId"`
	ReceiverID Identity `json:"receiverId"`
}

type PeerPresence struct {
	RoomName RoomName `json:"roomName"`
	Identity Identity `json:"identity"`
}

type RoomJoined struct {
	RoomName RoomName   `json:"roomName"`
	CallID   CallID     `json:"callId"`
	Peers    []Identity `json:"peers"`
}

type CallEnded struct {
	CallID   CallID    `json:"callId"`
	RoomName RoomName  `json:"roomName"`
	Reason   EndReason `json:"reason"`
}

type RoomSignalRelay struct {
	RoomName RoomName        `json:"roomName"`
	From     Identity        `json:"from"`
	Payload  json.RawMessage `json:"payload"`
}

type ErrorData struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Event   EventName `json:"event,omitempty"`
}

func NewErrorEvent(origin EventName, err error) Event {
	return Event{
		Name: EventError,
		Data: ErrorData{Code: ErrorCode(err), Message: err.Error(), Event: origin},
	}
}
