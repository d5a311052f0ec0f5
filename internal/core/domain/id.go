package domain

import (
	"github.com/google/uuid"
)

// ConnectionID identifies one live transport session.
type ConnectionID uuid.UUID

// CallID identifies one call attempt.
type CallID uuid.UUID

// Identity is the logical user reference announced by a connection.
type Identity string

// RoomName names an ephemeral broadcast group.
type RoomName string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New())
}

func NewCallID() CallID {
	return CallID(uuid.New())
}

func ParseCallID(s string) (CallID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return CallID{}, err
	}
	return CallID(id), nil
}

func (id ConnectionID) String() string {
	return uuid.UUID(id).String()
}

func (id ConnectionID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id CallID) String() string {
	return uuid.UUID(id).String()
}

func (id CallID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *CallID) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(data)
}

func (id ConnectionID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *ConnectionID) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(data)
}

func (i Identity) String() string {
	return string(i)
}

func (r RoomName) String() string {
	return string(r)
}

// RoomNameFor builds the room used by a call. The call id keeps concurrent
// calls between the same pair apart.
func RoomNameFor(caller, receiver Identity, id CallID) RoomName {
	return RoomName("call:" + string(caller) + ":" + string(receiver) + ":" + id.String())
}
