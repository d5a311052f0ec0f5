package domain

import "time"

type Role string

const (
	RoleProvider  Role = "provider"
	RoleRequester Role = "requester"
)

func (r Role) Valid() bool {
	return r == RoleProvider || r == RoleRequester
}

// Connection is the registry's record of a live transport session.
type Connection struct {
	ID          ConnectionID
	Identity    Identity
	Role        Role
	ConnectedAt time.Time
}

func (c Connection) Bound() bool {
	return c.Identity != ""
}
