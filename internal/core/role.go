package core

// Role is resolved once from the credential a connection presented and
// is immutable for the connection's lifetime.
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleDirector    Role = "director"
	RoleShot        Role = "shot"
)

func (r Role) IsProducing() bool {
	return r == RoleBroadcaster || r == RoleShot
}
