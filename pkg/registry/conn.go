// Package registry tracks live real-time connections and the role each one
// holds: at most one boss, at most one tool, and any number of guests.
package registry

// Role is the part a connection plays in a session.
type Role string

// Roles.
const (
	RoleUnassigned Role = "unassigned"
	RoleBoss       Role = "boss"
	RoleTool       Role = "tool"
	RoleGuest      Role = "guest"
)

// EventRoleRevoked is sent to a boss or tool connection whose role was taken
// over by a newer claim.
const EventRoleRevoked = "role.revoked"

// Event is an outbound message pushed to connections.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Conn is the transport side of a registered connection.
type Conn interface {
	// ID returns the connection identifier. It must be unique per registry.
	ID() string

	// Send delivers an event. Implementations must be safe for concurrent use.
	Send(ev Event) error

	// Close terminates the connection.
	Close() error
}

// Entry is the registry's view of a connection.
type Entry struct {
	ConnID  string `json:"conn_id"`
	Role    Role   `json:"role"`
	GuestID string `json:"guest_id,omitempty"`
}

// Target selects the recipients of a broadcast.
type Target struct {
	role    Role
	guestID string
	single  bool
}

// ToRole targets every connection holding role.
func ToRole(role Role) Target {
	return Target{role: role}
}

// ToGuest targets every connection bound to guestID. An empty id targets
// nobody.
func ToGuest(guestID string) Target {
	return Target{role: RoleGuest, guestID: guestID, single: true}
}

// Role returns the targeted role.
func (t Target) Role() Role {
	return t.role
}

// GuestID returns the targeted guest id, empty when every holder of the
// role is targeted.
func (t Target) GuestID() string {
	return t.guestID
}

// Single reports whether the target is one guest rather than a whole role.
func (t Target) Single() bool {
	return t.single
}

// String describes the target for logs and metrics.
func (t Target) String() string {
	if t.single {
		return "guest:" + t.guestID
	}
	return string(t.role)
}

// Broadcaster delivers events to a target.
type Broadcaster interface {
	Broadcast(target Target, ev Event) int
}
