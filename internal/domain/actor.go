package domain

// Role identifies who is acting on a booking.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// SystemActorID is recorded on timeline entries written by the engine itself.
const SystemActorID = "system"

// Actor is an authenticated caller.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor returns the actor used by background jobs.
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Role: RoleSystem}
}

// ParseRole returns the role for s, or false if s is unknown.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleCustomer, RoleDriver, RoleAdmin, RoleSystem:
		return Role(s), true
	}
	return "", false
}
