package model

// Role names carried in the access token.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	UserID string
	Name   string
	Role   string
}

// IsAdmin reports whether the actor may use admin-only operations.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
