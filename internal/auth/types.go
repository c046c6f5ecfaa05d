package auth

import "errors"

// Role is the authorisation tier carried in access tokens.
type Role string

const (
	// RoleAdmin manages controllers and operates doors.
	RoleAdmin Role = "admin"

	// RoleViewer may read controller, session and door state only.
	RoleViewer Role = "viewer"
)

// CanOperate reports whether the role may change controllers, sessions or doors.
func (r Role) CanOperate() bool {
	return r == RoleAdmin
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleViewer
}

// Sentinel errors for authentication.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrNotConfigured      = errors.New("operator login is not configured")
)
