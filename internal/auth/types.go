package auth

import "errors"

// Role is the permission level carried in an access token.
type Role string

// RoleOperator may list inputs, toggle mute and set volume.
const RoleOperator Role = "operator"

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleOperator
}

// Sentinel errors.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenInvalid       = errors.New("auth: invalid token")
)
