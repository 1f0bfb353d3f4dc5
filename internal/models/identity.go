package models

import "errors"

// Role is the privilege class of an authenticated user.
type Role string

const (
	RolePatient  Role = "patient"
	RoleDoctor   Role = "doctor"
	RolePharmacy Role = "pharmacy"
	RoleAdmin    Role = "admin"
)

// ErrInvalidRole is returned when a role string is not one of the known roles.
var ErrInvalidRole = errors.New("invalid role")

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RolePharmacy, RoleAdmin:
		return true
	}
	return false
}

// Realtime reports whether sessions with this role hold a live chat channel.
func (r Role) Realtime() bool {
	return r == RolePatient || r == RoleDoctor || r == RolePharmacy
}

// Identity is the authenticated user summary returned by login/register.
type Identity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Verified bool   `json:"verified"`
}

// Complete reports whether the identity carries the fields a session needs.
func (i *Identity) Complete() bool {
	return i != nil && i.ID != "" && i.Role.Valid()
}

// Credential is the opaque bearer token paired with an Identity.
type Credential string
