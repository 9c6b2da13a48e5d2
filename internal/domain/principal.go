package domain

import "slices"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleStaff:
		return true
	}
	return false
}

// Principal is the authenticated caller. Admin has every location accessible.
type Principal struct {
	UserID    string   `json:"userId"`
	Role      Role     `json:"role"`
	Locations []string `json:"accessibleLocations"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

func (p Principal) HasAccessTo(locationID string) bool {
	if locationID == "" {
		return false
	}
	if p.IsAdmin() {
		return true
	}
	return slices.Contains(p.Locations, locationID)
}

func (p Principal) Authenticated() bool {
	return p.UserID != "" && p.Role.Valid()
}
