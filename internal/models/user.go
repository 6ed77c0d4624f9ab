package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a user's role in the incubator.
type Role string

const (
	RoleTBIManager       Role = "TBI Manager"
	RoleTBIAssistant     Role = "TBI Assistant"
	RolePortfolioManager Role = "Portfolio Manager"
	RoleProjectManager   Role = "Project Manager"
	RoleSystemAnalyst    Role = "System Analyst"
	RoleDeveloper        Role = "Developer"
	RoleIncubatee        Role = "Incubatee"
)

// UserStatus is the approval state of an account. Rejected accounts are deleted, not stored.
type UserStatus string

const (
	StatusPending  UserStatus = "pending"
	StatusApproved UserStatus = "approved"
)

// IsAdmin reports whether the role belongs to the administrator class.
func (r Role) IsAdmin() bool {
	return r == RoleTBIManager || r == RoleTBIAssistant
}

// IsEmployee reports whether the role belongs to the employee class.
func (r Role) IsEmployee() bool {
	return r == RolePortfolioManager
}

// IsIncubatee reports whether the role belongs to a startup team member.
func (r Role) IsIncubatee() bool {
	switch r {
	case RoleIncubatee, RoleProjectManager, RoleSystemAnalyst, RoleDeveloper:
		return true
	}
	return false
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r.IsAdmin() || r.IsEmployee() || r.IsIncubatee()
}

// AdminRoles lists the administrator roles.
var AdminRoles = []Role{RoleTBIManager, RoleTBIAssistant}

// SocialLinks holds optional profile links.
type SocialLinks struct {
	Facebook  string `json:"facebook,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
	Twitter   string `json:"twitter,omitempty"`
	Instagram string `json:"instagram,omitempty"`
}

// User represents an account in the directory.
type User struct {
	ID          uuid.UUID   `json:"id"`
	Email       string      `json:"email"`
	Password    string      `json:"-"`
	Name        string      `json:"name"`
	Lastname    string      `json:"lastname"`
	Mobile      string      `json:"mobile"`
	Role        Role        `json:"role"`
	Status      UserStatus  `json:"status"`
	GroupID     *uuid.UUID  `json:"group_id,omitempty"`
	LastOnline  *time.Time  `json:"last_online,omitempty"`
	SocialLinks SocialLinks `json:"social_links"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID          uuid.UUID   `json:"id"`
	Email       string      `json:"email"`
	Name        string      `json:"name"`
	Lastname    string      `json:"lastname"`
	Mobile      string      `json:"mobile"`
	Role        Role        `json:"role"`
	Status      UserStatus  `json:"status"`
	GroupID     *uuid.UUID  `json:"group_id,omitempty"`
	LastOnline  *time.Time  `json:"last_online,omitempty"`
	SocialLinks SocialLinks `json:"social_links"`
	CreatedAt   time.Time   `json:"created_at"`
}

// FullName is the display name "Name Lastname".
func (u *User) FullName() string {
	if u.Lastname == "" {
		return u.Name
	}
	return u.Name + " " + u.Lastname
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Lastname:    u.Lastname,
		Mobile:      u.Mobile,
		Role:        u.Role,
		Status:      u.Status,
		GroupID:     u.GroupID,
		LastOnline:  u.LastOnline,
		SocialLinks: u.SocialLinks,
		CreatedAt:   u.CreatedAt,
	}
}

// UserFilter narrows directory queries.
type UserFilter struct {
	Status     UserStatus
	Roles      []Role
	Unassigned bool
}
