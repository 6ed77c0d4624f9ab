package models

import (
	"time"

	"github.com/google/uuid"
)

// GroupRole is a member's role inside a startup team.
type GroupRole string

const (
	GroupRoleProjectManager GroupRole = "Project Manager"
	GroupRoleSystemAnalyst  GroupRole = "System Analyst"
	GroupRoleDeveloper      GroupRole = "Developer"
)

// Valid reports whether g is an assignable group role.
func (g GroupRole) Valid() bool {
	switch g {
	case GroupRoleProjectManager, GroupRoleSystemAnalyst, GroupRoleDeveloper:
		return true
	}
	return false
}

// PortfolioManagerRef is the portfolio manager of a group, resolved from users at read time.
type PortfolioManagerRef struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Lastname string    `json:"lastname"`
	Email    string    `json:"email"`
}

// GroupMember is a team member, resolved from users at read time.
type GroupMember struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Lastname  string    `json:"lastname"`
	Email     string    `json:"email"`
	GroupRole GroupRole `json:"group_role"`
	AddedAt   time.Time `json:"added_at"`
}

// FullName is the display name "Name Lastname".
func (m GroupMember) FullName() string {
	if m.Lastname == "" {
		return m.Name
	}
	return m.Name + " " + m.Lastname
}

// Group represents a startup team.
type Group struct {
	ID                 uuid.UUID            `json:"id"`
	Name               string               `json:"name"`
	Description        string               `json:"description"`
	ImageURL           string               `json:"image_url,omitempty"`
	ImageKey           string               `json:"-"`
	PortfolioManagerID *uuid.UUID           `json:"-"`
	PortfolioManager   *PortfolioManagerRef `json:"portfolio_manager,omitempty"`
	Members            []GroupMember        `json:"members"`
	Archived           bool                 `json:"archived"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// Member returns the member with the given user id.
func (g *Group) Member(userID uuid.UUID) (GroupMember, bool) {
	for _, m := range g.Members {
		if m.ID == userID {
			return m, true
		}
	}
	return GroupMember{}, false
}

// ProjectManager returns the member holding the Project Manager role, if any.
func (g *Group) ProjectManager() (GroupMember, bool) {
	for _, m := range g.Members {
		if m.GroupRole == GroupRoleProjectManager {
			return m, true
		}
	}
	return GroupMember{}, false
}

// IsPortfolioManager reports whether userID is the group's portfolio manager.
func (g *Group) IsPortfolioManager(userID uuid.UUID) bool {
	return g.PortfolioManagerID != nil && *g.PortfolioManagerID == userID
}
