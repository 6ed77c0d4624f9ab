package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle state of a resource request. Any value may follow any other.
type RequestStatus string

const (
	RequestPending       RequestStatus = "Pending"
	RequestRequested     RequestStatus = "Requested"
	RequestToBeRequested RequestStatus = "To be requested"
	RequestOngoing       RequestStatus = "On-going"
	RequestDone          RequestStatus = "Done"
)

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestRequested, RequestToBeRequested, RequestOngoing, RequestDone:
		return true
	}
	return false
}

// RequestPriority is the request priority level.
type RequestPriority string

const (
	RequestPriorityLow    RequestPriority = "low"
	RequestPriorityMedium RequestPriority = "medium"
	RequestPriorityHigh   RequestPriority = "high"
)

// Valid reports whether p is a known priority.
func (p RequestPriority) Valid() bool {
	switch p {
	case RequestPriorityLow, RequestPriorityMedium, RequestPriorityHigh:
		return true
	}
	return false
}

// Request is a resource or support need raised by a startup team.
type Request struct {
	ID                        uuid.UUID       `json:"id"`
	GroupID                   uuid.UUID       `json:"group_id"`
	ResponsibleTeamMember     uuid.UUID       `json:"responsible_team_member"`
	ResponsibleTeamMemberName string          `json:"responsible_team_member_name"`
	Description               string          `json:"description"`
	TechnicalRequirement      string          `json:"technical_requirement"`
	DateEntry                 time.Time       `json:"date_entry"`
	DateNeeded                *time.Time      `json:"date_needed,omitempty"`
	ResourceToolNeeded        string          `json:"resource_tool_needed"`
	ProspectResourcePerson    string          `json:"prospect_resource_person"`
	PriorityLevel             RequestPriority `json:"priority_level"`
	Remarks                   string          `json:"remarks"`
	Status                    RequestStatus   `json:"status"`
	CreatedBy                 uuid.UUID       `json:"created_by"`
	UpdatedAt                 time.Time       `json:"updated_at"`
}
