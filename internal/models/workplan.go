package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the workplan task state. Only these two values are ever persisted.
type TaskStatus string

const (
	TaskPending   TaskStatus = "Pending"
	TaskCompleted TaskStatus = "Completed"
)

// Valid reports whether s is a persistable task status.
func (s TaskStatus) Valid() bool {
	return s == TaskPending || s == TaskCompleted
}

// TaskPriority is the workplan priority level.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "Low"
	TaskPriorityMedium TaskPriority = "Medium"
	TaskPriorityHigh   TaskPriority = "High"
)

// Valid reports whether p is a known priority.
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh:
		return true
	}
	return false
}

// Rank orders priorities for display: High first.
func (p TaskPriority) Rank() int {
	switch p {
	case TaskPriorityHigh:
		return 0
	case TaskPriorityMedium:
		return 1
	case TaskPriorityLow:
		return 2
	}
	return 3
}

// Task is one workplan entry of a group.
type Task struct {
	ID             uuid.UUID    `json:"id"`
	GroupID        uuid.UUID    `json:"group_id"`
	TaskName       string       `json:"task_name"`
	AssignedTo     uuid.UUID    `json:"assigned_to"`
	AssignedToName string       `json:"assigned_to_name"`
	StartDate      time.Time    `json:"start_date"`
	EndDate        time.Time    `json:"end_date"`
	PriorityLevel  TaskPriority `json:"priority_level"`
	Status         TaskStatus   `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Workplan is a group's sorted task list with derived progress.
type Workplan struct {
	GroupID  uuid.UUID `json:"group_id"`
	Tasks    []Task    `json:"tasks"`
	Progress int       `json:"progress"`
}
