// Package workflow holds the static side of the approval engine: stage
// definitions per workflow type, the sequencer over them and the resolver
// that decides who may act on a stage.
package workflow

import "strings"

// Type identifies a workflow instantiation.
type Type string

const (
	Procurement Type = "procurement"
	Leave       Type = "leave"
)

// Decisions an approver can record on a pending stage.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Actor roles known to the directory.
const (
	RoleEmployee   = "employee"
	RoleLead       = "lead"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Actor is the directory view of a person acting on a request.
type Actor struct {
	ID              string
	Role            string
	Department      string
	LeadDepartments []string
}

// LeadsDepartment reports whether the actor leads dept. An empty lead list
// falls back to the actor's own department.
func (a Actor) LeadsDepartment(dept string) bool {
	if len(a.LeadDepartments) == 0 {
		return sameDepartment(a.Department, dept)
	}
	for _, d := range a.LeadDepartments {
		if sameDepartment(d, dept) {
			return true
		}
	}
	return false
}

// InDepartment reports whether dept is the actor's own department or one they lead.
func (a Actor) InDepartment(dept string) bool {
	if sameDepartment(a.Department, dept) {
		return true
	}
	for _, d := range a.LeadDepartments {
		if sameDepartment(d, dept) {
			return true
		}
	}
	return false
}

// Subject is the part of an approval request the resolver looks at.
type Subject struct {
	ID          string
	Type        Type
	RequesterID string
	Department  string
	Category    string
	Priority    string
	// Participants maps a stage-bound role (reliever, supervisor) to the
	// actor id fixed at creation.
	Participants map[string]string
	Attributes   map[string]any
}

func sameDepartment(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
