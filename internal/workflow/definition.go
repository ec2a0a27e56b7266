package workflow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownWorkflow = errors.New("unknown workflow type")
	ErrUnknownStage    = errors.New("unknown stage")
)

// Statuses shared by the built-in workflows.
const (
	StatusOpen                   = "open"
	StatusPendingApproval        = "pending_approval"
	StatusApproved               = "approved"
	StatusApprovedForProcurement = "approved_for_procurement"
	StatusRejected               = "rejected"
)

// Built-in stage names.
const (
	StageDepartmentLead   = "department_lead"
	StageHeadCorporate    = "head_corporate_services"
	StageManagingDirector = "managing_director"
	StageReliever         = "reliever"
	StageSupervisor       = "supervisor"
	StageHR               = "hr"
)

// Participant keys recorded on leave requests at creation.
const (
	ParticipantReliever   = "reliever"
	ParticipantSupervisor = "supervisor"
)

const (
	DepartmentAdminHR       = "Admin & HR"
	DepartmentExecutiveMgmt = "Executive Management"
)

// Extension points wired by the service layer.
const (
	GateEvidence           = "evidence"
	HookDeductLeaveBalance = "deduct_leave_balance"
)

// Stage is one step of a sequential chain.
type Stage struct {
	Name      string
	Label     string
	SLA       time.Duration
	Predicate Predicate
}

// Definition is the immutable description of one workflow type.
type Definition struct {
	Type           Type
	Stages         []Stage
	ActiveStatus   string
	SuccessStatus  string
	RejectedStatus string

	RequireCommentsOnReject  bool
	RequireCommentsOnApprove bool

	// TerminalGate names a precondition checked before the last stage may
	// resolve to approval. Empty means no gate.
	TerminalGate string
	// OnApproved names hooks run inside the decide transaction once the
	// request reaches its success status.
	OnApproved []string
}

// IsTerminalStatus reports whether status is absorbing for this workflow.
func (d *Definition) IsTerminalStatus(status string) bool {
	return status == d.SuccessStatus || status == d.RejectedStatus
}

// CommentsRequired applies the per-decision comment policy.
func (d *Definition) CommentsRequired(decision string) bool {
	switch decision {
	case DecisionRejected:
		return d.RequireCommentsOnReject
	case DecisionApproved:
		return d.RequireCommentsOnApprove
	}
	return false
}

func (d *Definition) stageIndex(name string) int {
	for i, s := range d.Stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func (d *Definition) validate() error {
	if d.Type == "" {
		return errors.New("workflow type is required")
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("workflow %s: at least one stage is required", d.Type)
	}
	if d.ActiveStatus == "" || d.SuccessStatus == "" || d.RejectedStatus == "" {
		return fmt.Errorf("workflow %s: active, success and rejected statuses are required", d.Type)
	}
	seen := make(map[string]struct{}, len(d.Stages))
	for _, s := range d.Stages {
		if s.Name == "" {
			return fmt.Errorf("workflow %s: stage name is required", d.Type)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("workflow %s: duplicate stage %q", d.Type, s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Predicate.IsZero() {
			return fmt.Errorf("workflow %s: stage %q has no authorization predicate", d.Type, s.Name)
		}
	}
	return nil
}

// Registry holds the definitions for every workflow type and answers
// sequencing questions over them.
type Registry struct {
	defs map[Type]*Definition
}

// NewRegistry validates defs and indexes them by type.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{defs: make(map[Type]*Definition, len(defs))}
	for i := range defs {
		d := defs[i]
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.defs[d.Type]; dup {
			return nil, fmt.Errorf("duplicate workflow type %q", d.Type)
		}
		r.defs[d.Type] = &d
	}
	return r, nil
}

// Definition returns the definition for t.
func (r *Registry) Definition(t Type) (*Definition, error) {
	d, ok := r.defs[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, t)
	}
	return d, nil
}

// Types lists the registered workflow types.
func (r *Registry) Types() []Type {
	out := make([]Type, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	return out
}

// FirstStage returns the entry stage of t.
func (r *Registry) FirstStage(t Type) (string, error) {
	d, err := r.Definition(t)
	if err != nil {
		return "", err
	}
	return d.Stages[0].Name, nil
}

// NextStage returns the stage after current. terminal is true when current
// is the last stage, in which case next is empty.
func (r *Registry) NextStage(t Type, current string) (next string, terminal bool, err error) {
	d, err := r.Definition(t)
	if err != nil {
		return "", false, err
	}
	i := d.stageIndex(current)
	if i < 0 {
		return "", false, fmt.Errorf("%w: %s/%s", ErrUnknownStage, t, current)
	}
	if i == len(d.Stages)-1 {
		return "", true, nil
	}
	return d.Stages[i+1].Name, false, nil
}

// IsValidStage reports whether stage belongs to t.
func (r *Registry) IsValidStage(t Type, stage string) bool {
	d, ok := r.defs[t]
	return ok && d.stageIndex(stage) >= 0
}

// Stage returns the named stage of t.
func (r *Registry) Stage(t Type, name string) (Stage, error) {
	d, err := r.Definition(t)
	if err != nil {
		return Stage{}, err
	}
	i := d.stageIndex(name)
	if i < 0 {
		return Stage{}, fmt.Errorf("%w: %s/%s", ErrUnknownStage, t, name)
	}
	return d.Stages[i], nil
}

// StageOrder returns the position of stage in t, or -1.
func (r *Registry) StageOrder(t Type, stage string) int {
	d, ok := r.defs[t]
	if !ok {
		return -1
	}
	return d.stageIndex(stage)
}

// DefaultDefinitions returns the built-in procurement and leave chains.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Type: Procurement,
			Stages: []Stage{
				{
					Name:  StageDepartmentLead,
					Label: "Department Lead",
					SLA:   48 * time.Hour,
					Predicate: Predicate{
						Roles:                  []string{RoleLead, RoleAdmin},
						LeadsRequestDepartment: true,
					},
				},
				{
					Name:  StageHeadCorporate,
					Label: "Head of Corporate Services",
					SLA:   48 * time.Hour,
					Predicate: Predicate{
						Roles:       []string{RoleAdmin, RoleSuperAdmin},
						Departments: []string{DepartmentAdminHR},
					},
				},
				{
					Name:  StageManagingDirector,
					Label: "Managing Director",
					SLA:   72 * time.Hour,
					Predicate: Predicate{
						AnyOf: []Predicate{
							{Roles: []string{RoleSuperAdmin}},
							{Roles: []string{RoleAdmin}, Departments: []string{DepartmentExecutiveMgmt}},
						},
					},
				},
			},
			ActiveStatus:            StatusPendingApproval,
			SuccessStatus:           StatusApprovedForProcurement,
			RejectedStatus:          StatusRejected,
			RequireCommentsOnReject: true,
		},
		{
			Type: Leave,
			Stages: []Stage{
				{
					Name:      StageReliever,
					Label:     "Reliever",
					SLA:       24 * time.Hour,
					Predicate: Predicate{Participant: ParticipantReliever},
				},
				{
					Name:      StageSupervisor,
					Label:     "Supervisor",
					SLA:       48 * time.Hour,
					Predicate: Predicate{Participant: ParticipantSupervisor},
				},
				{
					Name:      StageHR,
					Label:     "Human Resources",
					SLA:       48 * time.Hour,
					Predicate: Predicate{Roles: []string{RoleAdmin, RoleSuperAdmin}},
				},
			},
			ActiveStatus:            StatusPendingApproval,
			SuccessStatus:           StatusApproved,
			RejectedStatus:          StatusRejected,
			RequireCommentsOnReject: true,
			TerminalGate:            GateEvidence,
			OnApproved:              []string{HookDeductLeaveBalance},
		},
	}
}
