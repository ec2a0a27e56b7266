package workflow

// LeavePolicy governs the evidence gate for one leave type.
type LeavePolicy struct {
	LeaveType         string
	RequiredDocuments []string
	// AllowOverride lets HR approve with missing documents when comments
	// explain why.
	AllowOverride bool
}

// LeavePolicies is keyed by leave type.
type LeavePolicies map[string]LeavePolicy

// For returns the policy for leaveType. Unknown types require no documents
// and allow no override.
func (p LeavePolicies) For(leaveType string) LeavePolicy {
	if pol, ok := p[leaveType]; ok {
		return pol
	}
	return LeavePolicy{LeaveType: leaveType}
}

// DefaultLeavePolicies returns the built-in policies.
func DefaultLeavePolicies() LeavePolicies {
	return LeavePolicies{
		"annual": {LeaveType: "annual"},
		"sick": {
			LeaveType:         "sick",
			RequiredDocuments: []string{"medical_certificate"},
			AllowOverride:     true,
		},
		"maternity": {
			LeaveType:         "maternity",
			RequiredDocuments: []string{"medical_certificate"},
		},
		"study": {
			LeaveType:         "study",
			RequiredDocuments: []string{"admission_letter"},
			AllowOverride:     true,
		},
		"compassionate": {LeaveType: "compassionate"},
	}
}
