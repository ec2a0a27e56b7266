package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type definitionsFile struct {
	Workflows []definitionDoc `yaml:"workflows"`
}

type definitionDoc struct {
	Type                     string     `yaml:"type"`
	ActiveStatus             string     `yaml:"active_status"`
	SuccessStatus            string     `yaml:"success_status"`
	RejectedStatus           string     `yaml:"rejected_status"`
	RequireCommentsOnReject  *bool      `yaml:"require_comments_on_reject"`
	RequireCommentsOnApprove bool       `yaml:"require_comments_on_approve"`
	TerminalGate             string     `yaml:"terminal_gate"`
	OnApproved               []string   `yaml:"on_approved"`
	Stages                   []stageDoc `yaml:"stages"`
}

type stageDoc struct {
	Name      string       `yaml:"name"`
	Label     string       `yaml:"label"`
	SLA       string       `yaml:"sla"`
	Predicate predicateDoc `yaml:"predicate"`
}

type predicateDoc struct {
	Roles                  []string       `yaml:"roles"`
	Departments            []string       `yaml:"departments"`
	LeadsRequestDepartment bool           `yaml:"leads_request_department"`
	Participant            string         `yaml:"participant"`
	Expr                   string         `yaml:"expr"`
	AnyOf                  []predicateDoc `yaml:"any_of"`
}

type leavePoliciesFile struct {
	Policies []struct {
		LeaveType         string   `yaml:"leave_type"`
		RequiredDocuments []string `yaml:"required_documents"`
		AllowOverride     bool     `yaml:"allow_override"`
	} `yaml:"leave_policies"`
}

// LoadDefinitions reads workflow definitions from a YAML file.
func LoadDefinitions(path string) ([]Definition, error) {
	// #nosec G304 -- operator-configured path.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes YAML workflow definitions.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var f definitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode workflow definitions: %w", err)
	}

	defs := make([]Definition, 0, len(f.Workflows))
	for _, doc := range f.Workflows {
		d := Definition{
			Type:                     Type(doc.Type),
			ActiveStatus:             orDefault(doc.ActiveStatus, StatusPendingApproval),
			SuccessStatus:            orDefault(doc.SuccessStatus, StatusApproved),
			RejectedStatus:           orDefault(doc.RejectedStatus, StatusRejected),
			RequireCommentsOnReject:  true,
			RequireCommentsOnApprove: doc.RequireCommentsOnApprove,
			TerminalGate:             doc.TerminalGate,
			OnApproved:               doc.OnApproved,
		}
		if doc.RequireCommentsOnReject != nil {
			d.RequireCommentsOnReject = *doc.RequireCommentsOnReject
		}
		for _, sd := range doc.Stages {
			st := Stage{Name: sd.Name, Label: orDefault(sd.Label, sd.Name), Predicate: sd.Predicate.toPredicate()}
			if sd.SLA != "" {
				sla, err := time.ParseDuration(sd.SLA)
				if err != nil {
					return nil, fmt.Errorf("workflow %s stage %s: invalid sla %q: %w", doc.Type, sd.Name, sd.SLA, err)
				}
				st.SLA = sla
			}
			d.Stages = append(d.Stages, st)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// LoadLeavePolicies reads leave policies from a YAML file.
func LoadLeavePolicies(path string) (LeavePolicies, error) {
	// #nosec G304 -- operator-configured path.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read leave policies: %w", err)
	}

	var f leavePoliciesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode leave policies: %w", err)
	}

	out := make(LeavePolicies, len(f.Policies))
	for _, p := range f.Policies {
		if p.LeaveType == "" {
			return nil, fmt.Errorf("leave policy without leave_type")
		}
		out[p.LeaveType] = LeavePolicy{
			LeaveType:         p.LeaveType,
			RequiredDocuments: p.RequiredDocuments,
			AllowOverride:     p.AllowOverride,
		}
	}
	return out, nil
}

// CompileExpressions type-checks every CEL expression in the registry.
func (r *Registry) CompileExpressions(eval *Evaluator) error {
	for t, d := range r.defs {
		for _, s := range d.Stages {
			for _, expr := range s.Predicate.expressions() {
				if err := eval.Compile(expr); err != nil {
					return fmt.Errorf("workflow %s stage %s: %w", t, s.Name, err)
				}
			}
		}
	}
	return nil
}

func (p predicateDoc) toPredicate() Predicate {
	out := Predicate{
		Roles:                  p.Roles,
		Departments:            p.Departments,
		LeadsRequestDepartment: p.LeadsRequestDepartment,
		Participant:            p.Participant,
		Expr:                   p.Expr,
	}
	for _, c := range p.AnyOf {
		out.AnyOf = append(out.AnyOf, c.toPredicate())
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
