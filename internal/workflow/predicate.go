package workflow

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Predicate declares who may decide a stage. Every non-empty clause must
// hold; AnyOf additionally requires at least one nested predicate to hold.
// A predicate with no clauses matches nobody.
type Predicate struct {
	// Roles the actor must hold one of.
	Roles []string
	// Departments the actor must belong to or lead, any one of.
	Departments []string
	// LeadsRequestDepartment requires the actor to lead the request's department.
	LeadsRequestDepartment bool
	// Participant requires the actor id to equal the request participant under this key.
	Participant string
	// Expr is a CEL expression over `actor` and `request` returning bool.
	Expr  string
	AnyOf []Predicate
}

// IsZero reports whether p carries no clauses.
func (p Predicate) IsZero() bool {
	return len(p.Roles) == 0 && len(p.Departments) == 0 && !p.LeadsRequestDepartment &&
		p.Participant == "" && p.Expr == "" && len(p.AnyOf) == 0
}

// Matches evaluates p for actor against subject. CEL errors count as no match
// and are returned for logging.
func (p Predicate) Matches(eval *Evaluator, actor Actor, subject Subject) (bool, error) {
	if p.IsZero() {
		return false, nil
	}

	if len(p.Roles) > 0 && !contains(p.Roles, actor.Role) {
		return false, nil
	}

	if len(p.Departments) > 0 {
		ok := false
		for _, d := range p.Departments {
			if actor.InDepartment(d) {
				ok = true
				break
			}
		}
		if !ok {
			return false, nil
		}
	}

	if p.LeadsRequestDepartment && !actor.LeadsDepartment(subject.Department) {
		return false, nil
	}

	if p.Participant != "" {
		id := subject.Participants[p.Participant]
		if id == "" || id != actor.ID {
			return false, nil
		}
	}

	if p.Expr != "" {
		if eval == nil {
			return false, fmt.Errorf("expression %q: no evaluator configured", p.Expr)
		}
		ok, err := eval.Evaluate(p.Expr, actor, subject)
		if err != nil || !ok {
			return false, err
		}
	}

	if len(p.AnyOf) > 0 {
		var firstErr error
		for _, child := range p.AnyOf {
			ok, err := child.Matches(eval, actor, subject)
			if ok {
				return true, nil
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return false, firstErr
	}

	return true, nil
}

func (p Predicate) expressions() []string {
	var out []string
	if p.Expr != "" {
		out = append(out, p.Expr)
	}
	for _, c := range p.AnyOf {
		out = append(out, c.expressions()...)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ── CEL evaluation ────────────────────────────────────────────────────────────

// Evaluator compiles and caches CEL stage expressions.
type Evaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator declares `actor` and `request` as string-keyed maps.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("actor", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Evaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Compile checks expr and caches its program.
func (e *Evaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[expr]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	e.cache[expr] = prg
	return prg, nil
}

// Evaluate runs expr against the actor and subject.
func (e *Evaluator) Evaluate(expr string, actor Actor, subject Subject) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"actor":   actorVars(actor),
		"request": subjectVars(subject),
	})
	if err != nil {
		return false, fmt.Errorf("CEL eval error: %w", err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q did not return bool", expr)
	}
	return allowed, nil
}

func actorVars(a Actor) map[string]any {
	leads := a.LeadDepartments
	if leads == nil {
		leads = []string{}
	}
	return map[string]any{
		"id":               a.ID,
		"role":             a.Role,
		"department":       a.Department,
		"lead_departments": leads,
	}
}

func subjectVars(s Subject) map[string]any {
	participants := make(map[string]any, len(s.Participants))
	for k, v := range s.Participants {
		participants[k] = v
	}
	attrs := s.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return map[string]any{
		"id":            s.ID,
		"workflow_type": string(s.Type),
		"requester_id":  s.RequesterID,
		"department":    s.Department,
		"category":      s.Category,
		"priority":      s.Priority,
		"participants":  participants,
		"attributes":    attrs,
	}
}
