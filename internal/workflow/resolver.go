package workflow

import "github.com/rs/zerolog"

// Resolver decides whether an actor may act on a stage of a request.
type Resolver struct {
	registry      *Registry
	eval          *Evaluator
	overrideRoles map[string]struct{}
	log           zerolog.Logger
}

// NewResolver builds a resolver. Actors holding any of overrideRoles may
// decide every stage.
func NewResolver(registry *Registry, eval *Evaluator, overrideRoles []string, log zerolog.Logger) *Resolver {
	roles := make(map[string]struct{}, len(overrideRoles))
	for _, r := range overrideRoles {
		roles[r] = struct{}{}
	}
	return &Resolver{registry: registry, eval: eval, overrideRoles: roles, log: log}
}

// CanDecide never errors; unknown stages and failing expressions deny.
func (r *Resolver) CanDecide(actor Actor, subject Subject, stage string) bool {
	if actor.ID == "" {
		return false
	}
	if r.IsOverride(actor) {
		return true
	}

	st, err := r.registry.Stage(subject.Type, stage)
	if err != nil {
		r.log.Error().Err(err).Str("request_id", subject.ID).Msg("Resolver asked about an unknown stage")
		return false
	}

	ok, err := st.Predicate.Matches(r.eval, actor, subject)
	if err != nil {
		r.log.Warn().Err(err).
			Str("request_id", subject.ID).
			Str("stage", stage).
			Str("actor_id", actor.ID).
			Msg("Stage predicate failed to evaluate")
		return false
	}
	return ok
}

// IsOverride reports whether the actor holds an override role.
func (r *Resolver) IsOverride(actor Actor) bool {
	_, ok := r.overrideRoles[actor.Role]
	return ok
}

// Eligible filters the directory down to actors who may decide stage. Override
// roles are only returned when nobody matches the stage predicate itself.
func (r *Resolver) Eligible(directory []Actor, subject Subject, stage string) []Actor {
	st, err := r.registry.Stage(subject.Type, stage)
	if err != nil {
		r.log.Error().Err(err).Str("request_id", subject.ID).Msg("Eligible approvers requested for an unknown stage")
		return nil
	}

	var direct, override []Actor
	for _, a := range directory {
		if a.ID == "" {
			continue
		}
		if ok, _ := st.Predicate.Matches(r.eval, a, subject); ok {
			direct = append(direct, a)
		} else if r.IsOverride(a) {
			override = append(override, a)
		}
	}
	if len(direct) > 0 {
		return direct
	}
	return override
}
