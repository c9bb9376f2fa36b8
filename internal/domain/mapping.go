package domain

import (
	"strata/internal/plan"
)

// MappingKind discriminates the closed set of abstraction mapping kinds.
type MappingKind string

const (
	// Condensed levels merge multiple entities' effects: each abstract
	// literal maps to a disjunctive grouping of concrete literals, any of
	// which discharges it.
	Condensed MappingKind = "condensed"

	// Relaxed levels share the parent's fluent language; stages pass
	// through unchanged.
	Relaxed MappingKind = "relaxed"

	// Tasking levels apply a designer-supplied map from abstract task
	// literals to the concrete literal sets that realise them.
	Tasking MappingKind = "tasking"
)

// Mapping translates a parent level's sub-goal stages into this level's
// fluent language. Exactly one translation rule applies per kind.
type Mapping struct {
	Kind MappingKind `yaml:"kind"`

	// Groups, for condensed mappings: abstract literal -> disjunctive
	// grouping of concrete literals.
	Groups map[plan.Literal][]plan.Literal `yaml:"-"`

	// Tasks, for tasking mappings: abstract task literal -> conjunctive
	// concrete literal set.
	Tasks map[plan.Literal][]plan.Literal `yaml:"-"`
}

func (m *Mapping) validate() error {
	switch m.Kind {
	case Relaxed:
		return nil
	case Condensed:
		if len(m.Groups) == 0 {
			return &plan.ConfigurationError{Field: "mapping", Reason: "condensed mapping has no groupings"}
		}
		for abstract, group := range m.Groups {
			if len(group) == 0 {
				return &plan.ConfigurationError{Field: "mapping",
					Reason: "condensed grouping for " + abstract.String() + " is empty"}
			}
		}
		return nil
	case Tasking:
		if len(m.Tasks) == 0 {
			return &plan.ConfigurationError{Field: "mapping", Reason: "tasking mapping has no task entries"}
		}
		for task, concrete := range m.Tasks {
			if len(concrete) == 0 {
				return &plan.ConfigurationError{Field: "mapping",
					Reason: "tasking entry for " + task.String() + " is empty"}
			}
		}
		return nil
	default:
		return &plan.ConfigurationError{Field: "mapping", Reason: "unknown mapping kind " + string(m.Kind)}
	}
}

// Translate maps one parent stage into this level's language. The stage
// index and source step are preserved; only the literal content changes.
func (m *Mapping) Translate(stage plan.SubGoalStage) (plan.SubGoalStage, error) {
	switch m.Kind {
	case Relaxed:
		return stage, nil

	case Condensed:
		out := plan.SubGoalStage{Index: stage.Index, SourceStep: stage.SourceStep}
		for _, l := range stage.Literals {
			if group, ok := m.Groups[l]; ok {
				out.Groups = append(out.Groups, group)
			} else {
				out.Literals = append(out.Literals, l)
			}
		}
		// Groupings derived at the parent level pass through untouched.
		out.Groups = append(out.Groups, stage.Groups...)
		return out, nil

	case Tasking:
		out := plan.SubGoalStage{Index: stage.Index, SourceStep: stage.SourceStep}
		for _, l := range stage.Literals {
			concrete, ok := m.Tasks[l]
			if !ok {
				return plan.SubGoalStage{}, &plan.ConfigurationError{Field: "mapping",
					Reason: "no tasking entry for task literal " + l.String()}
			}
			out.Literals = append(out.Literals, concrete...)
		}
		return out, nil

	default:
		return plan.SubGoalStage{}, &plan.ConfigurationError{Field: "mapping",
			Reason: "unknown mapping kind " + string(m.Kind)}
	}
}
