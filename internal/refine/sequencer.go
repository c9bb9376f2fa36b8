// Package refine drives hierarchical conformance refinement: the sequencer
// turns a solved level's action effects into the next level's conformance
// constraint, and the controller recurses level by level, dividing combined
// problems and feeding state forward between partials.
package refine

import (
	"sort"

	"go.uber.org/zap"

	"strata/internal/domain"
	"strata/internal/plan"
)

// Sequencer converts a parent plan's effect sequence into the child level's
// sub-goal stages, dispatching on the child's abstraction mapping kind.
type Sequencer struct {
	log *zap.Logger
}

// NewSequencer returns a sequencer logging to the given logger.
func NewSequencer(log *zap.Logger) *Sequencer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sequencer{log: log}
}

// Stages derives the child level's conformance constraint from the parent
// plan. One stage is produced per parent step with observable effects; the
// stage index is the parent step, so indices strictly increase along
// concatenation order across partial parent plans.
func (sq *Sequencer) Stages(parent *plan.MonolevelPlan, child *domain.Level) ([]plan.SubGoalStage, error) {
	if child.Mapping == nil {
		return nil, &plan.ConfigurationError{Field: "mapping", Reason: "child level has no abstraction mapping"}
	}

	var stages []plan.SubGoalStage
	prev := parent.InitialState
	for i, state := range parent.States {
		effects := effectLiterals(prev, state)
		prev = state
		if len(effects) == 0 {
			continue
		}
		stage := plan.SubGoalStage{
			Index:      parent.StartStep + i + 1,
			SourceStep: parent.StartStep + i + 1,
			Literals:   effects,
		}
		translated, err := child.Mapping.Translate(stage)
		if err != nil {
			return nil, err
		}
		stages = append(stages, translated)
	}

	sq.log.Debug("sequenced sub-goal stages",
		zap.Int("parent_level", parent.Level),
		zap.Int("child_level", child.Index),
		zap.Int("stages", len(stages)),
		zap.String("kind", string(child.Mapping.Kind)))
	return stages, nil
}

// effectLiterals returns the literal changes one step made: every fluent
// whose value differs between the two states, as a positive literal on the
// new value.
func effectLiterals(before, after plan.State) []plan.Literal {
	var out []plan.Literal
	for f, v := range after {
		if old, ok := before[f]; !ok || old != v {
			out = append(out, plan.Literal{Fluent: f, Value: v, Positive: true})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Fluent != out[j].Fluent {
			return out[i].Fluent < out[j].Fluent
		}
		return out[i].Value < out[j].Value
	})
	return out
}
