// Package plan holds the data model shared by every stage of hierarchical
// conformance refinement: fluent states, literals, sub-goal stages, monolevel
// plans and the hierarchical plan assembled from them, together with the
// error taxonomy for a planning run.
package plan

import (
	"fmt"
	"sort"
	"strings"
)

// Literal is a requirement on a single fluent. A positive literal requires
// the fluent to hold the value; a negative literal requires it not to.
type Literal struct {
	Fluent   string `json:"fluent" yaml:"fluent"`
	Value    string `json:"value" yaml:"value"`
	Positive bool   `json:"positive" yaml:"positive"`
}

func (l Literal) String() string {
	if l.Positive {
		return fmt.Sprintf("%s=%s", l.Fluent, l.Value)
	}
	return fmt.Sprintf("%s!=%s", l.Fluent, l.Value)
}

// Holds reports whether the literal is satisfied in the given state.
func (l Literal) Holds(s State) bool {
	v, ok := s[l.Fluent]
	if l.Positive {
		return ok && v == l.Value
	}
	return !ok || v != l.Value
}

// State is a total assignment of fluents to values at one abstraction level.
type State map[string]string

// Clone returns an independent copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for f, v := range s {
		out[f] = v
	}
	return out
}

// Satisfies reports whether every literal holds in the state.
func (s State) Satisfies(literals []Literal) bool {
	for _, l := range literals {
		if !l.Holds(s) {
			return false
		}
	}
	return true
}

func (s State) String() string {
	fluents := make([]string, 0, len(s))
	for f := range s {
		fluents = append(fluents, f)
	}
	sort.Strings(fluents)
	parts := make([]string, 0, len(fluents))
	for _, f := range fluents {
		parts = append(parts, f+"="+s[f])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Action is a ground action at one abstraction level.
type Action struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

func (a Action) String() string { return a.Name }

// ActionSet is the set of actions planned on one step. Under sequential
// action planning it holds exactly one action; under concurrent planning it
// holds a mutex-free set.
type ActionSet []Action

func (as ActionSet) String() string {
	names := make([]string, len(as))
	for i, a := range as {
		names[i] = a.Name
	}
	sort.Strings(names)
	return "[" + strings.Join(names, ", ") + "]"
}

// SubGoalStage is one element of a conformance constraint: a set of literals
// that must hold simultaneously at some step of the refining plan. Stages
// are tagged with their position in the constraint sequence and the parent
// plan step whose effects produced them.
//
// Groups carries the disjunctive groupings produced by condensed abstraction
// mappings: the stage holds in a state iff every literal holds and every
// group has at least one holding member.
type SubGoalStage struct {
	Index      int         `json:"index"`
	SourceStep int         `json:"source_step"`
	Literals   []Literal   `json:"literals"`
	Groups     [][]Literal `json:"groups,omitempty"`
}

// HeldBy reports whether the stage is satisfied in the given state.
func (g SubGoalStage) HeldBy(s State) bool {
	if !s.Satisfies(g.Literals) {
		return false
	}
	for _, group := range g.Groups {
		held := false
		for _, l := range group {
			if l.Holds(s) {
				held = true
				break
			}
		}
		if !held {
			return false
		}
	}
	return true
}

func (g SubGoalStage) String() string {
	parts := make([]string, len(g.Literals))
	for i, l := range g.Literals {
		parts[i] = l.String()
	}
	return fmt.Sprintf("stage %d (step %d): {%s}", g.Index, g.SourceStep, strings.Join(parts, ", "))
}

// Goal is a final-goal test: required positive and negative literals.
type Goal struct {
	Positive []Literal `json:"positive" yaml:"positive"`
	Negative []Literal `json:"negative" yaml:"negative"`
}

// Literals returns the goal as a single literal slice.
func (g Goal) Literals() []Literal {
	out := make([]Literal, 0, len(g.Positive)+len(g.Negative))
	out = append(out, g.Positive...)
	out = append(out, g.Negative...)
	return out
}

// Empty reports whether the goal contains no literals.
func (g Goal) Empty() bool { return len(g.Positive) == 0 && len(g.Negative) == 0 }

// Problem is one monolevel planning problem. An empty Stages slice makes it
// a complete classical problem at its level; a non-empty one makes it a
// conformance refinement problem constrained to pass through the stages in
// sequence order.
type Problem struct {
	Level   int
	Initial State
	Goal    Goal

	// Conformance constraint, ordered by stage index. Nil for the top level.
	Stages []SubGoalStage

	// FirstStage and LastStage bound the contiguous stage sub-range this
	// problem refines (inclusive, in constraint sequence indices). Both are
	// zero for classical problems.
	FirstStage int
	LastStage  int

	// StartStep is the plan step the problem starts from; the first action
	// is planned on the following step.
	StartStep int

	// IsFinal marks problems whose solution must also achieve the goal.
	IsFinal bool

	// Number is the 1-based partial-problem number within its level's
	// division order, used for failure attribution.
	Number int
}

// Conformance reports whether the problem carries a conformance constraint.
func (p *Problem) Conformance() bool { return len(p.Stages) > 0 }

// Complete reports whether the problem spans its whole constraint and both
// starts in the level's true initial state and must achieve the final goal.
func (p *Problem) Complete() bool { return p.StartStep == 0 && p.IsFinal }

// StageRange returns the stage indices of the problem in sequence order.
func (p *Problem) StageRange() []int {
	if !p.Conformance() {
		return nil
	}
	out := make([]int, 0, p.LastStage-p.FirstStage+1)
	for i := p.FirstStage; i <= p.LastStage; i++ {
		out = append(out, i)
	}
	return out
}

// Describe returns a one-line description for logs and failure attribution.
func (p *Problem) Describe() string {
	if p.Conformance() {
		return fmt.Sprintf("level %d problem %d: refinement over stages [%d-%d] from step %d",
			p.Level, p.Number, p.FirstStage, p.LastStage, p.StartStep)
	}
	return fmt.Sprintf("level %d problem %d: classical", p.Level, p.Number)
}
