// Package domain models the abstraction hierarchy a refinement run plans
// over: per-level domain theories, the mappings between adjacent levels,
// and the loader that supplies them. The hierarchy is built once and is
// read-only for the lifetime of a run.
package domain

import (
	"strata/internal/plan"
)

// Theory is an opaque reference to one level's domain axioms: a Mangle
// source unit defining action applicability, effects and static laws over
// the level's fluent language.
type Theory struct {
	Name   string `yaml:"name"`
	Source string `yaml:"-"`
}

// Level is one abstraction level. Index 1 is the ground level; indices
// increase with abstraction. Mapping translates this level's parent stages
// into this level's fluent language and is nil only at the top level.
type Level struct {
	Index   int
	Theory  Theory
	Mapping *Mapping

	Initial plan.State
	Goal    plan.Goal
}

// Hierarchy is an immutable ordered list of abstraction levels.
type Hierarchy struct {
	levels map[int]*Level
	top    int
}

// NewHierarchy validates and freezes a hierarchy. Levels must be contiguous
// from 1 to the top, the top level must carry no mapping, and every other
// level must carry one.
func NewHierarchy(levels []*Level) (*Hierarchy, error) {
	if len(levels) == 0 {
		return nil, &plan.ConfigurationError{Field: "levels", Reason: "hierarchy has no levels"}
	}
	byIndex := make(map[int]*Level, len(levels))
	top := 0
	for _, l := range levels {
		if l.Index < 1 {
			return nil, &plan.ConfigurationError{Field: "levels", Reason: "level indices start at 1"}
		}
		if _, dup := byIndex[l.Index]; dup {
			return nil, &plan.ConfigurationError{Field: "levels", Reason: "duplicate level index"}
		}
		byIndex[l.Index] = l
		if l.Index > top {
			top = l.Index
		}
	}
	for i := 1; i <= top; i++ {
		l, ok := byIndex[i]
		if !ok {
			return nil, &plan.ConfigurationError{Field: "levels", Reason: "level indices must be contiguous"}
		}
		if i == top && l.Mapping != nil {
			return nil, &plan.ConfigurationError{Field: "levels", Reason: "top level must not carry a mapping"}
		}
		if i != top {
			if l.Mapping == nil {
				return nil, &plan.ConfigurationError{Field: "levels", Reason: "non-top level missing abstraction mapping"}
			}
			if err := l.Mapping.validate(); err != nil {
				return nil, err
			}
		}
		if l.Theory.Source == "" {
			return nil, &plan.ConfigurationError{Field: "levels", Reason: "level missing domain theory"}
		}
		if len(l.Initial) == 0 {
			return nil, &plan.ConfigurationError{Field: "levels", Reason: "level missing initial state"}
		}
	}
	return &Hierarchy{levels: byIndex, top: top}, nil
}

// Top returns the most abstract level index.
func (h *Hierarchy) Top() int { return h.top }

// Ground returns the least abstract level index.
func (h *Hierarchy) Ground() int { return 1 }

// Level returns the level at the given index, or nil when out of range.
func (h *Hierarchy) Level(index int) *Level { return h.levels[index] }

// InRange reports whether the index names a level of the hierarchy.
func (h *Hierarchy) InRange(index int) bool { return index >= 1 && index <= h.top }

// Size returns the number of levels.
func (h *Hierarchy) Size() int { return h.top }
