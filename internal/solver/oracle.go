// Package solver adapts one monolevel planning problem at a time onto an
// external declarative solver oracle. The adapter builds an incrementally
// bounded program, drives iterative deepening over the oracle, and decodes
// returned models into monolevel plans with per-stage achievement steps.
package solver

import (
	"context"
	"time"

	"strata/internal/plan"
)

// Achievement selects how a conformance constraint's stage sequence binds
// the search.
type Achievement string

const (
	// Sequential achievement requires stages to be achieved in strict
	// sequence order.
	Sequential Achievement = "sequential"

	// Simultaneous achievement allows unordered cumulative satisfaction:
	// every stage must hold at some step, in any order.
	Simultaneous Achievement = "simultaneous"
)

// Program is one bounded submission to the oracle: fixed domain axioms,
// state facts, the goal condition, and a step-count bound.
type Program struct {
	// Theory is the level's domain axioms as Mangle source.
	Theory string

	// Initial is the fluent assignment the search starts from.
	Initial plan.State

	// Bound is the maximum number of steps the oracle may search.
	Bound int

	// Stages is the pending conformance constraint in sequence order;
	// empty for classical problems.
	Stages []plan.SubGoalStage

	// Goal, when non-empty, must hold at the final step.
	Goal []plan.Literal

	Achievement Achievement

	// Concurrent enables non-mutex action sets per step, bounded by
	// MaxSetSize; otherwise one action per step.
	Concurrent bool
	MaxSetSize int

	// MinimizeActions prefers models with fewer actions among those of
	// equal length.
	MinimizeActions bool

	// YieldOnStage makes the oracle return as soon as the first pending
	// stage is uniquely achieved, instead of completing the whole problem.
	YieldOnStage bool
}

// Model is an optimal satisfying trajectory returned by the oracle.
// Steps[i] is the action set planned on step i+1 relative to the program's
// initial state; States[i] is the state it produces.
type Model struct {
	Steps  []plan.ActionSet
	States []plan.State
}

// Result is the oracle's answer: a model, or unsatisfiability at the bound
// when Model is nil.
type Result struct {
	Model     *Model
	Grounding time.Duration
	Solving   time.Duration
}

// Unsat reports unsatisfiability at the submitted bound.
func (r *Result) Unsat() bool { return r.Model == nil }

// Oracle is the external declarative solver. It returns a ranked optimal
// model for the program, a nil-model result when the program is
// unsatisfiable at its bound, or an error for a crash or hard timeout. The
// oracle may parallelize internally but is treated as opaque.
type Oracle interface {
	Solve(ctx context.Context, p *Program) (*Result, error)
}
