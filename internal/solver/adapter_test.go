package solver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/division"
	"strata/internal/plan"
)

func testOptions() Options {
	return Options{
		Mode:          Standard,
		Achievement:   Sequential,
		Actions:       SequentialActions,
		IncrementStep: 1,
		MaxLength:     10,
	}
}

// scriptedOracle answers unsat below a satisfiable bound and records every
// submitted bound.
type scriptedOracle struct {
	satisfiableAt int
	bounds        []int
	failures      int // errors to return before succeeding
	model         *Model
}

func (o *scriptedOracle) Solve(ctx context.Context, p *Program) (*Result, error) {
	o.bounds = append(o.bounds, p.Bound)
	if o.failures > 0 {
		o.failures--
		return nil, errors.New("oracle crashed")
	}
	if p.Bound < o.satisfiableAt {
		return &Result{}, nil
	}
	return &Result{Model: o.model}, nil
}

func classicalProblem() *plan.Problem {
	return &plan.Problem{
		Level:   2,
		Initial: plan.State{"at": "r1"},
		Goal:    plan.Goal{Positive: []plan.Literal{{Fluent: "at", Value: "r3", Positive: true}}},
		IsFinal: true,
	}
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, testOptions().Validate())

	bad := testOptions()
	bad.Mode = "weird"
	assert.Error(t, bad.Validate())

	bad = testOptions()
	bad.IncrementStep = 0
	assert.Error(t, bad.Validate())

	bad = testOptions()
	bad.Actions = ConcurrentActions
	bad.MaxSetSize = 1
	assert.Error(t, bad.Validate())

	bad = testOptions()
	bad.RetryRelaxed = true
	bad.RelaxFactor = 1
	assert.Error(t, bad.Validate())

	bad = testOptions()
	bad.Mode = SequentialYield
	bad.Achievement = Simultaneous
	assert.Error(t, bad.Validate(), "yield segments need ordered stages")
}

func TestDeepeningFindsMinimalBound(t *testing.T) {
	oracle := &scriptedOracle{
		satisfiableAt: 3,
		model: &Model{
			Steps:  []plan.ActionSet{{{Name: "a"}}, {{Name: "b"}}, {{Name: "c"}}},
			States: []plan.State{{"at": "r2"}, {"at": "r2"}, {"at": "r3"}},
		},
	}
	adapter, err := NewAdapter(oracle, testOptions(), nil)
	require.NoError(t, err)

	outcome, err := adapter.Solve(context.Background(), &Request{Problem: classicalProblem()})
	require.NoError(t, err)

	// Bounds climb from 1 by the increment step until satisfiable.
	assert.Equal(t, []int{1, 2, 3}, oracle.bounds)
	assert.Equal(t, 3, outcome.Plan.Length())
	assert.Len(t, outcome.Plan.Statistics.Increments, 3)
	assert.Equal(t, 2, outcome.Plan.Steps[0][0].Level, "actions are stamped with the problem level")
}

func TestUnsatAtCapIsPlanningFailure(t *testing.T) {
	oracle := &scriptedOracle{satisfiableAt: 99}
	adapter, err := NewAdapter(oracle, testOptions(), nil)
	require.NoError(t, err)

	_, err = adapter.Solve(context.Background(), &Request{Problem: classicalProblem()})
	var pf *plan.PlanningFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, 2, pf.Level)
	assert.Equal(t, 10, pf.Bound)
}

func TestRetryRelaxedRecoversOneFailure(t *testing.T) {
	oracle := &scriptedOracle{
		satisfiableAt: 1,
		failures:      1,
		model:         &Model{Steps: []plan.ActionSet{{{Name: "a"}}}, States: []plan.State{{"at": "r3"}}},
	}
	opts := testOptions()
	opts.Timeout = time.Second
	opts.RetryRelaxed = true
	opts.RelaxFactor = 2

	adapter, err := NewAdapter(oracle, opts, nil)
	require.NoError(t, err)

	outcome, err := adapter.Solve(context.Background(), &Request{Problem: classicalProblem()})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Plan.Length())

	// Two failures in a row are fatal and attributed.
	oracle = &scriptedOracle{satisfiableAt: 1, failures: 2}
	adapter, err = NewAdapter(oracle, opts, nil)
	require.NoError(t, err)
	_, err = adapter.Solve(context.Background(), &Request{Problem: classicalProblem()})
	var se *plan.SolverError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Level)
}

func TestMinimumBoundStartsFromDerivedBounds(t *testing.T) {
	oracle := &scriptedOracle{
		satisfiableAt: 4,
		model: &Model{
			Steps:  []plan.ActionSet{{{Name: "a"}}, {{Name: "b"}}, {{Name: "c"}}, {{Name: "d"}}},
			States: []plan.State{{"pos": "p1"}, {"pos": "p2"}, {"pos": "p3"}, {"pos": "p4"}},
		},
	}
	opts := testOptions()
	opts.Mode = MinimumBound
	adapter, err := NewAdapter(oracle, opts, nil)
	require.NoError(t, err)

	problem := &plan.Problem{
		Level:   1,
		Initial: plan.State{"pos": "p0"},
		Stages: []plan.SubGoalStage{
			{Index: 1, Literals: []plan.Literal{{Fluent: "pos", Value: "p2", Positive: true}}},
			{Index: 2, Literals: []plan.Literal{{Fluent: "pos", Value: "p4", Positive: true}}},
		},
		FirstStage: 1,
		LastStage:  2,
		Number:     1,
	}
	_, err = adapter.Solve(context.Background(), &Request{
		Problem:          problem,
		StageLowerBounds: map[int]int{1: 2, 2: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{4}, oracle.bounds, "search starts directly at the summed lower bounds")
}

// A blended range hands the previous partial's final state forward, so its
// leading stage can already hold. Its lower bound must not count toward the
// deepening start or the search would overshoot the optimal length.
func TestMinimumBoundSkipsInitiallyHeldStages(t *testing.T) {
	oracle := &scriptedOracle{
		satisfiableAt: 2,
		model: &Model{
			Steps:  []plan.ActionSet{{{Name: "a"}}, {{Name: "b"}}},
			States: []plan.State{{"pos": "p3"}, {"pos": "p4"}},
		},
	}
	opts := testOptions()
	opts.Mode = MinimumBound
	adapter, err := NewAdapter(oracle, opts, nil)
	require.NoError(t, err)

	problem := &plan.Problem{
		Level:   1,
		Initial: plan.State{"pos": "p2"},
		Stages: []plan.SubGoalStage{
			{Index: 1, Literals: []plan.Literal{{Fluent: "pos", Value: "p2", Positive: true}}},
			{Index: 2, Literals: []plan.Literal{{Fluent: "pos", Value: "p4", Positive: true}}},
		},
		FirstStage: 1,
		LastStage:  2,
		StartStep:  2,
		Number:     2,
	}
	_, err = adapter.Solve(context.Background(), &Request{
		Problem:          problem,
		StageLowerBounds: map[int]int{1: 2, 2: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, oracle.bounds, "only the pending stage's bound counts")
}

// A stage held by the handed-forward initial state is achieved at the start
// step; it never demands a fresh transition.
func TestSolveWholeCreditsInitiallyHeldStage(t *testing.T) {
	adapter, err := NewAdapter(NewMangleOracle(), testOptions(), nil)
	require.NoError(t, err)

	problem := &plan.Problem{
		Level:   1,
		Initial: plan.State{"pos": "p2"},
		Goal:    plan.Goal{Positive: []plan.Literal{posLiteral("p4")}},
		Stages: []plan.SubGoalStage{
			{Index: 1, SourceStep: 1, Literals: []plan.Literal{posLiteral("p2")}},
			{Index: 2, SourceStep: 2, Literals: []plan.Literal{posLiteral("p4")}},
		},
		FirstStage: 1,
		LastStage:  2,
		StartStep:  2,
		IsFinal:    true,
		Number:     2,
	}

	outcome, err := adapter.Solve(context.Background(), &Request{Problem: problem, Theory: corridorTheory})
	require.NoError(t, err)

	mono := outcome.Plan
	assert.Equal(t, 2, mono.Length())
	assert.Equal(t, map[int]int{1: 2, 2: 4}, mono.AchievedAt)
	assert.Equal(t, plan.State{"pos": "p4"}, mono.FinalState())
}

func TestSolveWholeDecodesAchievements(t *testing.T) {
	adapter, err := NewAdapter(NewMangleOracle(), testOptions(), nil)
	require.NoError(t, err)

	problem := &plan.Problem{
		Level:   1,
		Initial: plan.State{"pos": "p0"},
		Stages: []plan.SubGoalStage{
			{Index: 1, SourceStep: 1, Literals: []plan.Literal{posLiteral("p2")}},
			{Index: 2, SourceStep: 2, Literals: []plan.Literal{posLiteral("p4")}},
		},
		FirstStage: 1,
		LastStage:  2,
		Number:     1,
	}
	req := &Request{Problem: problem, Theory: corridorTheory, RunID: "run-1"}

	outcome, err := adapter.Solve(context.Background(), req)
	require.NoError(t, err)

	mono := outcome.Plan
	assert.Equal(t, 4, mono.Length())
	assert.Equal(t, map[int]int{1: 2, 2: 4}, mono.AchievedAt)
	assert.False(t, mono.Trailing)
	assert.Equal(t, "run-1", mono.RunID)

	// Decoding the same request twice is structurally identical.
	again, err := adapter.Solve(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(mono.Steps, again.Plan.Steps))
	assert.Empty(t, cmp.Diff(mono.AchievedAt, again.Plan.AchievedAt))
}

func TestSequentialYieldSolvesStageByStage(t *testing.T) {
	opts := testOptions()
	opts.Mode = SequentialYield
	adapter, err := NewAdapter(NewMangleOracle(), opts, nil)
	require.NoError(t, err)

	problem := &plan.Problem{
		Level:   1,
		Initial: plan.State{"pos": "p0"},
		Goal:    plan.Goal{Positive: []plan.Literal{posLiteral("p4")}},
		Stages: []plan.SubGoalStage{
			{Index: 1, Literals: []plan.Literal{posLiteral("p2")}},
			{Index: 2, Literals: []plan.Literal{posLiteral("p4")}},
		},
		FirstStage: 1,
		LastStage:  2,
		IsFinal:    true,
		Number:     1,
	}

	outcome, err := adapter.Solve(context.Background(), &Request{Problem: problem, Theory: corridorTheory})
	require.NoError(t, err)
	assert.False(t, outcome.Interrupted)
	assert.Equal(t, 4, outcome.Plan.Length())
	assert.Equal(t, map[int]int{1: 2, 2: 4}, outcome.Plan.AchievedAt)
	assert.True(t, outcome.Plan.IsFinal)
}

func TestSequentialYieldInterruptingDivision(t *testing.T) {
	opts := testOptions()
	opts.Mode = SequentialYield
	adapter, err := NewAdapter(NewMangleOracle(), opts, nil)
	require.NoError(t, err)

	problem := &plan.Problem{
		Level:   1,
		Initial: plan.State{"pos": "p0"},
		Goal:    plan.Goal{Positive: []plan.Literal{{Fluent: "pos", Value: "p4", Positive: true}}},
		Stages: []plan.SubGoalStage{
			{Index: 1, Literals: []plan.Literal{posLiteral("p1")}},
			{Index: 2, Literals: []plan.Literal{posLiteral("p2")}},
			{Index: 3, Literals: []plan.Literal{posLiteral("p3")}},
			{Index: 4, Literals: []plan.Literal{posLiteral("p4")}},
		},
		FirstStage: 1,
		LastStage:  4,
		IsFinal:    true,
		Number:     1,
	}
	strategy := &division.Reactive{Kind: division.StageCount, Value: 2, Interrupting: true}

	outcome, err := adapter.Solve(context.Background(), &Request{
		Problem:  problem,
		Theory:   corridorTheory,
		Strategy: strategy,
	})
	require.NoError(t, err)

	require.True(t, outcome.Interrupted)
	require.Len(t, outcome.ReactivePoints, 1)
	point := outcome.ReactivePoints[0]
	assert.Equal(t, 2, point.Index)
	assert.True(t, point.Interrupting)

	// The committed prefix covers the first two stages; its final state is
	// the continuation state for the remainder.
	assert.Equal(t, 2, outcome.Plan.Length())
	assert.Equal(t, map[int]int{1: 1, 2: 2}, outcome.Plan.AchievedAt)
	assert.Equal(t, plan.State{"pos": "p2"}, outcome.Plan.FinalState())
	assert.False(t, outcome.Plan.IsFinal)
}

// Division on a problem's only (or last) stage is pointless: the strategy
// sees it as final-stage-pending even when the problem has a single stage.
func TestSequentialYieldSuppressesDivisionOnOnlyStage(t *testing.T) {
	opts := testOptions()
	opts.Mode = SequentialYield
	adapter, err := NewAdapter(NewMangleOracle(), opts, nil)
	require.NoError(t, err)

	problem := &plan.Problem{
		Level:      1,
		Initial:    plan.State{"pos": "p0"},
		Stages:     []plan.SubGoalStage{{Index: 1, Literals: []plan.Literal{posLiteral("p1")}}},
		FirstStage: 1,
		LastStage:  1,
		Number:     1,
	}
	strategy := &division.Reactive{Kind: division.StageCount, Value: 1, Interrupting: true}

	outcome, err := adapter.Solve(context.Background(), &Request{
		Problem:  problem,
		Theory:   corridorTheory,
		Strategy: strategy,
	})
	require.NoError(t, err)

	assert.False(t, outcome.Interrupted)
	assert.Empty(t, outcome.ReactivePoints)
	assert.Equal(t, 1, outcome.Plan.Length())
	assert.Equal(t, map[int]int{1: 1}, outcome.Plan.AchievedAt)
}
