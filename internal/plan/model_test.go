package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLiteralHolds(t *testing.T) {
	s := State{"pos": "p2", "door": "open"}

	assert.True(t, Literal{Fluent: "pos", Value: "p2", Positive: true}.Holds(s))
	assert.False(t, Literal{Fluent: "pos", Value: "p3", Positive: true}.Holds(s))
	assert.True(t, Literal{Fluent: "pos", Value: "p3", Positive: false}.Holds(s))
	assert.False(t, Literal{Fluent: "door", Value: "open", Positive: false}.Holds(s))

	// Unknown fluents fail positive literals and satisfy negative ones.
	assert.False(t, Literal{Fluent: "fuel", Value: "full", Positive: true}.Holds(s))
	assert.True(t, Literal{Fluent: "fuel", Value: "full", Positive: false}.Holds(s))
}

func TestStateCloneIsIndependent(t *testing.T) {
	s := State{"pos": "p0"}
	c := s.Clone()
	c["pos"] = "p1"
	assert.Equal(t, "p0", s["pos"])
	assert.Equal(t, "p1", c["pos"])
}

func TestStateStringIsSorted(t *testing.T) {
	s := State{"b": "2", "a": "1", "c": "3"}
	assert.Equal(t, "{a=1, b=2, c=3}", s.String())
}

func TestSubGoalStageHeldBy(t *testing.T) {
	stage := SubGoalStage{
		Index:    3,
		Literals: []Literal{{Fluent: "at", Value: "r2", Positive: true}},
		Groups: [][]Literal{{
			{Fluent: "pos", Value: "p2", Positive: true},
			{Fluent: "pos", Value: "p3", Positive: true},
		}},
	}

	assert.True(t, stage.HeldBy(State{"at": "r2", "pos": "p2"}))
	assert.True(t, stage.HeldBy(State{"at": "r2", "pos": "p3"}))
	assert.False(t, stage.HeldBy(State{"at": "r2", "pos": "p4"}), "no group member holds")
	assert.False(t, stage.HeldBy(State{"at": "r1", "pos": "p2"}), "required literal fails")
}

func TestGoalLiterals(t *testing.T) {
	g := Goal{
		Positive: []Literal{{Fluent: "at", Value: "r3", Positive: true}},
		Negative: []Literal{{Fluent: "door", Value: "open", Positive: false}},
	}
	assert.Len(t, g.Literals(), 2)
	assert.False(t, g.Empty())
	assert.True(t, Goal{}.Empty())
}

func TestProblemConformance(t *testing.T) {
	classical := &Problem{Level: 2, IsFinal: true}
	assert.False(t, classical.Conformance())
	assert.True(t, classical.Complete())
	assert.Nil(t, classical.StageRange())

	refinement := &Problem{
		Level:      1,
		Stages:     []SubGoalStage{{Index: 2}, {Index: 3}},
		FirstStage: 2,
		LastStage:  3,
		StartStep:  4,
		Number:     2,
	}
	assert.True(t, refinement.Conformance())
	assert.False(t, refinement.Complete())
	assert.Equal(t, []int{2, 3}, refinement.StageRange())
}
