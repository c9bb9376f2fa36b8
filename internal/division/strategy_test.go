package division

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/plan"
)

func TestBoundValidate(t *testing.T) {
	assert.NoError(t, Bound{Kind: Absolute, Value: 3}.Validate())
	assert.NoError(t, Bound{Kind: Fraction, Value: 0.5}.Validate())
	assert.NoError(t, Bound{Kind: Adaptive, Value: 8}.Validate())

	assert.Error(t, Bound{Kind: Absolute, Value: 0}.Validate())
	assert.Error(t, Bound{Kind: Fraction, Value: 1.5}.Validate())
	assert.Error(t, Bound{Kind: "weird", Value: 3}.Validate())
}

// Partial ranges without blending must tile the constraint exactly: every
// stage in exactly one partial, in order, each partial at or below the
// bound.
func TestSteadyCoversRangeCompletely(t *testing.T) {
	for _, n := range []int{2, 4, 7, 10, 13, 25} {
		for _, bound := range []float64{2, 3, 4, 5} {
			t.Run(fmt.Sprintf("n=%d/bound=%g", n, bound), func(t *testing.T) {
				strategy := NewSteady(Bound{Kind: Absolute, Value: bound}, Blend{}, 0, 0)
				r := StageRange{First: 1, Last: n}
				s, err := strategy.Proact(nil, r, 0)
				require.NoError(t, err)

				expected := int(math.Ceil(float64(n) / bound))
				assert.Equal(t, expected, s.TotalProblems())

				next := r.First
				for number := s.FirstProblem(); number <= s.LastProblem(); number++ {
					sub, err := s.SubGoalRange(number, true)
					require.NoError(t, err)
					assert.Equal(t, next, sub.First, "partials must be contiguous")
					assert.LessOrEqual(t, sub.Size(), int(bound))
					next = sub.Last + 1
				}
				assert.Equal(t, r.Last+1, next, "partials must cover the whole range")
			})
		}
	}
}

// Steady partial sizes differ by at most one.
func TestSteadySizesAreEven(t *testing.T) {
	strategy := NewSteady(Bound{Kind: Absolute, Value: 4}, Blend{}, 0, 0)
	s, err := strategy.Proact(nil, StageRange{First: 1, Last: 10}, 0)
	require.NoError(t, err)
	require.Equal(t, 3, s.TotalProblems())

	minSize, maxSize := 10, 0
	for number := s.FirstProblem(); number <= s.LastProblem(); number++ {
		sub, err := s.SubGoalRange(number, true)
		require.NoError(t, err)
		if sub.Size() < minSize {
			minSize = sub.Size()
		}
		if sub.Size() > maxSize {
			maxSize = sub.Size()
		}
	}
	assert.LessOrEqual(t, maxSize-minSize, 1)
}

func TestHastyCutsAtEveryBoundMultiple(t *testing.T) {
	strategy := NewHasty(Bound{Kind: Absolute, Value: 3}, Blend{}, 0)
	s, err := strategy.Proact(nil, StageRange{First: 1, Last: 10}, 0)
	require.NoError(t, err)

	// 10 stages at bound 3: partials of 3, 3, 3 and a remainder of 1.
	require.Equal(t, 4, s.TotalProblems())
	sizes := make([]int, 0, 4)
	for number := s.FirstProblem(); number <= s.LastProblem(); number++ {
		sub, err := s.SubGoalRange(number, true)
		require.NoError(t, err)
		sizes = append(sizes, sub.Size())
	}
	assert.Equal(t, []int{3, 3, 3, 1}, sizes)
}

func TestMaxProblemsCapsHasty(t *testing.T) {
	strategy := NewHasty(Bound{Kind: Absolute, Value: 3}, Blend{}, 0)
	strategy.MaxProblems = 2
	s, err := strategy.Proact(nil, StageRange{First: 1, Last: 10}, 0)
	require.NoError(t, err)

	// The cap trims trailing cuts: one partial at the bound, the rest folded
	// into the last.
	require.Equal(t, 2, s.TotalProblems())
	sizes := make([]int, 0, 2)
	for number := s.FirstProblem(); number <= s.LastProblem(); number++ {
		sub, err := s.SubGoalRange(number, true)
		require.NoError(t, err)
		sizes = append(sizes, sub.Size())
	}
	assert.Equal(t, []int{3, 7}, sizes)
}

func TestMinimumViableSizeSuppressesDivision(t *testing.T) {
	strategy := NewSteady(Bound{Kind: Absolute, Value: 2}, Blend{}, 6, 0)
	s, err := strategy.Proact(nil, StageRange{First: 1, Last: 5}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalProblems(), "constraint below the minimum viable size stays undivided")
}

func TestMaxProblemsCapsSteady(t *testing.T) {
	strategy := NewSteady(Bound{Kind: Absolute, Value: 2}, Blend{}, 0, 3)
	s, err := strategy.Proact(nil, StageRange{First: 1, Last: 12}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, s.TotalProblems())
}

func TestFractionBound(t *testing.T) {
	strategy := NewSteady(Bound{Kind: Fraction, Value: 0.5}, Blend{}, 0, 0)
	s, err := strategy.Proact(nil, StageRange{First: 1, Last: 8}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalProblems())
}

// An adaptive bound derives the partial size from the parent plan's mean
// expansion: a budget of 8 child steps over an expansion factor of 2 gives
// partials of 4 stages.
func TestAdaptiveBoundUsesParentExpansion(t *testing.T) {
	parent := &plan.MonolevelPlan{
		Level:      2,
		Steps:      make([]plan.ActionSet, 8),
		AchievedAt: map[int]int{1: 2, 2: 4, 3: 6, 4: 8},
	}
	strategy := NewSteady(Bound{Kind: Adaptive, Value: 8}, Blend{}, 0, 0)
	s, err := strategy.Proact(parent, StageRange{First: 1, Last: 8}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalProblems())
}

func TestProactiveNumbersContinueAcrossScenarios(t *testing.T) {
	strategy := NewSteady(Bound{Kind: Absolute, Value: 2}, Blend{}, 0, 0)
	s, err := strategy.Proact(nil, StageRange{First: 5, Last: 8}, 3)
	require.NoError(t, err)

	assert.Equal(t, 4, s.FirstProblem())
	assert.Equal(t, 5, s.LastProblem())
	assert.True(t, s.InProblemRange(4))
	assert.False(t, s.InProblemRange(3))
}
