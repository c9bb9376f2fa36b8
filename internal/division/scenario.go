package division

import (
	"fmt"
	"sort"
	"strings"
)

// Scenario is one division decision: an ordered list of points splitting a
// stage range into partial problems solved in concatenation order. Problem
// numbers continue from the problems already solved at the level, so that
// failure attribution and the online progression stay level-global.
type Scenario struct {
	Range            StageRange
	Points           []Point
	PreviouslySolved int
}

// NewScenario validates and orders a scenario over the given range. Points
// outside the open interior of the range are rejected.
func NewScenario(r StageRange, points []Point, previouslySolved int) (*Scenario, error) {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	for i, p := range sorted {
		if p.Index < r.First || p.Index >= r.Last {
			return nil, fmt.Errorf("division point index %d outside stage range [%d-%d]", p.Index, r.First, r.Last)
		}
		if i > 0 && sorted[i-1].Index == p.Index {
			return nil, fmt.Errorf("duplicate division point at stage %d", p.Index)
		}
	}
	return &Scenario{Range: r, Points: sorted, PreviouslySolved: previouslySolved}, nil
}

// TotalProblems returns the number of partial problems the scenario yields.
func (s *Scenario) TotalProblems() int { return len(s.Points) + 1 }

// FirstProblem returns the level-global number of the scenario's first
// partial problem.
func (s *Scenario) FirstProblem() int { return s.PreviouslySolved + 1 }

// LastProblem returns the level-global number of the scenario's last
// partial problem.
func (s *Scenario) LastProblem() int { return s.PreviouslySolved + s.TotalProblems() }

// InProblemRange reports whether the level-global problem number belongs to
// this scenario.
func (s *Scenario) InProblemRange(number int) bool {
	return number >= s.FirstProblem() && number <= s.LastProblem()
}

// SubGoalRange returns the stage range of the given level-global partial
// problem number. With blending enabled, the range reaches back over the
// left point's left blend and forward over the right point's right blend,
// so neighbouring partials overlap.
func (s *Scenario) SubGoalRange(number int, ignoreBlend bool) (StageRange, error) {
	if !s.InProblemRange(number) {
		return StageRange{}, fmt.Errorf("problem number %d outside scenario range [%d-%d]",
			number, s.FirstProblem(), s.LastProblem())
	}
	k := number - s.PreviouslySolved // 1-based within the scenario

	r := StageRange{First: s.Range.First, Last: s.Range.Last}
	if k > 1 {
		left := s.Points[k-2]
		r.First = left.Index + 1
		if !ignoreBlend && left.Blend.Left > 0 {
			r.First -= left.Blend.Left
		}
	}
	if k < s.TotalProblems() {
		right := s.Points[k-1]
		r.Last = right.Index
		if !ignoreBlend && right.Blend.Right > 0 {
			r.Last += right.Blend.Right
		}
	}
	if r.First < s.Range.First {
		r.First = s.Range.First
	}
	if r.Last > s.Range.Last {
		r.Last = s.Range.Last
	}
	return r, nil
}

// PointPair returns the points bounding the given partial problem; either
// side is nil at the edges of the scenario.
func (s *Scenario) PointPair(number int) (left, right *Point) {
	k := number - s.PreviouslySolved
	if k > 1 && k-2 < len(s.Points) {
		left = &s.Points[k-2]
	}
	if k >= 1 && k-1 < len(s.Points) {
		right = &s.Points[k-1]
	}
	return left, right
}

// UpdateReactively inserts a division point committed during solving. The
// point subdivides the partial problem it falls inside, adding one problem
// transition to the scenario. Blending over a reactive point is prevented:
// the plan left of it is already fixed.
func (s *Scenario) UpdateReactively(p Point) {
	p.Reactive = true
	p.Blend = Blend{}
	i := sort.Search(len(s.Points), func(i int) bool { return s.Points[i].Index >= p.Index })
	if i < len(s.Points) && s.Points[i].Index == p.Index {
		return // already divided here
	}
	s.Points = append(s.Points, Point{})
	copy(s.Points[i+1:], s.Points[i:])
	s.Points[i] = p
}

// Divisions returns the committed division count, counting only points that
// add a problem transition.
func (s *Scenario) Divisions() int { return len(s.Points) }

func (s *Scenario) String() string {
	parts := make([]string, len(s.Points))
	for i, p := range s.Points {
		parts[i] = p.String()
	}
	return fmt.Sprintf("scenario over stages [%d-%d]: %d problems {%s}",
		s.Range.First, s.Range.Last, s.TotalProblems(), strings.Join(parts, "; "))
}
