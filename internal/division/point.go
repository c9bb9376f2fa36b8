// Package division splits combined conformance refinement problems into
// ordered sequences of independently solvable partial problems. Proactive
// strategies commit divisions up front from the shape of the parent plan;
// reactive strategies commit them during solving when an elapsed bound is
// exceeded. Division points may blend, making neighbouring partials overlap
// to trade problem size for reduced loss of cross-boundary interleaving.
package division

import (
	"fmt"

	"strata/internal/plan"
)

// Blend is the stage overlap a division point shares between its
// neighbouring partials: the left partial extends Right stages past the
// point, the right partial reaches Left stages back before it.
type Blend struct {
	Left  int `yaml:"left" json:"left"`
	Right int `yaml:"right" json:"right"`
}

// Zero reports whether the blend adds no overlap.
func (b Blend) Zero() bool { return b.Left == 0 && b.Right == 0 }

// Point is a single division: a split after the given stage index, with
// blend quantities and provenance flags.
type Point struct {
	// Index is the last stage of the partial left of the split (ignoring
	// blend); the right partial starts at Index+1.
	Index int `json:"index"`

	Blend Blend `json:"blend"`

	// Reactive marks points committed during solving rather than up front.
	Reactive bool `json:"reactive"`

	// Inherited marks points carried over from a parent scenario.
	Inherited bool `json:"inherited"`

	// Interrupting marks reactive points that halted the solve in
	// progress; a continuous point was recorded without halting.
	Interrupting bool `json:"interrupting"`

	// Preemptive marks reactive points committed before the next step
	// uniquely achieving a stage.
	Preemptive bool `json:"preemptive"`

	// CommittedStep is the search step a reactive point was committed at.
	CommittedStep int `json:"committed_step,omitempty"`
}

func (p Point) String() string {
	kind := "proactive"
	if p.Reactive {
		kind = "reactive-continuous"
		if p.Interrupting {
			kind = "reactive-interrupting"
		}
	}
	return fmt.Sprintf("division after stage %d (%s, blend %d|%d)", p.Index, kind, p.Blend.Left, p.Blend.Right)
}

// StageRange is a contiguous sub-range of constraint stage indices,
// inclusive at both ends.
type StageRange struct {
	First int
	Last  int
}

// Size returns the number of stages in the range.
func (r StageRange) Size() int { return r.Last - r.First + 1 }

// Contains reports whether the index falls in the range.
func (r StageRange) Contains(index int) bool { return index >= r.First && index <= r.Last }

// Sub selects the stages of a constraint falling inside the range. Stages
// are assumed ordered by index.
func (r StageRange) Sub(stages []plan.SubGoalStage) []plan.SubGoalStage {
	out := make([]plan.SubGoalStage, 0, r.Size())
	for _, g := range stages {
		if r.Contains(g.Index) {
			out = append(out, g)
		}
	}
	return out
}
