package division

import (
	"math"

	"strata/internal/plan"
)

// BoundKind selects how a proactive size bound is interpreted.
type BoundKind string

const (
	// Absolute bounds are a stage count.
	Absolute BoundKind = "absolute"

	// Fraction bounds are a proportion of the constraint size N.
	Fraction BoundKind = "fraction"

	// Adaptive bounds are a child-step budget: the stage count is derived
	// from the parent plan's per-stage sub-plan sizes so that each partial
	// is predicted to expand into roughly Value child steps.
	Adaptive BoundKind = "adaptive"
)

// Bound is a proactive division size bound.
type Bound struct {
	Kind  BoundKind `yaml:"kind" json:"kind"`
	Value float64   `yaml:"value" json:"value"`
}

// Validate rejects malformed bounds eagerly, before solving starts.
func (b Bound) Validate() error {
	switch b.Kind {
	case Absolute, Adaptive:
		if b.Value < 1 {
			return &plan.ConfigurationError{Field: "division.bound", Reason: "bound value must be at least 1"}
		}
	case Fraction:
		if b.Value <= 0 || b.Value > 1 {
			return &plan.ConfigurationError{Field: "division.bound", Reason: "fraction bound must be in (0, 1]"}
		}
	default:
		return &plan.ConfigurationError{Field: "division.bound", Reason: "unknown bound kind " + string(b.Kind)}
	}
	return nil
}

// stageBound resolves the bound to a concrete maximum partial size for an
// N-stage constraint derived from the given parent plan.
func (b Bound) stageBound(n int, parent *plan.MonolevelPlan) int {
	switch b.Kind {
	case Absolute:
		return int(b.Value)
	case Fraction:
		return int(math.Ceil(float64(n) * b.Value))
	case Adaptive:
		mean := parent.ExpansionFactor()
		if mean <= 0 {
			mean = 1
		}
		return maxInt(1, int(math.Round(b.Value/mean)))
	default:
		return n
	}
}

// Strategy decides where a combined problem is divided. Proact commits
// divisions up front from the parent plan; React is consulted step by step
// during sequential-yield solving.
type Strategy interface {
	// Proact divides the stage range produced by the parent plan, returning
	// the scenario to solve. A scenario with no points means the problem is
	// solved undivided.
	Proact(parent *plan.MonolevelPlan, r StageRange, previouslySolved int) (*Scenario, error)

	// React decides whether to commit a reactive division at the current
	// solve increment.
	React(obs Observation) Reaction
}

// Observation is what a reactive strategy sees at one solve increment.
type Observation struct {
	Level int

	// Problem stage range and current progress.
	Range        StageRange
	CurrentStage int // last uniquely achieved stage index
	SearchLength int // current search step bound

	// MatchingChild reports that this increment uniquely achieved a stage.
	MatchingChild bool

	// FinalStagePending reports that only the problem's last stage (and
	// possibly the final goal) remains; dividing here is pointless.
	FinalStagePending bool

	// Elapsed quantities since the previous division (or problem start).
	StagesSince     int
	WallSince       float64 // seconds
	CumulativeSince float64 // summed increment solve time, seconds
}

// Reaction is a reactive strategy's decision for one increment.
type Reaction struct {
	Divide    bool
	Interrupt bool
	// Preemptive marks a division committed off a non-achieving increment.
	Preemptive bool
}

// Proactive is the size-bound family of proactive strategies shared by
// hasty and steady. MinSize is the minimum viable constraint size: below
// it, zero divisions are committed. MaxProblems caps the partial count;
// zero means uncapped.
type Proactive struct {
	Bound       Bound
	Blend       Blend
	MinSize     int
	MaxProblems int

	// Hasty commits the maximum number of divisions satisfying the bound;
	// otherwise the strategy targets evenly sized partials near the bound.
	Hasty bool
}

// Validate checks the strategy's bounds eagerly.
func (p *Proactive) Validate() error {
	if err := p.Bound.Validate(); err != nil {
		return err
	}
	if p.Blend.Left < 0 || p.Blend.Right < 0 {
		return &plan.ConfigurationError{Field: "division.blend", Reason: "blend quantities must be non-negative"}
	}
	if p.MinSize < 0 || p.MaxProblems < 0 {
		return &plan.ConfigurationError{Field: "division", Reason: "minimum size and problem cap must be non-negative"}
	}
	return nil
}

// Proact divides the range into partials no larger than the resolved size
// bound. Hasty cuts at every bound multiple; steady spreads the same number
// of partials evenly, sizes differing by at most one.
func (p *Proactive) Proact(parent *plan.MonolevelPlan, r StageRange, previouslySolved int) (*Scenario, error) {
	n := r.Size()
	bound := p.Bound.stageBound(n, parent)
	if bound < 1 {
		bound = 1
	}

	if n < p.MinSize || n <= bound {
		return NewScenario(r, nil, previouslySolved)
	}

	problems := int(math.Ceil(float64(n) / float64(bound)))
	if p.MaxProblems > 0 && problems > p.MaxProblems {
		problems = p.MaxProblems
	}
	if problems < 2 {
		return NewScenario(r, nil, previouslySolved)
	}

	points := make([]Point, 0, problems-1)
	if p.Hasty {
		// Maximum divisions satisfying the bound: every partial is exactly
		// the bound except the remainder last. The problem cap trims trailing
		// cuts, folding the rest into the final partial.
		for index := r.First + bound - 1; index < r.Last && len(points) < problems-1; index += bound {
			points = append(points, Point{Index: index, Blend: p.Blend})
		}
	} else {
		// Evenly sized partials near the bound.
		base := n / problems
		extra := n % problems
		index := r.First - 1
		for k := 0; k < problems-1; k++ {
			size := base
			if k < extra {
				size++
			}
			index += size
			points = append(points, Point{Index: index, Blend: p.Blend})
		}
	}
	return NewScenario(r, points, previouslySolved)
}

// React never divides: proactive strategies are inert during solving.
func (p *Proactive) React(Observation) Reaction { return Reaction{} }

// NewHasty returns the hasty proactive strategy: favours planning speed by
// keeping every partial at or below the bound.
func NewHasty(bound Bound, blend Blend, minSize int) *Proactive {
	return &Proactive{Bound: bound, Blend: blend, MinSize: minSize, Hasty: true}
}

// NewSteady returns the steady proactive strategy: favours plan quality by
// dividing into evenly sized partials near the bound.
func NewSteady(bound Bound, blend Blend, minSize, maxProblems int) *Proactive {
	return &Proactive{Bound: bound, Blend: blend, MinSize: minSize, MaxProblems: maxProblems}
}

// Undivided is the no-op strategy: one partial per combined problem.
type Undivided struct{}

func (Undivided) Proact(_ *plan.MonolevelPlan, r StageRange, previouslySolved int) (*Scenario, error) {
	return NewScenario(r, nil, previouslySolved)
}

func (Undivided) React(Observation) Reaction { return Reaction{} }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
