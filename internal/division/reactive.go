package division

import (
	"strata/internal/plan"
)

// ReactiveBoundKind selects the elapsed quantity a reactive strategy
// measures since the previous division.
type ReactiveBoundKind string

const (
	// StageCount divides after a number of achieved stages.
	StageCount ReactiveBoundKind = "stages"

	// WallTime divides after elapsed wall-clock seconds.
	WallTime ReactiveBoundKind = "walltime"

	// CumulativeTime divides after summed increment solve seconds.
	CumulativeTime ReactiveBoundKind = "cumulative"
)

// Reactive commits divisions during sequential-yield solving once its
// elapsed bound is exceeded since the previous division: at the next step
// uniquely achieving a stage, or potentially earlier when preemptive
// achievement is enabled. Interrupting divisions halt the running solve;
// continuous ones are recorded without halting. An optional proactive
// strategy layers size-bound divisions underneath; by default the combined
// problem starts undivided.
type Reactive struct {
	Kind  ReactiveBoundKind
	Value float64

	Interrupting bool
	Preemptive   bool

	// Proactive optionally seeds the scenario before solving starts.
	Proactive Strategy
}

// Validate checks the reactive bound eagerly.
func (r *Reactive) Validate() error {
	switch r.Kind {
	case StageCount, WallTime, CumulativeTime:
	default:
		return &plan.ConfigurationError{Field: "division.reactive", Reason: "unknown reactive bound kind " + string(r.Kind)}
	}
	if r.Value <= 0 {
		return &plan.ConfigurationError{Field: "division.reactive", Reason: "reactive bound value must be positive"}
	}
	if p, ok := r.Proactive.(*Proactive); ok {
		return p.Validate()
	}
	return nil
}

// Proact delegates to the seeded proactive strategy, defaulting to an
// undivided scenario.
func (r *Reactive) Proact(parent *plan.MonolevelPlan, rng StageRange, previouslySolved int) (*Scenario, error) {
	if r.Proactive != nil {
		return r.Proactive.Proact(parent, rng, previouslySolved)
	}
	return NewScenario(rng, nil, previouslySolved)
}

// React commits a division once the measured quantity exceeds the bound.
// Dividing on the problem's last stage is pointless and suppressed.
func (r *Reactive) React(obs Observation) Reaction {
	if obs.FinalStagePending || obs.CurrentStage < obs.Range.First {
		return Reaction{}
	}

	exceeded := false
	switch r.Kind {
	case StageCount:
		exceeded = float64(obs.StagesSince) >= r.Value
	case WallTime:
		exceeded = obs.WallSince >= r.Value
	case CumulativeTime:
		exceeded = obs.CumulativeSince >= r.Value
	}
	if !exceeded {
		return Reaction{}
	}

	// Non-preemptive division waits for the next uniquely achieving step.
	if !obs.MatchingChild && !r.Preemptive {
		return Reaction{}
	}
	return Reaction{
		Divide:     true,
		Interrupt:  r.Interrupting,
		Preemptive: !obs.MatchingChild,
	}
}
