package plan

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// IncrementStats records the cost of one solve increment (one step bound).
type IncrementStats struct {
	Step      int           `json:"step"`
	Grounding time.Duration `json:"grounding"`
	Solving   time.Duration `json:"solving"`
}

// Total returns the combined grounding and solving time of the increment.
func (s IncrementStats) Total() time.Duration { return s.Grounding + s.Solving }

// Stats aggregates the solver cost of producing one monolevel plan.
type Stats struct {
	Increments []IncrementStats `json:"increments"`
	Overhead   time.Duration    `json:"overhead"` // yield-mode bookkeeping time
}

// TotalTime returns the summed time of all increments plus overhead.
func (s Stats) TotalTime() time.Duration {
	total := s.Overhead
	for _, inc := range s.Increments {
		total += inc.Total()
	}
	return total
}

// MonolevelPlan is an ordered sequence of action sets solving one monolevel
// problem, possibly a partial one. Steps[i] holds the actions planned on
// step StartStep+i+1; the state reached after the last step is FinalState.
type MonolevelPlan struct {
	Level     int         `json:"level"`
	Number    int         `json:"number"` // partial-problem number, 1-based
	RunID     string      `json:"run_id"`
	StartStep int         `json:"start_step"`
	Steps     []ActionSet `json:"steps"`

	// States[i] is the state reached after Steps[i]; States has the same
	// length as Steps. InitialState is the state the plan started from.
	InitialState State   `json:"-"`
	States       []State `json:"-"`

	// AchievedAt maps each constraint stage index the plan achieved to the
	// step that minimally uniquely achieved it.
	AchievedAt map[int]int `json:"achieved_at,omitempty"`

	// Trailing reports a trailing sub-plan: steps after the last stage's
	// achievement needed to reach a more specific final goal.
	Trailing bool `json:"trailing"`

	// IsFinal records that the plan achieves the level's final goal.
	IsFinal bool `json:"is_final"`

	Statistics Stats `json:"statistics"`
}

// Length returns the number of steps in the plan.
func (m *MonolevelPlan) Length() int { return len(m.Steps) }

// EndStep returns the step index of the plan's last step.
func (m *MonolevelPlan) EndStep() int { return m.StartStep + len(m.Steps) }

// TotalActions returns the number of actions over all steps.
func (m *MonolevelPlan) TotalActions() int {
	total := 0
	for _, step := range m.Steps {
		total += len(step)
	}
	return total
}

// FinalState returns the state reached by the plan, or the initial state
// for an empty plan.
func (m *MonolevelPlan) FinalState() State {
	if len(m.States) == 0 {
		return m.InitialState
	}
	return m.States[len(m.States)-1]
}

// StateAt returns the state holding after the given step. The start step
// returns the initial state.
func (m *MonolevelPlan) StateAt(step int) (State, bool) {
	if step == m.StartStep {
		return m.InitialState, true
	}
	i := step - m.StartStep - 1
	if i < 0 || i >= len(m.States) {
		return nil, false
	}
	return m.States[i], true
}

// StageIndices returns the achieved stage indices in sequence order.
func (m *MonolevelPlan) StageIndices() []int {
	out := make([]int, 0, len(m.AchievedAt))
	for index := range m.AchievedAt {
		out = append(out, index)
	}
	sort.Ints(out)
	return out
}

// LastAchievedStage returns the highest achieved stage index, or zero when
// the plan achieved none.
func (m *MonolevelPlan) LastAchievedStage() int {
	last := 0
	for index := range m.AchievedAt {
		if index > last {
			last = index
		}
	}
	return last
}

// SubPlanLength returns the length of the sub-plan that achieves the given
// stage index: the steps between the previous stage's achievement (or the
// start step) and this stage's.
func (m *MonolevelPlan) SubPlanLength(index int) int {
	step, ok := m.AchievedAt[index]
	if !ok {
		return 0
	}
	prev := m.StartStep
	if p, ok := m.AchievedAt[index-1]; ok {
		prev = p
	}
	return step - prev
}

// ExpansionFactor is the plan length divided by the number of achieved
// stages: how many child steps each parent step expanded into.
func (m *MonolevelPlan) ExpansionFactor() float64 {
	if len(m.AchievedAt) == 0 {
		return 0
	}
	return float64(m.Length()) / float64(len(m.AchievedAt))
}

// ExpansionDeviation is the population standard deviation of the per-stage
// sub-plan lengths.
func (m *MonolevelPlan) ExpansionDeviation() float64 {
	indices := m.StageIndices()
	if len(indices) == 0 {
		return 0
	}
	mean := 0.0
	lengths := make([]float64, len(indices))
	for i, index := range indices {
		lengths[i] = float64(m.SubPlanLength(index))
		mean += lengths[i]
	}
	mean /= float64(len(lengths))
	variance := 0.0
	for _, l := range lengths {
		variance += (l - mean) * (l - mean)
	}
	return math.Sqrt(variance / float64(len(lengths)))
}

// Append extends the plan with the steps, states, achievements and
// statistics of a continuation plan. The continuation must start where this
// plan ends.
func (m *MonolevelPlan) Append(next *MonolevelPlan) error {
	if next.StartStep != m.EndStep() {
		return fmt.Errorf("cannot append plan starting at step %d to plan ending at step %d",
			next.StartStep, m.EndStep())
	}
	m.Steps = append(m.Steps, next.Steps...)
	m.States = append(m.States, next.States...)
	if m.AchievedAt == nil && len(next.AchievedAt) > 0 {
		m.AchievedAt = make(map[int]int, len(next.AchievedAt))
	}
	for index, step := range next.AchievedAt {
		m.AchievedAt[index] = step
	}
	m.Trailing = next.Trailing
	m.IsFinal = next.IsFinal
	m.Statistics.Increments = append(m.Statistics.Increments, next.Statistics.Increments...)
	m.Statistics.Overhead += next.Statistics.Overhead
	return nil
}

func (m *MonolevelPlan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "level %d plan: steps [%d-%d], actions %d, stages %d",
		m.Level, m.StartStep, m.EndStep(), m.TotalActions(), len(m.AchievedAt))
	if m.Trailing {
		b.WriteString(", trailing")
	}
	return b.String()
}

// HierarchicalPlan is the outcome of one refinement run: one concatenated
// plan per level, the partial plans they were assembled from, and run-level
// timings. Level 1 is the ground level.
type HierarchicalPlan struct {
	RunID    string                    `json:"run_id"`
	Levels   map[int]*MonolevelPlan    `json:"levels"`
	Partials map[int][]*MonolevelPlan  `json:"-"`
	Yields   map[int][]time.Duration   `json:"-"` // per-level partial yield times since run start
	Started  time.Time                 `json:"started"`
	Finished time.Time                 `json:"finished"`
}

// Ground returns the ground-level plan, or nil before it exists.
func (h *HierarchicalPlan) Ground() *MonolevelPlan { return h.Levels[1] }

// ExecutionLatency returns the time from run start to the first ground
// partial yield, or zero when no ground plan was yielded.
func (h *HierarchicalPlan) ExecutionLatency() time.Duration {
	yields := h.Yields[1]
	if len(yields) == 0 {
		return 0
	}
	return yields[0]
}

// AverageYieldTime returns the mean ground partial yield time.
func (h *HierarchicalPlan) AverageYieldTime() time.Duration {
	yields := h.Yields[1]
	if len(yields) == 0 {
		return 0
	}
	var total time.Duration
	for _, y := range yields {
		total += y
	}
	return total / time.Duration(len(yields))
}

// OverallTotalTime sums the solver time spent at every level.
func (h *HierarchicalPlan) OverallTotalTime() time.Duration {
	var total time.Duration
	for _, p := range h.Levels {
		total += p.Statistics.TotalTime()
	}
	return total
}
