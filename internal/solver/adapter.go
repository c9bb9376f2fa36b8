package solver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"strata/internal/division"
	"strata/internal/plan"
)

// SearchMode selects how the adapter drives the oracle.
type SearchMode string

const (
	// Standard solves the whole problem under plain iterative deepening.
	Standard SearchMode = "standard"

	// MinimumBound additionally prunes with per-stage derived lower bounds.
	MinimumBound SearchMode = "minimum-bound"

	// SequentialYield returns control as each stage is uniquely achieved,
	// resuming from the reached state, instead of waiting for completion.
	SequentialYield SearchMode = "sequential-yield"
)

// ActionMode selects sequential or concurrent action planning.
type ActionMode string

const (
	SequentialActions ActionMode = "sequential"
	ConcurrentActions ActionMode = "concurrent"
)

// Options fixes the adapter's search behaviour for a run.
type Options struct {
	Mode        SearchMode
	Achievement Achievement
	Actions     ActionMode

	// MaxSetSize caps concurrent action sets per step.
	MaxSetSize int

	// IncrementStep is the bound increase per deepening round.
	IncrementStep int

	// MaxLength is the hard step cap; unsatisfiability at it is terminal.
	MaxLength int

	// Timeout bounds each solve attempt; zero disables it.
	Timeout time.Duration

	// RetryRelaxed retries a failed oracle call once with the attempt
	// timeout stretched by RelaxFactor.
	RetryRelaxed bool
	RelaxFactor  float64
}

// Validate rejects malformed options before solving starts.
func (o Options) Validate() error {
	switch o.Mode {
	case Standard, MinimumBound, SequentialYield:
	default:
		return &plan.ConfigurationError{Field: "solver.mode", Reason: "unknown search mode " + string(o.Mode)}
	}
	switch o.Achievement {
	case Sequential, Simultaneous:
	default:
		return &plan.ConfigurationError{Field: "solver.achievement", Reason: "unknown achievement type " + string(o.Achievement)}
	}
	switch o.Actions {
	case SequentialActions, ConcurrentActions:
	default:
		return &plan.ConfigurationError{Field: "solver.actions", Reason: "unknown action mode " + string(o.Actions)}
	}
	if o.IncrementStep < 1 {
		return &plan.ConfigurationError{Field: "solver.increment_step", Reason: "increment step must be at least 1"}
	}
	if o.MaxLength < 1 {
		return &plan.ConfigurationError{Field: "solver.max_length", Reason: "length cap must be at least 1"}
	}
	if o.Actions == ConcurrentActions && o.MaxSetSize < 2 {
		return &plan.ConfigurationError{Field: "solver.max_set_size", Reason: "concurrent planning needs a set size of at least 2"}
	}
	if o.Mode == SequentialYield && o.Achievement == Simultaneous {
		// Yield segments are attributed to one ordered stage each; unordered
		// achievement has no such stage.
		return &plan.ConfigurationError{Field: "solver.mode", Reason: "sequential-yield requires sequential achievement"}
	}
	if o.RetryRelaxed && o.RelaxFactor <= 1 {
		return &plan.ConfigurationError{Field: "solver.relax_factor", Reason: "relax factor must exceed 1"}
	}
	return nil
}

// Request is one monolevel solve.
type Request struct {
	Problem *plan.Problem
	Theory  string
	RunID   string

	// StageLowerBounds carries the per-stage derived lower bounds required
	// by minimum-bound mode, keyed by stage index.
	StageLowerBounds map[int]int

	// Strategy, when non-nil, is consulted for reactive divisions during
	// sequential-yield solving.
	Strategy division.Strategy
}

// Outcome is a solved (possibly interrupted) monolevel problem.
type Outcome struct {
	Plan *plan.MonolevelPlan

	// ReactivePoints are the divisions committed during this solve, in
	// commit order.
	ReactivePoints []division.Point

	// Interrupted reports that an interrupting reactive division halted the
	// solve before the requested last stage; the plan's final state is the
	// continuation state for a fresh partial problem.
	Interrupted bool
}

// Adapter solves one planning problem at one level via the solver oracle.
type Adapter struct {
	oracle Oracle
	opts   Options
	log    *zap.Logger
}

// NewAdapter validates the options and builds an adapter.
func NewAdapter(oracle Oracle, opts Options, log *zap.Logger) (*Adapter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{oracle: oracle, opts: opts, log: log}, nil
}

// Solve solves the request's problem, honouring the adapter's search mode.
func (a *Adapter) Solve(ctx context.Context, req *Request) (*Outcome, error) {
	p := req.Problem
	a.log.Debug("monolevel solve", zap.String("problem", p.Describe()), zap.String("mode", string(a.opts.Mode)))

	if a.opts.Mode == SequentialYield && p.Conformance() {
		return a.solveYielding(ctx, req)
	}
	return a.solveWhole(ctx, req)
}

// solveWhole runs one iterative-deepening search over the full problem.
func (a *Adapter) solveWhole(ctx context.Context, req *Request) (*Outcome, error) {
	p := req.Problem
	program := a.baseProgram(req, p.Initial, p.Stages)
	if p.IsFinal {
		program.Goal = p.Goal.Literals()
	}

	minBound := a.minimumBound(req, a.pendingStages(p))
	model, stats, err := a.deepen(ctx, req, program, minBound)
	if err != nil {
		return nil, err
	}
	mono := a.decode(p, req.RunID, model)
	mono.Statistics = stats
	return &Outcome{Plan: mono}, nil
}

// solveYielding achieves the constraint one stage at a time, consulting the
// division strategy between yields. This is the only cooperative suspension
// point inside a monolevel solve.
func (a *Adapter) solveYielding(ctx context.Context, req *Request) (*Outcome, error) {
	p := req.Problem
	outcome := &Outcome{}
	mono := &plan.MonolevelPlan{
		Level:        p.Level,
		Number:       p.Number,
		RunID:        req.RunID,
		StartStep:    p.StartStep,
		InitialState: p.Initial.Clone(),
		AchievedAt:   make(map[int]int),
	}

	state := p.Initial
	yieldStart := time.Now()
	lastDivisionStage := p.FirstStage - 1
	lastDivisionTime := yieldStart
	cumulative := 0.0

	for si, stage := range p.Stages {
		// A stage can already hold in the handed-forward state.
		if stage.HeldBy(state) {
			mono.AchievedAt[stage.Index] = mono.EndStep()
			continue
		}

		final := p.IsFinal && si == len(p.Stages)-1
		program := a.baseProgram(req, state, p.Stages[si:])
		program.YieldOnStage = !final
		if final {
			program.Goal = p.Goal.Literals()
		}

		minBound := 1
		if final {
			minBound = a.minimumBound(req, p.Stages[si:si+1])
		}
		model, stats, err := a.deepen(ctx, req, program, minBound)
		if err != nil {
			outcome.Plan = mono
			return outcome, err
		}

		segment := a.decodeSegment(p, stage, final, mono.EndStep(), state, model)
		overhead := time.Now()
		if err := mono.Append(segment); err != nil {
			return nil, &plan.SolverError{Level: p.Level, Problem: p.Number, Err: err}
		}
		mono.Statistics.Increments = append(mono.Statistics.Increments, stats.Increments...)
		state = mono.FinalState()
		for _, inc := range stats.Increments {
			cumulative += inc.Total().Seconds()
		}
		mono.Statistics.Overhead += time.Since(overhead)

		if req.Strategy == nil || final {
			continue
		}
		obs := division.Observation{
			Level:             p.Level,
			Range:             division.StageRange{First: p.FirstStage, Last: p.LastStage},
			CurrentStage:      stage.Index,
			SearchLength:      mono.EndStep(),
			MatchingChild:     true,
			FinalStagePending: si >= len(p.Stages)-2,
			StagesSince:       stage.Index - lastDivisionStage,
			WallSince:         time.Since(lastDivisionTime).Seconds(),
			CumulativeSince:   cumulative,
		}
		reaction := req.Strategy.React(obs)
		if !reaction.Divide {
			continue
		}

		point := division.Point{
			Index:         stage.Index,
			Reactive:      true,
			Interrupting:  reaction.Interrupt,
			Preemptive:    reaction.Preemptive,
			CommittedStep: mono.EndStep(),
		}
		outcome.ReactivePoints = append(outcome.ReactivePoints, point)
		lastDivisionStage = stage.Index
		lastDivisionTime = time.Now()
		cumulative = 0

		if reaction.Interrupt {
			a.log.Debug("interrupting reactive division",
				zap.Int("level", p.Level), zap.Int("stage", stage.Index), zap.Int("step", mono.EndStep()))
			outcome.Interrupted = true
			outcome.Plan = mono
			return outcome, nil
		}
	}

	mono.IsFinal = p.IsFinal
	outcome.Plan = mono
	return outcome, nil
}

func (a *Adapter) baseProgram(req *Request, initial plan.State, stages []plan.SubGoalStage) *Program {
	return &Program{
		Theory:          req.Theory,
		Initial:         initial,
		Stages:          stages,
		Achievement:     a.opts.Achievement,
		Concurrent:      a.opts.Actions == ConcurrentActions,
		MaxSetSize:      a.opts.MaxSetSize,
		MinimizeActions: a.opts.Actions == ConcurrentActions,
	}
}

// minimumBound derives the deepening start bound from the stages still
// pending: their count, or their summed lower bounds in minimum-bound
// mode. Counting stages the initial state already satisfies would push the
// start bound past the optimum and break length optimality.
func (a *Adapter) minimumBound(req *Request, stages []plan.SubGoalStage) int {
	bound := len(stages)
	if bound < 1 {
		bound = 1
	}
	if a.opts.Mode == MinimumBound && len(req.StageLowerBounds) > 0 {
		derived := 0
		for _, g := range stages {
			if lb, ok := req.StageLowerBounds[g.Index]; ok && lb > 0 {
				derived += lb
			} else {
				derived++
			}
		}
		if derived > bound {
			bound = derived
		}
	}
	return bound
}

// pendingStages drops the stages the problem's initial state already
// satisfies: the held prefix under sequential achievement, any held stage
// under simultaneous achievement. Blended ranges hand such stages forward
// already achieved.
func (a *Adapter) pendingStages(p *plan.Problem) []plan.SubGoalStage {
	if a.opts.Achievement == Simultaneous {
		out := make([]plan.SubGoalStage, 0, len(p.Stages))
		for _, g := range p.Stages {
			if !g.HeldBy(p.Initial) {
				out = append(out, g)
			}
		}
		return out
	}
	i := 0
	for i < len(p.Stages) && p.Stages[i].HeldBy(p.Initial) {
		i++
	}
	return p.Stages[i:]
}

// deepen runs iterative deepening over the oracle: start at the minimum
// bound and increase by the configured step until a model is found or the
// caps are reached.
func (a *Adapter) deepen(ctx context.Context, req *Request, program *Program, minBound int) (*Model, plan.Stats, error) {
	p := req.Problem
	var stats plan.Stats
	bound := minBound
	for {
		if bound > a.opts.MaxLength {
			bound = a.opts.MaxLength
		}
		program.Bound = bound

		result, err := a.attempt(ctx, program)
		if err != nil {
			return nil, stats, &plan.SolverError{Level: p.Level, Problem: p.Number, Err: err}
		}
		stats.Increments = append(stats.Increments, plan.IncrementStats{
			Step:      bound,
			Grounding: result.Grounding,
			Solving:   result.Solving,
		})
		if !result.Unsat() {
			return result.Model, stats, nil
		}
		if bound >= a.opts.MaxLength {
			return nil, stats, &plan.PlanningFailure{
				Level:   p.Level,
				Problem: p.Number,
				Bound:   bound,
				Reason:  "unsatisfiable at the hard length cap",
			}
		}
		bound += a.opts.IncrementStep
	}
}

// attempt submits one bounded program, applying the per-attempt timeout and
// the configured single relaxed retry on oracle errors.
func (a *Adapter) attempt(ctx context.Context, program *Program) (*Result, error) {
	result, err := a.submit(ctx, program, a.opts.Timeout)
	if err == nil || errors.Is(err, context.Canceled) {
		return result, err
	}
	if !a.opts.RetryRelaxed {
		return nil, err
	}
	relaxed := time.Duration(float64(a.opts.Timeout) * a.opts.RelaxFactor)
	a.log.Warn("oracle failed, retrying once with relaxed bound", zap.Error(err), zap.Duration("timeout", relaxed))
	return a.submit(ctx, program, relaxed)
}

func (a *Adapter) submit(ctx context.Context, program *Program, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return a.oracle.Solve(ctx, program)
}

// decode maps a returned model to a monolevel plan: action steps, per-stage
// achievement steps, and the trailing sub-plan flag. Decoding is pure over
// the model, so decoding the same model twice is structurally identical.
func (a *Adapter) decode(p *plan.Problem, runID string, model *Model) *plan.MonolevelPlan {
	mono := &plan.MonolevelPlan{
		Level:        p.Level,
		Number:       p.Number,
		RunID:        runID,
		StartStep:    p.StartStep,
		InitialState: p.Initial.Clone(),
		IsFinal:      p.IsFinal,
		AchievedAt:   make(map[int]int),
	}
	for _, set := range model.Steps {
		leveled := make(plan.ActionSet, len(set))
		for i, action := range set {
			leveled[i] = plan.Action{Name: action.Name, Level: p.Level}
		}
		mono.Steps = append(mono.Steps, leveled)
	}
	mono.States = append(mono.States, model.States...)

	decodeAchievements(mono, p.Initial, p.Stages)

	if last, ok := lastAchievementStep(mono); ok && last < mono.EndStep() {
		mono.Trailing = true
	}
	return mono
}

// decodeSegment decodes one sequential-yield segment: the steps appended to
// reach the given stage (or, for the final segment, every remaining stage
// and the goal).
func (a *Adapter) decodeSegment(p *plan.Problem, stage plan.SubGoalStage, final bool, startStep int, initial plan.State, model *Model) *plan.MonolevelPlan {
	segment := &plan.MonolevelPlan{
		Level:        p.Level,
		Number:       p.Number,
		StartStep:    startStep,
		InitialState: initial.Clone(),
		AchievedAt:   make(map[int]int),
		IsFinal:      final,
	}
	for _, set := range model.Steps {
		leveled := make(plan.ActionSet, len(set))
		for i, action := range set {
			leveled[i] = plan.Action{Name: action.Name, Level: p.Level}
		}
		segment.Steps = append(segment.Steps, leveled)
	}
	segment.States = append(segment.States, model.States...)

	if final {
		remaining := make([]plan.SubGoalStage, 0)
		for _, g := range p.Stages {
			if g.Index >= stage.Index {
				remaining = append(remaining, g)
			}
		}
		decodeAchievements(segment, initial, remaining)
		if last, ok := lastAchievementStep(segment); ok && last < segment.EndStep() {
			segment.Trailing = true
		}
	} else {
		segment.AchievedAt[stage.Index] = segment.EndStep()
	}
	return segment
}

// decodeAchievements records, per stage, the first step from the resume
// point where the stage holds. A stage already held at the resume point is
// credited there; scanning resumes after each achievement, preserving
// sequence order.
func decodeAchievements(mono *plan.MonolevelPlan, initial plan.State, stages []plan.SubGoalStage) {
	from := 0
	for _, stage := range stages {
		if stage.HeldBy(stateBefore(mono, initial, from)) {
			mono.AchievedAt[stage.Index] = mono.StartStep + from
			continue
		}
		for i := from; i < len(mono.States); i++ {
			if stage.HeldBy(mono.States[i]) {
				mono.AchievedAt[stage.Index] = mono.StartStep + i + 1
				from = i + 1
				break
			}
		}
	}
}

func stateBefore(mono *plan.MonolevelPlan, initial plan.State, i int) plan.State {
	if i == 0 {
		return initial
	}
	return mono.States[i-1]
}

func lastAchievementStep(mono *plan.MonolevelPlan) (int, bool) {
	last, found := 0, false
	for _, step := range mono.AchievedAt {
		if step > last {
			last = step
		}
		found = true
	}
	return last, found
}
