package refine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"strata/internal/division"
	"strata/internal/domain"
	"strata/internal/plan"
	"strata/internal/solver"
)

// State is the controller's current phase.
type State int

const (
	SolvingTop State = iota
	Dividing
	SolvingPartial
	Refining
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case SolvingTop:
		return "solving-top"
	case Dividing:
		return "dividing"
	case SolvingPartial:
		return "solving-partial"
	case Refining:
		return "refining"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Method selects the online traversal order over the division tree. It
// changes traversal order only, never true parallelism.
type Method string

const (
	// GroundFirst fully refines the earliest pending partial down to the
	// ground level before starting its sibling, minimising first-yield
	// latency.
	GroundFirst Method = "ground-first"

	// CompleteFirst fully solves an entire level before refining any
	// partial downward, maximising cross-partial information.
	CompleteFirst Method = "complete-first"

	// Hybrid descends eagerly once a level holds a configured lookahead
	// count of unrefined partials.
	Hybrid Method = "hybrid"
)

// levelState is the controller's bookkeeping for one level during a run.
type levelState struct {
	stages   []plan.SubGoalStage // constraint derived so far from the level above
	achieved map[int]int         // stage index -> achievement step
	partials []*plan.MonolevelPlan
	problems int // solved partial problems
	divided  int // last stage index covered by a scenario
	refined  int // partials already sequenced into the level below
	complete bool
}

func (ls *levelState) lastStageIndex() int {
	if len(ls.stages) == 0 {
		return 0
	}
	return ls.stages[len(ls.stages)-1].Index
}

// Controller is the top-down refinement driver. It owns the division tree
// and all per-run state exclusively for the duration of one run; nothing
// is shared across partial solves besides the explicit final-state handoff.
type Controller struct {
	hierarchy *domain.Hierarchy
	adapter   *solver.Adapter
	strategy  division.Strategy
	sequencer *Sequencer
	log       *zap.Logger

	runID    string
	started  time.Time
	state    State
	tree     *division.Tree
	levels   map[int]*levelState
	nodes    map[int]int // level -> arena index of the level's current scenario
	reactive []division.Point
	result   *plan.HierarchicalPlan
	failure  error
}

// NewController validates collaborators eagerly and prepares a run.
func NewController(h *domain.Hierarchy, adapter *solver.Adapter, strategy division.Strategy, log *zap.Logger) (*Controller, error) {
	if h == nil {
		return nil, &plan.ConfigurationError{Field: "hierarchy", Reason: "missing"}
	}
	if adapter == nil {
		return nil, &plan.ConfigurationError{Field: "adapter", Reason: "missing"}
	}
	if strategy == nil {
		strategy = division.Undivided{}
	}
	if v, ok := strategy.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = zap.NewNop()
	}

	runID := uuid.NewString()
	levels := make(map[int]*levelState, h.Size())
	for l := 1; l <= h.Top(); l++ {
		levels[l] = &levelState{achieved: make(map[int]int)}
	}
	return &Controller{
		hierarchy: h,
		adapter:   adapter,
		strategy:  strategy,
		sequencer: NewSequencer(log),
		log:       log,
		runID:     runID,
		started:   time.Now(),
		state:     SolvingTop,
		tree:      division.NewTree(),
		levels:    levels,
		nodes:     make(map[int]int),
		result: &plan.HierarchicalPlan{
			RunID:    runID,
			Levels:   make(map[int]*plan.MonolevelPlan),
			Partials: make(map[int][]*plan.MonolevelPlan),
			Yields:   make(map[int][]time.Duration),
			Started:  time.Now(),
		},
	}, nil
}

// RunID returns the run's identity, stamped on every produced plan.
func (c *Controller) RunID() string { return c.runID }

// State returns the controller's current phase.
func (c *Controller) State() State { return c.state }

// Done reports ground-level completion or failure.
func (c *Controller) Done() bool { return c.state == Complete || c.state == Failed }

// Tree returns the run's division tree.
func (c *Controller) Tree() *division.Tree { return c.tree }

// ReactivePoints returns every reactive division committed during the run,
// in commit order.
func (c *Controller) ReactivePoints() []division.Point { return c.reactive }

// Result returns the hierarchical plan assembled so far.
func (c *Controller) Result() *plan.HierarchicalPlan { return c.result }

// Run drives increments to ground-level completion and returns the full
// hierarchical plan. Online callers drive Increment themselves instead.
func (c *Controller) Run(ctx context.Context, method Method, lookahead int) (*plan.HierarchicalPlan, error) {
	for !c.Done() {
		if _, err := c.Increment(ctx, method, lookahead); err != nil {
			return c.result, err
		}
	}
	return c.result, c.failure
}

// Increment performs one online planning increment: it chooses the level
// range the method prescribes and solves one partial problem per level in
// descending order, feeding each solution's stages to the level below. It
// returns the ground partial plans the increment produced.
func (c *Controller) Increment(ctx context.Context, method Method, lookahead int) ([]*plan.MonolevelPlan, error) {
	if c.Done() {
		return nil, c.failure
	}

	start, err := c.startLevel(method)
	if err != nil {
		return nil, c.fail(err)
	}

	var grounds []*plan.MonolevelPlan
	for l := start; l >= 1; l-- {
		mono, err := c.solveOne(ctx, l)
		if err != nil {
			return grounds, c.fail(err)
		}

		if l == 1 {
			grounds = append(grounds, mono)
			c.result.Yields[1] = append(c.result.Yields[1], time.Since(c.started))
			if c.levels[1].complete {
				c.state = Complete
				c.result.Finished = time.Now()
			}
			break
		}

		if !c.descend(method, lookahead, l) {
			break
		}
		if err := c.sequence(l); err != nil {
			return grounds, c.fail(err)
		}
	}
	return grounds, nil
}

// sequence turns the level's unsequenced partials into stages of the level
// below. Sequencing is deferred until the method decides to descend, so a
// level can accumulate partials before the next level sees them.
func (c *Controller) sequence(l int) error {
	c.state = Refining
	ls := c.levels[l]
	child := c.hierarchy.Level(l - 1)
	for _, partial := range ls.partials[ls.refined:] {
		stages, err := c.sequencer.Stages(partial, child)
		if err != nil {
			return err
		}
		c.levels[l-1].stages = append(c.levels[l-1].stages, stages...)
	}
	ls.refined = len(ls.partials)
	return nil
}

// startLevel picks the increment's starting level per the online method.
func (c *Controller) startLevel(method Method) (int, error) {
	switch method {
	case CompleteFirst:
		for l := c.hierarchy.Top(); l >= 1; l-- {
			if c.plannable(l) {
				return l, nil
			}
		}
	case GroundFirst, Hybrid, "":
		for l := 1; l <= c.hierarchy.Top(); l++ {
			if c.plannable(l) {
				return l, nil
			}
		}
	default:
		return 0, &plan.ConfigurationError{Field: "online.method", Reason: "unknown online method " + string(method)}
	}
	return 0, fmt.Errorf("no plannable level remains but the ground level is incomplete")
}

// plannable reports whether the level has an unsolved problem available
// right now.
func (c *Controller) plannable(l int) bool {
	ls := c.levels[l]
	if ls.complete {
		return false
	}
	if l == c.hierarchy.Top() {
		return true
	}
	// Work exists when stages derived from above are not yet all achieved.
	return ls.lastStageIndex() > 0 && len(ls.achieved) < len(ls.stages)
}

// descend decides whether the increment continues to the level below after
// solving at level l.
func (c *Controller) descend(method Method, lookahead int, l int) bool {
	switch method {
	case CompleteFirst:
		return c.levels[l].complete
	case Hybrid:
		ls := c.levels[l]
		if lookahead < 1 {
			lookahead = 1
		}
		return ls.complete || len(ls.partials)-ls.refined >= lookahead
	default: // ground-first
		return true
	}
}

// solveOne solves the next pending problem at the level: the unconstrained
// complete problem at the top, or the next partial of the level's current
// division scenario below it.
func (c *Controller) solveOne(ctx context.Context, l int) (*plan.MonolevelPlan, error) {
	if l == c.hierarchy.Top() {
		return c.solveTop(ctx)
	}
	return c.solvePartial(ctx, l)
}

func (c *Controller) solveTop(ctx context.Context) (*plan.MonolevelPlan, error) {
	c.state = SolvingTop
	top := c.hierarchy.Level(c.hierarchy.Top())
	problem := &plan.Problem{
		Level:   top.Index,
		Initial: top.Initial,
		Goal:    top.Goal,
		IsFinal: true,
	}
	outcome, err := c.adapter.Solve(ctx, &solver.Request{
		Problem: problem,
		Theory:  top.Theory.Source,
		RunID:   c.runID,
	})
	if err != nil {
		return nil, err
	}
	c.record(top.Index, outcome.Plan)
	ls := c.levels[top.Index]
	ls.problems++
	ls.complete = true
	c.log.Info("top level solved",
		zap.Int("level", top.Index),
		zap.Int("length", outcome.Plan.Length()),
		zap.Int("actions", outcome.Plan.TotalActions()))
	return outcome.Plan, nil
}

func (c *Controller) solvePartial(ctx context.Context, l int) (*plan.MonolevelPlan, error) {
	ls := c.levels[l]
	level := c.hierarchy.Level(l)
	number := ls.problems + 1

	scenario, err := c.currentScenario(l, number)
	if err != nil {
		return nil, err
	}
	stageRange, err := scenario.SubGoalRange(number, false)
	if err != nil {
		return nil, err
	}

	initial := level.Initial
	startStep := 0
	if n := len(ls.partials); n > 0 {
		prev := ls.partials[n-1]
		initial = prev.FinalState()
		startStep = prev.EndStep()
	}
	isFinal := c.levels[l+1].complete && stageRange.Last == ls.lastStageIndex()

	problem := &plan.Problem{
		Level:      l,
		Initial:    initial,
		Goal:       level.Goal,
		Stages:     stageRange.Sub(ls.stages),
		FirstStage: stageRange.First,
		LastStage:  stageRange.Last,
		StartStep:  startStep,
		IsFinal:    isFinal,
		Number:     number,
	}

	c.state = SolvingPartial
	outcome, err := c.adapter.Solve(ctx, &solver.Request{
		Problem:          problem,
		Theory:           level.Theory.Source,
		RunID:            c.runID,
		StageLowerBounds: c.stageLowerBounds(l, problem.Stages),
		Strategy:         c.strategy,
	})
	if err != nil {
		var pf *plan.PlanningFailure
		if errors.As(err, &pf) {
			// No valid plan at this level given the fixed parent stages.
			return nil, &plan.RefinementFailure{Level: l, Problem: number, Cause: err}
		}
		return nil, err
	}

	// Fold any reactive divisions into the scenario and run records.
	c.reactive = append(c.reactive, outcome.ReactivePoints...)
	for _, point := range outcome.ReactivePoints {
		if point.Interrupting {
			scenario.UpdateReactively(point)
		}
	}

	c.record(l, outcome.Plan)
	ls.problems++
	for index, step := range outcome.Plan.AchievedAt {
		ls.achieved[index] = step
	}
	ls.complete = c.levels[l+1].complete &&
		len(ls.achieved) == len(ls.stages) &&
		outcome.Plan.IsFinal

	c.log.Info("partial solved",
		zap.Int("level", l),
		zap.Int("problem", number),
		zap.Int("first_stage", stageRange.First),
		zap.Int("last_stage", stageRange.Last),
		zap.Int("length", outcome.Plan.Length()),
		zap.Bool("interrupted", outcome.Interrupted),
		zap.Bool("complete", ls.complete))
	return outcome.Plan, nil
}

// currentScenario returns the scenario covering the problem number,
// proactively dividing the newly produced stages when none exists yet.
func (c *Controller) currentScenario(l, number int) (*division.Scenario, error) {
	if s := c.tree.CurrentFor(l, number); s != nil {
		return s, nil
	}

	ls := c.levels[l]
	last := ls.lastStageIndex()
	if last <= ls.divided {
		return nil, fmt.Errorf("no division scenario covers problem %d at level %d", number, l)
	}

	c.state = Dividing
	parent := c.latestPartial(l + 1)
	r := division.StageRange{First: ls.divided + 1, Last: last}
	scenario, err := c.strategy.Proact(parent, r, ls.problems)
	if err != nil {
		return nil, err
	}
	parentNode := -1
	if idx, ok := c.nodes[l+1]; ok {
		parentNode = idx
	}
	c.nodes[l] = c.tree.Add(l, parentNode, scenario)
	ls.divided = last

	c.log.Debug("proactive division", zap.Int("level", l), zap.String("scenario", scenario.String()))
	return scenario, nil
}

func (c *Controller) latestPartial(l int) *plan.MonolevelPlan {
	ls, ok := c.levels[l]
	if !ok || len(ls.partials) == 0 {
		return &plan.MonolevelPlan{Level: l}
	}
	return ls.partials[len(ls.partials)-1]
}

// stageLowerBounds derives minimum-bound pruning bounds: under sequential
// action planning each concurrent action of the producing parent step needs
// at least one child step of its own.
func (c *Controller) stageLowerBounds(l int, stages []plan.SubGoalStage) map[int]int {
	parent := c.latestPartial(l + 1)
	bounds := make(map[int]int, len(stages))
	for _, g := range stages {
		lb := 1
		i := g.SourceStep - parent.StartStep - 1
		if i >= 0 && i < len(parent.Steps) {
			if n := len(parent.Steps[i]); n > lb {
				lb = n
			}
		}
		bounds[g.Index] = lb
	}
	return bounds
}

// record files a produced partial into the run result, concatenating it
// onto the level's combined plan.
func (c *Controller) record(l int, mono *plan.MonolevelPlan) {
	c.result.Partials[l] = append(c.result.Partials[l], mono)
	ls := c.levels[l]
	ls.partials = append(ls.partials, mono)

	combined, ok := c.result.Levels[l]
	if !ok {
		clone := *mono
		clone.Statistics = plan.Stats{}
		clone.Statistics.Increments = append([]plan.IncrementStats(nil), mono.Statistics.Increments...)
		clone.Statistics.Overhead = mono.Statistics.Overhead
		clone.Steps = append([]plan.ActionSet(nil), mono.Steps...)
		clone.States = append([]plan.State(nil), mono.States...)
		clone.AchievedAt = make(map[int]int, len(mono.AchievedAt))
		for k, v := range mono.AchievedAt {
			clone.AchievedAt[k] = v
		}
		c.result.Levels[l] = &clone
		return
	}
	if err := combined.Append(mono); err != nil {
		c.log.Warn("discontiguous partial", zap.Int("level", l), zap.Error(err))
	}
}

func (c *Controller) fail(err error) error {
	c.state = Failed
	c.failure = err
	c.result.Finished = time.Now()
	c.log.Error("refinement run failed", zap.Error(err))
	return err
}

// Schema exports the finished run's refinement schema: per level, each
// achieved stage index and its achievement step, for the reporting
// collaborator.
func (c *Controller) Schema() map[int]map[int]int {
	out := make(map[int]map[int]int, len(c.levels))
	for l, ls := range c.levels {
		if len(ls.achieved) == 0 {
			continue
		}
		levelSchema := make(map[int]int, len(ls.achieved))
		for index, step := range ls.achieved {
			levelSchema[index] = step
		}
		out[l] = levelSchema
	}
	return out
}
