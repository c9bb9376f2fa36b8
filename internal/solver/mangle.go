package solver

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"strata/internal/plan"
)

// MangleOracle answers bounded programs with Google Mangle as the
// declarative engine. The theory's Datalog rules carry all domain
// reasoning: action applicability, effects, static closure and static-law
// violations are derived by rule evaluation over the current state's
// `holds` facts. The oracle performs only the bounded model search around
// that closure and never interprets the domain itself.
//
// Theory contract (all arguments are string constants):
//
//	holds(F, V)    EDB   current fluent assignment (declared by the theory)
//	poss(A)        IDB   action A is applicable
//	eff(A, F, V)   IDB   A assigns V to F
//	mutex(A, B)    IDB   A and B may not share a step (optional)
//	derived(F, V)  IDB   static closure folded into the state (optional)
//	viol(R)        IDB   static-law violation, prunes the state (optional)
type MangleOracle struct {
	mu       sync.Mutex
	programs map[string]*analysis.ProgramInfo
}

// NewMangleOracle returns an oracle with an empty theory cache.
func NewMangleOracle() *MangleOracle {
	return &MangleOracle{programs: make(map[string]*analysis.ProgramInfo)}
}

// Solve implements Oracle.
func (o *MangleOracle) Solve(ctx context.Context, p *Program) (*Result, error) {
	groundStart := time.Now()
	info, err := o.compile(p.Theory)
	if err != nil {
		return nil, fmt.Errorf("theory rejected by solver: %w", err)
	}

	initial, violated, err := o.closure(info, p.Initial)
	if err != nil {
		return nil, err
	}
	groundingDur := time.Since(groundStart)
	if violated {
		// The initial state breaks a static law: nothing to search.
		return &Result{Grounding: groundingDur}, nil
	}

	solveStart := time.Now()
	s := &search{
		program: p,
		visited: make(map[string]int),
		ground:  func(st plan.State) (*grounding, error) { return o.ground(info, st) },
		closure: func(st plan.State) (plan.State, bool, error) { return o.closure(info, st) },
	}
	model, err := s.run(ctx, initial)
	solving := time.Since(solveStart)
	if err != nil {
		return nil, err
	}
	return &Result{Model: model, Grounding: groundingDur, Solving: solving}, nil
}

func (o *MangleOracle) compile(theory string) (*analysis.ProgramInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if info, ok := o.programs[theory]; ok {
		return info, nil
	}
	unit, err := parse.Unit(bytes.NewReader([]byte(theory)))
	if err != nil {
		return nil, fmt.Errorf("parse theory: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze theory: %w", err)
	}
	o.programs[theory] = info
	return info, nil
}

// ground evaluates the theory over one state and reads back the derived
// relations the search needs.
type grounding struct {
	poss    []string
	eff     map[string][]assignment
	mutex   map[[2]string]bool
	derived []assignment
	viol    bool
}

type assignment struct {
	fluent string
	value  string
}

func (o *MangleOracle) ground(info *analysis.ProgramInfo, state plan.State) (*grounding, error) {
	store := factstore.NewSimpleInMemoryStore()
	for f, v := range state {
		store.Add(ast.NewAtom("holds", ast.String(f), ast.String(v)))
	}
	if err := mengine.EvalProgram(info, store); err != nil {
		return nil, fmt.Errorf("evaluate theory: %w", err)
	}

	g := &grounding{eff: make(map[string][]assignment), mutex: make(map[[2]string]bool)}
	if err := queryStrings(store, "poss", 1, func(args []string) {
		g.poss = append(g.poss, args[0])
	}); err != nil {
		return nil, err
	}
	if err := queryStrings(store, "eff", 3, func(args []string) {
		g.eff[args[0]] = append(g.eff[args[0]], assignment{fluent: args[1], value: args[2]})
	}); err != nil {
		return nil, err
	}
	if err := queryStrings(store, "mutex", 2, func(args []string) {
		g.mutex[[2]string{args[0], args[1]}] = true
		g.mutex[[2]string{args[1], args[0]}] = true
	}); err != nil {
		return nil, err
	}
	if err := queryStrings(store, "derived", 2, func(args []string) {
		g.derived = append(g.derived, assignment{fluent: args[0], value: args[1]})
	}); err != nil {
		return nil, err
	}
	if err := queryStrings(store, "viol", 1, func([]string) { g.viol = true }); err != nil {
		return nil, err
	}
	sort.Strings(g.poss)
	return g, nil
}

// closure folds a state's derived facts in and reports static violations.
func (o *MangleOracle) closure(info *analysis.ProgramInfo, state plan.State) (plan.State, bool, error) {
	g, err := o.ground(info, state)
	if err != nil {
		return nil, false, err
	}
	out := state.Clone()
	for _, d := range g.derived {
		out[d.fluent] = d.value
	}
	return out, g.viol, nil
}

// queryStrings walks every fact of the predicate, ignoring predicates the
// theory never defines.
func queryStrings(store factstore.FactStore, predicate string, arity int, fn func(args []string)) error {
	sym := ast.PredicateSym{Symbol: predicate, Arity: arity}
	found := false
	for _, p := range store.ListPredicates() {
		if p == sym {
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	return store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]string, len(atom.Args))
		for i, term := range atom.Args {
			c, ok := term.(ast.Constant)
			if !ok {
				return fmt.Errorf("%s fact has non-constant argument %v", predicate, term)
			}
			args[i] = c.Symbol
		}
		fn(args)
		return nil
	})
}

// search is one bounded depth-first model search. Candidate action sets are
// enumerated in deterministic order, smaller sets first, so the first model
// found at a bound is action-minimal step by step and decoding the same
// program twice yields structurally identical plans.
type search struct {
	program *Program
	ground  func(plan.State) (*grounding, error)
	closure func(plan.State) (plan.State, bool, error)
	visited map[string]int
	nodes   int
}

type progress struct {
	next    int          // sequential: next pending stage offset
	pending map[int]bool // simultaneous: pending stage offsets
}

func (s *search) run(ctx context.Context, initial plan.State) (*Model, error) {
	prog := s.initialProgress(initial)
	// A no-step model: everything already holds.
	if s.complete(prog, initial) && !s.program.YieldOnStage {
		return &Model{}, nil
	}
	model := &Model{}
	ok, err := s.expand(ctx, initial, prog, 0, model)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return model, nil
}

// initialProgress marks stages the initial state already satisfies as
// achieved: a handed-forward state owes no fresh transition for them.
func (s *search) initialProgress(state plan.State) progress {
	if s.program.Achievement == Simultaneous {
		pending := make(map[int]bool, len(s.program.Stages))
		for i, stage := range s.program.Stages {
			if !stage.HeldBy(state) {
				pending[i] = true
			}
		}
		return progress{pending: pending}
	}
	p := progress{}
	for p.next < len(s.program.Stages) && s.program.Stages[p.next].HeldBy(state) {
		p.next++
	}
	return p
}

func (s *search) stagesDone(p progress) bool {
	if s.program.Achievement == Simultaneous {
		return len(p.pending) == 0
	}
	return p.next >= len(s.program.Stages)
}

func (s *search) complete(p progress, state plan.State) bool {
	if !s.stagesDone(p) {
		return false
	}
	return state.Satisfies(s.program.Goal)
}

// advance applies stage achievement at a newly reached state and reports
// whether any pending stage was achieved on this step.
func (s *search) advance(p progress, state plan.State) (progress, bool) {
	if s.program.Achievement == Simultaneous {
		achieved := false
		var out map[int]bool
		for i := range p.pending {
			if s.program.Stages[i].HeldBy(state) {
				if out == nil {
					out = make(map[int]bool, len(p.pending))
					for j := range p.pending {
						out[j] = true
					}
				}
				delete(out, i)
				achieved = true
			}
		}
		if !achieved {
			return p, false
		}
		return progress{pending: out}, true
	}
	// Sequential achievement is strictly ordered: at most one stage per step.
	if p.next < len(s.program.Stages) && s.program.Stages[p.next].HeldBy(state) {
		return progress{next: p.next + 1}, true
	}
	return p, false
}

func (s *search) expand(ctx context.Context, state plan.State, p progress, depth int, model *Model) (bool, error) {
	if depth >= s.program.Bound {
		return false, nil
	}
	s.nodes++
	if s.nodes%64 == 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
	}

	key := nodeKey(state, p)
	if seen, ok := s.visited[key]; ok && seen <= depth {
		return false, nil
	}
	s.visited[key] = depth

	g, err := s.ground(state)
	if err != nil {
		return false, err
	}

	for _, set := range s.candidates(g) {
		next, ok, err := s.successor(state, g, set)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		nextProg, achieved := s.advance(p, next)

		model.Steps = append(model.Steps, set)
		model.States = append(model.States, next)

		if s.program.YieldOnStage && achieved {
			return true, nil
		}
		if s.complete(nextProg, next) {
			return true, nil
		}
		found, err := s.expand(ctx, next, nextProg, depth+1, model)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
		model.Steps = model.Steps[:len(model.Steps)-1]
		model.States = model.States[:len(model.States)-1]
	}
	return false, nil
}

// candidates enumerates the action sets to try from a grounding, in
// deterministic order.
func (s *search) candidates(g *grounding) []plan.ActionSet {
	level := 0 // filled in by the adapter's decode; the oracle is level-blind
	singles := make([]plan.ActionSet, 0, len(g.poss))
	for _, name := range g.poss {
		singles = append(singles, plan.ActionSet{{Name: name, Level: level}})
	}
	if !s.program.Concurrent || s.program.MaxSetSize <= 1 {
		return singles
	}

	sets := singles
	// Grow combinations breadth-first so fewer-action sets are tried first.
	frontier := singles
	for size := 2; size <= s.program.MaxSetSize; size++ {
		var grown []plan.ActionSet
		for _, set := range frontier {
			last := set[len(set)-1].Name
			for _, name := range g.poss {
				if name <= last || s.conflicts(g, set, name) {
					continue
				}
				next := append(append(plan.ActionSet{}, set...), plan.Action{Name: name, Level: level})
				grown = append(grown, next)
			}
		}
		if len(grown) == 0 {
			break
		}
		sets = append(sets, grown...)
		frontier = grown
	}
	return sets
}

func (s *search) conflicts(g *grounding, set plan.ActionSet, name string) bool {
	for _, a := range set {
		if g.mutex[[2]string{a.Name, name}] {
			return true
		}
		// Contradictory effects on one fluent are an implicit mutex.
		for _, e1 := range g.eff[a.Name] {
			for _, e2 := range g.eff[name] {
				if e1.fluent == e2.fluent && e1.value != e2.value {
					return true
				}
			}
		}
	}
	return false
}

// successor applies the set's effects with inertia, folds the static
// closure in, and prunes states violating a static law. An engine failure
// during the closure surfaces as an error, not a pruned state.
func (s *search) successor(state plan.State, g *grounding, set plan.ActionSet) (plan.State, bool, error) {
	next := state.Clone()
	for _, a := range set {
		for _, e := range g.eff[a.Name] {
			next[e.fluent] = e.value
		}
	}
	closed, violated, err := s.closure(next)
	if err != nil {
		return nil, false, err
	}
	if violated {
		return nil, false, nil
	}
	return closed, true, nil
}

func nodeKey(state plan.State, p progress) string {
	var b strings.Builder
	b.WriteString(state.String())
	b.WriteByte('|')
	if p.pending != nil {
		indices := make([]int, 0, len(p.pending))
		for i := range p.pending {
			indices = append(indices, i)
		}
		sort.Ints(indices)
		fmt.Fprintf(&b, "%v", indices)
	} else {
		fmt.Fprintf(&b, "%d", p.next)
	}
	return b.String()
}
