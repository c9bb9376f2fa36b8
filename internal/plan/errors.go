package plan

import "fmt"

// PlanningFailure reports that no model exists for a problem within the
// configured search caps. It is the expected failure for an unsatisfiable
// sub-problem and is terminal for that problem.
type PlanningFailure struct {
	Level   int
	Problem int // partial-problem number, 0 for classical problems
	Bound   int // step bound the search was exhausted at
	Reason  string
}

func (e *PlanningFailure) Error() string {
	return fmt.Sprintf("planning failure at level %d problem %d: no model within bound %d: %s",
		e.Level, e.Problem, e.Bound, e.Reason)
}

// SolverError reports an oracle crash, error or hard timeout. It is retried
// once under a relaxed bound when configured, otherwise fatal.
type SolverError struct {
	Level   int
	Problem int
	Err     error
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("solver error at level %d problem %d: %v", e.Level, e.Problem, e.Err)
}

func (e *SolverError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid or missing abstraction mapping,
// malformed bound, or other bad configuration. It is detected eagerly
// before any solving starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// RefinementFailure reports that no valid plan exists at some level given
// the fixed parent plan's stages. The base algorithm performs no automatic
// parent backtracking, so it aborts the run.
type RefinementFailure struct {
	Level   int
	Problem int
	Cause   error
}

func (e *RefinementFailure) Error() string {
	return fmt.Sprintf("refinement failure at level %d problem %d: %v", e.Level, e.Problem, e.Cause)
}

func (e *RefinementFailure) Unwrap() error { return e.Cause }
