package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"strata/internal/division"
	"strata/internal/plan"
	"strata/internal/refine"
	"strata/internal/solver"
)

// Config holds all strata configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Domain hierarchy manifest
	Domain DomainConfig `yaml:"domain"`

	// Solver adapter settings
	Search SearchConfig `yaml:"search"`

	// Problem division settings
	Division DivisionConfig `yaml:"division"`

	// Online planning settings
	Online OnlineConfig `yaml:"online"`

	// Run archive settings
	Archive ArchiveConfig `yaml:"archive"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DomainConfig locates the planning domain.
type DomainConfig struct {
	ManifestPath string `yaml:"manifest_path"`
}

// SearchConfig configures the solver adapter.
type SearchConfig struct {
	Mode          string  `yaml:"mode"`        // standard, minimum-bound, sequential-yield
	Achievement   string  `yaml:"achievement"` // sequential, simultaneous
	Actions       string  `yaml:"actions"`     // sequential, concurrent
	MaxSetSize    int     `yaml:"max_set_size"`
	IncrementStep int     `yaml:"increment_step"`
	MaxLength     int     `yaml:"max_length"`
	Timeout       string  `yaml:"timeout"`
	RetryRelaxed  bool    `yaml:"retry_relaxed"`
	RelaxFactor   float64 `yaml:"relax_factor"`
}

// DivisionConfig configures the proactive and reactive division strategies.
type DivisionConfig struct {
	Strategy    string  `yaml:"strategy"`   // none, hasty, steady
	BoundKind   string  `yaml:"bound_kind"` // absolute, fraction, adaptive
	BoundValue  float64 `yaml:"bound_value"`
	BlendLeft   int     `yaml:"blend_left"`
	BlendRight  int     `yaml:"blend_right"`
	MinSize     int     `yaml:"min_size"`
	MaxProblems int     `yaml:"max_problems"`

	Reactive ReactiveConfig `yaml:"reactive"`
}

// ReactiveConfig configures the reactive division bound.
type ReactiveConfig struct {
	Kind         string  `yaml:"kind"` // none, stage-count, wall-time, cumulative-time
	Value        float64 `yaml:"value"`
	Interrupting bool    `yaml:"interrupting"`
	Preemptive   bool    `yaml:"preemptive"`
}

// OnlineConfig configures incremental planning.
type OnlineConfig struct {
	Method    string `yaml:"method"` // ground-first, complete-first, hybrid
	Lookahead int    `yaml:"lookahead"`
}

// ArchiveConfig configures run persistence. An empty path disables the
// archive.
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "strata",
		Version: "0.3.0",

		Domain: DomainConfig{
			ManifestPath: "domain.yaml",
		},

		Search: SearchConfig{
			Mode:          "minimum-bound",
			Achievement:   "sequential",
			Actions:       "sequential",
			MaxSetSize:    4,
			IncrementStep: 1,
			MaxLength:     200,
			Timeout:       "120s",
			RetryRelaxed:  true,
			RelaxFactor:   2,
		},

		Division: DivisionConfig{
			Strategy:   "steady",
			BoundKind:  "absolute",
			BoundValue: 4,
			MinSize:    2,
			Reactive: ReactiveConfig{
				Kind: "none",
			},
		},

		Online: OnlineConfig{
			Method:    "ground-first",
			Lookahead: 1,
		},

		Archive: ArchiveConfig{
			Path: "",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "strata.log",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetSolveTimeout returns the per-solve timeout, defaulting to 120s.
func (c *Config) GetSolveTimeout() time.Duration {
	d, err := time.ParseDuration(c.Search.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// Validate checks every setting eagerly so a bad run never starts.
func (c *Config) Validate() error {
	if c.Domain.ManifestPath == "" {
		return &plan.ConfigurationError{Field: "domain.manifest_path", Reason: "missing"}
	}
	if _, err := c.SolverOptions(); err != nil {
		return err
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	if _, err := c.Method(); err != nil {
		return err
	}
	return nil
}

// SolverOptions translates the search section into adapter options.
func (c *Config) SolverOptions() (solver.Options, error) {
	opts := solver.Options{
		MaxSetSize:    c.Search.MaxSetSize,
		IncrementStep: c.Search.IncrementStep,
		MaxLength:     c.Search.MaxLength,
		Timeout:       c.GetSolveTimeout(),
		RetryRelaxed:  c.Search.RetryRelaxed,
		RelaxFactor:   c.Search.RelaxFactor,
	}

	switch c.Search.Mode {
	case "standard", "":
		opts.Mode = solver.Standard
	case "minimum-bound":
		opts.Mode = solver.MinimumBound
	case "sequential-yield":
		opts.Mode = solver.SequentialYield
	default:
		return opts, &plan.ConfigurationError{Field: "search.mode", Reason: "unknown search mode " + c.Search.Mode}
	}

	switch c.Search.Achievement {
	case "sequential", "":
		opts.Achievement = solver.Sequential
	case "simultaneous":
		opts.Achievement = solver.Simultaneous
	default:
		return opts, &plan.ConfigurationError{Field: "search.achievement", Reason: "unknown achievement order " + c.Search.Achievement}
	}

	switch c.Search.Actions {
	case "sequential", "":
		opts.Actions = solver.SequentialActions
	case "concurrent":
		opts.Actions = solver.ConcurrentActions
	default:
		return opts, &plan.ConfigurationError{Field: "search.actions", Reason: "unknown action mode " + c.Search.Actions}
	}

	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// Strategy translates the division section into a division strategy.
func (c *Config) Strategy() (division.Strategy, error) {
	var bound division.Bound
	switch c.Division.BoundKind {
	case "absolute", "":
		bound = division.Bound{Kind: division.Absolute, Value: c.Division.BoundValue}
	case "fraction":
		bound = division.Bound{Kind: division.Fraction, Value: c.Division.BoundValue}
	case "adaptive":
		bound = division.Bound{Kind: division.Adaptive, Value: c.Division.BoundValue}
	default:
		return nil, &plan.ConfigurationError{Field: "division.bound_kind", Reason: "unknown bound kind " + c.Division.BoundKind}
	}
	blend := division.Blend{Left: c.Division.BlendLeft, Right: c.Division.BlendRight}

	var proactive division.Strategy
	switch c.Division.Strategy {
	case "none", "":
		proactive = division.Undivided{}
	case "hasty":
		p := division.NewHasty(bound, blend, c.Division.MinSize)
		p.MaxProblems = c.Division.MaxProblems
		if err := p.Validate(); err != nil {
			return nil, err
		}
		proactive = p
	case "steady":
		p := division.NewSteady(bound, blend, c.Division.MinSize, c.Division.MaxProblems)
		if err := p.Validate(); err != nil {
			return nil, err
		}
		proactive = p
	default:
		return nil, &plan.ConfigurationError{Field: "division.strategy", Reason: "unknown division strategy " + c.Division.Strategy}
	}

	switch c.Division.Reactive.Kind {
	case "none", "":
		return proactive, nil
	case "stage-count":
		return c.reactive(division.StageCount, proactive)
	case "wall-time":
		return c.reactive(division.WallTime, proactive)
	case "cumulative-time":
		return c.reactive(division.CumulativeTime, proactive)
	default:
		return nil, &plan.ConfigurationError{Field: "division.reactive.kind", Reason: "unknown reactive bound kind " + c.Division.Reactive.Kind}
	}
}

func (c *Config) reactive(kind division.ReactiveBoundKind, proactive division.Strategy) (division.Strategy, error) {
	r := &division.Reactive{
		Kind:         kind,
		Value:        c.Division.Reactive.Value,
		Interrupting: c.Division.Reactive.Interrupting,
		Preemptive:   c.Division.Reactive.Preemptive,
		Proactive:    proactive,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Method translates the online section into a traversal method.
func (c *Config) Method() (refine.Method, error) {
	switch c.Online.Method {
	case "ground-first", "":
		return refine.GroundFirst, nil
	case "complete-first":
		return refine.CompleteFirst, nil
	case "hybrid":
		if c.Online.Lookahead < 1 {
			return "", &plan.ConfigurationError{Field: "online.lookahead", Reason: "hybrid method needs a lookahead of at least 1"}
		}
		return refine.Hybrid, nil
	default:
		return "", &plan.ConfigurationError{Field: "online.method", Reason: "unknown online method " + c.Online.Method}
	}
}
