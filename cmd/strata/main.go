package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"strata/internal/config"
	"strata/internal/division"
	"strata/internal/domain"
	"strata/internal/logging"
	"strata/internal/online"
	"strata/internal/plan"
	"strata/internal/refine"
	"strata/internal/solver"
	"strata/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	outputPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "strata - hierarchical conformance refinement planner",
	Long: `strata plans over a hierarchy of abstraction levels: it solves an
abstract problem first, then refines each abstract plan step by step down
to executable ground actions, dividing large refinement problems into
partial problems and streaming ground partial plans as they complete.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// planCmd runs a full offline refinement and prints the hierarchical plan.
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Solve the configured domain offline and print the full plan",
	RunE:  runPlan,
}

// streamCmd runs online, printing each ground partial plan as it yields.
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Solve online, printing ground partial plans as they complete",
	RunE:  runStream,
}

// validateCmd checks the configuration and domain without solving.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and domain hierarchy",
	RunE:  runValidate,
}

// runsCmd lists archived runs, or the level details of one run.
var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List archived runs, or show one run's per-level plans",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the strata version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.DefaultConfig().Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "strata.yaml", "configuration file")
	planCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the plan as JSON to a file")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and assembles the refinement controller.
func setup() (*config.Config, *refine.Controller, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	hierarchy, err := domain.NewFileLoader(cfg.Domain.ManifestPath).Load()
	if err != nil {
		return nil, nil, err
	}

	opts, err := cfg.SolverOptions()
	if err != nil {
		return nil, nil, err
	}
	strategy, err := cfg.Strategy()
	if err != nil {
		return nil, nil, err
	}

	oracle := solver.NewMangleOracle()
	adapter, err := solver.NewAdapter(oracle, opts, logging.For(logger, logging.CategorySolver))
	if err != nil {
		return nil, nil, err
	}
	ctrl, err := refine.NewController(hierarchy, adapter, strategy, logging.For(logger, logging.CategoryPlanner))
	if err != nil {
		return nil, nil, err
	}
	return cfg, ctrl, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, ctrl, err := setup()
	if err != nil {
		return err
	}
	method, err := cfg.Method()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	hp, err := ctrl.Run(ctx, method, cfg.Online.Lookahead)
	if err != nil {
		var rf *plan.RefinementFailure
		if errors.As(err, &rf) {
			return fmt.Errorf("refinement failed at level %d, problem %d: %w", rf.Level, rf.Problem, err)
		}
		return err
	}

	printHierarchical(hp, ctrl.ReactivePoints())
	archiveRun(cfg, hp)

	if outputPath != "" {
		data, err := json.MarshalIndent(hp, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write plan: %w", err)
		}
		fmt.Printf("\nPlan written to %s\n", outputPath)
	}
	return nil
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, ctrl, err := setup()
	if err != nil {
		return err
	}
	method, err := cfg.Method()
	if err != nil {
		return err
	}
	loop, err := online.NewLoop(ctrl, method, cfg.Online.Lookahead, logging.For(logger, logging.CategoryOnline))
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	events, wait := loop.Stream(ctx)
	for ev := range events {
		fmt.Printf("--- partial %d (latency %s, final=%v) ---\n", ev.Number, ev.Latency.Round(0), ev.Final)
		printMonolevel(ev.Plan)
	}
	if err := wait(); err != nil {
		return err
	}

	hp := ctrl.Result()
	fmt.Printf("\nDone: %d ground steps in %s (average yield %s)\n",
		hp.Ground().Length(), hp.OverallTotalTime().Round(0), hp.AverageYieldTime().Round(0))
	archiveRun(cfg, hp)
	return nil
}

// archiveRun persists the finished run when an archive path is configured.
func archiveRun(cfg *config.Config, hp *plan.HierarchicalPlan) {
	if cfg.Archive.Path == "" {
		return
	}
	archive, err := store.Open(cfg.Archive.Path)
	if err != nil {
		logger.Warn("failed to open run archive", zap.Error(err))
		return
	}
	defer archive.Close()
	if err := archive.SaveRun(hp, cfg.Domain.ManifestPath, cfg.Online.Method, "complete"); err != nil {
		logger.Warn("failed to archive run", zap.String("run_id", hp.RunID), zap.Error(err))
		return
	}
	logger.Info("run archived", zap.String("run_id", hp.RunID), zap.String("path", cfg.Archive.Path))
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Archive.Path == "" {
		return fmt.Errorf("no archive path configured (set archive.path in %s)", configPath)
	}
	archive, err := store.Open(cfg.Archive.Path)
	if err != nil {
		return err
	}
	defer archive.Close()

	if len(args) == 1 {
		return showRun(archive, args[0])
	}

	records, err := archive.ListRuns(20)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no archived runs")
		return nil
	}
	for _, r := range records {
		fmt.Printf("%s  %s  %-14s %-8s %3d steps  latency %s\n",
			r.Started.Format("2006-01-02 15:04:05"), r.RunID, r.Method, r.Status,
			r.GroundSteps, r.Latency.Round(0))
	}
	return nil
}

func showRun(archive *store.Archive, runID string) error {
	levels, err := archive.Levels(runID)
	if err != nil {
		return err
	}
	if len(levels) == 0 {
		return fmt.Errorf("no archived run %s", runID)
	}
	for _, l := range levels {
		fmt.Printf("level %d: %d steps, %d actions, %d partials", l.Level, l.Steps, l.Actions, l.Partials)
		if l.Expansion > 0 {
			fmt.Printf(", expansion %.2f", l.Expansion)
		}
		fmt.Println()
	}
	steps, err := archive.GroundSteps(runID)
	if err != nil {
		return err
	}
	for i, s := range steps {
		fmt.Printf("  %3d: %s\n", i+1, s)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	hierarchy, err := domain.NewFileLoader(cfg.Domain.ManifestPath).Load()
	if err != nil {
		return err
	}
	fmt.Printf("OK: %d levels, top level %d\n", hierarchy.Size(), hierarchy.Top())
	return nil
}

func printHierarchical(hp *plan.HierarchicalPlan, reactive []division.Point) {
	levels := make([]int, 0, len(hp.Levels))
	for l := range hp.Levels {
		levels = append(levels, l)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(levels)))

	for _, l := range levels {
		mono := hp.Levels[l]
		fmt.Printf("=== level %d: %d steps, %d actions, %d partials ===\n",
			l, mono.Length(), mono.TotalActions(), len(hp.Partials[l]))
		printMonolevel(mono)
		if f := mono.ExpansionFactor(); f > 0 {
			fmt.Printf("    expansion factor %.2f\n", f)
		}
		fmt.Println()
	}
	if len(reactive) > 0 {
		fmt.Printf("reactive divisions committed: %d\n", len(reactive))
	}
	fmt.Printf("total time %s, execution latency %s\n",
		hp.OverallTotalTime().Round(0), hp.ExecutionLatency().Round(0))
}

func printMonolevel(mono *plan.MonolevelPlan) {
	for i, step := range mono.Steps {
		names := make([]string, len(step))
		for j, a := range step {
			names[j] = a.Name
		}
		fmt.Printf("  %3d: %v\n", mono.StartStep+i+1, names)
	}
}
