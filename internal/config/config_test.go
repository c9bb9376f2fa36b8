package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/division"
	"strata/internal/plan"
	"strata/internal/refine"
	"strata/internal/solver"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	opts, err := cfg.SolverOptions()
	require.NoError(t, err)
	assert.Equal(t, solver.MinimumBound, opts.Mode)
	assert.Equal(t, solver.Sequential, opts.Achievement)

	strategy, err := cfg.Strategy()
	require.NoError(t, err)
	proactive, ok := strategy.(*division.Proactive)
	require.True(t, ok)
	assert.False(t, proactive.Hasty)

	method, err := cfg.Method()
	require.NoError(t, err)
	assert.Equal(t, refine.GroundFirst, method)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Search.Mode, cfg.Search.Mode)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "strata.yaml")

	cfg := DefaultConfig()
	cfg.Search.Mode = "sequential-yield"
	cfg.Division.Strategy = "hasty"
	cfg.Division.Reactive = ReactiveConfig{Kind: "stage-count", Value: 3, Interrupting: true}
	cfg.Online.Method = "hybrid"
	cfg.Online.Lookahead = 2
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sequential-yield", loaded.Search.Mode)
	assert.Equal(t, "hasty", loaded.Division.Strategy)
	require.NoError(t, loaded.Validate())

	strategy, err := loaded.Strategy()
	require.NoError(t, err)
	reactive, ok := strategy.(*division.Reactive)
	require.True(t, ok)
	assert.Equal(t, division.StageCount, reactive.Kind)
	assert.True(t, reactive.Interrupting)

	method, err := loaded.Method()
	require.NoError(t, err)
	assert.Equal(t, refine.Hybrid, method)
}

func TestLoadRejectsMalformedYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - ["), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	var cfgErr *plan.ConfigurationError

	cfg := DefaultConfig()
	cfg.Search.Mode = "psychic"
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "search.mode", cfgErr.Field)

	cfg = DefaultConfig()
	cfg.Division.BoundKind = "negative"
	require.ErrorAs(t, cfg.Validate(), &cfgErr)

	cfg = DefaultConfig()
	cfg.Division.Reactive = ReactiveConfig{Kind: "stage-count", Value: 0}
	require.ErrorAs(t, cfg.Validate(), &cfgErr)

	cfg = DefaultConfig()
	cfg.Online.Method = "hybrid"
	cfg.Online.Lookahead = 0
	require.ErrorAs(t, cfg.Validate(), &cfgErr)

	cfg = DefaultConfig()
	cfg.Domain.ManifestPath = ""
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
}

func TestGetSolveTimeoutFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.Timeout = "not a duration"
	assert.Equal(t, cfg.GetSolveTimeout(), DefaultConfig().GetSolveTimeout())
}
