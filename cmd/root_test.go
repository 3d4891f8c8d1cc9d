package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falconcharade/nativesys/internal/names"
	"github.com/falconcharade/nativesys/internal/refindex"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	got := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		got[c.Name()] = true
	}
	for _, name := range []string{"resolve", "status"} {
		assert.True(t, got[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "nativesys", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestResolveCommand_Flags(t *testing.T) {
	for _, tt := range []struct {
		flag string
		def  string
	}{
		{"output", "update_native_system_ids.sql"},
		{"source", "inara"},
		{"sleep", "2s"},
		{"search-timeout", "25s"},
		{"details-timeout", "1m0s"},
		{"retries", "3"},
		{"hard-timeout", "2m0s"},
		{"no-commit", "false"},
		{"retry-misses", "false"},
		{"dsn", ""},
	} {
		f := resolveCmd.Flags().Lookup(tt.flag)
		require.NotNil(t, f, "resolve should have --%s", tt.flag)
		assert.Equal(t, tt.def, f.DefValue, "--%s default", tt.flag)
	}
}

func TestRootCmd_PersistentPreRunE_WithValidConfig(t *testing.T) {
	dir := chdirTemp(t)
	configContent := `
reference:
  driver: sqlite
log:
  level: info
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configContent), 0o644))

	oldCfg := cfg
	cfg = nil
	defer func() { cfg = oldCfg }()

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "sqlite", cfg.Reference.Driver)
}

func TestRootCmd_PersistentPreRunE_BadLogLevel(t *testing.T) {
	dir := chdirTemp(t)
	configContent := `
log:
  level: NOT_A_LEVEL
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configContent), 0o644))

	oldCfg := cfg
	cfg = nil
	defer func() { cfg = oldCfg }()

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init logger")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"generic", errors.New("boom"), exitFailure},
		{"empty input", eris.Wrap(names.ErrEmptyInput, "names: factions.txt"), exitEmptyInput},
		{"connect", &refindex.UnavailableError{Stage: refindex.StageConnect, Err: errors.New("refused")}, exitRefConnect},
		{"query", &refindex.UnavailableError{Stage: refindex.StageQuery, Err: errors.New("no such table")}, exitRefQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
