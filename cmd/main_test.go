package main

import (
	"testing"

	"github.com/richard-senior/kicktipp/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommand(t *testing.T) {
	cmd, rest := splitCommand([]string{"--from", "3"})
	assert.Equal(t, "run", cmd)
	assert.Equal(t, []string{"--from", "3"}, rest)

	cmd, rest = splitCommand([]string{"show", "--season", "2025"})
	assert.Equal(t, "show", cmd)
	assert.Equal(t, []string{"--season", "2025"}, rest)

	cmd, _ = splitCommand(nil)
	assert.Equal(t, "run", cmd)
}

func TestClampRange(t *testing.T) {
	from, to := clampRange(0, 0, 34)
	assert.Equal(t, 1, from)
	assert.Equal(t, 34, to)

	from, to = clampRange(5, 40, 34)
	assert.Equal(t, 5, from)
	assert.Equal(t, 34, to)

	from, to = clampRange(2, 3, 34)
	assert.Equal(t, 2, from)
	assert.Equal(t, 3, to)
}

func TestFlagsOverrideConfig(t *testing.T) {
	opts, flagSet, err := parseFlags("run", []string{"--no-submit", "--odds-only", "--pool", "cli-runde", "--browser=false", "--log-level", "debug"})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Kicktipp.Pool = "file-runde"
	cfg.Kicktipp.RenderWithBrowser = true
	cfg.Predictor.APIKey = "sk-ant"
	applyFlags(cfg, opts, flagSet)

	assert.True(t, cfg.Run.DryRun)
	assert.False(t, cfg.Predictor.Enabled())
	assert.Equal(t, "cli-runde", cfg.Kicktipp.Pool)
	assert.False(t, cfg.Kicktipp.RenderWithBrowser)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestUnchangedBrowserFlagKeepsConfig(t *testing.T) {
	opts, flagSet, err := parseFlags("run", nil)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Kicktipp.RenderWithBrowser = true
	applyFlags(cfg, opts, flagSet)
	assert.True(t, cfg.Kicktipp.RenderWithBrowser)
	assert.False(t, cfg.Run.DryRun)
}

func TestParseFlagsRejectsArguments(t *testing.T) {
	_, _, err := parseFlags("run", []string{"extra"})
	assert.ErrorContains(t, err, "unexpected argument")
}
