package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
)

func TestLoadFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	data := `{
  "kconfig": {"root": "zephyr/Kconfig"},
  "lint": {"rules": {"kconfig.redundant": "off", "dts.cells": "error"}}
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Root)
	assert.Equal(t, filepath.Join(dir, "zephyr/Kconfig"), cfg.KconfigFile())
	assert.Equal(t, defaultContextsFile, cfg.Devicetree.ContextsFile)
	assert.Equal(t, defaultDebounceMS, cfg.Analysis.DebounceMS)
	assert.True(t, cfg.CacheEnabled())
	assert.NotNil(t, cfg.Kconfig.Env)
	assert.NotNil(t, cfg.Devicetree.Defines)
}

func TestLoadFileRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadSearchesRoot(t *testing.T) {
	root := t.TempDir()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, defaultKconfigRoot, cfg.Kconfig.Root)
	assert.Equal(t, root, cfg.Root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "."+FileName), []byte(`{"analysis": {"debounceMS": 50}}`), 0o644))
	cfg, err = Load(root)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Analysis.DebounceMS, "hidden config in root is found")
	assert.Equal(t, root, cfg.Root)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := DefaultConfig()
	cfg.Lint.PolicyDir = "policies"
	cfg.Devicetree.Defines["BOARD"] = "nrf"
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "policies", loaded.Lint.PolicyDir)
	assert.Equal(t, "nrf", loaded.Devicetree.Defines["BOARD"])
	assert.Equal(t, filepath.Join(filepath.Dir(path), "policies"), loaded.PolicyDir())
}

func TestRulesApplyToDiagnostics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lint.Rules = map[string]string{
		"kconfig.redundant": "off",
		"dts.cells":         "error",
	}

	assert.False(t, cfg.IsRuleEnabled("kconfig.redundant"))
	assert.True(t, cfg.IsRuleEnabled("dts.unknown-label"), "unconfigured rules stay enabled")
	assert.Equal(t, "warning", cfg.GetRuleSeverity("dts.unknown-label", "warning"))

	var l diag.List
	l.Warning(diag.LineRange(0, 0), "kconfig.redundant", "redundant")
	l.Warning(diag.LineRange(1, 1), "dts.cells", "cells")
	l.Info(diag.LineRange(2, 2), "", "uncoded")

	got := l.Apply(cfg)
	require.Len(t, got, 2)
	assert.Equal(t, "dts.cells", got[0].Code)
	assert.Equal(t, diag.SeverityError, got[0].Severity)
	assert.Equal(t, diag.SeverityInfo, got[1].Severity, "uncoded diagnostics are untouched")
}

func TestShouldIgnoreFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Root = "/ws"
	cfg.Lint.IgnorePatterns = []string{"build/*", "*.generated.dts"}

	cases := map[string]bool{
		"/ws/build/zephyr.dts":   true,
		"/ws/app.generated.dts":  true,
		"/ws/boards/app.dts":     false,
		"/other/build/board.dts": false,
	}
	for path, want := range cases {
		assert.Equal(t, want, cfg.ShouldIgnoreFile(path), path)
	}
}
