package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("/dts-v1/;\n"), 0o644))
	}
}

func TestResolveGlobsExpandsDoubleStar(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"app.dts",
		"boards/arm/nrf/nrf.dts",
		"boards/arm/nrf/nrf.dtsi",
		"boards/riscv/esp.dts",
		"app.overlay",
	)

	cfg := DefaultConfig()
	cfg.Root = root

	assert.Equal(t, []string{
		filepath.Join(root, "app.dts"),
		filepath.Join(root, "boards/arm/nrf/nrf.dts"),
		filepath.Join(root, "boards/riscv/esp.dts"),
	}, cfg.BoardFiles())

	overlays := cfg.OverlayFiles()
	require.Len(t, overlays, 1)
	assert.True(t, containsPath(overlays, filepath.Join(root, "app.overlay")))
}

func TestResolveGlobsHonorsIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.dts", "build/zephyr.dts", "b.dts")

	cfg := DefaultConfig()
	cfg.Root = root
	cfg.Lint.IgnorePatterns = []string{"b.dts", "build/*"}

	got := cfg.ResolveGlobs([]string{"**/*.dts"})
	require.Len(t, got, 1)
	assert.True(t, containsPath(got, filepath.Join(root, "a.dts")))
}

func TestResolveGlobsDeduplicates(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "x/board.dts")

	cfg := DefaultConfig()
	cfg.Root = root

	got := cfg.ResolveGlobs([]string{"x/*.dts", "**/board.dts", "${workspaceFolder}/x/board.dts"})
	assert.Len(t, got, 1)
}

func TestSubstitute(t *testing.T) {
	t.Setenv("KDTS_TEST_BASE", "/opt/zephyr")

	cfg := DefaultConfig()
	cfg.Root = "/work"
	cfg.Kconfig.Env = map[string]string{
		"ZEPHYR_BASE": "$(KDTS_TEST_BASE)",
		"ARCH":        "arm",
	}

	cases := map[string]string{
		"${workspaceFolder}/Kconfig":       "/work/Kconfig",
		"$(ZEPHYR_BASE)/arch/${ARCH}":      "/opt/zephyr/arch/arm",
		"${KDTS_TEST_BASE}/dts":            "/opt/zephyr/dts",
		"$(KDTS_TEST_UNSET_VARIABLE)/keep": "$(KDTS_TEST_UNSET_VARIABLE)/keep",
		"plain":                            "plain",
	}
	for in, want := range cases {
		assert.Equal(t, want, cfg.Substitute(in), in)
	}

	assert.Equal(t, filepath.Join("/work", "boards"), cfg.Path("boards"), "relative paths join the root")
	assert.Equal(t, "/opt/zephyr/dts", cfg.Path("$(ZEPHYR_BASE)/dts"), "absolute paths are kept")
}

func TestMatchSuffix(t *testing.T) {
	cases := []struct {
		path, pattern string
		want          bool
	}{
		{"a/b/c.dts", "*.dts", true},
		{"a/b/c.dtsi", "*.dts", false},
		{"a/b/c.dts", "b/*.dts", true},
		{"b/c.dts", "b/*.dts", true},
		{"a/c.dts", "b/*.dts", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchSuffix(filepath.FromSlash(tc.path), filepath.FromSlash(tc.pattern)), "%s vs %s", tc.path, tc.pattern)
	}
}

func containsPath(files []string, target string) bool {
	for _, f := range files {
		if filepath.Clean(f) == filepath.Clean(target) {
			return true
		}
	}
	return false
}
