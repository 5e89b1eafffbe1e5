package config

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$\(([A-Za-z_][A-Za-z0-9_]*)\)`)

// Env returns the substitution table: workspaceFolder plus the configured
// Kconfig env, whose values may themselves reference the process
// environment.
func (c *Config) Env() map[string]string {
	env := map[string]string{"workspaceFolder": c.Root}
	for k, v := range c.Kconfig.Env {
		env[k] = c.expand(v, env)
	}
	return env
}

// Substitute expands ${name} and $(name) from Env, then the process
// environment. Unknown names are left as written.
func (c *Config) Substitute(s string) string {
	return c.expand(s, c.Env())
}

func (c *Config) expand(s string, env map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := varPattern.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		if v, ok := env[name]; ok {
			return v
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}

// Path substitutes p and makes it absolute against Root.
func (c *Config) Path(p string) string {
	p = c.Substitute(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Paths applies Path to each element.
func (c *Config) Paths(ps []string) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		if p = c.Path(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// KconfigFile is the absolute top-level Kconfig path.
func (c *Config) KconfigFile() string { return c.Path(c.Kconfig.Root) }

// ContextsPath is the absolute contexts file path.
func (c *Config) ContextsPath() string { return c.Path(c.Devicetree.ContextsFile) }

// CacheDir is the absolute cache directory.
func (c *Config) CacheDir() string { return c.Path(c.Analysis.Cache.Dir) }

// PolicyDir is the absolute rego directory, or "" when unset.
func (c *Config) PolicyDir() string { return c.Path(c.Lint.PolicyDir) }

// ResolveGlobs expands patterns relative to Root, drops ignored files and
// returns a sorted list without duplicates.
func (c *Config) ResolveGlobs(patterns []string) []string {
	fileSet := make(map[string]bool)
	for _, pattern := range patterns {
		pattern = c.Path(pattern)
		if pattern == "" {
			continue
		}
		matches, err := expandGlob(pattern)
		if err != nil {
			continue
		}
		for _, match := range matches {
			if info, err := os.Stat(match); err != nil || info.IsDir() {
				continue
			}
			if c.ShouldIgnoreFile(match) {
				continue
			}
			fileSet[filepath.Clean(match)] = true
		}
	}

	result := make([]string, 0, len(fileSet))
	for f := range fileSet {
		result = append(result, f)
	}
	slices.Sort(result)
	return result
}

// BoardFiles resolves the configured board file patterns.
func (c *Config) BoardFiles() []string { return c.ResolveGlobs(c.Devicetree.BoardFiles) }

// OverlayFiles resolves the configured overlay patterns.
func (c *Config) OverlayFiles() []string { return c.ResolveGlobs(c.Devicetree.OverlayFiles) }

// OverrideFiles resolves the configured Kconfig override file patterns.
func (c *Config) OverrideFiles() []string { return c.ResolveGlobs(c.Kconfig.OverrideFiles) }

// expandGlob expands a glob pattern, handling ** for recursive matching
func expandGlob(pattern string) ([]string, error) {
	if strings.Contains(pattern, "**") {
		return expandDoubleStarGlob(pattern)
	}
	return filepath.Glob(pattern)
}

// expandDoubleStarGlob handles ** patterns by walking the directory tree
func expandDoubleStarGlob(pattern string) ([]string, error) {
	var results []string

	parts := strings.SplitN(pattern, "**", 2)
	if len(parts) != 2 {
		return filepath.Glob(pattern)
	}

	baseDir := filepath.Clean(parts[0])
	if baseDir == "" {
		baseDir = "."
	}
	suffix := strings.TrimPrefix(parts[1], string(filepath.Separator))

	err := filepath.WalkDir(baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if d.IsDir() {
			return nil
		}
		if suffix == "" {
			results = append(results, path)
			return nil
		}
		relPath, err := filepath.Rel(baseDir, path)
		if err != nil {
			return nil
		}
		if matchSuffix(relPath, suffix) {
			results = append(results, path)
		}
		return nil
	})

	return results, err
}

// matchSuffix checks if a path matches a suffix pattern (after **)
func matchSuffix(path, pattern string) bool {
	pattern = strings.TrimPrefix(pattern, string(filepath.Separator))

	if !strings.Contains(pattern, string(filepath.Separator)) {
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		return matched
	}

	if matched, _ := filepath.Match(pattern, path); matched {
		return true
	}

	// the pattern may match the tail of a deeper path
	if len(path) > len(pattern) {
		matched, _ := filepath.Match(pattern, path[len(path)-len(pattern):])
		return matched
	}

	return false
}
