package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the project configuration file searched for by Load.
const FileName = "kdts.json"

// Config is the top-level configuration for kdts
type Config struct {
	// Kconfig configures the Kconfig tree
	Kconfig KconfigConfig `json:"kconfig,omitempty"`

	// Devicetree configures board files, overlays and bindings
	Devicetree DevicetreeConfig `json:"devicetree,omitempty"`

	// Lint contains linting rule configuration
	Lint LintConfig `json:"lint,omitempty"`

	// Analysis contains analysis options
	Analysis AnalysisConfig `json:"analysis,omitempty"`

	// Root is the workspace folder relative paths are resolved against.
	Root string `json:"-"`
}

// KconfigConfig locates the Kconfig tree and its override files
type KconfigConfig struct {
	// Root is the top-level Kconfig file
	Root string `json:"root,omitempty"`

	// Env seeds ${name} and $(name) substitution in paths
	Env map[string]string `json:"env,omitempty"`

	// OverrideFiles are glob patterns for .config style files to lint
	OverrideFiles []string `json:"overrideFiles,omitempty"`
}

// DevicetreeConfig locates board files, overlays and bindings
type DevicetreeConfig struct {
	// IncludePaths are searched for #include and /include/
	IncludePaths []string `json:"includePaths,omitempty"`

	// BindingDirs hold YAML binding files
	BindingDirs []string `json:"bindingDirs,omitempty"`

	// Defines are predefined preprocessor macros
	Defines map[string]string `json:"defines,omitempty"`

	// BoardFiles are glob patterns for board .dts files
	BoardFiles []string `json:"boardFiles,omitempty"`

	// OverlayFiles are glob patterns for overlays applied to every board
	OverlayFiles []string `json:"overlayFiles,omitempty"`

	// ContextsFile persists named board/overlay contexts
	ContextsFile string `json:"contextsFile,omitempty"`
}

// LintConfig contains linting configuration
type LintConfig struct {
	// Rules maps rule codes to severity: "off", "hint", "info", "warning", "error"
	Rules map[string]string `json:"rules,omitempty"`

	// IgnorePatterns is a list of file patterns to skip linting entirely
	IgnorePatterns []string `json:"ignorePatterns,omitempty"`

	// PolicyDir holds custom .rego rules evaluated on the symbol index
	PolicyDir string `json:"policyDir,omitempty"`
}

// CacheConfig controls incremental indexing cache behavior
type CacheConfig struct {
	// Enabled turns on incremental cache usage
	Enabled *bool `json:"enabled,omitempty"`

	// Dir is the cache directory (relative to project root if not absolute)
	Dir string `json:"dir,omitempty"`
}

// AnalysisConfig contains analysis options
type AnalysisConfig struct {
	// DebounceMS delays reanalysis after a change
	DebounceMS int `json:"debounceMS,omitempty"`

	// Cache controls incremental indexing cache behavior
	Cache CacheConfig `json:"cache,omitempty"`
}

const (
	defaultKconfigRoot  = "Kconfig"
	defaultContextsFile = ".kdts/contexts.json"
	defaultCacheDir     = ".kdts_cache"
	defaultDebounceMS   = 300
)

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Kconfig: KconfigConfig{
			Root:          defaultKconfigRoot,
			Env:           map[string]string{},
			OverrideFiles: []string{"prj.conf", "*.conf"},
		},
		Devicetree: DevicetreeConfig{
			IncludePaths: []string{},
			BindingDirs:  []string{"dts/bindings"},
			Defines:      map[string]string{},
			BoardFiles:   []string{"*.dts", "boards/**/*.dts"},
			OverlayFiles: []string{"*.overlay"},
			ContextsFile: defaultContextsFile,
		},
		Lint: LintConfig{
			Rules:          map[string]string{},
			IgnorePatterns: []string{},
		},
		Analysis: AnalysisConfig{
			DebounceMS: defaultDebounceMS,
			Cache: CacheConfig{
				Enabled: boolPtr(true),
				Dir:     defaultCacheDir,
			},
		},
		Root: ".",
	}
}

func boolPtr(v bool) *bool {
	return &v
}

// Load finds and loads the configuration file
// Search order:
//  1. ./kdts.json (current working directory)
//  2. ./.kdts.json (current working directory)
//  3. <rootPath>/kdts.json (if different from cwd)
//  4. <rootPath>/.kdts.json
//  5. ~/.config/kdts/config.json
//
// Returns DefaultConfig if no config file is found. Root is always rootPath.
func Load(rootPath string) (*Config, error) {
	cwd, _ := os.Getwd()
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	searchPaths := []string{
		filepath.Join(cwd, FileName),
		filepath.Join(cwd, "."+FileName),
	}

	if info, err := os.Stat(rootPath); err == nil && info.IsDir() && absRoot != cwd {
		searchPaths = append(searchPaths,
			filepath.Join(absRoot, FileName),
			filepath.Join(absRoot, "."+FileName),
		)
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "kdts", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			if err != nil {
				return nil, err
			}
			cfg.Root = absRoot
			return cfg, nil
		}
	}

	cfg := DefaultConfig()
	cfg.Root = absRoot
	return cfg, nil
}

// LoadFile loads configuration from a specific file. Root defaults to the
// file's directory.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Root = filepath.Dir(path)
	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	if c.Kconfig.Root == "" {
		c.Kconfig.Root = defaultKconfigRoot
	}
	if c.Kconfig.Env == nil {
		c.Kconfig.Env = make(map[string]string)
	}
	if c.Devicetree.Defines == nil {
		c.Devicetree.Defines = make(map[string]string)
	}
	if c.Devicetree.ContextsFile == "" {
		c.Devicetree.ContextsFile = defaultContextsFile
	}

	if c.Lint.Rules == nil {
		c.Lint.Rules = make(map[string]string)
	}

	if c.Analysis.DebounceMS <= 0 {
		c.Analysis.DebounceMS = defaultDebounceMS
	}
	if c.Analysis.Cache.Dir == "" {
		c.Analysis.Cache.Dir = defaultCacheDir
	}
	if c.Analysis.Cache.Enabled == nil {
		c.Analysis.Cache.Enabled = boolPtr(true)
	}
	if c.Root == "" {
		c.Root = "."
	}
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// GetRuleSeverity returns the severity for a rule, or the default if not configured
func (c *Config) GetRuleSeverity(rule string, defaultSeverity string) string {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity
	}
	return defaultSeverity
}

// IsRuleEnabled returns true if the rule is not set to "off"
func (c *Config) IsRuleEnabled(rule string) bool {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity != "off"
	}
	return true
}

// ShouldIgnoreFile checks if a file should be skipped entirely
func (c *Config) ShouldIgnoreFile(filePath string) bool {
	rel := filePath
	if r, err := filepath.Rel(c.Root, filePath); err == nil && filepath.IsAbs(filePath) {
		rel = r
	}
	for _, pattern := range c.Lint.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(filePath)); matched {
			return true
		}
	}
	return false
}

// CacheEnabled reports whether the incremental cache is on.
func (c *Config) CacheEnabled() bool {
	return c.Analysis.Cache.Enabled == nil || *c.Analysis.Cache.Enabled
}
