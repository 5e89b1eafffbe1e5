package indexer

import (
	"fmt"
	"os"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/config"
)

// ClearPolicyCache removes the stored policy results for cfg's workspace.
// Returns the cache directory that was targeted.
func ClearPolicyCache(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("clear policy cache: config is nil")
	}
	cacheDir := cfg.CacheDir()
	if err := clearPolicyCache(cacheDir); err != nil {
		return cacheDir, err
	}
	return cacheDir, nil
}

func clearPolicyCache(cacheDir string) error {
	if err := os.Remove(policyCachePath(cacheDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove policy cache: %w", err)
	}
	return nil
}
