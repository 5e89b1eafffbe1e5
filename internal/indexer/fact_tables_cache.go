package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/facts"
)

const factTablesCacheVersion = 1

// IndexFile is the symbol index written into the cache directory.
const IndexFile = "index.json"

type factTablesCache struct {
	Version int          `json:"version"`
	Tables  facts.Tables `json:"tables"`
}

func loadFactTablesCache(dir string) (facts.Tables, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return facts.Tables{}, false, nil
		}
		return facts.Tables{}, false, fmt.Errorf("read symbol index: %w", err)
	}
	var cache factTablesCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return facts.Tables{}, false, fmt.Errorf("parse symbol index: %w", err)
	}
	if cache.Version != factTablesCacheVersion {
		return facts.Tables{}, false, nil
	}
	return cache.Tables, true, nil
}

func saveFactTablesCache(dir string, tables facts.Tables) error {
	cache := factTablesCache{
		Version: factTablesCacheVersion,
		Tables:  tables,
	}
	if err := writeJSONAtomic(filepath.Join(dir, IndexFile), cache); err != nil {
		return fmt.Errorf("write symbol index: %w", err)
	}
	return nil
}

// LoadIndex reads the symbol index written by the last run.
func LoadIndex(cacheDir string) (facts.Tables, bool, error) {
	return loadFactTablesCache(cacheDir)
}
