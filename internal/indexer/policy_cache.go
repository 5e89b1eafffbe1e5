package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/facts"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/policy"
)

const policyCacheVersion = 1

type policyCacheEntry struct {
	Version     int           `json:"version"`
	RulesHash   string        `json:"rules_hash"`
	TablesHash  string        `json:"tables_hash"`
	PolicyFiles []string      `json:"policy_files"`
	Result      policy.Result `json:"result"`
}

func loadPolicyCache(dir string) (*policyCacheEntry, error) {
	data, err := os.ReadFile(policyCachePath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entry policyCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse policy cache: %w", err)
	}
	return &entry, nil
}

func savePolicyCache(dir string, entry policyCacheEntry) error {
	if err := writeJSONAtomic(policyCachePath(dir), entry); err != nil {
		return fmt.Errorf("write policy cache: %w", err)
	}
	return nil
}

func policyCachePath(dir string) string {
	return filepath.Join(dir, "policy_cache.json")
}

func policyCacheValid(entry *policyCacheEntry, rulesHash, tablesHash string) bool {
	return entry != nil &&
		entry.Version == policyCacheVersion &&
		entry.RulesHash == rulesHash &&
		entry.TablesHash == tablesHash
}

// policyRulesHash hashes the built-in rules and every .rego file in
// policyDir, so editing a rule invalidates cached results.
func policyRulesHash(policyDir string) (string, []string, error) {
	var files []string
	if policyDir != "" {
		matches, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
		if err != nil {
			return "", nil, fmt.Errorf("policy rules hash: %w", err)
		}
		files = matches
	}
	slices.Sort(files)

	hasher := sha256.New()
	hasher.Write([]byte(policy.Builtin()))
	hasher.Write([]byte{0})
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("policy rules hash read: %w", err)
		}
		hasher.Write([]byte(filepath.Base(path)))
		hasher.Write([]byte{0})
		hasher.Write(data)
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil)), files, nil
}

func tablesHash(tables facts.Tables) (string, error) {
	data, err := json.Marshal(tables)
	if err != nil {
		return "", fmt.Errorf("marshal tables hash: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
