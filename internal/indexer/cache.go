package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const hashCacheVersion = 1

// hashCache remembers the content hash of every file seen by the last run,
// so a run can tell which files changed since.
type hashCache struct {
	dir string

	mu     sync.Mutex
	hashes map[string]string
}

type hashCacheFile struct {
	Version int               `json:"version"`
	Hashes  map[string]string `json:"hashes"`
}

func newHashCache(dir string) *hashCache {
	return &hashCache{dir: dir, hashes: make(map[string]string)}
}

func (c *hashCache) path() string {
	return filepath.Join(c.dir, "hashes.json")
}

func (c *hashCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache mkdir: %w", err)
	}
	data, err := os.ReadFile(c.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read hash cache: %w", err)
	}
	var f hashCacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse hash cache: %w", err)
	}
	if f.Version != hashCacheVersion || f.Hashes == nil {
		// stale format: every file counts as changed
		c.hashes = make(map[string]string)
		return nil
	}
	c.hashes = f.Hashes
	return nil
}

func (c *hashCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSONAtomic(c.path(), hashCacheFile{Version: hashCacheVersion, Hashes: c.hashes})
}

// Update hashes files and replaces the remembered set with them. It
// returns the files that are new, changed or gone since the last Update.
func (c *hashCache) Update(files []string) (map[string]bool, error) {
	next := make(map[string]string, len(files))
	for _, f := range files {
		h, err := hashFile(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		next[f] = h
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	changed := make(map[string]bool)
	for f, h := range next {
		if c.hashes[f] != h {
			changed[f] = true
		}
	}
	for f := range c.hashes {
		if _, ok := next[f]; !ok {
			changed[f] = true
		}
	}
	c.hashes = next
	return changed, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
