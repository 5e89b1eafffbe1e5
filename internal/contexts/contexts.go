// Package contexts persists the list of devicetree contexts: named board
// files with their overlays, so associations survive a restart.
package contexts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/validator"
)

// CurrentVersion is written by Save. Files holding a bare array predate
// versioning and load as version 0.
const CurrentVersion = 1

// ErrUnknownContext is returned for names not in the store.
var ErrUnknownContext = errors.New("unknown context")

// Context is one board file with its overlays, in priority order.
type Context struct {
	Name      string   `json:"name"`
	BoardFile string   `json:"boardFile"`
	Overlays  []string `json:"overlays,omitempty"`
}

// Build returns a devicetree context for c. Call Reparse on it to load
// the files.
func (c Context) Build(opts dts.Options) *dts.DTSCtx {
	ctx := dts.NewContext(opts)
	ctx.Name = c.Name
	ctx.SetBoard(c.BoardFile)
	for _, o := range c.Overlays {
		ctx.AddOverlay(o)
	}
	return ctx
}

// File is the on-disk shape.
type File struct {
	Version  int       `json:"version"`
	Contexts []Context `json:"contexts"`
}

// Parse decodes a contexts file, accepting the legacy bare array.
func Parse(data []byte) (File, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return File{Version: CurrentVersion, Contexts: []Context{}}, nil
	}
	if data[0] == '[' {
		var legacy []Context
		if err := json.Unmarshal(data, &legacy); err != nil {
			return File{}, fmt.Errorf("parsing legacy contexts: %w", err)
		}
		return File{Version: 0, Contexts: legacy}, nil
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parsing contexts: %w", err)
	}
	if f.Version > CurrentVersion {
		return File{}, fmt.Errorf("contexts file version %d is newer than supported version %d", f.Version, CurrentVersion)
	}
	if f.Contexts == nil {
		f.Contexts = []Context{}
	}
	return f, nil
}

// Store is a contexts file loaded in memory. It is safe for concurrent use.
type Store struct {
	path      string
	validator *validator.Validator

	mu   sync.Mutex
	file File
}

// Open loads path, or starts an empty store if it does not exist.
func Open(path string) (*Store, error) {
	v, err := validator.NewContextsValidator()
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, validator: v, file: File{Version: CurrentVersion, Contexts: []Context{}}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading contexts file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.file = f
	return s, nil
}

// Path returns the file the store saves to.
func (s *Store) Path() string { return s.path }

// Version is the version of the loaded file, 0 for a legacy file.
func (s *Store) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Version
}

// List returns a copy of the contexts in file order.
func (s *Store) List() []Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Context, len(s.file.Contexts))
	for i, c := range s.file.Contexts {
		c.Overlays = slices.Clone(c.Overlays)
		out[i] = c
	}
	return out
}

// Get returns the named context.
func (s *Store) Get(name string) (Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(name)
	if i < 0 {
		return Context{}, fmt.Errorf("%w: %s", ErrUnknownContext, name)
	}
	c := s.file.Contexts[i]
	c.Overlays = slices.Clone(c.Overlays)
	return c, nil
}

// Put adds c, replacing a context of the same name in place.
func (s *Store) Put(c Context) error {
	if c.Name == "" {
		return errors.New("context name is empty")
	}
	c.Overlays = slices.Clone(c.Overlays)
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(c.Name); i >= 0 {
		s.file.Contexts[i] = c
		return nil
	}
	s.file.Contexts = append(s.file.Contexts, c)
	return nil
}

// Remove drops the named context.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownContext, name)
	}
	s.file.Contexts = slices.Delete(s.file.Contexts, i, i+1)
	return nil
}

// AddOverlay appends overlay to the named context unless already present.
func (s *Store) AddOverlay(name, overlay string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownContext, name)
	}
	c := &s.file.Contexts[i]
	if !slices.Contains(c.Overlays, overlay) {
		c.Overlays = append(c.Overlays, overlay)
	}
	return nil
}

// RemoveOverlay drops overlay from the named context.
func (s *Store) RemoveOverlay(name, overlay string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownContext, name)
	}
	c := &s.file.Contexts[i]
	c.Overlays = slices.DeleteFunc(c.Overlays, func(o string) bool { return o == overlay })
	return nil
}

func (s *Store) index(name string) int {
	return slices.IndexFunc(s.file.Contexts, func(c Context) bool { return c.Name == name })
}

// Save validates the contexts and writes them at CurrentVersion, replacing
// the file atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	f := File{Version: CurrentVersion, Contexts: slices.Clone(s.file.Contexts)}
	s.mu.Unlock()

	if err := s.validator.Validate(f); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling contexts: %w", err)
	}
	if err := writeAtomic(s.path, append(data, '\n')); err != nil {
		return err
	}

	s.mu.Lock()
	s.file.Version = CurrentVersion
	s.mu.Unlock()
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("contexts dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("temp contexts file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write contexts file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close contexts file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename contexts file: %w", err)
	}
	return nil
}
