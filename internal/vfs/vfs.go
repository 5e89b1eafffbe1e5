// Package vfs is the file-read service shared by the Kconfig and
// Devicetree engines. URIs are either plain paths (file scheme) or
// "scheme://path"; other schemes are pluggable.
package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when a URI does not resolve to readable content.
var ErrNotFound = errors.New("not found")

// Reader reads the text of a document.
type Reader interface {
	ReadFile(uri string) (string, error)
}

// Split separates a URI into scheme and path. Plain paths have the "file"
// scheme.
func Split(uri string) (scheme, path string) {
	if i := strings.Index(uri, "://"); i > 0 {
		return uri[:i], uri[i+3:]
	}
	return "file", uri
}

// Path returns the path component of a URI.
func Path(uri string) string {
	_, p := Split(uri)
	return p
}

// Registry dispatches reads by URI scheme and lets open documents shadow
// their on-disk contents.
type Registry struct {
	mu      sync.RWMutex
	schemes map[string]Reader
	open    map[string]string
}

// NewRegistry returns a registry with the file scheme installed.
func NewRegistry() *Registry {
	return &Registry{
		schemes: map[string]Reader{"file": Disk{}},
		open:    make(map[string]string),
	}
}

// Register installs a reader for a scheme.
func (r *Registry) Register(scheme string, reader Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemes[scheme] = reader
}

// Open records unsaved editor text for uri.
func (r *Registry) Open(uri, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[Canonical(uri)] = text
}

// Close forgets the unsaved text for uri.
func (r *Registry) Close(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, Canonical(uri))
}

// ReadFile returns the open document text if any, otherwise reads through
// the scheme's reader.
func (r *Registry) ReadFile(uri string) (string, error) {
	r.mu.RLock()
	text, ok := r.open[Canonical(uri)]
	scheme, _ := Split(uri)
	reader := r.schemes[scheme]
	r.mu.RUnlock()
	if ok {
		return text, nil
	}
	if reader == nil {
		return "", fmt.Errorf("read %s: no reader for scheme %q: %w", uri, scheme, ErrNotFound)
	}
	return reader.ReadFile(uri)
}

// Exists reports whether uri can be read.
func (r *Registry) Exists(uri string) bool {
	_, err := r.ReadFile(uri)
	return err == nil
}

// Disk reads plain files.
type Disk struct{}

// ReadFile reads the file at the URI's path.
func (Disk) ReadFile(uri string) (string, error) {
	data, err := os.ReadFile(Path(uri))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read %s: %w", uri, ErrNotFound)
		}
		return "", fmt.Errorf("read %s: %w", uri, err)
	}
	return string(data), nil
}

// Memory is an in-memory reader, mostly for tests and unsaved buffers.
type Memory map[string]string

// ReadFile returns the stored text.
func (m Memory) ReadFile(uri string) (string, error) {
	if text, ok := m[Canonical(uri)]; ok {
		return text, nil
	}
	if text, ok := m[uri]; ok {
		return text, nil
	}
	return "", fmt.Errorf("read %s: %w", uri, ErrNotFound)
}

// Canonical cleans the path of a file URI so the same file always has the
// same key.
func Canonical(uri string) string {
	scheme, p := Split(uri)
	if scheme != "file" {
		return uri
	}
	return filepath.Clean(p)
}

// Lines splits text into lines, dropping a trailing carriage return.
func Lines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Dir returns the URI of the directory holding uri.
func Dir(uri string) string {
	scheme, p := Split(uri)
	return withScheme(scheme, filepath.Dir(p))
}

// Join resolves name against the directory URI dir. Absolute names keep
// their own path but inherit the scheme.
func Join(dir, name string) string {
	scheme, p := Split(dir)
	if filepath.IsAbs(name) {
		return withScheme(scheme, filepath.Clean(name))
	}
	return withScheme(scheme, filepath.Join(p, name))
}

func withScheme(scheme, p string) string {
	if scheme == "file" {
		return p
	}
	return scheme + "://" + p
}
