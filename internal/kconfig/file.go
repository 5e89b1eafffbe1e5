package kconfig

import (
	"maps"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
)

// Inclusion is a "source" statement that resolved to a file.
type Inclusion struct {
	Line int
	File *ParsedFile
}

// ParsedFile is one parsed occurrence of a Kconfig file. The same URI may be
// parsed more than once if it is sourced from several places.
type ParsedFile struct {
	URI string
	// Env is the variable table inherited from the including file, used
	// for path substitution only.
	Env map[string]string
	// ScopeKey is the key of the scope the file was sourced into.
	ScopeKey string
	Scope    ScopeID
	Parent   *ParsedFile
	// Line is the line of the including "source" statement.
	Line  int
	Depth int

	Inclusions []*Inclusion
	Entries    []*ConfigEntry
	Comments   []*Comment
	Diags      diag.List

	scopes []ScopeID
}

// Match reports whether other is the same file sourced the same way: same
// path, same inherited environment and same including scope.
func (f *ParsedFile) Match(other *ParsedFile) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.URI == other.URI && f.ScopeKey == other.ScopeKey && maps.Equal(f.Env, other.Env)
}

// Files returns f and every file it transitively includes, depth first.
func (f *ParsedFile) Files() []*ParsedFile {
	out := []*ParsedFile{f}
	for _, inc := range f.Inclusions {
		out = append(out, inc.File.Files()...)
	}
	return out
}

// includedFrom reports whether uri is f or one of its includers.
func (f *ParsedFile) includedFrom(uri string) bool {
	for p := f; p != nil; p = p.Parent {
		if p.URI == uri {
			return true
		}
	}
	return false
}
