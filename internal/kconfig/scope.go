package kconfig

import (
	"fmt"
	"sort"
	"strings"
)

// ScopeID indexes a Scope in the repository's arena.
type ScopeID int

// NoScope is the parent of the root scope.
const NoScope ScopeID = -1

// ScopeKind is the variant of a Scope.
type ScopeKind int

const (
	ScopeRoot ScopeKind = iota
	ScopeIf
	ScopeMenu
	ScopeChoice
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeRoot:
		return "root"
	case ScopeIf:
		return "if"
	case ScopeMenu:
		return "menu"
	case ScopeChoice:
		return "choice"
	}
	return "unknown"
}

// ItemKind tags a Scope child.
type ItemKind int

const (
	ItemEntry ItemKind = iota
	ItemScope
	ItemComment
)

// Item is one child of a scope. File is the file that declared the child,
// which need not be the file that declared the scope.
type Item struct {
	Kind    ItemKind
	Entry   *ConfigEntry
	Scope   ScopeID
	Comment *Comment
	File    *ParsedFile
}

// Scope is a conditional region of the configuration tree: the root, an
// "if" block, a "menu" or a "choice".
type Scope struct {
	ID     ScopeID
	Key    string
	Kind   ScopeKind
	Name   string
	Parent ScopeID
	File   *ParsedFile
	Lines  Lines

	// Cond is the "if" expression.
	Cond      string
	DependsOn []string
	VisibleIf []string

	// Choice attributes.
	Prompt   string
	Type     Type
	Defaults []Cond
	Optional bool
	Help     string

	Children []Item
}

// Entries returns the config entries directly inside s.
func (s *Scope) Entries() []*ConfigEntry {
	var out []*ConfigEntry
	for _, it := range s.Children {
		if it.Kind == ItemEntry {
			out = append(out, it.Entry)
		}
	}
	return out
}

func (s *Scope) dropFile(f *ParsedFile) {
	kept := s.Children[:0]
	for _, it := range s.Children {
		if it.File != f {
			kept = append(kept, it)
		}
	}
	for i := len(kept); i < len(s.Children); i++ {
		s.Children[i] = Item{}
	}
	s.Children = kept
}

func (s *Scope) dropScope(id ScopeID) {
	kept := s.Children[:0]
	for _, it := range s.Children {
		if it.Kind != ItemScope || it.Scope != id {
			kept = append(kept, it)
		}
	}
	s.Children = kept
}

// scopeKey derives the structural key of a child scope.
func scopeKey(parent string, kind ScopeKind, name string) string {
	return fmt.Sprintf("%s/%s:%s", parent, kind, strings.Join(strings.Fields(name), " "))
}

type scopeRef struct {
	key  string
	file *ParsedFile
}

// scopeArena stores every live scope. A scope is identified across reparses
// by its key and declaring file, not by pointer.
type scopeArena struct {
	scopes map[ScopeID]*Scope
	index  map[scopeRef]ScopeID
	next   ScopeID
}

func newScopeArena() *scopeArena {
	return &scopeArena{
		scopes: make(map[ScopeID]*Scope),
		index:  make(map[scopeRef]ScopeID),
	}
}

func (a *scopeArena) get(id ScopeID) *Scope {
	return a.scopes[id]
}

// lookup finds a scope by structural key and declaring file.
func (a *scopeArena) lookup(key string, file *ParsedFile) (*Scope, bool) {
	id, ok := a.index[scopeRef{key, file}]
	if !ok {
		return nil, false
	}
	return a.scopes[id], true
}

func (a *scopeArena) add(s *Scope) *Scope {
	s.ID = a.next
	a.next++
	a.scopes[s.ID] = s
	a.index[scopeRef{s.Key, s.File}] = s.ID
	return s
}

// release removes a scope and detaches it from its parent.
func (a *scopeArena) release(id ScopeID) {
	s, ok := a.scopes[id]
	if !ok {
		return
	}
	if p := a.scopes[s.Parent]; p != nil {
		p.dropScope(id)
	}
	delete(a.index, scopeRef{s.Key, s.File})
	delete(a.scopes, id)
}

// dropFile removes every child declared by f from every scope.
func (a *scopeArena) dropFile(f *ParsedFile) {
	for _, s := range a.scopes {
		s.dropFile(f)
	}
}

// ids returns live scope ids in creation order.
func (a *scopeArena) ids() []ScopeID {
	ids := make([]ScopeID, 0, len(a.scopes))
	for id := range a.scopes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ancestors returns the chain from id up to the root, id first.
func (a *scopeArena) ancestors(id ScopeID) []*Scope {
	var out []*Scope
	for s := a.scopes[id]; s != nil; s = a.scopes[s.Parent] {
		out = append(out, s)
		if s.Parent == NoScope {
			break
		}
	}
	return out
}
