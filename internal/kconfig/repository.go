// Package kconfig parses Kconfig trees into a persistent graph of symbols
// and conditional scopes and evaluates symbol values against a set of
// overrides.
//
// A Repository is built once with Parse and then kept current with
// OnDidChange, which reparses only the files with the changed URI and
// reuses every included file whose inclusion is structurally unchanged.
// Scopes are stored in an arena and re-identified across reparses by a
// structural key, so children contributed by other files survive.
package kconfig

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig/expr"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/vfs"
)

// DefaultMaxIncludeDepth bounds "source" nesting.
const DefaultMaxIncludeDepth = 32

// Options configures a Repository.
type Options struct {
	// File is the URI of the top-level Kconfig file.
	File string
	// Root is the source tree that non-relative "source" paths are
	// resolved against. Defaults to the directory of File.
	Root string
	// Env seeds path substitution.
	Env    map[string]string
	Reader vfs.Reader
	// MaxIncludeDepth defaults to DefaultMaxIncludeDepth.
	MaxIncludeDepth int
}

// Edit describes a text change: at Line, Removed lines were replaced by
// Added lines. The zero Edit makes every include match structurally.
type Edit struct {
	Line    int
	Removed int
	Added   int
}

// Repository owns the scope tree and the symbol table.
type Repository struct {
	opts   Options
	reader vfs.Reader

	configs map[string]*Config
	scopes  *scopeArena
	root    *Scope
	file    *ParsedFile

	// MainMenu is the "mainmenu" title, if any.
	MainMenu string

	exprs     map[string]*expr.Expression
	selectors map[string][]selector
	claimed   map[ScopeID]bool
	reparsed  map[*ParsedFile]bool
	version   int64
}

type selector struct {
	entry *ConfigEntry
	cond  string
	imply bool
}

// New returns an empty repository. Call Parse to load it.
func New(opts Options) *Repository {
	if opts.Reader == nil {
		opts.Reader = vfs.NewRegistry()
	}
	if opts.MaxIncludeDepth <= 0 {
		opts.MaxIncludeDepth = DefaultMaxIncludeDepth
	}
	opts.File = vfs.Canonical(opts.File)
	if opts.Root == "" {
		opts.Root = filepath.Dir(vfs.Path(opts.File))
	}
	r := &Repository{opts: opts, reader: opts.Reader}
	r.reset()
	return r
}

func (r *Repository) reset() {
	r.configs = make(map[string]*Config)
	r.scopes = newScopeArena()
	r.root = r.scopes.add(&Scope{Key: "root", Kind: ScopeRoot, Parent: NoScope})
	r.exprs = make(map[string]*expr.Expression)
	r.selectors = nil
	r.claimed = map[ScopeID]bool{r.root.ID: true}
	r.MainMenu = ""
	r.file = nil
}

// Parse discards all state and parses the tree from the top-level file.
// The error is non-nil only if the top-level file cannot be read.
func (r *Repository) Parse(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "kconfig.Parse", trace.WithAttributes(attribute.String("kconfig.file", r.opts.File)))
	defer span.End()
	start := time.Now()

	r.reset()
	if _, err := r.reader.ReadFile(r.opts.File); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("parse kconfig: %w", err)
	}
	r.file = &ParsedFile{
		URI:      r.opts.File,
		Env:      cloneEnv(r.opts.Env),
		ScopeKey: r.root.Key,
		Scope:    r.root.ID,
	}
	r.reparsed = make(map[*ParsedFile]bool)
	r.parseFile(ctx, r.file, r.root)
	r.finish()

	parseDuration.WithLabelValues("full").Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("kconfig.symbols", len(r.configs)))
	ctxlog.FromContext(ctx).Debug("kconfig: parsed", "file", r.opts.File,
		"symbols", len(r.configs), "files", len(r.file.Files()), "elapsed", time.Since(start))
	return nil
}

// OnDidChange reparses every file occurrence with the given URI. Included
// files are reused when their inclusion still matches.
func (r *Repository) OnDidChange(ctx context.Context, uri string, edit Edit) {
	if r.file == nil {
		return
	}
	ctx, span := tracer.Start(ctx, "kconfig.OnDidChange", trace.WithAttributes(
		attribute.String("kconfig.uri", uri),
		attribute.Int("kconfig.edit.line", edit.Line),
	))
	defer span.End()
	start := time.Now()

	uri = vfs.Canonical(uri)
	r.reparsed = make(map[*ParsedFile]bool)
	for {
		var next *ParsedFile
		for _, f := range r.file.Files() {
			if f.URI == uri && !r.reparsed[f] {
				next = f
				break
			}
		}
		if next == nil {
			break
		}
		r.reparse(ctx, next, edit)
	}
	r.finish()

	parseDuration.WithLabelValues("incremental").Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("kconfig.reparsed", len(r.reparsed)))
}

func (r *Repository) finish() {
	r.selectors = nil
	r.sortChildren()
	r.version++
	configsGauge.Set(float64(len(r.configs)))
}

// parseFile reads and parses a fresh ParsedFile into scope.
func (r *Repository) parseFile(ctx context.Context, f *ParsedFile, scope *Scope) {
	r.reparsed[f] = true
	reparseCounter.WithLabelValues("full").Inc()
	text, err := r.reader.ReadFile(f.URI)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("kconfig: read failed", "uri", f.URI, "error", err)
		f.Diags.Error(diag.LineRange(0, 0), CodeInclude, err.Error())
		return
	}
	p := &fileParser{
		ctx:   ctx,
		repo:  r,
		file:  f,
		lines: vfs.Lines(text),
		env:   cloneEnv(f.Env),
		stack: []*Scope{scope},
		used:  map[*Inclusion]bool{},
	}
	p.parse()
}

// reparse parses f again in place. Entries and scope children declared by
// f are dropped first; scopes f declares are reclaimed by key.
func (r *Repository) reparse(ctx context.Context, f *ParsedFile, edit Edit) {
	r.reparsed[f] = true
	reparseCounter.WithLabelValues("incremental").Inc()
	log := ctxlog.FromContext(ctx)
	log.Debug("kconfig: reparsing", "uri", f.URI, "line", f.Line)

	old := f.Inclusions
	oldScopes := f.scopes
	r.detach(f)
	f.scopes = nil
	for _, id := range oldScopes {
		delete(r.claimed, id)
	}

	scope := r.scopes.get(f.Scope)
	if scope == nil {
		scope = r.root
	}
	text, err := r.reader.ReadFile(f.URI)
	if err != nil {
		log.Warn("kconfig: read failed", "uri", f.URI, "error", err)
		f.Diags.Error(diag.LineRange(0, 0), CodeInclude, err.Error())
	} else {
		p := &fileParser{
			ctx:   ctx,
			repo:  r,
			file:  f,
			lines: vfs.Lines(text),
			env:   cloneEnv(f.Env),
			stack: []*Scope{scope},
			old:   old,
			used:  map[*Inclusion]bool{},
			edit:  edit,
			dirty: f.URI,
		}
		p.parse()
		for _, inc := range old {
			if !p.used[inc] {
				r.discard(inc.File)
			}
		}
	}
	if err != nil {
		// Nothing could be matched against the unreadable file.
		for _, inc := range old {
			r.discard(inc.File)
		}
	}
	for _, id := range oldScopes {
		if !r.claimed[id] {
			r.scopes.release(id)
		}
	}
}

// detach removes f's own contributions: entries, scope children,
// diagnostics and inclusion list. Included files are untouched.
func (r *Repository) detach(f *ParsedFile) {
	for _, e := range f.Entries {
		e.Config.removeEntry(e)
		if len(e.Config.Entries) == 0 && r.configs[e.Config.Name] == e.Config {
			delete(r.configs, e.Config.Name)
		}
	}
	r.scopes.dropFile(f)
	f.Entries, f.Comments, f.Diags, f.Inclusions = nil, nil, nil, nil
}

// discard removes f and everything it includes.
func (r *Repository) discard(f *ParsedFile) {
	for _, inc := range f.Inclusions {
		r.discard(inc.File)
	}
	r.detach(f)
	for _, id := range f.scopes {
		delete(r.claimed, id)
		r.scopes.release(id)
	}
	f.scopes = nil
}

// sortChildren orders scope children and config entries by their position
// in the flattened source, so reused includes keep their place.
func (r *Repository) sortChildren() {
	for _, s := range r.scopes.scopes {
		sort.SliceStable(s.Children, func(i, j int) bool {
			return lessPos(r.itemPos(s.Children[i]), r.itemPos(s.Children[j]))
		})
	}
	for _, c := range r.configs {
		sort.SliceStable(c.Entries, func(i, j int) bool {
			a, b := c.Entries[i], c.Entries[j]
			return lessPos(r.itemPos(Item{Kind: ItemEntry, Entry: a, File: a.File}),
				r.itemPos(Item{Kind: ItemEntry, Entry: b, File: b.File}))
		})
	}
}

func (r *Repository) itemPos(it Item) []int {
	line := 0
	switch it.Kind {
	case ItemEntry:
		line = it.Entry.Lines.Start
	case ItemComment:
		line = it.Comment.Lines.Start
	case ItemScope:
		if s := r.scopes.get(it.Scope); s != nil {
			line = s.Lines.Start
		}
	}
	pos := []int{line}
	for f := it.File; f != nil && f.Parent != nil; f = f.Parent {
		pos = append(pos, f.Line)
	}
	for i, j := 0, len(pos)-1; i < j; i, j = i+1, j-1 {
		pos[i], pos[j] = pos[j], pos[i]
	}
	return pos
}

func lessPos(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func (r *Repository) compile(text string) *expr.Expression {
	if e, ok := r.exprs[text]; ok {
		return e
	}
	e := expr.Compile(text)
	r.exprs[text] = e
	return e
}

func (r *Repository) exists(uri string) bool {
	_, err := r.reader.ReadFile(uri)
	return err == nil || !errors.Is(err, vfs.ErrNotFound)
}

func (r *Repository) selectorsOf(name string) []selector {
	if r.selectors == nil {
		r.selectors = make(map[string][]selector)
		for _, cfg := range r.ConfigList() {
			for _, e := range cfg.Entries {
				for _, s := range e.Selects {
					r.selectors[s.Value] = append(r.selectors[s.Value], selector{entry: e, cond: s.If})
				}
				for _, s := range e.Implies {
					r.selectors[s.Value] = append(r.selectors[s.Value], selector{entry: e, cond: s.If, imply: true})
				}
			}
		}
	}
	return r.selectors[name]
}

// Version increases on every Parse and OnDidChange.
func (r *Repository) Version() int64 { return r.version }

// Config returns the named symbol or nil.
func (r *Repository) Config(name string) *Config { return r.configs[name] }

// ConfigList returns all symbols sorted by name.
func (r *Repository) ConfigList() []*Config {
	out := make([]*Config, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Root returns the root scope.
func (r *Repository) Root() *Scope { return r.root }

// Scope returns a scope by id or nil.
func (r *Repository) Scope(id ScopeID) *Scope { return r.scopes.get(id) }

// Scopes returns all live scopes in creation order.
func (r *Repository) Scopes() []*Scope {
	ids := r.scopes.ids()
	out := make([]*Scope, len(ids))
	for i, id := range ids {
		out[i] = r.scopes.get(id)
	}
	return out
}

// File returns the top-level parsed file, nil before Parse.
func (r *Repository) File() *ParsedFile { return r.file }

// Files returns every parsed file occurrence, depth first.
func (r *Repository) Files() []*ParsedFile {
	if r.file == nil {
		return nil
	}
	return r.file.Files()
}

// Selectors returns the entries that select or imply name.
func (r *Repository) Selectors(name string) []*ConfigEntry {
	var out []*ConfigEntry
	for _, s := range r.selectorsOf(name) {
		out = append(out, s.entry)
	}
	return out
}

// EntryAt returns the entry declared at line of uri, if any.
func (r *Repository) EntryAt(uri string, line int) *ConfigEntry {
	uri = vfs.Canonical(uri)
	for _, f := range r.Files() {
		if f.URI != uri {
			continue
		}
		for _, e := range f.Entries {
			if e.Lines.Contains(line) {
				return e
			}
		}
	}
	return nil
}

// Diagnostics returns parse diagnostics of every file, with URIs set.
func (r *Repository) Diagnostics() diag.List {
	var out diag.List
	seen := map[string]bool{}
	for _, f := range r.Files() {
		for _, d := range f.Diags.WithURI(f.URI) {
			k := d.String()
			if seen[k] {
				continue
			}
			seen[k] = true
			d.Source = "kconfig"
			out = append(out, d)
		}
	}
	return out
}

// DependencyExpr joins the conditions of the entry's scope chain and its
// own "depends on" lines into one expression. It is "" when nothing gates
// the entry.
func (r *Repository) DependencyExpr(e *ConfigEntry) string {
	var parts []string
	for _, s := range r.scopes.ancestors(e.Scope) {
		switch s.Kind {
		case ScopeIf:
			if s.Cond != "" {
				parts = append(parts, s.Cond)
			}
		case ScopeMenu, ScopeChoice:
			parts = append(parts, s.DependsOn...)
		}
	}
	parts = append(parts, e.DependsOn...)
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	for i, p := range parts {
		parts[i] = "(" + p + ")"
	}
	return strings.Join(parts, " && ")
}
