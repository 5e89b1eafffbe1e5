package bindings

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/extractor"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/validator"
)

// Diagnostic codes for binding files.
const (
	CodeYAML         = "binding.yaml"
	CodeSchema       = "binding.schema"
	CodeInclude      = "binding.include"
	CodeIncludeCycle = "binding.include-cycle"
)

var tracer = otel.Tracer("kdts.bindings")

var decodeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kdts_binding_decodes_total",
	Help: "Binding files decoded, by result (ok, error)",
}, []string{"result"})

// TypeLoader indexes binding directories and resolves nodes to types.
// Loading is concurrent; lookups may be made from one goroutine at a time
// or concurrently with Preload.
type TypeLoader struct {
	validator *validator.Validator
	group     singleflight.Group
	unknown   *NodeType

	mu       sync.Mutex
	headers  map[string]extractor.Header
	byName   map[string]string
	byCompat map[string][]string
	docs     map[string]*bindingDoc
	types    map[string]*NodeType
	diags    diag.List
}

// NewTypeLoader returns an empty loader that validates every binding
// against the embedded schema.
func NewTypeLoader() (*TypeLoader, error) {
	v, err := validator.NewBindingValidator()
	if err != nil {
		return nil, fmt.Errorf("creating binding validator: %w", err)
	}
	unknown := newNodeType()
	unknown.Valid = false
	return &TypeLoader{
		validator: v,
		unknown:   unknown,
		headers:   make(map[string]extractor.Header),
		byName:    make(map[string]string),
		byCompat:  make(map[string][]string),
		docs:      make(map[string]*bindingDoc),
		types:     make(map[string]*NodeType),
	}, nil
}

func isBindingFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

// Load scans dirs recursively and indexes every binding file by
// compatible and file name. Bindings are decoded on first use.
func (l *TypeLoader) Load(ctx context.Context, dirs ...string) error {
	ctx, span := tracer.Start(ctx, "bindings.Load")
	defer span.End()
	log := ctxlog.FromContext(ctx)

	var files []string
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isBindingFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("walking binding directory %s: %w", dir, err)
		}
	}

	headers := make([]extractor.Header, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range files {
		g.Go(func() error {
			h, err := extractor.NewYAML().Extract(gctx, path)
			if err != nil {
				return err
			}
			headers[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("scanning bindings: %w", err)
	}

	l.mu.Lock()
	for _, h := range headers {
		l.headers[h.File] = h
		if _, ok := l.byName[filepath.Base(h.File)]; !ok {
			l.byName[filepath.Base(h.File)] = h.File
		}
		if h.Compatible != "" {
			l.byCompat[h.Compatible] = append(l.byCompat[h.Compatible], h.File)
		}
	}
	compatibles := len(l.byCompat)
	l.mu.Unlock()

	span.SetAttributes(attribute.Int("bindings.files", len(files)), attribute.Int("bindings.compatibles", compatibles))
	log.Debug("bindings: indexed", "files", len(files), "compatibles", compatibles)
	return nil
}

// Preload decodes and composes every binding with a compatible, so that
// later lookups do no I/O.
func (l *TypeLoader) Preload(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "bindings.Preload")
	defer span.End()

	l.mu.Lock()
	var paths []string
	for _, ps := range l.byCompat {
		paths = append(paths, ps...)
	}
	l.mu.Unlock()
	slices.Sort(paths)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			l.compose(path, nil)
			return nil
		})
	}
	return g.Wait()
}

// Compatibles returns every indexed compatible, sorted.
func (l *TypeLoader) Compatibles() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.byCompat))
	for c := range l.byCompat {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// HasCompatible reports whether a binding declares compatible.
func (l *TypeLoader) HasCompatible(compatible string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byCompat[compatible]) > 0
}

// Diagnostics returns the problems found in the binding files decoded so
// far.
func (l *TypeLoader) Diagnostics() diag.List {
	l.mu.Lock()
	out := slices.Clone(l.diags)
	l.mu.Unlock()
	slices.SortFunc(out, func(a, b diag.Diagnostic) int {
		return cmp.Or(
			strings.Compare(a.URI, b.URI),
			cmp.Compare(a.Range.Start.Line, b.Range.Start.Line),
			strings.Compare(a.Message, b.Message),
		)
	})
	return out
}

// Type returns the composed type for compatible. When several bindings
// share it, the one whose on-bus matches a bus of parent wins, then one
// without on-bus.
func (l *TypeLoader) Type(compatible string, parent *NodeType) *NodeType {
	l.mu.Lock()
	paths := slices.Clone(l.byCompat[compatible])
	l.mu.Unlock()

	var candidates []*NodeType
	for _, p := range paths {
		if t := l.compose(p, nil); t != nil {
			candidates = append(candidates, t)
		}
	}
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}
	if parent != nil {
		for _, t := range candidates {
			if t.OnBus != "" && slices.Contains(parent.Buses, t.OnBus) {
				return t
			}
		}
	}
	for _, t := range candidates {
		if t.OnBus == "" {
			return t
		}
	}
	return candidates[0]
}

// NodeType resolves the type of n: by path, by each compatible, by node
// name, by the name without a trailing "s", then the parent's
// child-binding. Nodes matching none get a type with Valid unset.
func (l *TypeLoader) NodeType(n *dts.Node) *NodeType {
	if n == nil {
		return l.unknown
	}
	if t, ok := pathTypes[n.Path]; ok {
		return t
	}

	var parent *NodeType
	parentResolved := false
	parentType := func() *NodeType {
		if !parentResolved && n.Parent != nil {
			parent = l.NodeType(n.Parent)
		}
		parentResolved = true
		return parent
	}

	for _, c := range n.Compatible() {
		if t := l.Type(c, parentType()); t != nil {
			return t
		}
	}
	name := n.BaseName()
	if t := l.named(name, parentType); t != nil {
		return t
	}
	if short, ok := strings.CutSuffix(name, "s"); ok {
		if t := l.named(short, parentType); t != nil {
			return t
		}
	}
	if p := parentType(); p != nil && p.Child != nil {
		return p.Child
	}
	return l.unknown
}

func (l *TypeLoader) named(name string, parent func() *NodeType) *NodeType {
	if t, ok := nameTypes[name]; ok {
		return t
	}
	if t := l.Type(name, parent()); t != nil {
		return t
	}
	return nil
}

// CellNames implements dts.TypeResolver.
func (l *TypeLoader) CellNames(n *dts.Node, domain string) []string {
	return l.NodeType(n).Cells[domain]
}

func (l *TypeLoader) report(path string, line int, sev diag.Severity, code, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.diags = append(l.diags, diag.Diagnostic{
		URI:      path,
		Range:    diag.LineRange(max(line-1, 0), max(line-1, 0)),
		Severity: sev,
		Code:     code,
		Message:  msg,
		Source:   "bindings",
	})
}

// doc returns the decoded file, decoding it at most once.
func (l *TypeLoader) doc(path string) *bindingDoc {
	l.mu.Lock()
	d, ok := l.docs[path]
	l.mu.Unlock()
	if ok {
		return d
	}

	v, _, _ := l.group.Do(path, func() (any, error) {
		l.mu.Lock()
		d, ok := l.docs[path]
		l.mu.Unlock()
		if ok {
			return d, nil
		}
		d = l.decode(path)
		l.mu.Lock()
		l.docs[path] = d
		l.mu.Unlock()
		return d, nil
	})
	return v.(*bindingDoc)
}

func (l *TypeLoader) decode(path string) *bindingDoc {
	fail := func(line int, code string, err error) *bindingDoc {
		decodeCounter.WithLabelValues("error").Inc()
		l.report(path, line, diag.SeverityError, code, err.Error())
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fail(0, CodeYAML, err)
	}
	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return fail(yamlErrorLine(err), CodeYAML, err)
	}
	doc := &bindingDoc{}
	if len(root.Content) == 0 {
		decodeCounter.WithLabelValues("ok").Inc()
		return doc
	}

	var raw map[string]any
	if err := root.Decode(&raw); err != nil {
		return fail(0, CodeYAML, err)
	}
	for _, msg := range l.validator.ValidationErrors(raw) {
		l.report(path, 0, diag.SeverityError, CodeSchema, msg)
	}
	if err := root.Decode(doc); err != nil {
		return fail(yamlErrorLine(err), CodeYAML, err)
	}
	decodeCounter.WithLabelValues("ok").Inc()
	return doc
}

// yamlErrorLine extracts "line N" from a yaml.v3 error.
func yamlErrorLine(err error) int {
	var te *yaml.TypeError
	msg := err.Error()
	if errors.As(err, &te) && len(te.Errors) > 0 {
		msg = te.Errors[0]
	}
	var line int
	if i := strings.Index(msg, "line "); i >= 0 {
		fmt.Sscanf(msg[i:], "line %d", &line)
	}
	return line
}

// compose builds the type of a binding file with its includes applied.
// chain holds the files being composed further up, to cut include cycles.
func (l *TypeLoader) compose(path string, chain []string) *NodeType {
	l.mu.Lock()
	t, ok := l.types[path]
	l.mu.Unlock()
	if ok {
		return t
	}

	d := l.doc(path)
	if d == nil {
		return nil
	}
	t = l.build(d, path, append(slices.Clip(chain), path), 0)

	l.mu.Lock()
	defer l.mu.Unlock()
	t.Line = l.headers[path].CompatibleLine
	if prev, ok := l.types[path]; ok {
		return prev
	}
	l.types[path] = t
	return t
}

// build composes one level of a binding document. depth counts the
// child-binding levels below the file's top level; an include at depth n
// contributes the included binding's type n levels down.
func (l *TypeLoader) build(d *bindingDoc, path string, chain []string, depth int) *NodeType {
	t := newNodeType()
	t.File = path

	for _, inc := range d.Include {
		ipath, ok := l.resolveInclude(inc.Name)
		if !ok {
			l.report(path, inc.Line, diag.SeverityError, CodeInclude, fmt.Sprintf("cannot find included binding %s", inc.Name))
			continue
		}
		if slices.Contains(chain, ipath) {
			l.report(path, inc.Line, diag.SeverityError, CodeIncludeCycle, fmt.Sprintf("include cycle through %s", inc.Name))
			continue
		}
		if it := childLevel(l.compose(ipath, chain), depth); it != nil {
			t.include(it, inc.Filter)
		}
	}

	t.Compatible = d.Compatible
	if d.Description != "" {
		t.Description = d.Description
	}
	if d.OnBus != "" {
		t.OnBus = d.OnBus
	}
	if len(d.Bus) > 0 {
		t.Buses = d.Bus
	}
	for name, pd := range d.Properties {
		t.Properties[name] = mergeProperty(t.Properties[name], pd.propertyType(name, path))
	}
	for space, names := range d.cells() {
		t.Cells[space] = names
	}
	if d.Child != nil {
		child := l.build(d.Child, path, chain, depth+1)
		if t.Child != nil {
			base := t.Child
			base.include(child, nil)
			if child.Description != "" {
				base.Description = child.Description
			}
			child = base
		}
		t.Child = child
	}
	return t
}

func childLevel(t *NodeType, depth int) *NodeType {
	for ; t != nil && depth > 0; depth-- {
		t = t.Child
	}
	return t
}

func (l *TypeLoader) resolveInclude(name string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.byName[name]; ok {
		return p, true
	}
	if filepath.Ext(name) == "" {
		for _, ext := range []string{".yaml", ".yml"} {
			if p, ok := l.byName[name+ext]; ok {
				return p, true
			}
		}
	}
	return "", false
}
