// Package dts parses devicetree sources into a graph of nodes merged
// across a board file and its overlays.
//
// Files are parsed into file-local entries; a DTSCtx attaches them to nodes
// by path. A reparse rebuilds the node table in file priority order,
// parsing only dirty files and re-adopting the entries of clean ones, so
// overlay shadowing comes out the same as after a full parse.
package dts

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts/preproc"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/vfs"
)

// Options configures parsing.
type Options struct {
	Reader       vfs.Reader
	IncludePaths []string
	Defines      map[string]string
}

// TypeResolver supplies binding information for nodes.
type TypeResolver interface {
	// CellNames returns the specifier cell names n declares for domain
	// ("gpio", "interrupt", "clock"), or nil.
	CellNames(n *Node, domain string) []string
}

// DTSFile is a parsed board or overlay file, including everything it
// includes.
type DTSFile struct {
	URI string
	// Priority is the merge order in the context: 0 for the board, then
	// overlays in the order they were added.
	Priority int
	Lines    []preproc.Line
	Defines  map[string]*preproc.Define
	Includes []string
	// Roots are the top-level entries: "/ {" blocks and reference blocks.
	Roots     []*NodeEntry
	Deletions []*Deletion
	// Version is 1 once /dts-v1/ is seen.
	Version int
	Plugin  bool
	Diags   diag.List

	parsed bool
}

// Entries returns every entry of the file, depth first.
func (f *DTSFile) Entries() []*NodeEntry {
	var out []*NodeEntry
	var walk func([]*NodeEntry)
	walk = func(es []*NodeEntry) {
		for _, e := range es {
			out = append(out, e)
			walk(e.Children)
		}
	}
	walk(f.Roots)
	return out
}

// DependsOn reports whether the file is uri or includes it.
func (f *DTSFile) DependsOn(uri string) bool {
	return f.URI == uri || slices.Contains(f.Includes, uri)
}

func (f *DTSFile) replace(nf *DTSFile) {
	priority := f.Priority
	*f = *nf
	f.Priority = priority
	for _, e := range f.Entries() {
		e.File = f
	}
}

// DTSCtx is a board file plus overlays and the node graph built from them.
// It is not safe for concurrent use.
type DTSCtx struct {
	// Name identifies the context in the contexts file.
	Name     string
	Board    *DTSFile
	Overlays []*DTSFile
	Types    TypeResolver

	opts    Options
	root    *Node
	nodes   map[string]*Node
	labels  map[string]*Node
	dirty   map[string]bool
	diags   diag.List
	version int64
}

// NewContext returns an empty context.
func NewContext(opts Options) *DTSCtx {
	if opts.Reader == nil {
		opts.Reader = vfs.Disk{}
	}
	c := &DTSCtx{opts: opts, dirty: make(map[string]bool)}
	c.reset()
	return c
}

func (c *DTSCtx) reset() {
	c.root = newNode("/", nil)
	c.nodes = map[string]*Node{"/": c.root}
	c.labels = make(map[string]*Node)
	c.diags = nil
}

// SetBoard replaces the board file. The next Reparse parses it.
func (c *DTSCtx) SetBoard(uri string) {
	uri = vfs.Canonical(uri)
	if c.Board != nil && c.Board.URI == uri {
		return
	}
	c.Board = &DTSFile{URI: uri}
}

// AddOverlay appends an overlay; it takes priority over earlier files.
func (c *DTSCtx) AddOverlay(uri string) {
	uri = vfs.Canonical(uri)
	if c.File(uri) != nil {
		return
	}
	c.Overlays = append(c.Overlays, &DTSFile{URI: uri})
}

// RemoveOverlay drops an overlay.
func (c *DTSCtx) RemoveOverlay(uri string) bool {
	uri = vfs.Canonical(uri)
	for i, f := range c.Overlays {
		if f.URI == uri {
			c.Overlays = slices.Delete(c.Overlays, i, i+1)
			return true
		}
	}
	return false
}

// Files returns the board file followed by the overlays.
func (c *DTSCtx) Files() []*DTSFile {
	var out []*DTSFile
	if c.Board != nil {
		out = append(out, c.Board)
	}
	return append(out, c.Overlays...)
}

// File returns the board or overlay with the given URI.
func (c *DTSCtx) File(uri string) *DTSFile {
	uri = vfs.Canonical(uri)
	for _, f := range c.Files() {
		if f.URI == uri {
			return f
		}
	}
	return nil
}

// MarkDirty records that uri changed. Files including it are reparsed too.
func (c *DTSCtx) MarkDirty(uri string) {
	c.dirty[vfs.Canonical(uri)] = true
}

func (c *DTSCtx) isDirty(f *DTSFile) bool {
	if !f.parsed || c.dirty[f.URI] {
		return true
	}
	for _, inc := range f.Includes {
		if c.dirty[inc] {
			return true
		}
	}
	return false
}

// Version increases with every Reparse.
func (c *DTSCtx) Version() int64 { return c.version }

// Reparse rebuilds the node graph. Dirty files are parsed again; clean
// files have their entries re-adopted. The only error is ctx's, in which
// case the dirty set is kept for the next attempt.
func (c *DTSCtx) Reparse(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "dts.Reparse")
	defer span.End()
	start := time.Now()
	log := ctxlog.FromContext(ctx)

	c.reset()
	parsed := 0
	for i, f := range c.Files() {
		f.Priority = i
		if c.isDirty(f) {
			text, readErr := c.opts.Reader.ReadFile(f.URI)
			if readErr != nil {
				log.Warn("dts: cannot read file", "uri", f.URI, "err", readErr)
			}
			nf, err := ParseFile(ctx, f.URI, text, c.opts)
			if err != nil {
				return fmt.Errorf("reparse %s: %w", f.URI, err)
			}
			if readErr != nil {
				nf.Diags = append(nf.Diags, diag.Diagnostic{
					URI:      f.URI,
					Severity: diag.SeverityError,
					Code:     CodeRead,
					Message:  readErr.Error(),
					Source:   "dts",
				})
			}
			f.replace(nf)
			parsed++
			filesCounter.WithLabelValues("full").Inc()
			log.Debug("dts: parsed", "uri", f.URI, "lines", len(f.Lines))
		} else {
			filesCounter.WithLabelValues("adopt").Inc()
			log.Debug("dts: adopted", "uri", f.URI)
		}
		c.adoptNodes(f)
	}
	c.dirty = make(map[string]bool)
	c.version++

	reparseDuration.Observe(time.Since(start).Seconds())
	nodesGauge.Set(float64(len(c.nodes)))
	span.SetAttributes(attribute.Int("dts.parsed", parsed), attribute.Int("dts.nodes", len(c.nodes)))
	return nil
}

// adoptNodes registers the entries of f in the node table.
func (c *DTSCtx) adoptNodes(f *DTSFile) {
	for _, e := range f.Roots {
		c.register(e, nil)
	}
	for _, d := range f.Deletions {
		c.deleteNode(d, nil, f)
	}
}

func (c *DTSCtx) report(loc diag.Location, sev diag.Severity, code, msg string) {
	c.diags = append(c.diags, diag.Diagnostic{
		URI:      loc.URI,
		Range:    loc.Range,
		Severity: sev,
		Code:     code,
		Message:  msg,
		Source:   "dts",
	})
}

func (c *DTSCtx) register(e *NodeEntry, parent *Node) {
	e.Node = nil
	var n *Node
	switch {
	case e.Ref != nil:
		n = c.Resolve(e.Ref)
		if n == nil {
			c.report(e.NameLoc, diag.SeverityError, CodeUnknownLabel, fmt.Sprintf("unknown reference %s", e.Ref))
			return
		}
		if n.Deleted() {
			c.report(e.NameLoc, diag.SeverityWarning, CodeDeletedNode, fmt.Sprintf("%s reopens deleted node %s", e.Ref, n.Path))
		}
	case e.Name == "/":
		n = c.root
	default:
		if parent == nil {
			parent = c.root
		}
		n = parent.child(e.Name)
		c.nodes[n.Path] = n
	}
	e.Node = n
	n.Entries = append(n.Entries, e)

	for _, l := range e.Labels {
		if prev, ok := c.labels[l]; ok && prev != n {
			c.report(e.NameLoc, diag.SeverityError, CodeDuplicateLabel, fmt.Sprintf("label %s already refers to %s", l, prev.Path))
			continue
		}
		c.labels[l] = n
	}
	for _, child := range e.Children {
		c.register(child, n)
	}
	for _, d := range e.Deletions {
		c.deleteNode(d, n, e.File)
	}
}

func (c *DTSCtx) deleteNode(d *Deletion, parent *Node, f *DTSFile) {
	var n *Node
	if d.Ref != nil {
		n = c.Resolve(d.Ref)
	} else if parent != nil {
		n = parent.byName[d.Name]
	}
	if n == nil {
		name := d.Name
		if d.Ref != nil {
			name = d.Ref.String()
		}
		c.report(d.Loc, diag.SeverityWarning, CodeUnknownLabel, fmt.Sprintf("cannot delete unknown node %s", name))
		return
	}
	o := order{priority: f.Priority, number: d.Number}
	n.deletedAt = &o
}

// Root returns the root node.
func (c *DTSCtx) Root() *Node { return c.root }

// Nodes returns every live node sorted by path.
func (c *DTSCtx) Nodes() []*Node {
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		if len(n.Entries) > 0 && !n.Deleted() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Labels returns every label with its node, sorted by label.
func (c *DTSCtx) Labels() []string {
	out := make([]string, 0, len(c.labels))
	for l := range c.labels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Label returns the node a label points to.
func (c *DTSCtx) Label(name string) *Node { return c.labels[name] }

func (c *DTSCtx) nodeByPath(path string) *Node {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	n := c.nodes[path]
	if n == nil || len(n.Entries) == 0 || n.Deleted() {
		return nil
	}
	return n
}

// Resolve returns the node a reference points to.
func (c *DTSCtx) Resolve(p *PHandle) *Node {
	if p == nil {
		return nil
	}
	if p.Path != "" {
		return c.nodeByPath(p.Path)
	}
	return c.labels[p.Label]
}

// Node looks a node up by "&label", "&{/path}", "/path", label or alias.
func (c *DTSCtx) Node(s string) *Node {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "&{") && strings.HasSuffix(s, "}"):
		return c.nodeByPath(s[2 : len(s)-1])
	case strings.HasPrefix(s, "&"):
		return c.labels[s[1:]]
	case strings.HasPrefix(s, "/"):
		return c.nodeByPath(s)
	}
	if n := c.labels[s]; n != nil {
		return n
	}
	if aliases := c.nodeByPath("/aliases"); aliases != nil {
		if p := aliases.Property(s); p != nil {
			if path, ok := p.String(); ok {
				return c.nodeByPath(path)
			}
			if ref, ok := p.PHandle(); ok {
				return c.Resolve(ref)
			}
		}
	}
	return nil
}

// EntryAt returns the innermost entry in uri whose block contains pos.
func (c *DTSCtx) EntryAt(pos diag.Position, uri string) *NodeEntry {
	uri = vfs.Canonical(uri)
	var best *NodeEntry
	for _, f := range c.Files() {
		for _, e := range f.Entries() {
			if e.Loc.URI == uri && e.Loc.Range.Contains(pos) {
				best = e
			}
		}
	}
	return best
}

// PropertyAt returns the property in uri whose text contains pos.
func (c *DTSCtx) PropertyAt(pos diag.Position, uri string) *Property {
	uri = vfs.Canonical(uri)
	for _, f := range c.Files() {
		for _, e := range f.Entries() {
			for _, p := range e.Properties {
				if p.Loc.URI == uri && p.Loc.Range.Contains(pos) {
					return p
				}
			}
		}
	}
	return nil
}

// References returns every reference to n: property values and
// &label blocks.
func (c *DTSCtx) References(n *Node) []*PHandle {
	if n == nil {
		return nil
	}
	var out []*PHandle
	for _, f := range c.Files() {
		for _, e := range f.Entries() {
			if e.Ref != nil && c.Resolve(e.Ref) == n {
				out = append(out, e.Ref)
			}
			for _, p := range e.Properties {
				for _, ref := range p.PHandles() {
					if c.Resolve(ref) == n {
						out = append(out, ref)
					}
				}
			}
		}
	}
	return out
}

// Diagnostics returns parse, registration and semantic diagnostics.
func (c *DTSCtx) Diagnostics() diag.List {
	var out diag.List
	for _, f := range c.Files() {
		out = append(out, f.Diags...)
	}
	out = append(out, c.diags...)
	return append(out, c.Check()...)
}
