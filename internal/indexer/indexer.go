// Package indexer builds both engines for a workspace, lints them and
// writes the symbol index.
//
// The pipeline runs in stages: scan, kconfig, overrides, bindings,
// devicetree, facts, policy and index. Each stage records its duration
// (see KDTS_TIMING_JSONL). A failing stage is recorded and the run goes
// on with what it has; Run returns every recorded failure at the end.
package indexer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/config"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/contexts"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts/bindings"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/facts"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig/expr"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig/propfile"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/policy"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/sched"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/validator"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/vfs"
)

var tracer = otel.Tracer("kdts.indexer")

// Indexer builds the engines for one workspace and keeps them after Run
// so callers can query them.
type Indexer struct {
	// Configuration loaded from kdts.json
	Config *config.Config

	// Reader supplies file text. Defaults to the disk.
	Reader vfs.Reader

	// Writer rewrites the symbol index. When nil and the cache is enabled,
	// Run uses a writer of its own for the duration of the run.
	Writer *IndexWriter

	// Lane is the Writer lane used by Run.
	Lane sched.Lane

	// Timing output (JSONL)
	Timing     bool
	TimingPath string

	// Engines built by the last Run.
	Kconfig   *kconfig.Repository
	Overrides []*propfile.File
	Types     *bindings.TypeLoader
	Contexts  []*dts.DTSCtx
	Tables    facts.Tables

	// baseDiags are the Kconfig, override and binding diagnostics of the
	// last Run, reused by Refresh.
	baseDiags diag.List
}

// LintResult is the structured result of a run.
// This can be serialized to JSON for programmatic consumption
type LintResult struct {
	Diagnostics diag.List     `json:"diagnostics"`
	Summary     ResultSummary `json:"summary"`
	Stats       IndexStats    `json:"stats"`
	Files       []FileResult  `json:"files"`

	// ChangedFiles lists files whose content differs from the last run.
	ChangedFiles []string `json:"changed_files,omitempty"`

	// Index describes the symbol index rewrite, if the cache is enabled.
	Index *IndexUpdate `json:"index,omitempty"`

	Timings []StageTiming `json:"timings,omitempty"`
}

// ResultSummary provides aggregate diagnostic counts
type ResultSummary struct {
	Total    int `json:"total"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
	Hints    int `json:"hints"`
}

// IndexStats counts what the engines saw.
type IndexStats struct {
	KconfigFiles  int `json:"kconfig_files"`
	Configs       int `json:"configs"`
	OverrideFiles int `json:"override_files"`
	Bindings      int `json:"bindings"`
	Contexts      int `json:"contexts"`
	Nodes         int `json:"nodes"`
	Rows          int `json:"rows"`
}

// FileResult provides per-file diagnostic counts
type FileResult struct {
	Path     string `json:"path"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`
	Info     int    `json:"info"`
	Hints    int    `json:"hints"`
}

// IndexUpdate describes how the symbol index changed.
type IndexUpdate struct {
	Path    string `json:"path"`
	Written bool   `json:"written"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// StageTiming is the duration of one pipeline stage.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
	Status   string        `json:"status,omitempty"`
}

// New creates a new Indexer with default configuration rooted at the
// current directory.
func New() *Indexer {
	return &Indexer{Config: config.DefaultConfig()}
}

// NewWithConfig creates a new Indexer with the given configuration
func NewWithConfig(cfg *config.Config) *Indexer {
	return &Indexer{Config: cfg}
}

func (idx *Indexer) reader() vfs.Reader {
	if idx.Reader == nil {
		return vfs.Disk{}
	}
	return idx.Reader
}

// OverrideValues merges the assignments of the override files read by the
// last Run. Later files win.
func (idx *Indexer) OverrideValues() map[string]expr.Value {
	merged := make(map[string]expr.Value)
	for _, f := range idx.Overrides {
		maps.Copy(merged, f.Overrides())
	}
	return merged
}

// Context returns the devicetree context called name, or the first one
// when name is empty.
func (idx *Indexer) Context(name string) *dts.DTSCtx {
	for _, c := range idx.Contexts {
		if name == "" || c.Name == name {
			return c
		}
	}
	return nil
}

// pipeline carries the state of one Run or Refresh.
type pipeline struct {
	idx    *Indexer
	log    *slog.Logger
	start  time.Time
	timing *timingRecorder
	result *LintResult
	diags  diag.List
	errs   []error
}

func (idx *Indexer) newPipeline(ctx context.Context) *pipeline {
	if idx.Config == nil {
		idx.Config = config.DefaultConfig()
	}
	p := &pipeline{
		idx:    idx,
		log:    ctxlog.FromContext(ctx),
		start:  time.Now(),
		result: &LintResult{Diagnostics: diag.List{}, Files: []FileResult{}},
	}
	p.timing = newTimingRecorder(p.start, idx.resolveTimingPath())
	if err := p.timing.Err(); err != nil {
		p.fail(fmt.Errorf("timing output disabled: %w", err))
	}
	return p
}

func (p *pipeline) fail(err error) {
	p.log.Warn("indexer: stage failed", "err", err)
	p.errs = append(p.errs, err)
}

func (p *pipeline) stage(name string, start time.Time, status string) {
	d := time.Since(start)
	p.timing.Stage(name, start, status)
	p.result.Timings = append(p.result.Timings, StageTiming{Stage: name, Duration: d, Status: status})
}

// Run executes the indexing pipeline
func (idx *Indexer) Run(ctx context.Context) (*LintResult, error) {
	ctx, span := tracer.Start(ctx, "indexer.Run")
	defer span.End()

	p := idx.newPipeline(ctx)
	defer p.timing.Close()
	cfg := idx.Config
	var base diag.List

	// 1. Scan for override files and devicetree contexts
	stepStart := time.Now()
	overrideFiles := cfg.OverrideFiles()
	ctxList, err := idx.contextList()
	if err != nil {
		p.fail(fmt.Errorf("load contexts: %w", err))
	}
	p.stage("scan", stepStart, "")

	// 2. Kconfig tree
	stepStart = time.Now()
	idx.Kconfig = nil
	status := "skipped"
	if repo, err := idx.loadKconfig(ctx); err != nil {
		if !errors.Is(err, vfs.ErrNotFound) {
			p.fail(err)
		}
	} else {
		idx.Kconfig = repo
		status = ""
		base = append(base, repo.Diagnostics()...)
		base = append(base, repo.Check()...)
	}
	p.stage("kconfig", stepStart, status)

	// 3. Override files
	stepStart = time.Now()
	overrideDiags, err := idx.loadOverrides(ctx, overrideFiles, p.timing)
	if err != nil {
		p.fail(err)
	}
	base = append(base, overrideDiags...)
	p.stage("overrides", stepStart, "")

	// 4. Bindings
	stepStart = time.Now()
	if err := idx.loadBindings(ctx); err != nil {
		p.fail(err)
	}
	if idx.Types != nil {
		base = append(base, idx.Types.Diagnostics()...)
	}
	p.stage("bindings", stepStart, "")
	idx.baseDiags = base
	p.diags = append(p.diags, base...)

	// 5. Devicetree contexts
	stepStart = time.Now()
	dtsDiags, err := idx.loadDevicetree(ctx, ctxList, p.timing)
	if err != nil {
		p.fail(err)
	}
	p.diags = append(p.diags, dtsDiags...)
	p.stage("devicetree", stepStart, "")

	return p.finish(ctx, span)
}

// Refresh re-lints after the given files changed on disk. When every
// change is a devicetree source already read by a context, only the
// contexts are reparsed and the Kconfig tree, overrides and bindings of
// the last Run are reused. Anything else falls back to Run.
func (idx *Indexer) Refresh(ctx context.Context, changed []string) (*LintResult, error) {
	dirty, ok := idx.devicetreeOnly(changed)
	if !ok {
		return idx.Run(ctx)
	}

	ctx, span := tracer.Start(ctx, "indexer.Refresh")
	defer span.End()

	p := idx.newPipeline(ctx)
	defer p.timing.Close()
	p.log.Debug("indexer: refreshing devicetree", "dirty", dirty)
	p.diags = append(p.diags, idx.baseDiags...)

	stepStart := time.Now()
	for _, dc := range idx.Contexts {
		ctxStart := time.Now()
		for _, f := range dirty {
			dc.MarkDirty(f)
		}
		if err := dc.Reparse(ctx); err != nil {
			p.fail(fmt.Errorf("devicetree %s: %w", dc.Name, err))
			continue
		}
		diags := idx.checkContext(dc)
		p.timing.Context(dc.Name, ctxStart, len(dc.Files()), len(dc.Nodes()), len(diags), "incremental")
		p.diags = append(p.diags, diags...)
	}
	p.stage("devicetree", stepStart, "incremental")

	return p.finish(ctx, span)
}

// devicetreeOnly returns the files to mark dirty when every changed path
// is part of a context: a board, an overlay or a file they include. The
// includers of each path are added from the symbol index.
func (idx *Indexer) devicetreeOnly(changed []string) ([]string, bool) {
	if len(idx.Contexts) == 0 || len(changed) == 0 {
		return nil, false
	}
	known := make(map[string]bool)
	for _, dc := range idx.Contexts {
		for _, f := range dc.Files() {
			known[f.URI] = true
			for _, inc := range f.Includes {
				known[inc] = true
			}
		}
	}
	dirty := make(map[string]bool)
	for _, path := range changed {
		path = vfs.Canonical(path)
		if !known[path] {
			return nil, false
		}
		dirty[path] = true
		for _, f := range Impact(idx.Tables, path).Files() {
			dirty[f] = true
		}
	}
	return sortedKeys(dirty), true
}

// finish builds the symbol index from the engines, runs the policy rules,
// writes the index and completes the result.
func (p *pipeline) finish(ctx context.Context, span trace.Span) (*LintResult, error) {
	idx := p.idx
	cfg := idx.Config
	result := p.result

	if idx.Kconfig != nil {
		result.Stats.KconfigFiles = len(idx.Kconfig.Files())
		result.Stats.Configs = len(idx.Kconfig.ConfigList())
	}
	result.Stats.OverrideFiles = len(idx.Overrides)
	if idx.Types != nil {
		result.Stats.Bindings = len(idx.Types.Compatibles())
	}
	result.Stats.Contexts = len(idx.Contexts)
	for _, c := range idx.Contexts {
		result.Stats.Nodes += len(c.Nodes())
	}

	// 6. Symbol index tables
	stepStart := time.Now()
	idx.Tables = facts.BuildTables(facts.Sources{
		Kconfig:   idx.Kconfig,
		Overrides: idx.OverrideValues(),
		Contexts:  idx.Contexts,
		Types:     idx.Types,
	})
	result.Stats.Rows = idx.Tables.Len()
	p.stage("facts", stepStart, "")

	// 7. Policy rules over the index
	stepStart = time.Now()
	policyResult, policyStatus, err := idx.evaluatePolicy(ctx, idx.Tables)
	if err != nil {
		p.fail(err)
	} else {
		p.diags = append(p.diags, policyResult.Diagnostics()...)
	}
	p.stage("policy", stepStart, policyStatus)

	// 8. Changed files and symbol index
	stepStart = time.Now()
	status := "disabled"
	if cfg.CacheEnabled() {
		status = ""
		if changed, err := idx.changedFiles(); err != nil {
			p.fail(err)
		} else {
			result.ChangedFiles = sortedKeys(changed)
		}
		update, err := idx.writeIndex(ctx)
		if err != nil {
			p.fail(err)
		} else {
			result.Index = update
			if !update.Written {
				status = "unchanged"
			}
		}
	} else if errs := idx.validateTables(); len(errs) > 0 {
		p.fail(fmt.Errorf("symbol index contract violation: %v", errs))
	}
	p.stage("index", stepStart, status)

	result.Diagnostics = idx.finishDiagnostics(p.diags)
	result.summarize()

	span.SetAttributes(
		attribute.Int("indexer.diagnostics", len(result.Diagnostics)),
		attribute.Int("indexer.rows", result.Stats.Rows),
	)
	total := time.Since(p.start)
	p.timing.Stage("total", p.start, "")
	result.Timings = append(result.Timings, StageTiming{Stage: "total", Duration: total})

	if len(p.errs) > 0 {
		return result, fmt.Errorf("pipeline errors:\n%s", formatPipelineErrors(p.errs))
	}
	return result, nil
}

func formatPipelineErrors(errs []error) string {
	var b strings.Builder
	for i, err := range errs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (idx *Indexer) loadKconfig(ctx context.Context) (*kconfig.Repository, error) {
	file := idx.Config.KconfigFile()
	repo := kconfig.New(kconfig.Options{
		File:   file,
		Root:   idx.Config.Root,
		Env:    idx.Config.Env(),
		Reader: idx.reader(),
	})
	if err := repo.Parse(ctx); err != nil {
		return nil, fmt.Errorf("kconfig %s: %w", file, err)
	}
	return repo, nil
}

// loadOverrides parses and lints every override file.
func (idx *Indexer) loadOverrides(ctx context.Context, files []string, tr *timingRecorder) (diag.List, error) {
	idx.Overrides = nil
	var out diag.List
	var errs []error
	for _, path := range files {
		text, err := idx.reader().ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		start := time.Now()
		f := propfile.Parse(path, text)
		idx.Overrides = append(idx.Overrides, f)

		if idx.Kconfig == nil {
			diags := f.Diagnostics()
			tr.Override(f.URI, start, len(diags))
			out = append(out, diags...)
			continue
		}
		res, err := f.Lint(ctx, idx.Kconfig)
		if err != nil {
			errs = append(errs, fmt.Errorf("lint %s: %w", path, err))
			continue
		}
		tr.Override(f.URI, start, len(res.Diags))
		out = append(out, res.Diags.WithURI(f.URI)...)
	}
	return out, errors.Join(errs...)
}

func (idx *Indexer) loadBindings(ctx context.Context) error {
	types, err := bindings.NewTypeLoader()
	if err != nil {
		idx.Types = nil
		return err
	}
	idx.Types = types

	var dirs []string
	for _, dir := range idx.Config.Paths(idx.Config.Devicetree.BindingDirs) {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return nil
	}
	if err := types.Load(ctx, dirs...); err != nil {
		return fmt.Errorf("load bindings: %w", err)
	}
	return nil
}

// contextList returns the persisted contexts, or one context per board
// file with every configured overlay when none are persisted.
func (idx *Indexer) contextList() ([]contexts.Context, error) {
	cfg := idx.Config
	store, err := contexts.Open(cfg.ContextsPath())
	if err != nil {
		return nil, err
	}
	if list := store.List(); len(list) > 0 {
		for i := range list {
			list[i].BoardFile = cfg.Path(list[i].BoardFile)
			list[i].Overlays = cfg.Paths(list[i].Overlays)
		}
		return list, nil
	}

	overlays := cfg.OverlayFiles()
	var out []contexts.Context
	for _, board := range cfg.BoardFiles() {
		name := board
		if rel, err := filepath.Rel(cfg.Root, board); err == nil {
			name = filepath.ToSlash(rel)
		}
		out = append(out, contexts.Context{
			Name:      strings.TrimSuffix(name, filepath.Ext(name)),
			BoardFile: board,
			Overlays:  overlays,
		})
	}
	return out, nil
}

func (idx *Indexer) loadDevicetree(ctx context.Context, list []contexts.Context, tr *timingRecorder) (diag.List, error) {
	cfg := idx.Config
	opts := dts.Options{
		Reader:       idx.reader(),
		IncludePaths: cfg.Paths(cfg.Devicetree.IncludePaths),
		Defines:      cfg.Devicetree.Defines,
	}

	idx.Contexts = nil
	var out diag.List
	for _, c := range list {
		start := time.Now()
		dc := c.Build(opts)
		if idx.Types != nil {
			dc.Types = idx.Types
		}
		if err := dc.Reparse(ctx); err != nil {
			return out, fmt.Errorf("devicetree %s: %w", c.Name, err)
		}
		idx.Contexts = append(idx.Contexts, dc)
		diags := idx.checkContext(dc)
		tr.Context(c.Name, start, len(dc.Files()), len(dc.Nodes()), len(diags), "")
		out = append(out, diags...)
	}
	return out, nil
}

func (idx *Indexer) checkContext(dc *dts.DTSCtx) diag.List {
	out := dc.Diagnostics()
	if idx.Types != nil {
		out = append(out, bindings.Check(dc, idx.Types)...)
	}
	return out
}

// evaluatePolicy runs the rego rules, reusing the cached result when
// neither the rules nor the index changed.
func (idx *Indexer) evaluatePolicy(ctx context.Context, tables facts.Tables) (*policy.Result, string, error) {
	cfg := idx.Config
	policyDir := cfg.PolicyDir()

	var rulesHash, indexHash string
	useCache := cfg.CacheEnabled()
	if useCache {
		var err error
		if rulesHash, _, err = policyRulesHash(policyDir); err == nil {
			indexHash, err = tablesHash(tables)
		}
		if err != nil {
			ctxlog.FromContext(ctx).Warn("indexer: policy cache disabled", "err", err)
			useCache = false
		}
	}
	if useCache {
		entry, err := loadPolicyCache(cfg.CacheDir())
		if err == nil && policyCacheValid(entry, rulesHash, indexHash) {
			return &entry.Result, "cached", nil
		}
	}

	engine, err := policy.New(ctx, policyDir)
	if err != nil {
		return nil, "", fmt.Errorf("initialize policy engine: %w", err)
	}
	result, err := engine.Evaluate(ctx, tables)
	if err != nil {
		return nil, "", fmt.Errorf("policy evaluation failed: %w", err)
	}
	if useCache {
		if err := savePolicyCache(cfg.CacheDir(), policyCacheEntry{
			Version:     policyCacheVersion,
			RulesHash:   rulesHash,
			TablesHash:  indexHash,
			PolicyFiles: engine.Files(),
			Result:      *result,
		}); err != nil {
			ctxlog.FromContext(ctx).Warn("indexer: policy cache save failed", "err", err)
		}
	}
	return result, "", nil
}

func (idx *Indexer) changedFiles() (map[string]bool, error) {
	var files []string
	for _, f := range idx.Tables.Files {
		if _, err := os.Stat(vfs.Path(f.Path)); err == nil {
			files = append(files, vfs.Path(f.Path))
		}
	}
	slices.Sort(files)
	files = slices.Compact(files)

	cache := newHashCache(idx.Config.CacheDir())
	if err := cache.Load(); err != nil {
		return nil, err
	}
	changed, err := cache.Update(files)
	if err != nil {
		return nil, err
	}
	if err := cache.Save(); err != nil {
		return nil, err
	}
	return changed, nil
}

func (idx *Indexer) writeIndex(ctx context.Context) (*IndexUpdate, error) {
	dir := idx.Config.CacheDir()
	w := idx.Writer
	if w == nil {
		var err error
		if w, err = NewIndexWriter(ctx, dir); err != nil {
			return nil, err
		}
		defer w.Close()
	}
	res, err := w.Write(ctx, idx.Lane, idx.Tables)
	if err != nil {
		return nil, err
	}
	return &IndexUpdate{
		Path:    filepath.Join(w.dir, IndexFile),
		Written: res.Written,
		Added:   res.Delta.Added.Len(),
		Removed: res.Delta.Removed.Len(),
	}, nil
}

func (idx *Indexer) validateTables() []string {
	v, err := validator.NewFactsValidator()
	if err != nil {
		return []string{err.Error()}
	}
	return v.ValidationErrors(idx.Tables)
}

// finishDiagnostics drops duplicates reported by several contexts, applies
// the configured rule levels and ignore patterns, and sorts.
func (idx *Indexer) finishDiagnostics(diags diag.List) diag.List {
	seen := make(map[string]bool, len(diags))
	out := make(diag.List, 0, len(diags))
	for _, d := range diags.Apply(idx.Config) {
		if d.URI != "" && idx.Config.ShouldIgnoreFile(vfs.Path(d.URI)) {
			continue
		}
		key := d.Code + "\x00" + d.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b diag.Diagnostic) int {
		return cmp.Or(
			strings.Compare(a.URI, b.URI),
			cmp.Compare(a.Range.Start.Line, b.Range.Start.Line),
			cmp.Compare(a.Range.Start.Character, b.Range.Start.Character),
			strings.Compare(a.Code, b.Code),
			strings.Compare(a.Message, b.Message),
		)
	})
	return out
}

func (r *LintResult) summarize() {
	r.Summary = ResultSummary{
		Total:    len(r.Diagnostics),
		Errors:   r.Diagnostics.Count(diag.SeverityError),
		Warnings: r.Diagnostics.Count(diag.SeverityWarning),
		Info:     r.Diagnostics.Count(diag.SeverityInfo),
		Hints:    r.Diagnostics.Count(diag.SeverityHint),
	}

	byFile := make(map[string]*FileResult)
	for _, d := range r.Diagnostics {
		fr, ok := byFile[d.URI]
		if !ok {
			fr = &FileResult{Path: d.URI}
			byFile[d.URI] = fr
		}
		switch d.Severity {
		case diag.SeverityError:
			fr.Errors++
		case diag.SeverityWarning:
			fr.Warnings++
		case diag.SeverityInfo:
			fr.Info++
		case diag.SeverityHint:
			fr.Hints++
		}
	}
	r.Files = r.Files[:0]
	for _, path := range slices.Sorted(maps.Keys(byFile)) {
		r.Files = append(r.Files, *byFile[path])
	}
}
