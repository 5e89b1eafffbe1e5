package facts

import (
	"cmp"
	"slices"
	"sort"
	"strings"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts/bindings"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig/expr"
)

// Tables is the relational symbol index of a workspace.
// Each slice is a relation (table) with flat rows.
type Tables struct {
	Files         []FileRow        `json:"files"`
	Configs       []ConfigRow      `json:"configs"`
	ConfigEntries []ConfigEntryRow `json:"config_entries"`
	Selects       []SelectRow      `json:"selects"`
	Nodes         []NodeRow        `json:"nodes"`
	Labels        []LabelRow       `json:"labels"`
	Properties    []PropertyRow    `json:"properties"`
	Includes      []IncludeRow     `json:"includes"`
}

// File kinds.
const (
	KindKconfig    = "kconfig"
	KindBoard      = "board"
	KindOverlay    = "overlay"
	KindDTSInclude = "dts-include"
)

type FileRow struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
	// Context is the devicetree context the file belongs to, empty for
	// Kconfig files.
	Context string `json:"context"`
}

type ConfigRow struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Prompt  bool   `json:"prompt"`
	Visible bool   `json:"visible"`
	Value   string `json:"value"`
	File    string `json:"file"`
	Line    int    `json:"line"`
}

type ConfigEntryRow struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Prompt    string `json:"prompt"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	EndLine   int    `json:"end_line"`
	Menu      bool   `json:"menu"`
	DependsOn string `json:"depends_on"`
}

type SelectRow struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Cond   string `json:"cond"`
	Imply  bool   `json:"imply"`
	File   string `json:"file"`
	Line   int    `json:"line"`
}

type NodeRow struct {
	Context    string `json:"context"`
	Path       string `json:"path"`
	Name       string `json:"name"`
	Compatible string `json:"compatible"`
	Enabled    bool   `json:"enabled"`
	// Binding is the binding file the node resolved to, if any.
	Binding string `json:"binding"`
	File    string `json:"file"`
	Line    int    `json:"line"`
}

type LabelRow struct {
	Context string `json:"context"`
	Label   string `json:"label"`
	Path    string `json:"path"`
	File    string `json:"file"`
	Line    int    `json:"line"`
}

type PropertyRow struct {
	Context string `json:"context"`
	Path    string `json:"path"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Value   string `json:"value"`
	File    string `json:"file"`
	Line    int    `json:"line"`
}

type IncludeRow struct {
	File   string `json:"file"`
	Target string `json:"target"`
	// Kind is "source" for Kconfig and "include" for devicetree.
	Kind string `json:"kind"`
	Line int    `json:"line"`
}

// Sources are the engines a symbol index is built from. Any of them may be
// nil.
type Sources struct {
	Kconfig   *kconfig.Repository
	Overrides map[string]expr.Value
	Contexts  []*dts.DTSCtx
	Types     *bindings.TypeLoader
}

// BuildTables flattens the parsed engines into a normalized relational
// model, sorted so that equal workspaces produce equal tables.
func BuildTables(src Sources) Tables {
	tables := emptyTables()
	if src.Kconfig != nil {
		addKconfig(&tables, src.Kconfig, src.Overrides)
	}
	for _, c := range src.Contexts {
		addDevicetree(&tables, c, src.Types)
	}
	sortTables(&tables)
	return tables
}

func addKconfig(tables *Tables, repo *kconfig.Repository, overrides map[string]expr.Value) {
	seenFiles := make(map[string]bool)
	for _, f := range repo.Files() {
		if !seenFiles[f.URI] {
			seenFiles[f.URI] = true
			tables.Files = append(tables.Files, FileRow{Path: f.URI, Kind: KindKconfig})
		}
		for _, inc := range f.Inclusions {
			tables.Includes = append(tables.Includes, IncludeRow{
				File:   f.URI,
				Target: inc.File.URI,
				Kind:   "source",
				Line:   inc.Line,
			})
		}
	}

	ec := repo.NewEvalContext(overrides)
	for _, cfg := range repo.ConfigList() {
		typ := cfg.Type()
		row := ConfigRow{
			Name:    cfg.Name,
			Type:    typ.String(),
			Prompt:  cfg.HasPrompt(),
			Visible: cfg.Visible(ec),
			Value:   typ.Format(cfg.Evaluate(ec)),
		}
		if len(cfg.Entries) > 0 {
			row.File = cfg.Entries[0].File.URI
			row.Line = cfg.Entries[0].Lines.Start
		}
		tables.Configs = append(tables.Configs, row)

		for _, e := range cfg.Entries {
			tables.ConfigEntries = append(tables.ConfigEntries, ConfigEntryRow{
				Name:      cfg.Name,
				Type:      e.Type.String(),
				Prompt:    e.Prompt,
				File:      e.File.URI,
				Line:      e.Lines.Start,
				EndLine:   e.Lines.End,
				Menu:      e.Menu,
				DependsOn: repo.DependencyExpr(e),
			})
			for _, s := range e.Selects {
				tables.Selects = append(tables.Selects, selectRow(cfg.Name, e, s, false))
			}
			for _, s := range e.Implies {
				tables.Selects = append(tables.Selects, selectRow(cfg.Name, e, s, true))
			}
		}
	}
}

func selectRow(source string, e *kconfig.ConfigEntry, s kconfig.Cond, imply bool) SelectRow {
	return SelectRow{
		Source: source,
		Target: s.Value,
		Cond:   s.If,
		Imply:  imply,
		File:   e.File.URI,
		Line:   s.Line,
	}
}

func addDevicetree(tables *Tables, c *dts.DTSCtx, types *bindings.TypeLoader) {
	for _, f := range c.Files() {
		kind := KindOverlay
		if f.Priority == 0 {
			kind = KindBoard
		}
		tables.Files = append(tables.Files, FileRow{Path: f.URI, Kind: kind, Context: c.Name})
		for _, inc := range f.Includes {
			tables.Files = append(tables.Files, FileRow{Path: inc, Kind: KindDTSInclude, Context: c.Name})
			tables.Includes = append(tables.Includes, IncludeRow{
				File:   f.URI,
				Target: inc,
				Kind:   "include",
				Line:   includeLine(f, inc),
			})
		}
	}

	for _, n := range c.Nodes() {
		row := NodeRow{
			Context:    c.Name,
			Path:       n.Path,
			Name:       n.Name,
			Compatible: strings.Join(n.Compatible(), " "),
			Enabled:    n.Enabled(),
		}
		if types != nil {
			row.Binding = types.NodeType(n).File
		}
		e := n.Entries[0]
		row.File = e.NameLoc.URI
		row.Line = e.NameLoc.Range.Start.Line
		tables.Nodes = append(tables.Nodes, row)

		for _, e := range n.Entries {
			for _, label := range e.Labels {
				tables.Labels = append(tables.Labels, LabelRow{
					Context: c.Name,
					Label:   label,
					Path:    n.Path,
					File:    e.NameLoc.URI,
					Line:    e.NameLoc.Range.Start.Line,
				})
			}
		}

		for _, p := range n.UniqueProperties() {
			tables.Properties = append(tables.Properties, PropertyRow{
				Context: c.Name,
				Path:    n.Path,
				Name:    p.Name,
				Type:    string(p.ValueType()),
				Value:   p.ValueString(),
				File:    p.Loc.URI,
				Line:    p.Loc.Range.Start.Line,
			})
		}
	}
}

// includeLine returns the first line of f's expanded text that came from
// inc, the closest record of where it was spliced in.
func includeLine(f *dts.DTSFile, inc string) int {
	for i, l := range f.Lines {
		if l.URI == inc {
			return i
		}
	}
	return 0
}

func sortTables(t *Tables) {
	slices.SortFunc(t.Files, func(a, b FileRow) int {
		return cmp.Or(strings.Compare(a.Path, b.Path), strings.Compare(a.Context, b.Context), strings.Compare(a.Kind, b.Kind))
	})
	t.Files = slices.Compact(t.Files)
	sort.SliceStable(t.Configs, func(i, j int) bool { return t.Configs[i].Name < t.Configs[j].Name })
	slices.SortStableFunc(t.ConfigEntries, func(a, b ConfigEntryRow) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.File, b.File), cmp.Compare(a.Line, b.Line))
	})
	slices.SortStableFunc(t.Selects, func(a, b SelectRow) int {
		return cmp.Or(strings.Compare(a.Source, b.Source), strings.Compare(a.Target, b.Target))
	})
	slices.SortStableFunc(t.Nodes, func(a, b NodeRow) int {
		return cmp.Or(strings.Compare(a.Context, b.Context), strings.Compare(a.Path, b.Path))
	})
	slices.SortStableFunc(t.Labels, func(a, b LabelRow) int {
		return cmp.Or(strings.Compare(a.Context, b.Context), strings.Compare(a.Label, b.Label))
	})
	slices.SortStableFunc(t.Properties, func(a, b PropertyRow) int {
		return cmp.Or(strings.Compare(a.Context, b.Context), strings.Compare(a.Path, b.Path), strings.Compare(a.Name, b.Name))
	})
	slices.SortFunc(t.Includes, func(a, b IncludeRow) int {
		return cmp.Or(strings.Compare(a.File, b.File), cmp.Compare(a.Line, b.Line), strings.Compare(a.Target, b.Target), strings.Compare(a.Kind, b.Kind))
	})
	t.Includes = slices.Compact(t.Includes)
}
