package bindings

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts"
)

// bindingDoc is a binding file as written, before include composition.
type bindingDoc struct {
	Description string                  `yaml:"description"`
	Compatible  string                  `yaml:"compatible"`
	Include     includeList             `yaml:"include"`
	OnBus       string                  `yaml:"on-bus"`
	Bus         stringList              `yaml:"bus"`
	Properties  map[string]*propertyDoc `yaml:"properties"`
	Child       *bindingDoc             `yaml:"child-binding"`
	Extra       map[string]any          `yaml:",inline"`
}

// cells returns the "<space>-cells" lists keyed by space.
func (d *bindingDoc) cells() map[string][]string {
	out := make(map[string][]string)
	for key, v := range d.Extra {
		space, ok := strings.CutSuffix(key, "-cells")
		if !ok {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			continue
		}
		names := make([]string, 0, len(list))
		for _, item := range list {
			names = append(names, fmt.Sprint(item))
		}
		out[space] = names
	}
	return out
}

type propertyDoc struct {
	Type           string `yaml:"type"`
	Required       bool   `yaml:"required"`
	Description    string `yaml:"description"`
	Deprecated     bool   `yaml:"deprecated"`
	Enum           []any  `yaml:"enum"`
	Const          any    `yaml:"const"`
	Default        any    `yaml:"default"`
	SpecifierSpace string `yaml:"specifier-space"`

	line int
}

func (p *propertyDoc) UnmarshalYAML(value *yaml.Node) error {
	type plain propertyDoc
	if err := value.Decode((*plain)(p)); err != nil {
		return err
	}
	p.line = value.Line
	return nil
}

var knownTypes = []dts.ValueType{
	dts.TypeString, dts.TypeInt, dts.TypeBoolean, dts.TypeArray, dts.TypeBytes,
	dts.TypeStringArray, dts.TypePHandle, dts.TypePHandles, dts.TypePHandleArray,
	dts.TypePath, dts.TypeCompound,
}

func (p *propertyDoc) propertyType(name, path string) *PropertyType {
	t := &PropertyType{Name: name}
	if p == nil {
		return t
	}
	// Unknown type names were already reported by schema validation.
	if typ := dts.ValueType(p.Type); slices.Contains(knownTypes, typ) {
		t.Type = typ
	}
	t.Required = p.Required
	t.Description = strings.TrimSpace(p.Description)
	t.Deprecated = p.Deprecated
	t.Enum = p.Enum
	t.Const = p.Const
	t.Default = p.Default
	t.SpecifierSpace = p.SpecifierSpace
	if p.line > 0 {
		t.Loc = diag.Location{URI: path, Range: diag.LineRange(p.line-1, p.line-1)}
	}
	return t
}

type includeFilter struct {
	Allow []string       `yaml:"property-allowlist"`
	Block []string       `yaml:"property-blocklist"`
	Child *includeFilter `yaml:"child-binding"`
}

func (f *includeFilter) allows(name string) bool {
	if f == nil {
		return true
	}
	if len(f.Allow) > 0 && !slices.Contains(f.Allow, name) {
		return false
	}
	return !slices.Contains(f.Block, name)
}

type includeRef struct {
	Name   string
	Filter *includeFilter
	Line   int
}

// includeList accepts a file name, a list of names, or a list of
// {name, property-allowlist, property-blocklist, child-binding} entries.
type includeList []includeRef

func (l *includeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = includeList{{Name: value.Value, Line: value.Line}}
		return nil
	case yaml.SequenceNode:
		out := make(includeList, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind == yaml.ScalarNode {
				out = append(out, includeRef{Name: item.Value, Line: item.Line})
				continue
			}
			var entry struct {
				Name   string        `yaml:"name"`
				Filter includeFilter `yaml:",inline"`
			}
			if err := item.Decode(&entry); err != nil {
				return err
			}
			out = append(out, includeRef{Name: entry.Name, Filter: &entry.Filter, Line: item.Line})
		}
		*l = out
		return nil
	}
	return fmt.Errorf("line %d: include must be a file name or a list", value.Line)
}

// stringList accepts a scalar or a sequence of scalars.
type stringList []string

func (s *stringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*s = stringList{value.Value}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*s = list
	return nil
}
