// Package extractor scans devicetree binding files for the keys needed to
// index them (compatible, include, bus, on-bus) without decoding the whole
// document.
package extractor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/yaml"
)

// Extractor uses Tree-sitter to parse binding files and extract headers.
// An Extractor is not safe for concurrent use.
type Extractor struct {
	parser *sitter.Parser
	lang   *sitter.Language
}

// Header is the indexable part of one binding file.
type Header struct {
	File string
	// Compatible is empty for include-only bindings.
	Compatible     string
	CompatibleLine int
	Includes       []string
	OnBus          string
	Buses          []string
	ChildBinding   bool
}

// New creates an Extractor without a grammar. It falls back to line
// patterns until SetLanguage is called.
func New() *Extractor {
	return &Extractor{parser: sitter.NewParser()}
}

// NewYAML creates an Extractor using the YAML grammar.
func NewYAML() *Extractor {
	e := New()
	e.SetLanguage(yaml.GetLanguage())
	return e
}

// SetLanguage sets the Tree-sitter language.
func (e *Extractor) SetLanguage(lang *sitter.Language) {
	e.lang = lang
	e.parser.SetLanguage(lang)
}

// Extract reads a binding file and extracts its header.
func (e *Extractor) Extract(ctx context.Context, filePath string) (Header, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return Header{File: filePath}, fmt.Errorf("reading file: %w", err)
	}
	return e.ExtractBytes(ctx, filePath, content)
}

// ExtractBytes extracts the header of already loaded content.
func (e *Extractor) ExtractBytes(ctx context.Context, filePath string, content []byte) (Header, error) {
	if e.lang == nil {
		return extractSimple(filePath, content), nil
	}

	tree, err := e.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return Header{File: filePath}, fmt.Errorf("parsing %s: %w", filePath, err)
	}
	defer tree.Close()

	h := Header{File: filePath}
	walkTree(tree.RootNode(), content, &h)
	return h, nil
}

// walkTree reads the pairs of the top-level mapping.
func walkTree(root *sitter.Node, source []byte, h *Header) {
	m := firstOfType(root, "block_mapping")
	if m == nil {
		return
	}
	for i := 0; i < int(m.NamedChildCount()); i++ {
		pair := m.NamedChild(i)
		if pair.Type() != "block_mapping_pair" {
			continue
		}
		key, value := pair.ChildByFieldName("key"), pair.ChildByFieldName("value")
		if key == nil {
			continue
		}
		switch strings.TrimSpace(key.Content(source)) {
		case "compatible":
			if s := scalars(value, source); len(s) > 0 {
				h.Compatible = s[0]
				h.CompatibleLine = int(pair.StartPoint().Row) + 1
			}
		case "include":
			h.Includes = scalars(value, source)
		case "on-bus":
			if s := scalars(value, source); len(s) > 0 {
				h.OnBus = s[0]
			}
		case "bus":
			h.Buses = scalars(value, source)
		case "child-binding":
			h.ChildBinding = true
		}
	}
}

func firstOfType(node *sitter.Node, typ string) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.Type() == typ {
		return node
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if n := firstOfType(node.NamedChild(i), typ); n != nil {
			return n
		}
	}
	return nil
}

// scalars collects the scalar values under node. Inside mappings only the
// "name" key is followed, which is how include entries name their file.
func scalars(node *sitter.Node, source []byte) []string {
	if node == nil {
		return nil
	}
	switch node.Type() {
	case "plain_scalar", "double_quote_scalar", "single_quote_scalar":
		return []string{unquote(node.Content(source))}
	case "block_mapping_pair", "flow_pair":
		key := node.ChildByFieldName("key")
		if key == nil || strings.TrimSpace(key.Content(source)) != "name" {
			return nil
		}
		return scalars(node.ChildByFieldName("value"), source)
	}
	var out []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		out = append(out, scalars(node.NamedChild(i), source)...)
	}
	return out
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"':
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	case len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'':
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return s
}

// extractSimple is the line-pattern fallback used without a grammar.
func extractSimple(filePath string, content []byte) Header {
	h := Header{File: filePath}
	section := ""
	itemIndent := -1
	for i, line := range splitLines(string(content)) {
		line = stripComment(line)
		if strings.TrimSpace(line) == "" {
			continue
		}
		if key, value, ok := matchTopKey(line); ok {
			section, itemIndent = key, -1
			items := inlineValues(value)
			switch key {
			case "compatible":
				if len(items) > 0 {
					h.Compatible = items[0]
					h.CompatibleLine = i + 1
				}
			case "include":
				h.Includes = append(h.Includes, items...)
			case "on-bus":
				if len(items) > 0 {
					h.OnBus = items[0]
				}
			case "bus":
				h.Buses = append(h.Buses, items...)
			case "child-binding":
				h.ChildBinding = true
			}
			continue
		}
		if section != "include" && section != "bus" {
			continue
		}
		trimmed := strings.TrimLeft(line, " ")
		indent := len(line) - len(trimmed)
		if itemIndent < 0 && strings.HasPrefix(trimmed, "-") {
			itemIndent = indent
		}
		name, dash, ok := matchListName(line)
		if !ok || (dash && indent != itemIndent) || (!dash && indent != itemIndent+2) {
			continue
		}
		if section == "include" {
			h.Includes = append(h.Includes, name)
		} else {
			h.Buses = append(h.Buses, name)
		}
	}
	return h
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, strings.TrimSuffix(s[start:i], "\r"))
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
