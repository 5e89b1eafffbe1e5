// Package policy evaluates rego rules over the symbol index.
package policy

import (
	"cmp"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/facts"
)

//go:embed builtin.rego
var builtinPolicy string

const (
	violationsQuery = "data.kdts.lint.violations"
	summaryQuery    = "data.kdts.lint.summary"
)

// Engine evaluates rego policies against the symbol index
type Engine struct {
	queries map[string]rego.PreparedEvalQuery
	files   []string
}

// Violation represents a policy violation
type Violation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
}

// Result contains the evaluation results
type Result struct {
	Violations []Violation
	Summary    Summary
}

// Summary provides aggregate counts
type Summary struct {
	TotalViolations int `json:"total_violations"`
	Errors          int `json:"errors"`
	Warnings        int `json:"warnings"`
	Info            int `json:"info"`
}

// New creates a policy engine from the built-in rules plus every .rego
// file in policyDir. An empty policyDir loads the built-in rules only.
func New(ctx context.Context, policyDir string) (*Engine, error) {
	engine := &Engine{
		queries: make(map[string]rego.PreparedEvalQuery),
	}

	modules := []func(*rego.Rego){rego.Module("builtin.rego", builtinPolicy)}
	if policyDir != "" {
		files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("finding policy files: %w", err)
		}
		for _, f := range files {
			content, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f, err)
			}
			modules = append(modules, rego.Module(f, string(content)))
			engine.files = append(engine.files, f)
		}
	}

	for name, q := range map[string]string{"violations": violationsQuery, "summary": summaryQuery} {
		opts := append(slices.Clip(modules), rego.Query(q))
		query, err := rego.New(opts...).PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("preparing %s query: %w", name, err)
		}
		engine.queries[name] = query
	}
	return engine, nil
}

// Files returns the policy files loaded from the policy directory.
func (e *Engine) Files() []string { return e.files }

// Builtin returns the source of the built-in rules.
func Builtin() string { return builtinPolicy }

// Evaluate runs the policies against the index.
func (e *Engine) Evaluate(ctx context.Context, tables facts.Tables) (*Result, error) {
	inputMap, err := structToMap(tables)
	if err != nil {
		return nil, fmt.Errorf("converting input: %w", err)
	}

	result := &Result{}

	rs, err := e.queries["violations"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating violations: %w", err)
	}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		violations, _ := rs[0].Expressions[0].Value.([]any)
		for _, v := range violations {
			vmap, ok := v.(map[string]any)
			if !ok {
				continue
			}
			result.Violations = append(result.Violations, Violation{
				Rule:     getString(vmap, "rule"),
				Severity: getString(vmap, "severity"),
				File:     getString(vmap, "file"),
				Line:     getInt(vmap, "line"),
				Message:  getString(vmap, "message"),
			})
		}
	}
	slices.SortFunc(result.Violations, func(a, b Violation) int {
		return cmp.Or(
			strings.Compare(a.File, b.File),
			cmp.Compare(a.Line, b.Line),
			strings.Compare(a.Rule, b.Rule),
			strings.Compare(a.Message, b.Message),
		)
	})

	rs, err = e.queries["summary"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating summary: %w", err)
	}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		if smap, ok := rs[0].Expressions[0].Value.(map[string]any); ok {
			result.Summary = Summary{
				TotalViolations: getInt(smap, "total_violations"),
				Errors:          getInt(smap, "errors"),
				Warnings:        getInt(smap, "warnings"),
				Info:            getInt(smap, "info"),
			}
		}
	}

	return result, nil
}

// Diagnostics converts violations into diagnostics. Violations with
// severity "off" are dropped.
func (r *Result) Diagnostics() diag.List {
	out := make(diag.List, 0, len(r.Violations))
	for _, v := range r.Violations {
		sev, ok := diag.ParseSeverity(v.Severity)
		if !ok {
			continue
		}
		out = append(out, diag.Diagnostic{
			URI:      v.File,
			Range:    diag.LineRange(v.Line, v.Line),
			Severity: sev,
			Code:     v.Rule,
			Message:  v.Message,
			Source:   "policy",
		})
	}
	return out
}

func structToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	err = json.Unmarshal(data, &result)
	return result, err
}

func getString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func getInt(m map[string]any, key string) int {
	switch n := m[key].(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}
