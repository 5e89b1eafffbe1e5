package propfile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig/expr"
)

// ErrStale is returned by Lint when the file changed during the pass.
var ErrStale = errors.New("override file changed during lint")

// Lint diagnostic codes.
const (
	CodeUnknown   = "kconfig.override.unknown"
	CodeType      = "kconfig.override.type"
	CodeRedundant = "kconfig.override.redundant"
	CodeRange     = "kconfig.override.range"
	CodeUnmet     = "kconfig.unmet-dependency"
	CodeDuplicate = "kconfig.override.duplicate"
	CodeNoPrompt  = "kconfig.override.no-prompt"
)

var tracer = otel.Tracer("kdts.propfile")

var lintDiagnostics = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kdts_lint_diagnostics_total",
	Help: "Override file lint diagnostics by rule",
}, []string{"rule"})

// Result is the outcome of a lint pass.
type Result struct {
	Diags diag.List
	Fixes []Fix
	// Version is the file version the result was computed for.
	Version int64
}

// Lint checks every assignment against repo. If the file is updated while
// the pass runs, the pass stops and returns ErrStale.
func (f *File) Lint(ctx context.Context, repo *kconfig.Repository) (*Result, error) {
	ctx, span := tracer.Start(ctx, "propfile.Lint", trace.WithAttributes(attribute.String("propfile.uri", f.URI)))
	defer span.End()

	version := f.Version()
	assignments := f.Assignments()
	res := &Result{Version: version, Diags: f.Diagnostics()}
	stale := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Version() != version {
			ctxlog.FromContext(ctx).Debug("propfile: lint superseded", "uri", f.URI, "version", version)
			return ErrStale
		}
		return nil
	}

	all := overrides(assignments)
	ectx := repo.NewEvalContext(all)
	last := map[string]*Assignment{}
	for _, a := range assignments {
		last[a.Name] = a
	}

	for _, a := range assignments {
		if f.beforeCheck != nil {
			f.beforeCheck(a)
		}
		if err := stale(); err != nil {
			return nil, err
		}
		if l := last[a.Name]; l != a {
			res.warn(a, CodeDuplicate, fmt.Sprintf("%s%s is assigned again on line %d", Prefix, a.Name, l.Line+1))
			continue
		}
		cfg := repo.Config(a.Name)
		if cfg == nil {
			res.fail(a, CodeUnknown, fmt.Sprintf("unknown symbol %s%s", Prefix, a.Name))
			continue
		}
		typ := cfg.Type()
		if msg := typeMismatch(typ, a); msg != "" {
			res.fail(a, CodeType, msg)
			continue
		}
		if !cfg.HasPrompt() {
			res.warn(a, CodeNoPrompt, fmt.Sprintf("%s has no prompt, the assignment has no effect", a.Name))
			continue
		}

		if a.Value.Truth() && typ.IsBoolean() {
			if by := activeSelector(repo, ectx, a.Name); by != "" {
				res.hint(a, CodeRedundant, fmt.Sprintf("%s is already selected by %s", a.Name, by))
				continue
			}
		}
		without := cloneValues(all)
		delete(without, a.Name)
		if def := cfg.Evaluate(repo.NewEvalContext(without)); typ.Coerce(a.Value).Equal(def) {
			res.hint(a, CodeRedundant, fmt.Sprintf("%s already defaults to %s", a.Name, typ.Format(def)))
			continue
		}
		if typ.IsNumeric() {
			if msg := outOfRange(cfg, ectx, typ.Coerce(a.Value).N); msg != "" {
				res.fail(a, CodeRange, msg)
			}
		}
		if a.Value.Truth() && !cfg.Enabled(ectx) {
			dep := repo.DependencyExpr(cfg.Entries[0])
			res.warn(a, CodeUnmet, fmt.Sprintf("%s has unmet dependencies: %s", a.Name, dep))
			if props, ok := autoFix(repo, all, a.Name); ok {
				res.Fixes = append(res.Fixes, Fix{
					Title:       fixTitle(props),
					Line:        a.Line,
					Assignments: props,
				})
			}
		}
	}
	if err := stale(); err != nil {
		return nil, err
	}
	for _, d := range res.Diags {
		lintDiagnostics.WithLabelValues(d.Code).Inc()
	}
	span.SetAttributes(attribute.Int("propfile.diagnostics", len(res.Diags)))
	return res, nil
}

func (r *Result) add(a *Assignment, sev diag.Severity, code, msg string) {
	r.Diags = append(r.Diags, diag.Diagnostic{Range: a.Range(), Severity: sev, Code: code, Message: msg, Source: "kconfig"})
}

func (r *Result) fail(a *Assignment, code, msg string) { r.add(a, diag.SeverityError, code, msg) }
func (r *Result) warn(a *Assignment, code, msg string) { r.add(a, diag.SeverityWarning, code, msg) }
func (r *Result) hint(a *Assignment, code, msg string) { r.add(a, diag.SeverityHint, code, msg) }

func typeMismatch(typ kconfig.Type, a *Assignment) string {
	switch typ {
	case kconfig.TypeBool:
		if a.Raw != "y" && a.Raw != "n" {
			return fmt.Sprintf("%s is a bool, expected y or n", a.Name)
		}
	case kconfig.TypeTristate:
		if a.Raw != "y" && a.Raw != "n" && a.Raw != "m" {
			return fmt.Sprintf("%s is a tristate, expected y, m or n", a.Name)
		}
	case kconfig.TypeInt, kconfig.TypeHex:
		if a.Value.Kind != expr.KindNumber || a.Unset {
			return fmt.Sprintf("%s is %s, got %s", a.Name, typ, a.Raw)
		}
	case kconfig.TypeString:
		if !a.Quoted {
			return fmt.Sprintf("%s is a string, expected a quoted value", a.Name)
		}
	}
	return ""
}

func activeSelector(repo *kconfig.Repository, ectx *kconfig.EvalContext, name string) string {
	for _, e := range repo.Selectors(name) {
		if !e.Config.Evaluate(ectx).Truth() {
			continue
		}
		for _, s := range append(append([]kconfig.Cond{}, e.Selects...), e.Implies...) {
			if s.Value == name && ectx.True(s.If) {
				return e.Config.Name
			}
		}
	}
	return ""
}

func outOfRange(cfg *kconfig.Config, ectx *kconfig.EvalContext, n int64) string {
	for _, r := range cfg.Ranges() {
		if !ectx.True(r.If) {
			continue
		}
		lo := kconfig.TypeInt.Coerce(expr.Compile(r.Min).Evaluate(ectx)).N
		hi := kconfig.TypeInt.Coerce(expr.Compile(r.Max).Evaluate(ectx)).N
		if n < lo || n > hi {
			return fmt.Sprintf("%s=%d is outside the range [%s, %s]", cfg.Name, n, r.Min, r.Max)
		}
		return ""
	}
	return ""
}

func fixTitle(props []Proposal) string {
	parts := make([]string, len(props))
	for i, p := range props {
		parts[i] = FormatAssignment(p.Name, p.Value)
	}
	return "Set " + strings.Join(parts, ", ")
}
