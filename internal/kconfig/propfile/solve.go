package propfile

import (
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig/expr"
)

// MaxFreeVariables is the largest number of boolean symbols the solver
// enumerates. Expressions with more are left without a fix.
const MaxFreeVariables = 3

// Proposal is one suggested boolean assignment.
type Proposal struct {
	Name  string
	Value bool
}

// Fix is a set of assignments that satisfies the dependencies of the
// assignment on Line.
type Fix struct {
	Title       string
	Line        int
	Assignments []Proposal
}

// Solve looks for values of the boolean symbols in dep that make it true on
// top of overrides. It tries all 2^n assignments and returns the changes
// of the first one that works.
func Solve(repo *kconfig.Repository, overrides map[string]expr.Value, dep string) ([]Proposal, bool) {
	e := expr.Compile(dep)
	if !e.Valid() {
		return nil, false
	}
	var free []string
	for _, name := range e.Variables() {
		if cfg := repo.Config(name); cfg != nil && cfg.Type().IsBoolean() {
			free = append(free, name)
		}
	}
	if len(free) > MaxFreeVariables {
		return nil, false
	}

	current := repo.NewEvalContext(overrides)
	for mask := 0; mask < 1<<len(free); mask++ {
		trial := cloneValues(overrides)
		for i, name := range free {
			trial[name] = expr.Bool(mask&(1<<i) != 0)
		}
		if !e.True(repo.NewEvalContext(trial)) {
			continue
		}
		var out []Proposal
		for i, name := range free {
			v := mask&(1<<i) != 0
			if repo.Config(name).Evaluate(current).Truth() != v {
				out = append(out, Proposal{Name: name, Value: v})
			}
		}
		return out, true
	}
	return nil, false
}

// autoFix solves the dependencies of name and then, for every symbol the
// solution turns on, its own dependencies. Each symbol is proposed once.
func autoFix(repo *kconfig.Repository, overrides map[string]expr.Value, name string) ([]Proposal, bool) {
	cfg := repo.Config(name)
	if cfg == nil || len(cfg.Entries) == 0 {
		return nil, false
	}
	trial := cloneValues(overrides)
	queued := map[string]bool{name: true}
	queue := []string{repo.DependencyExpr(cfg.Entries[0])}
	var out []Proposal
	for first := true; len(queue) > 0; first = false {
		dep := queue[0]
		queue = queue[1:]
		sol, ok := Solve(repo, trial, dep)
		if !ok {
			if first {
				return nil, false
			}
			// The proposal stands; a later lint pass reports what is
			// still unmet.
			continue
		}
		for _, p := range sol {
			if queued[p.Name] {
				continue
			}
			queued[p.Name] = true
			out = append(out, p)
			trial[p.Name] = expr.Bool(p.Value)
			if !p.Value {
				continue
			}
			dc := repo.Config(p.Name)
			if dc.Enabled(repo.NewEvalContext(trial)) {
				continue
			}
			queue = append(queue, repo.DependencyExpr(dc.Entries[0]))
		}
	}
	return out, len(out) > 0
}

func cloneValues(m map[string]expr.Value) map[string]expr.Value {
	out := make(map[string]expr.Value, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}
