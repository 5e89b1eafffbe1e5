package indexer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/facts"
)

// dependentsGraph maps a file to the files that include or source it.
type dependentsGraph map[string]map[string]bool

func buildDependentsGraph(tables facts.Tables) dependentsGraph {
	graph := make(dependentsGraph)
	for _, inc := range tables.Includes {
		if inc.Target == "" || inc.Target == inc.File {
			continue
		}
		if graph[inc.Target] == nil {
			graph[inc.Target] = make(map[string]bool)
		}
		graph[inc.Target][inc.File] = true
	}
	return graph
}

// ImpactReport lists the files affected by a change to Root, grouped by
// include distance.
type ImpactReport struct {
	Root   string     `json:"root"`
	Levels [][]string `json:"levels"`
}

// Files returns every affected file, nearest first.
func (r ImpactReport) Files() []string {
	var out []string
	for _, level := range r.Levels {
		out = append(out, level...)
	}
	return out
}

func computeImpact(root string, dependents dependentsGraph) ImpactReport {
	visited := map[string]bool{root: true}
	frontier := []string{root}
	var levels [][]string

	for len(frontier) > 0 {
		var next []string
		for _, f := range frontier {
			for dep := range dependents[f] {
				if visited[dep] {
					continue
				}
				visited[dep] = true
				next = append(next, dep)
			}
		}
		if len(next) == 0 {
			break
		}
		sort.Strings(next)
		levels = append(levels, next)
		frontier = next
	}

	return ImpactReport{Root: root, Levels: levels}
}

// Impact reports which files include root, directly or transitively.
func Impact(tables facts.Tables, root string) ImpactReport {
	return computeImpact(root, buildDependentsGraph(tables))
}

// FormatImpactReport renders a report as indented text.
func FormatImpactReport(report ImpactReport) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %s\n", report.Root))
	for i, level := range report.Levels {
		b.WriteString(fmt.Sprintf("    level %d (%d): %s\n", i+1, len(level), strings.Join(level, ", ")))
	}
	return b.String()
}
