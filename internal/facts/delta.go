package facts

// Delta captures added and removed rows between two snapshots.
type Delta struct {
	Added   Tables `json:"added"`
	Removed Tables `json:"removed"`
}

// ComputeDelta computes row-level additions and removals between two snapshots.
func ComputeDelta(prev, next Tables) Delta {
	return Delta{
		Added:   diffTables(prev, next),
		Removed: diffTables(next, prev),
	}
}

// Empty reports whether the snapshots were identical row for row.
func (d Delta) Empty() bool {
	return d.Added.Len() == 0 && d.Removed.Len() == 0
}

// Len returns the total number of rows.
func (t Tables) Len() int {
	return len(t.Files) + len(t.Configs) + len(t.ConfigEntries) + len(t.Selects) +
		len(t.Nodes) + len(t.Labels) + len(t.Properties) + len(t.Includes)
}

func diffTables(from, to Tables) Tables {
	out := emptyTables()

	out.Files = diffRows(from.Files, to.Files)
	out.Configs = diffRows(from.Configs, to.Configs)
	out.ConfigEntries = diffRows(from.ConfigEntries, to.ConfigEntries)
	out.Selects = diffRows(from.Selects, to.Selects)
	out.Nodes = diffRows(from.Nodes, to.Nodes)
	out.Labels = diffRows(from.Labels, to.Labels)
	out.Properties = diffRows(from.Properties, to.Properties)
	out.Includes = diffRows(from.Includes, to.Includes)

	return out
}

func emptyTables() Tables {
	return Tables{
		Files:         []FileRow{},
		Configs:       []ConfigRow{},
		ConfigEntries: []ConfigEntryRow{},
		Selects:       []SelectRow{},
		Nodes:         []NodeRow{},
		Labels:        []LabelRow{},
		Properties:    []PropertyRow{},
		Includes:      []IncludeRow{},
	}
}

// diffRows returns the rows of to that are not in from. Rows are flat
// structs, so the row itself is its key.
func diffRows[T comparable](from, to []T) []T {
	fromSet := make(map[T]struct{}, len(from))
	for _, row := range from {
		fromSet[row] = struct{}{}
	}
	diff := []T{}
	for _, row := range to {
		if _, ok := fromSet[row]; !ok {
			diff = append(diff, row)
		}
	}
	return diff
}
