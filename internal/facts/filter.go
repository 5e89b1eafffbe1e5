package facts

// FilterTablesByFiles returns a new Tables object containing only rows whose file
// or path is present in the provided file set.
func FilterTablesByFiles(tables Tables, files map[string]bool) Tables {
	if len(files) == 0 {
		return emptyTables()
	}
	out := emptyTables()

	out.Files = filterRows(tables.Files, files, func(r FileRow) string { return r.Path })
	out.Configs = filterRows(tables.Configs, files, func(r ConfigRow) string { return r.File })
	out.ConfigEntries = filterRows(tables.ConfigEntries, files, func(r ConfigEntryRow) string { return r.File })
	out.Selects = filterRows(tables.Selects, files, func(r SelectRow) string { return r.File })
	out.Nodes = filterRows(tables.Nodes, files, func(r NodeRow) string { return r.File })
	out.Labels = filterRows(tables.Labels, files, func(r LabelRow) string { return r.File })
	out.Properties = filterRows(tables.Properties, files, func(r PropertyRow) string { return r.File })
	out.Includes = filterRows(tables.Includes, files, func(r IncludeRow) string { return r.File })

	return out
}

// FilterTablesByContext keeps the devicetree rows of one context and every
// Kconfig row.
func FilterTablesByContext(tables Tables, context string) Tables {
	out := tables
	out.Files = keep(tables.Files, func(r FileRow) bool { return r.Context == "" || r.Context == context })
	out.Nodes = keep(tables.Nodes, func(r NodeRow) bool { return r.Context == context })
	out.Labels = keep(tables.Labels, func(r LabelRow) bool { return r.Context == context })
	out.Properties = keep(tables.Properties, func(r PropertyRow) bool { return r.Context == context })
	return out
}

// FilterDeltaByFiles returns a new Delta containing only rows for the specified files.
func FilterDeltaByFiles(delta Delta, files map[string]bool) Delta {
	if len(files) == 0 {
		return Delta{
			Added:   emptyTables(),
			Removed: emptyTables(),
		}
	}
	return Delta{
		Added:   FilterTablesByFiles(delta.Added, files),
		Removed: FilterTablesByFiles(delta.Removed, files),
	}
}

func filterRows[T any](rows []T, files map[string]bool, file func(T) string) []T {
	return keep(rows, func(r T) bool { return files[file(r)] })
}

func keep[T any](rows []T, pred func(T) bool) []T {
	out := []T{}
	for _, r := range rows {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}
