package indexer

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
)

// WriteJSON encodes the result as indented JSON.
func (r *LintResult) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

// WriteText prints diagnostics and summaries. verbose adds the stage
// timings.
func (r *LintResult) WriteText(w io.Writer, verbose bool) {
	if len(r.Diagnostics) > 0 {
		fmt.Fprintf(w, "\n=== Diagnostics ===\n")
		for _, d := range r.Diagnostics {
			icon := "ℹ"
			switch d.Severity {
			case diag.SeverityError:
				icon = "✗"
			case diag.SeverityWarning:
				icon = "⚠"
			case diag.SeverityHint:
				icon = "·"
			}
			code := d.Code
			if code == "" {
				code = d.Source
			}
			fmt.Fprintf(w, "%s [%s] %s:%d - %s\n", icon, code, d.URI, d.Range.Start.Line+1, d.Message)
		}
	}

	fmt.Fprintf(w, "\n=== Summary ===\n")
	fmt.Fprintf(w, "  Errors:   %d\n", r.Summary.Errors)
	fmt.Fprintf(w, "  Warnings: %d\n", r.Summary.Warnings)
	fmt.Fprintf(w, "  Info:     %d\n", r.Summary.Info)
	fmt.Fprintf(w, "  Hints:    %d\n", r.Summary.Hints)

	fmt.Fprintf(w, "\n=== Index Summary ===\n")
	fmt.Fprintf(w, "  Kconfig files: %d\n", r.Stats.KconfigFiles)
	fmt.Fprintf(w, "  Configs:       %d\n", r.Stats.Configs)
	fmt.Fprintf(w, "  Overrides:     %d\n", r.Stats.OverrideFiles)
	fmt.Fprintf(w, "  Bindings:      %d\n", r.Stats.Bindings)
	fmt.Fprintf(w, "  Contexts:      %d\n", r.Stats.Contexts)
	fmt.Fprintf(w, "  Nodes:         %d\n", r.Stats.Nodes)
	if r.Index != nil {
		state := "unchanged"
		if r.Index.Written {
			state = fmt.Sprintf("written (+%d -%d rows)", r.Index.Added, r.Index.Removed)
		}
		fmt.Fprintf(w, "  Index:         %s\n", state)
	}
	if len(r.ChangedFiles) > 0 {
		fmt.Fprintf(w, "  Changed files: %d\n", len(r.ChangedFiles))
	}

	if verbose && len(r.Timings) > 0 {
		fmt.Fprintf(w, "\n=== Timing Summary ===\n")
		for _, t := range r.Timings {
			if t.Status != "" {
				fmt.Fprintf(w, "  %-11s %s (%s)\n", t.Stage+":", t.Status, formatDuration(t.Duration))
				continue
			}
			fmt.Fprintf(w, "  %-11s %s\n", t.Stage+":", formatDuration(t.Duration))
		}
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%dus", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.2fm", d.Minutes())
	default:
		return fmt.Sprintf("%.2fh", d.Hours())
	}
}
