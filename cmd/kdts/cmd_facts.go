package main

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/facts"
)

func newFactsCmd(opts *globalOptions) *cobra.Command {
	var output, deltaFrom, deltaOut, contextName string
	var files []string
	cmd := &cobra.Command{
		Use:   "facts [path]",
		Short: "Print the symbol index of the workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (deltaFrom == "") != (deltaOut == "") {
				return errors.New("--delta-from and --delta-out must be used together")
			}
			idx, _, err := runIndexer(cmd, opts, rootArg(args))
			if idx == nil {
				return err
			}
			if err != nil {
				return err
			}

			tables := idx.Tables
			if contextName != "" {
				tables = facts.FilterTablesByContext(tables, contextName)
			}
			fileSet, err := absSet(files)
			if err != nil {
				return err
			}
			if fileSet != nil {
				tables = facts.FilterTablesByFiles(tables, fileSet)
			}

			if output != "" {
				if err := writeJSON(output, tables); err != nil {
					return err
				}
			} else if err := encodeJSON(cmd.OutOrStdout(), tables); err != nil {
				return err
			}

			if deltaFrom != "" {
				prev, err := readTables(deltaFrom)
				if err != nil {
					return err
				}
				delta := facts.ComputeDelta(prev, tables)
				if fileSet != nil {
					delta = facts.FilterDeltaByFiles(delta, fileSet)
				}
				return writeJSON(deltaOut, delta)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the index to file (default: stdout)")
	cmd.Flags().StringVar(&deltaFrom, "delta-from", "", "previous index JSON to compute a delta from")
	cmd.Flags().StringVar(&deltaOut, "delta-out", "", "write the delta JSON to file (requires --delta-from)")
	cmd.Flags().StringVar(&contextName, "context", "", "keep only the devicetree rows of this context")
	cmd.Flags().StringSliceVar(&files, "file", nil, "keep only rows from these files (repeatable)")
	return cmd
}

// absSet returns nil for no paths.
func absSet(paths []string) (map[string]bool, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		set[abs] = true
	}
	return set, nil
}

func readTables(path string) (facts.Tables, error) {
	f, err := os.Open(path)
	if err != nil {
		return facts.Tables{}, err
	}
	defer func() { _ = f.Close() }()

	var tables facts.Tables
	if err := json.NewDecoder(f).Decode(&tables); err != nil {
		return facts.Tables{}, err
	}
	return tables, nil
}

func writeJSON(path string, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return encodeJSON(f, data)
}

func encodeJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
