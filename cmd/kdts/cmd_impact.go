package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/facts"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/indexer"
)

func newImpactCmd(opts *globalOptions) *cobra.Command {
	var root string
	var fresh bool
	cmd := &cobra.Command{
		Use:   "impact <file>...",
		Short: "List the files that include or source the given files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, root)
			if err != nil {
				return err
			}

			var tables facts.Tables
			ok := false
			if !fresh && cfg.CacheEnabled() {
				tables, ok, err = indexer.LoadIndex(cfg.CacheDir())
				if err != nil {
					ctxlog.FromContext(cmd.Context()).Warn("impact: ignoring unreadable index", "err", err)
				}
			}
			if !ok {
				idx := indexer.NewWithConfig(cfg)
				if _, err := idx.Run(cmd.Context()); err != nil {
					return err
				}
				tables = idx.Tables
			}

			var reports []indexer.ImpactReport
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				reports = append(reports, indexer.Impact(tables, path))
			}
			if opts.jsonOutput {
				return encodeJSON(cmd.OutOrStdout(), reports)
			}
			for _, r := range reports {
				fmt.Fprint(cmd.OutOrStdout(), indexer.FormatImpactReport(r))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&root, "dir", "C", ".", "workspace root")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "rebuild the index instead of reading the cached one")
	return cmd
}
