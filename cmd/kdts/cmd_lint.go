package main

import (
	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/indexer"
)

func newLintCmd(opts *globalOptions) *cobra.Command {
	var timingPath string
	var clearCache bool
	cmd := &cobra.Command{
		Use:   "lint [path]",
		Short: "Lint the workspace at path (default: current directory)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, rootArg(args))
			if err != nil {
				return err
			}
			if clearCache {
				dir, err := indexer.ClearPolicyCache(cfg)
				if err != nil {
					return err
				}
				ctxlog.FromContext(cmd.Context()).Debug("lint: cleared policy cache", "dir", dir)
			}
			idx := indexer.NewWithConfig(cfg)
			if timingPath != "" {
				idx.Timing = true
				idx.TimingPath = timingPath
			}
			res, runErr := idx.Run(cmd.Context())
			if res == nil {
				return runErr
			}
			if opts.jsonOutput {
				if err := res.WriteJSON(cmd.OutOrStdout()); err != nil {
					return err
				}
			} else {
				res.WriteText(cmd.OutOrStdout(), opts.verbose)
			}
			if runErr != nil {
				return runErr
			}
			if res.Summary.Errors > 0 {
				return errDiagnostics
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearCache, "clear-policy-cache", false, "evaluate the rego rules again even if nothing changed")
	cmd.Flags().StringVar(&timingPath, "timing", "", "write per-stage timings as JSONL to this file")
	return cmd
}
