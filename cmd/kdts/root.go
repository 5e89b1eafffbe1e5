package main

import (
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/config"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/ctxlog"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/indexer"
)

// errDiagnostics makes the process exit 1 without printing anything else.
var errDiagnostics = errors.New("lint reported errors")

type globalOptions struct {
	configFile string
	verbose    bool
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "kdts",
		Short: "Lint and query Kconfig trees and devicetree sources",
		Long: `kdts parses a Kconfig tree, its override files and the devicetree
contexts of a workspace, checks them against bindings and rego rules,
and keeps a symbol index of the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := newLogger(cmd.ErrOrStderr(), opts)
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default: search kdts.json)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output and debug logging")
	flags.BoolVar(&opts.jsonOutput, "json", false, "JSON output")

	root.AddCommand(
		newLintCmd(opts),
		newEvalCmd(opts),
		newNodeCmd(opts),
		newFactsCmd(opts),
		newContextsCmd(opts),
		newImpactCmd(opts),
		newWatchCmd(opts),
		newInitCmd(),
	)
	return root
}

func newLogger(w io.Writer, opts *globalOptions) *slog.Logger {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.jsonOutput {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// loadConfig reads --config when given, else searches from path.
func loadConfig(opts *globalOptions, path string) (*config.Config, error) {
	if opts.configFile != "" {
		return config.LoadFile(opts.configFile)
	}
	return config.Load(path)
}

func rootArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// runIndexer loads the config for path and runs the full pipeline. A
// result is returned whenever the pipeline got far enough to produce one.
func runIndexer(cmd *cobra.Command, opts *globalOptions, path string) (*indexer.Indexer, *indexer.LintResult, error) {
	cfg, err := loadConfig(opts, path)
	if err != nil {
		return nil, nil, err
	}
	idx := indexer.NewWithConfig(cfg)
	res, err := idx.Run(cmd.Context())
	return idx, res, err
}
