package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/kconfig/expr"
)

type evalOutput struct {
	Expression string   `json:"expression"`
	Value      string   `json:"value"`
	Symbols    []string `json:"symbols"`
}

func newEvalCmd(opts *globalOptions) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate a Kconfig expression with the workspace overrides applied",
		Example: `  kdts eval 'SERIAL && UART_CONSOLE'
  kdts eval -C zephyr/samples/hello 'LOG_LEVEL > 2'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := expr.Compile(args[0])
			if !e.Valid() {
				return fmt.Errorf("invalid expression %q: %w", args[0], e.Err)
			}
			idx, _, err := runIndexer(cmd, opts, root)
			if idx == nil || idx.Kconfig == nil {
				if err == nil {
					err = fmt.Errorf("no Kconfig tree found under %s", root)
				}
				return err
			}

			ectx := idx.Kconfig.NewEvalContext(idx.OverrideValues())
			out := evalOutput{
				Expression: e.Text,
				Value:      e.Evaluate(ectx).String(),
				Symbols:    e.Variables(),
			}
			if opts.jsonOutput {
				return encodeJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Value)
			if opts.verbose {
				for _, name := range out.Symbols {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", name, ectx.Resolve(name))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&root, "dir", "C", ".", "workspace root")
	return cmd
}
