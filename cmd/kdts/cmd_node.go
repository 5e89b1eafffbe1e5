package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts"
)

type nodeOutput struct {
	Context    string           `json:"context"`
	Path       string           `json:"path"`
	Labels     []string         `json:"labels"`
	Enabled    bool             `json:"enabled"`
	Properties []propertyOutput `json:"properties"`
	Children   []string         `json:"children"`
}

type propertyOutput struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	File  string `json:"file"`
	Line  int    `json:"line"`
}

func newNodeCmd(opts *globalOptions) *cobra.Command {
	var (
		root        string
		contextName string
	)
	cmd := &cobra.Command{
		Use:   "node <&label|/path>",
		Short: "Show the merged properties of a devicetree node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, _, err := runIndexer(cmd, opts, root)
			if idx == nil {
				return err
			}
			dc := idx.Context(contextName)
			if dc == nil {
				if contextName == "" {
					return fmt.Errorf("no devicetree contexts under %s", root)
				}
				return fmt.Errorf("unknown context %q", contextName)
			}
			n := dc.Node(args[0])
			if n == nil {
				return fmt.Errorf("%s: no node %s", dc.Name, args[0])
			}

			out := describeNode(dc, n)
			if opts.jsonOutput {
				return encodeJSON(cmd.OutOrStdout(), out)
			}
			writeNode(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&root, "dir", "C", ".", "workspace root")
	cmd.Flags().StringVar(&contextName, "context", "", "devicetree context (default: the first one)")
	return cmd
}

func describeNode(dc *dts.DTSCtx, n *dts.Node) nodeOutput {
	out := nodeOutput{
		Context:    dc.Name,
		Path:       n.Path,
		Labels:     n.Labels(),
		Enabled:    n.Enabled(),
		Properties: []propertyOutput{},
		Children:   []string{},
	}
	for _, p := range n.UniqueProperties() {
		out.Properties = append(out.Properties, propertyOutput{
			Name:  p.Name,
			Value: p.ValueString(),
			File:  p.Loc.URI,
			Line:  p.Loc.Range.Start.Line + 1,
		})
	}
	for _, child := range n.Children() {
		out.Children = append(out.Children, child.Name)
	}
	return out
}

func writeNode(w io.Writer, out nodeOutput) {
	fmt.Fprintf(w, "%s (%s)\n", out.Path, out.Context)
	for _, l := range out.Labels {
		fmt.Fprintf(w, "  label: %s\n", l)
	}
	if !out.Enabled {
		fmt.Fprintln(w, "  disabled")
	}
	for _, p := range out.Properties {
		if p.Value == "" {
			fmt.Fprintf(w, "  %s;  // %s:%d\n", p.Name, p.File, p.Line)
			continue
		}
		fmt.Fprintf(w, "  %s = %s;  // %s:%d\n", p.Name, p.Value, p.File, p.Line)
	}
	for _, c := range out.Children {
		fmt.Fprintf(w, "  %s { ... }\n", c)
	}
}
