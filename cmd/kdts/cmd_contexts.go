package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/contexts"
)

func newContextsCmd(opts *globalOptions) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "contexts",
		Short: "Manage the persisted devicetree contexts",
		Long: `A context is a board file plus the overlays applied on top of it.
Paths are relative to the workspace root and may use ${workspaceFolder}.
Without persisted contexts, every board file is its own context with all
overlay files applied.`,
	}
	cmd.PersistentFlags().StringVarP(&root, "dir", "C", ".", "workspace root")

	openStore := func() (*contexts.Store, error) {
		cfg, err := loadConfig(opts, root)
		if err != nil {
			return nil, err
		}
		return contexts.Open(cfg.ContextsPath())
	}
	update := func(fn func(*contexts.Store) error) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		if err := fn(store); err != nil {
			return err
		}
		return store.Save()
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return encodeJSON(cmd.OutOrStdout(), store.List())
			}
			w := cmd.OutOrStdout()
			for _, c := range store.List() {
				fmt.Fprintf(w, "%s: %s\n", c.Name, c.BoardFile)
				for _, o := range c.Overlays {
					fmt.Fprintf(w, "  + %s\n", o)
				}
			}
			return nil
		},
	}

	add := &cobra.Command{
		Use:   "add <name> <board> [overlay...]",
		Short: "Add or replace a context",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(func(s *contexts.Store) error {
				return s.Put(contexts.Context{Name: args[0], BoardFile: args[1], Overlays: args[2:]})
			})
		},
	}

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(func(s *contexts.Store) error { return s.Remove(args[0]) })
		},
	}

	overlay := &cobra.Command{
		Use:   "overlay",
		Short: "Add or remove overlays of a context",
	}
	overlay.AddCommand(
		&cobra.Command{
			Use:   "add <name> <overlay>",
			Short: "Append an overlay",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return update(func(s *contexts.Store) error { return s.AddOverlay(args[0], args[1]) })
			},
		},
		&cobra.Command{
			Use:   "remove <name> <overlay>",
			Short: "Drop an overlay",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return update(func(s *contexts.Store) error { return s.RemoveOverlay(args[0], args[1]) })
			},
		},
	)

	cmd.AddCommand(list, add, remove, overlay)
	return cmd
}
