package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a " + config.FileName + " configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := filepath.Join(rootArg(args), config.FileName)
			w := cmd.OutOrStdout()

			if _, err := os.Stat(configPath); err == nil && !force {
				fmt.Fprintf(w, "Config file %s already exists. Overwrite? [y/N]: ", configPath)
				response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				response = strings.TrimSpace(response)
				if response != "y" && response != "Y" {
					fmt.Fprintln(w, "Aborted.")
					return nil
				}
			}

			cfg := config.DefaultConfig()
			if err := cfg.Save(configPath); err != nil {
				return fmt.Errorf("creating config: %w", err)
			}

			fmt.Fprintf(w, "Created %s\n", configPath)
			fmt.Fprintln(w, "\nEdit this file to configure:")
			fmt.Fprintln(w, "  - The Kconfig root and override files")
			fmt.Fprintln(w, "  - Board, overlay and binding locations")
			fmt.Fprintln(w, "  - Lint rule severities and rego policies")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file without asking")
	return cmd
}
