package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildPluginCmd exposes the plugin subcommand surface so operon's CLI shape
// matches the full gateway's, but this build carries no plugin loader: every
// subcommand returns a stub error rather than silently pretending to work.
func buildPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage runtime plugins (not supported in this build)",
	}

	stub := func(action string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "plugin %s: not supported in this build\n", action)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "list", Short: "List loaded plugins (not supported in this build)", RunE: stub("list")},
		&cobra.Command{Use: "load [path]", Short: "Load a plugin (not supported in this build)", Args: cobra.ExactArgs(1), RunE: stub("load")},
		&cobra.Command{Use: "unload [name]", Short: "Unload a plugin (not supported in this build)", Args: cobra.ExactArgs(1), RunE: stub("unload")},
	)

	return cmd
}
