package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensrc-dev/opensrc/internal/config"
	"github.com/opensrc-dev/opensrc/internal/registry"
)

// newRemoveCmd creates the remove command.
func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name> [name...]",
		Short: "Remove one or more registered sources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd, args)
		},
	}
}

func runRemove(cmd *cobra.Command, names []string) error {
	dir := config.OpenSrcDir()
	reg, err := registry.Open(dir)
	if err != nil {
		return err
	}

	removed, err := reg.Remove(names)
	if err != nil {
		return err
	}
	for _, n := range removed {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", n)
	}
	return nil
}
