package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensrc-dev/opensrc/internal/config"
	"github.com/opensrc-dev/opensrc/internal/registry"
)

// newCleanCmd creates the clean command.
func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove every registered source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClean(cmd)
		},
	}
}

func runClean(cmd *cobra.Command) error {
	dir := config.OpenSrcDir()
	reg, err := registry.Open(dir)
	if err != nil {
		return err
	}

	sources := reg.List()
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}

	removed, err := reg.Remove(names)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d source(s)\n", len(removed))
	return nil
}
