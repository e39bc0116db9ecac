package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensrc-dev/opensrc/internal/config"
	"github.com/opensrc-dev/opensrc/internal/registry"
)

// newListCmd creates the list command.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd)
		},
	}
}

func runList(cmd *cobra.Command) error {
	dir := config.OpenSrcDir()
	reg, err := registry.Open(dir)
	if err != nil {
		return err
	}

	sources := reg.List()
	if len(sources) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sources registered")
		return nil
	}
	for _, s := range sources {
		version := s.Version
		if version == "" {
			version = s.Ref
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.Name, s.Type, version)
	}
	return nil
}
