package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensrc-dev/opensrc/internal/config"
	"github.com/opensrc-dev/opensrc/internal/registry"
)

// newFetchCmd creates the fetch command: a CLI path to the same fetch
// verb the agent drives through the execute tool, useful for warming the
// registry before a serve session.
func newFetchCmd() *cobra.Command {
	var modify bool

	cmd := &cobra.Command{
		Use:   "fetch <spec>",
		Short: "Fetch a package or repository and queue it for indexing",
		Long: `Resolves a fetch-spec (a bare "owner/repo", "npm:left-pad@1.3.0",
"pypi:requests", "crates:serde@1", or "github:owner/repo@ref") to a
registered source and starts background indexing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, args[0], modify)
		},
	}
	cmd.Flags().BoolVar(&modify, "modify", false, "allow writing into an already-fetched source's directory")
	return cmd
}

func runFetch(cmd *cobra.Command, spec string, modify bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	application, err := newApp(ctx, cfg, config.OpenSrcDir())
	if err != nil {
		return err
	}
	defer application.Close()

	result, err := application.fetcher.Fetch(ctx, spec, modify)
	if err != nil {
		return err
	}

	src := registry.Source{
		Type:      registry.SourceType(result.Type),
		Name:      result.Name,
		Version:   result.Version,
		Path:      result.RelPath,
		FetchedAt: timeNow(),
	}
	if err := application.reg.Add(src); err != nil {
		return err
	}

	root, err := application.reg.ResolvePath(result.Name)
	if err != nil {
		return err
	}
	application.engine.Enqueue(result.Name, root)

	if result.AlreadyExisted {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already fetched at %s (queued for indexing)\n", result.Name, result.Version)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "fetched %s@%s (queued for indexing)\n", result.Name, result.Version)
	}

	waitForIndex(ctx, application, result.Name)
	return nil
}

func timeNow() time.Time { return time.Now() }

// waitForIndex blocks briefly so a CLI fetch has a chance to finish
// indexing before the process exits; the engine itself keeps running in
// the background regardless.
func waitForIndex(ctx context.Context, application *app, name string) {
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		status := application.engine.Status(name)
		if string(status) == "indexed" || string(status) == "unknown" {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
}
