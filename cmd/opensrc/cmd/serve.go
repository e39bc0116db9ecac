package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opensrc-dev/opensrc/internal/config"
	"github.com/opensrc-dev/opensrc/internal/logging"
	"github.com/opensrc-dev/opensrc/internal/mcpserver"
	"github.com/opensrc-dev/opensrc/internal/sandbox"
)

// newServeCmd creates the serve command: the MCP entry point an agent
// host spawns over stdio.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the opensrc MCP server over stdio",
		Long: `Starts the MCP server that exposes the single "execute" tool to an
agent host. Stdout is reserved exclusively for the JSON-RPC protocol;
all diagnostics go to the log file instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cleanup, err := logging.SetupServerMode()
	if err != nil {
		return err
	}
	defer cleanup()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := newApp(ctx, cfg, config.OpenSrcDir())
	if err != nil {
		slog.Error("failed to initialize opensrc", slog.String("error", err.Error()))
		return err
	}
	defer func() {
		// The registry writes through on every mutation, so there is
		// nothing queued to flush here; this just closes the store and
		// embedder cleanly once SIGINT/SIGTERM cancels ctx.
		if err := application.Close(); err != nil {
			slog.Warn("error during shutdown", slog.String("error", err.Error()))
		}
	}()

	adapter := mcpserver.NewAdapter(ctx, application.reg, application.fetcher, application.planner, application.files, application.engine, application.vector)
	sb := sandbox.New(adapter, 0)
	server := mcpserver.New(sb, slog.Default())

	return server.Serve(ctx)
}
