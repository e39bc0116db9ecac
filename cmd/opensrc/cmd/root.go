// Package cmd provides the CLI commands for opensrc.
package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/opensrc-dev/opensrc/internal/config"
	"github.com/opensrc-dev/opensrc/internal/embed"
	"github.com/opensrc-dev/opensrc/internal/fetch"
	"github.com/opensrc-dev/opensrc/internal/fsaccess"
	"github.com/opensrc-dev/opensrc/internal/index"
	"github.com/opensrc-dev/opensrc/internal/query"
	"github.com/opensrc-dev/opensrc/internal/registry"
	"github.com/opensrc-dev/opensrc/internal/store"
	"github.com/opensrc-dev/opensrc/pkg/version"
)

// app holds every component shared across subcommands, wired once from
// Config.
type app struct {
	cfg      *config.Config
	reg      *registry.Registry
	fetcher  *fetch.Fetcher
	vector   *store.VectorStore
	embedder embed.Embedder
	engine   *index.Engine
	planner  *query.Planner
	files    *fsaccess.FileAccess
}

// newApp constructs every backing component rooted at dir (typically
// config.OpenSrcDir()). The caller must call app.Close when done.
func newApp(ctx context.Context, cfg *config.Config, dir string) (*app, error) {
	reg, err := registry.Open(dir)
	if err != nil {
		return nil, err
	}

	vector, err := store.Init(dir, store.VectorStoreConfig{
		Dimensions:     cfg.Vector.Dimensions,
		Quantization:   cfg.Vector.Quantization,
		BusyTimeoutMS:  cfg.Vector.BusyTimeoutMS,
		M:              cfg.Vector.M,
		EfConstruction: cfg.Vector.EfConstruction,
		EfSearch:       cfg.Vector.EfSearch,
	})
	if err != nil {
		return nil, err
	}

	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		vector.Close()
		return nil, err
	}
	if cfg.Embeddings.CacheSize > 0 {
		embedder = embed.NewCachedEmbedder(embedder, cfg.Embeddings.CacheSize)
	}

	engine := index.NewEngine(vector, embedder, nil)
	files := fsaccess.New(reg)
	allNames := func() []string {
		srcs := reg.List()
		names := make([]string, len(srcs))
		for i, s := range srcs {
			names[i] = s.Name
		}
		return names
	}
	planner := query.New(files, embedder, vector, engine, allNames)

	reconcile(ctx, reg, vector, engine)

	return &app{
		cfg:      cfg,
		reg:      reg,
		fetcher:  fetch.New(dir),
		vector:   vector,
		embedder: embedder,
		engine:   engine,
		planner:  planner,
		files:    files,
	}, nil
}

// reconcile enqueues every registered source that is on-disk but missing
// from indexed_sources, per spec: a process restart must not leave a
// fetched-but-never-indexed (or partially indexed, then crashed) source
// stuck unreachable by search.
func reconcile(ctx context.Context, reg *registry.Registry, vector *store.VectorStore, engine *index.Engine) {
	indexed, err := vector.ListIndexed(ctx)
	if err != nil {
		slog.Warn("failed to list indexed sources during startup reconciliation", slog.String("error", err.Error()))
		return
	}
	done := make(map[string]bool, len(indexed))
	for _, name := range indexed {
		done[name] = true
	}
	for _, s := range reg.List() {
		if done[s.Name] {
			continue
		}
		root, err := reg.ResolvePath(s.Name)
		if err != nil {
			continue
		}
		engine.Enqueue(s.Name, root)
	}
}

func (a *app) Close() error {
	embedErr := a.embedder.Close()
	vectorErr := a.vector.Close()
	if embedErr != nil {
		return embedErr
	}
	return vectorErr
}

// NewRootCmd creates the root command for the opensrc CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "opensrc",
		Short:   "Fetch, index, and query third-party packages and repositories for coding agents",
		Version: version.Version,
		Long: `opensrc fetches npm/PyPI/crates packages and git repositories, indexes
them for lexical, structural, and semantic search, and exposes that index
to an agent through a single sandboxed "execute" MCP tool.`,
	}
	cmd.SetVersionTemplate("opensrc version {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func loadConfig() (*config.Config, error) {
	dir := config.OpenSrcDir()
	cfg, err := config.Load(dir)
	if err != nil {
		slog.Warn("failed to load config, using defaults", slog.String("error", err.Error()))
		cfg = config.New()
	}
	return cfg, nil
}
