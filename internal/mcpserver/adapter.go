package mcpserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opensrc-dev/opensrc/internal/fetch"
	"github.com/opensrc-dev/opensrc/internal/fsaccess"
	"github.com/opensrc-dev/opensrc/internal/index"
	"github.com/opensrc-dev/opensrc/internal/query"
	"github.com/opensrc-dev/opensrc/internal/registry"
	"github.com/opensrc-dev/opensrc/internal/sandbox"
	"github.com/opensrc-dev/opensrc/internal/store"
)

// Adapter bridges the sandbox.API surface to the registry, fetcher, query
// planner, vector store, and index engine. One Adapter is shared across
// every script execution; the sandbox re-evaluates fresh state each call
// but the underlying components persist across the process lifetime.
//
// sandbox.API methods carry no context.Context parameter, so Adapter
// derives a fresh bounded context per call from its own base (the server's
// lifetime context) rather than the script's own deadline. Calls are bounded
// by DefaultDeadline, except Fetch, which is bounded by fetchTimeout.
type Adapter struct {
	reg     *registry.Registry
	fetcher *fetch.Fetcher
	planner *query.Planner
	files   *fsaccess.FileAccess
	engine  *index.Engine
	vector  *store.VectorStore
	base    context.Context
}

// NewAdapter wires the backing components into one sandbox.API, bound to
// base for the server's lifetime.
func NewAdapter(base context.Context, reg *registry.Registry, fetcher *fetch.Fetcher, planner *query.Planner, files *fsaccess.FileAccess, engine *index.Engine, vector *store.VectorStore) *Adapter {
	return &Adapter{reg: reg, fetcher: fetcher, planner: planner, files: files, engine: engine, vector: vector, base: base}
}

var _ sandbox.API = (*Adapter)(nil)

// callCtx returns a context bounded by the sandbox's default deadline,
// derived from the adapter's base context.
func (a *Adapter) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(a.base, sandbox.DefaultDeadline)
}

// fetchTimeout bounds Fetch, which downloads a package or clones a
// repository and so can legitimately run far longer than a script's own
// DefaultDeadline.
const fetchTimeout = 10 * time.Minute

func (a *Adapter) fetchCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(a.base, fetchTimeout)
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d must be a string", i)
	}
	return s, nil
}

func argStringOpt(args []any, i int, def string) string {
	if i >= len(args) {
		return def
	}
	s, ok := args[i].(string)
	if !ok {
		return def
	}
	return s
}

func argObject(args []any, i int) map[string]any {
	if i >= len(args) {
		return nil
	}
	m, _ := args[i].(map[string]any)
	return m
}

func optString(opts map[string]any, key, def string) string {
	if opts == nil {
		return def
	}
	if v, ok := opts[key].(string); ok {
		return v
	}
	return def
}

func optInt(opts map[string]any, key string, def int) int {
	if opts == nil {
		return def
	}
	if v, ok := opts[key].(float64); ok {
		return int(v)
	}
	return def
}

func optStringSlice(opts map[string]any, key string) []string {
	if opts == nil {
		return nil
	}
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func sourceToMap(s registry.Source) map[string]any {
	return map[string]any{
		"type":      string(s.Type),
		"name":      s.Name,
		"version":   s.Version,
		"ref":       s.Ref,
		"path":      s.Path,
		"fetchedAt": s.FetchedAt.Format(time.RFC3339),
	}
}

// List returns every registered source.
func (a *Adapter) List(args []any) (any, error) {
	srcs := a.reg.List()
	out := make([]any, len(srcs))
	for i, s := range srcs {
		out[i] = sourceToMap(s)
	}
	return out, nil
}

// Has reports whether a source (optionally at a specific version) is
// registered.
func (a *Adapter) Has(args []any) (any, error) {
	name, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	version := argStringOpt(args, 1, "")
	return a.reg.Has(name, version), nil
}

// Get returns one registered source's manifest entry, or Undefined if
// absent.
func (a *Adapter) Get(args []any) (any, error) {
	name, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	s, ok := a.reg.Get(name)
	if !ok {
		return sandbox.Undefined{}, nil
	}
	return sourceToMap(s), nil
}

// Files lists a source's files matching an optional glob.
func (a *Adapter) Files(args []any) (any, error) {
	source, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	glob := argStringOpt(args, 1, "**/*")
	entries, err := a.files.Files(source, glob)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{"path": e.Path, "size": float64(e.Size), "isDirectory": e.IsDirectory}
	}
	return out, nil
}

// Tree returns a directory tree for a source.
func (a *Adapter) Tree(args []any) (any, error) {
	source, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	opts := argObject(args, 1)
	depth := optInt(opts, "depth", 3)
	pattern := optString(opts, "pattern", "")
	node, err := a.files.Tree(source, depth, pattern)
	if err != nil {
		return nil, err
	}
	return treeToMap(node), nil
}

func treeToMap(n *fsaccess.TreeNode) map[string]any {
	m := map[string]any{"name": n.Name, "type": n.Type}
	if len(n.Children) > 0 {
		children := make([]any, len(n.Children))
		for i, c := range n.Children {
			children[i] = treeToMap(c)
		}
		m["children"] = children
	}
	return m
}

// Read returns one file's content from a source.
func (a *Adapter) Read(args []any) (any, error) {
	source, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	path, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	return a.files.Read(source, path)
}

// ReadMany reads several files/globs from a source in one call.
func (a *Adapter) ReadMany(args []any) (any, error) {
	source, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("readMany requires a paths array")
	}
	raw, ok := args[1].([]any)
	if !ok {
		return nil, fmt.Errorf("readMany's second argument must be an array")
	}
	paths := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			paths = append(paths, s)
		}
	}
	result, err := a.files.ReadMany(source, paths)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(result))
	for k, v := range result {
		out[k] = v
	}
	return out, nil
}

// Grep runs a regex search, optionally scoped to named sources.
func (a *Adapter) Grep(args []any) (any, error) {
	pattern, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	opts := argObject(args, 1)
	results, err := a.planner.Grep(pattern, fsaccess.GrepOptions{
		Sources:    optStringSlice(opts, "sources"),
		Include:    optString(opts, "include", ""),
		MaxResults: optInt(opts, "maxResults", 0),
	})
	if err != nil {
		return nil, err
	}
	out := make([]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{"source": r.Source, "file": r.File, "line": float64(r.Line), "content": r.Content}
	}
	return out, nil
}

// AstGrep runs a structural pattern search over one source.
func (a *Adapter) AstGrep(args []any) (any, error) {
	source, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	pattern, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	opts := argObject(args, 2)
	ctx, cancel := a.callCtx()
	defer cancel()
	results, err := a.planner.AstGrep(ctx, source, pattern, query.AstGrepOptions{
		Glob:  optString(opts, "glob", ""),
		Lang:  optStringSlice(opts, "lang"),
		Limit: optInt(opts, "limit", 0),
	})
	if err != nil {
		return nil, err
	}
	out := make([]any, len(results))
	for i, r := range results {
		vars := make(map[string]any, len(r.Metavars))
		for k, v := range r.Metavars {
			vars[k] = v
		}
		out[i] = map[string]any{
			"file": r.File, "line": float64(r.Line), "column": float64(r.Column),
			"endLine": float64(r.EndLine), "endColumn": float64(r.EndColumn),
			"text": r.Text, "vars": vars,
		}
	}
	return out, nil
}

// SemanticSearch embeds a query and scans the vector store.
func (a *Adapter) SemanticSearch(args []any) (any, error) {
	q, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	opts := argObject(args, 1)
	ctx, cancel := a.callCtx()
	defer cancel()
	results, searchErr, err := a.planner.SemanticSearch(ctx, q, query.SemanticSearchOptions{
		Sources: optStringSlice(opts, "sources"),
		TopK:    optInt(opts, "topK", 0),
	})
	if err != nil {
		return nil, err
	}
	if searchErr != nil {
		sources := make([]any, len(searchErr.Sources))
		for i, s := range searchErr.Sources {
			sources[i] = s
		}
		return map[string]any{"error": searchErr.Error, "sources": sources}, nil
	}
	out := make([]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{
			"source": r.Source, "file": r.File, "identifier": r.Identifier, "kind": r.Kind,
			"startLine": float64(r.StartLine), "endLine": float64(r.EndLine),
			"content": r.Content, "score": float64(r.Score),
		}
	}
	return out, nil
}

// Resolve parses a fetch-spec string without downloading anything.
func (a *Adapter) Resolve(args []any) (any, error) {
	spec, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	parsed, err := fetch.Resolve(spec)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type": parsed.Type, "name": parsed.Name, "version": parsed.Version,
		"host": parsed.Host, "owner": parsed.Owner, "repo": parsed.Repo,
	}, nil
}

// stringsArg normalizes an argument that may be a single string or an
// array of strings into a string slice.
func stringsArg(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Fetch downloads and registers one or more sources, then enqueues each
// for indexing.
func (a *Adapter) Fetch(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("fetch requires a spec string or array of specs")
	}
	specs := stringsArg(args[0])
	if len(specs) == 0 {
		return nil, fmt.Errorf("fetch's argument must be a string or array of strings")
	}
	opts := argObject(args, 1)
	modify := false
	if v, ok := opts["modify"].(bool); ok {
		modify = v
	}

	out := make([]any, 0, len(specs))
	for _, spec := range specs {
		ctx, cancel := a.fetchCtx()
		result, err := a.fetcher.Fetch(ctx, spec, modify)
		cancel()
		if err != nil {
			return nil, err
		}

		src := registry.Source{
			Type:      registry.SourceType(result.Type),
			Name:      result.Name,
			Version:   result.Version,
			Path:      result.RelPath,
			FetchedAt: time.Now(),
		}
		if err := a.reg.Add(src); err != nil {
			return nil, err
		}

		root, err := a.reg.ResolvePath(result.Name)
		if err == nil {
			a.engine.Enqueue(result.Name, root)
		}

		m := sourceToMap(src)
		m["alreadyExists"] = result.AlreadyExisted
		out = append(out, m)
	}
	return out, nil
}

// deleteSources removes each named source's registry entry, on-disk
// directory, and indexed rows.
func (a *Adapter) deleteSources(names []string) ([]string, error) {
	var paths []string
	for _, n := range names {
		if s, ok := a.reg.Get(n); ok {
			paths = append(paths, filepath.Join(a.reg.DataDir(), s.Path))
		}
	}

	removed, err := a.reg.Remove(names)
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.callCtx()
	defer cancel()
	for _, n := range removed {
		if err := a.vector.DeleteSource(ctx, n); err != nil {
			return removed, err
		}
	}
	for _, p := range paths {
		os.RemoveAll(p)
	}
	return removed, nil
}

// Remove deletes one or more sources from the registry, the vector
// store's indexed rows, and the on-disk source directory.
func (a *Adapter) Remove(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("remove requires a name or array of names")
	}
	names := stringsArg(args[0])
	if len(names) == 0 {
		return nil, fmt.Errorf("remove's argument must be a string or array of strings")
	}
	removed, err := a.deleteSources(names)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(removed))
	for i, n := range removed {
		out[i] = n
	}
	return map[string]any{"success": true, "removed": out}, nil
}

// Clean removes every registered source matching the filter, or every
// source if no filter is given.
func (a *Adapter) Clean(args []any) (any, error) {
	opts := argObject(args, 0)
	allowed := cleanFilter(opts)

	srcs := a.reg.List()
	var names []string
	for _, s := range srcs {
		if allowed == nil || allowed[s.Type] {
			names = append(names, s.Name)
		}
	}

	removed, err := a.deleteSources(names)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(removed))
	for i, n := range removed {
		out[i] = n
	}
	return map[string]any{"success": true, "removed": out}, nil
}

// cleanFilter builds the set of source types Clean should remove from its
// {packages?, repos?, npm?, pypi?, crates?} options object. nil means "no
// filter" (remove everything).
func cleanFilter(opts map[string]any) map[registry.SourceType]bool {
	if len(opts) == 0 {
		return nil
	}
	set := make(map[registry.SourceType]bool)
	if b, _ := opts["packages"].(bool); b {
		set[registry.TypeNPM] = true
		set[registry.TypePyPI] = true
		set[registry.TypeCrate] = true
	}
	if b, _ := opts["repos"].(bool); b {
		set[registry.TypeRepo] = true
	}
	if b, _ := opts["npm"].(bool); b {
		set[registry.TypeNPM] = true
	}
	if b, _ := opts["pypi"].(bool); b {
		set[registry.TypePyPI] = true
	}
	if b, _ := opts["crates"].(bool); b {
		set[registry.TypeCrate] = true
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
