// Package registry implements the SourceRegistry: the in-memory list of
// fetched Sources, mirrored to an on-disk sources.json manifest guarded by
// an advisory file lock so a concurrently-running fetcher process does not
// race a manifest write.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/opensrc-dev/opensrc/internal/errors"
)

// SourceType is one of the four fetchable artifact kinds.
type SourceType string

const (
	TypeNPM   SourceType = "npm"
	TypePyPI  SourceType = "pypi"
	TypeCrate SourceType = "crates"
	TypeRepo  SourceType = "repo"
)

// Source is one ingested artifact: a registry package or a git repository.
type Source struct {
	Type      SourceType `json:"type"`
	Name      string     `json:"name"` // globally unique; bare pkg name or host/owner/repo
	Version   string     `json:"version,omitempty"`
	Ref       string     `json:"ref,omitempty"`
	Path      string     `json:"path"` // relative to the data root
	FetchedAt time.Time  `json:"fetchedAt"`
}

// manifest is the on-disk sources.json shape.
type manifest struct {
	Packages  []Source  `json:"packages"`
	Repos     []Source  `json:"repos"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Registry is the authoritative in-memory working copy of fetched sources
// for this session; every mutation writes through to the manifest file.
type Registry struct {
	dir  string // data root
	path string // sources.json path
	lock *flock.Flock

	mu      sync.RWMutex
	sources map[string]Source // keyed by Source.Name
}

// Open loads (or initializes) the manifest at dir/sources.json.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, "sources.json")
	r := &Registry{
		dir:     dir,
		path:    path,
		lock:    flock.New(filepath.Join(dir, "sources.json.lock")),
		sources: make(map[string]Source),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// reload reads the manifest from disk under the advisory lock, replacing
// the in-memory map. A missing file is not an error.
func (r *Registry) reload() error {
	if err := r.lock.RLock(); err != nil {
		return fmt.Errorf("lock manifest for read: %w", err)
	}
	defer r.lock.Unlock()

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.mu.Lock()
		r.sources = make(map[string]Source)
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.New(errors.ErrCodeManifestCorrupt, "sources.json is not valid JSON", err)
	}

	r.mu.Lock()
	r.sources = make(map[string]Source, len(m.Packages)+len(m.Repos))
	for _, s := range m.Packages {
		r.sources[s.Name] = s
	}
	for _, s := range m.Repos {
		r.sources[s.Name] = s
	}
	r.mu.Unlock()
	return nil
}

// persist writes the in-memory map to disk under the exclusive advisory
// lock, through a temporary file and a rename. It does not re-read the
// manifest first: the in-memory map is the authoritative copy and replaces
// whatever is on disk.
func (r *Registry) persist() error {
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("lock manifest for write: %w", err)
	}
	defer r.lock.Unlock()

	r.mu.RLock()
	m := manifest{UpdatedAt: time.Now()}
	for _, s := range r.sources {
		if s.Type == TypeRepo {
			m.Repos = append(m.Repos, s)
		} else {
			m.Packages = append(m.Packages, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(m.Packages, func(i, j int) bool { return m.Packages[i].Name < m.Packages[j].Name })
	sort.Slice(m.Repos, func(i, j int) bool { return m.Repos[i].Name < m.Repos[j].Name })

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest tmp: %w", err)
	}
	return os.Rename(tmp, r.path)
}

// Add registers a newly fetched source. A source only becomes visible to
// List/Get/Has once its directory is fully populated, so callers must
// complete the fetch before calling Add.
func (r *Registry) Add(s Source) error {
	r.mu.Lock()
	r.sources[s.Name] = s
	r.mu.Unlock()
	return r.persist()
}

// Remove deletes sources by name from the registry (not from disk; callers
// are responsible for removing the on-disk directory and vector rows).
func (r *Registry) Remove(names []string) ([]string, error) {
	r.mu.Lock()
	var removed []string
	for _, n := range names {
		if _, ok := r.sources[n]; ok {
			delete(r.sources, n)
			removed = append(removed, n)
		}
	}
	r.mu.Unlock()
	if len(removed) == 0 {
		return nil, nil
	}
	return removed, r.persist()
}

// List returns every registered source, sorted by name.
func (r *Registry) List() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the source by name, if registered.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}

// Has reports whether name (optionally at version) is registered.
func (r *Registry) Has(name, version string) bool {
	s, ok := r.Get(name)
	if !ok {
		return false
	}
	if version == "" {
		return true
	}
	return s.Version == version || s.Ref == version
}

// ResolvePath returns the absolute on-disk directory for a registered
// source.
func (r *Registry) ResolvePath(name string) (string, error) {
	s, ok := r.Get(name)
	if !ok {
		return "", errors.NotFound(name)
	}
	return filepath.Join(r.dir, s.Path), nil
}

// DataDir returns the registry's data root.
func (r *Registry) DataDir() string { return r.dir }
