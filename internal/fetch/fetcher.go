package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opensrc-dev/opensrc/internal/errors"
)

// Result is one fetched artifact: its registry name, its on-disk path
// (relative to the data root), the resolved version/ref, and whether it
// was already present (fetch is a no-op in that case).
type Result struct {
	Type           string
	Name           string
	Version        string
	RelPath        string
	AlreadyExisted bool
}

// Fetcher downloads registry packages and clones/pulls git repositories
// under dataDir/{packages,repos}/....
type Fetcher struct {
	dataDir string
	client  *http.Client

	breakersMu sync.Mutex
	breakers   map[string]*errors.CircuitBreaker // keyed by registry host
}

// New returns a Fetcher rooted at dataDir.
func New(dataDir string) *Fetcher {
	return &Fetcher{
		dataDir:  dataDir,
		client:   &http.Client{Timeout: 60 * time.Second},
		breakers: make(map[string]*errors.CircuitBreaker),
	}
}

// breakerFor returns the circuit breaker guarding host, creating one on
// first use. A registry host that keeps failing (npmjs.org, pypi.org,
// crates.io down or unreachable) trips its own breaker without affecting
// fetches against the other two registries or git hosts.
func (f *Fetcher) breakerFor(host string) *errors.CircuitBreaker {
	f.breakersMu.Lock()
	defer f.breakersMu.Unlock()
	cb, ok := f.breakers[host]
	if !ok {
		cb = errors.NewCircuitBreaker(host)
		f.breakers[host] = cb
	}
	return cb
}

// Fetch resolves and downloads one spec, returning its Result. modify, when
// true, forces a re-fetch even if the source already exists on disk (used
// by the "re-fetch replaces in place" lifecycle rule).
func (f *Fetcher) Fetch(ctx context.Context, spec string, modify bool) (*Result, error) {
	parsed, err := Resolve(spec)
	if err != nil {
		return nil, errors.FetchFailed(err.Error(), err)
	}

	switch parsed.Type {
	case "npm":
		return f.fetchNPM(ctx, parsed, modify)
	case "pypi":
		return f.fetchPyPI(ctx, parsed, modify)
	case "crates":
		return f.fetchCrate(ctx, parsed, modify)
	case "repo":
		return f.fetchRepo(ctx, parsed, modify)
	default:
		return nil, errors.FetchFailed("unknown spec type "+parsed.Type, nil)
	}
}

// --- npm ---

type npmPackument struct {
	DistTags map[string]string `json:"dist-tags"`
	Versions map[string]struct {
		Dist struct {
			Tarball string `json:"tarball"`
		} `json:"dist"`
	} `json:"versions"`
}

func (f *Fetcher) fetchNPM(ctx context.Context, spec *ParsedSpec, modify bool) (*Result, error) {
	relPath := filepath.Join("packages", "npm", spec.Name)
	dest := filepath.Join(f.dataDir, relPath)

	meta, err := f.getJSON(ctx, "https://registry.npmjs.org/"+spec.Name)
	if err != nil {
		return nil, errors.FetchFailed("fetching npm metadata for "+spec.Name, err)
	}
	var pkg npmPackument
	if err := json.Unmarshal(meta, &pkg); err != nil {
		return nil, errors.FetchFailed("parsing npm metadata for "+spec.Name, err)
	}

	version := spec.Version
	if version == "" {
		version = pkg.DistTags["latest"]
	}
	ver, ok := pkg.Versions[version]
	if !ok {
		return nil, errors.FetchFailed(fmt.Sprintf("npm %s has no version %s", spec.Name, version), nil)
	}

	if !modify && dirPopulated(dest) {
		return &Result{Type: "npm", Name: spec.Name, Version: version, RelPath: relPath, AlreadyExisted: true}, nil
	}

	if err := os.RemoveAll(dest); err != nil {
		return nil, errors.FetchFailed("clearing existing npm dir", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, errors.FetchFailed("creating npm dir", err)
	}

	body, err := f.getBody(ctx, ver.Dist.Tarball)
	if err != nil {
		return nil, errors.FetchFailed("downloading npm tarball for "+spec.Name, err)
	}
	defer body.Close()
	if err := extractTarGz(body, dest, 1); err != nil {
		return nil, errors.FetchFailed("extracting npm tarball for "+spec.Name, err)
	}

	return &Result{Type: "npm", Name: spec.Name, Version: version, RelPath: relPath}, nil
}

// --- pypi ---

type pypiMeta struct {
	Info struct {
		Version string `json:"version"`
	} `json:"info"`
	Urls []struct {
		URL         string `json:"url"`
		PackageType string `json:"packagetype"`
	} `json:"urls"`
	Releases map[string][]struct {
		URL         string `json:"url"`
		PackageType string `json:"packagetype"`
	} `json:"releases"`
}

func (f *Fetcher) fetchPyPI(ctx context.Context, spec *ParsedSpec, modify bool) (*Result, error) {
	relPath := filepath.Join("packages", "pypi", spec.Name)
	dest := filepath.Join(f.dataDir, relPath)

	data, err := f.getJSON(ctx, "https://pypi.org/pypi/"+spec.Name+"/json")
	if err != nil {
		return nil, errors.FetchFailed("fetching pypi metadata for "+spec.Name, err)
	}
	var meta pypiMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.FetchFailed("parsing pypi metadata for "+spec.Name, err)
	}

	version := spec.Version
	urls := meta.Urls
	if version != "" {
		rel, ok := meta.Releases[version]
		if !ok {
			return nil, errors.FetchFailed(fmt.Sprintf("pypi %s has no version %s", spec.Name, version), nil)
		}
		urls = rel
	} else {
		version = meta.Info.Version
	}

	var sdistURL string
	for _, u := range urls {
		if u.PackageType == "sdist" {
			sdistURL = u.URL
			break
		}
	}
	if sdistURL == "" {
		return nil, errors.FetchFailed(fmt.Sprintf("pypi %s@%s has no sdist", spec.Name, version), nil)
	}

	if !modify && dirPopulated(dest) {
		return &Result{Type: "pypi", Name: spec.Name, Version: version, RelPath: relPath, AlreadyExisted: true}, nil
	}

	if err := os.RemoveAll(dest); err != nil {
		return nil, errors.FetchFailed("clearing existing pypi dir", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, errors.FetchFailed("creating pypi dir", err)
	}

	body, err := f.getBody(ctx, sdistURL)
	if err != nil {
		return nil, errors.FetchFailed("downloading pypi sdist for "+spec.Name, err)
	}
	defer body.Close()

	if strings.HasSuffix(sdistURL, ".zip") {
		if err := extractZipStream(body, dest, 1); err != nil {
			return nil, errors.FetchFailed("extracting pypi zip for "+spec.Name, err)
		}
	} else {
		if err := extractTarGz(body, dest, 1); err != nil {
			return nil, errors.FetchFailed("extracting pypi sdist for "+spec.Name, err)
		}
	}

	return &Result{Type: "pypi", Name: spec.Name, Version: version, RelPath: relPath}, nil
}

// --- crates.io ---

type crateMeta struct {
	Crate struct {
		MaxStableVersion string `json:"max_stable_version"`
	} `json:"crate"`
}

func (f *Fetcher) fetchCrate(ctx context.Context, spec *ParsedSpec, modify bool) (*Result, error) {
	relPath := filepath.Join("packages", "crates", spec.Name)
	dest := filepath.Join(f.dataDir, relPath)

	version := spec.Version
	if version == "" {
		data, err := f.getJSON(ctx, "https://crates.io/api/v1/crates/"+spec.Name)
		if err != nil {
			return nil, errors.FetchFailed("fetching crate metadata for "+spec.Name, err)
		}
		var meta crateMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, errors.FetchFailed("parsing crate metadata for "+spec.Name, err)
		}
		version = meta.Crate.MaxStableVersion
	}

	if !modify && dirPopulated(dest) {
		return &Result{Type: "crates", Name: spec.Name, Version: version, RelPath: relPath, AlreadyExisted: true}, nil
	}

	if err := os.RemoveAll(dest); err != nil {
		return nil, errors.FetchFailed("clearing existing crate dir", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, errors.FetchFailed("creating crate dir", err)
	}

	downloadURL := fmt.Sprintf("https://crates.io/api/v1/crates/%s/%s/download", spec.Name, version)
	body, err := f.getBody(ctx, downloadURL)
	if err != nil {
		return nil, errors.FetchFailed("downloading crate for "+spec.Name, err)
	}
	defer body.Close()
	if err := extractTarGz(body, dest, 1); err != nil {
		return nil, errors.FetchFailed("extracting crate for "+spec.Name, err)
	}

	return &Result{Type: "crates", Name: spec.Name, Version: version, RelPath: relPath}, nil
}

// --- git repos ---

func (f *Fetcher) fetchRepo(ctx context.Context, spec *ParsedSpec, modify bool) (*Result, error) {
	relPath := filepath.Join("repos", spec.Host, spec.Owner, spec.Repo)
	dest := filepath.Join(f.dataDir, relPath)
	url := fmt.Sprintf("https://%s/%s/%s.git", spec.Host, spec.Owner, spec.Repo)

	if dirPopulated(dest) {
		if !modify {
			ref, _ := gitCurrentRef(ctx, dest)
			return &Result{Type: "repo", Name: spec.Name, Version: ref, RelPath: relPath, AlreadyExisted: true}, nil
		}
		if err := gitPull(ctx, dest); err != nil {
			return nil, errors.FetchFailed("git pull "+spec.Name, err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, errors.FetchFailed("creating repo parent dir", err)
		}
		if err := gitClone(ctx, url, dest); err != nil {
			return nil, errors.FetchFailed("git clone "+spec.Name, err)
		}
	}

	if spec.Version != "" {
		if err := gitCheckout(ctx, dest, spec.Version); err != nil {
			return nil, errors.FetchFailed("git checkout "+spec.Version, err)
		}
	}

	ref, _ := gitCurrentRef(ctx, dest)
	return &Result{Type: "repo", Name: spec.Name, Version: ref, RelPath: relPath}, nil
}

func gitClone(ctx context.Context, url, dest string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", url, dest)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func gitPull(ctx context.Context, dest string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dest, "pull")
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func gitCheckout(ctx context.Context, dest, ref string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dest, "fetch", "--depth", "1", "origin", ref)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return err
	}
	cmd = exec.CommandContext(ctx, "git", "-C", dest, "checkout", ref)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func gitCurrentRef(ctx context.Context, dest string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dest, "rev-parse", "--short", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// --- helpers ---

func dirPopulated(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func (f *Fetcher) getJSON(ctx context.Context, url string) ([]byte, error) {
	body, err := f.getBody(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func (f *Fetcher) getBody(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	host := rawURL
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	cb := f.breakerFor(host)
	if !cb.Allow() {
		return nil, fmt.Errorf("GET %s: %w (too many recent failures against %s)", rawURL, errors.ErrCircuitOpen, host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "opensrc-fetcher/1.0")
	resp, err := f.client.Do(req)
	if err != nil {
		cb.RecordFailure()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cb.RecordFailure()
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	cb.RecordSuccess()
	return resp.Body, nil
}

// extractTarGz extracts a gzipped tarball into dest, stripping stripLeading
// leading path components from every entry (registry tarballs wrap their
// contents in a single top-level directory such as "package/").
func extractTarGz(r io.Reader, dest string, stripLeading int) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name := stripComponents(hdr.Name, stripLeading)
		if name == "" {
			continue
		}
		target := filepath.Join(dest, name)
		if !isWithin(dest, target) {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

// extractZipStream buffers the zip body (archive/zip needs a ReaderAt) and
// extracts it into dest with the same leading-component stripping.
func extractZipStream(r io.Reader, dest string, stripLeading int) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(strings.NewReader(string(data)), int64(len(data)))
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		name := stripComponents(f.Name, stripLeading)
		if name == "" {
			continue
		}
		target := filepath.Join(dest, name)
		if !isWithin(dest, target) {
			continue
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			src.Close()
			return err
		}
		_, copyErr := io.Copy(out, src)
		src.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func stripComponents(name string, n int) string {
	parts := strings.Split(filepath.ToSlash(name), "/")
	if len(parts) <= n {
		return ""
	}
	return strings.Join(parts[n:], "/")
}

func isWithin(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
