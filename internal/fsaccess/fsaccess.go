// Package fsaccess implements FileAccess: path-traversal-safe reads and
// globs rooted at a single source's directory, plus the regex grep used
// by both the agent-facing grep verb and the QueryPlanner.
package fsaccess

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opensrc-dev/opensrc/internal/errors"
)

// defaultIgnoreGlobs are excluded from every enumeration (files, tree,
// readMany globs).
var defaultIgnoreGlobs = []string{
	"**/node_modules/**",
	"**/.git/**",
}

// grepIgnoreGlobs additionally excludes minified bundles from grep.
var grepIgnoreGlobs = append(append([]string{}, defaultIgnoreGlobs...), "**/*.min.js")

const (
	defaultMaxResults = 100
	maxGrepLineChars  = 200
)

// SourceResolver maps a registered source name to its on-disk root.
type SourceResolver interface {
	ResolvePath(name string) (string, error)
}

// FileAccess provides the sandboxed filesystem operations exposed to the
// agent: files, read, readMany, tree, and grep.
type FileAccess struct {
	sources SourceResolver
}

// New returns a FileAccess that resolves source roots through sources.
func New(sources SourceResolver) *FileAccess {
	return &FileAccess{sources: sources}
}

// FileEntry is one result of Files/Tree enumeration.
type FileEntry struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	IsDirectory bool   `json:"isDirectory"`
}

// TreeNode is one node of a directory tree, as returned by Tree.
type TreeNode struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"` // "file" | "dir"
	Children []*TreeNode `json:"children,omitempty"`
}

// GrepResult is one grep match.
type GrepResult struct {
	Source  string `json:"source"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// GrepOptions configures Grep.
type GrepOptions struct {
	Sources    []string // restrict to these sources; empty means all
	Include    string   // glob filter on file path; empty means all
	MaxResults int      // default 100
}

// resolveSafe resolves rel against the source's root and rejects any
// result that escapes it. The lexical join is checked first (trailing
// separator so "/foo" is never confused with "/foobar"), then both root
// and the resolved path are passed through filepath.EvalSymlinks and the
// containment check is repeated against the symlink-resolved forms: a
// symlink living inside the source directory but pointing outside it has
// a clean-looking path string, so the lexical check alone would let it
// through and os.ReadFile would follow it past the root.
func (fa *FileAccess) resolveSafe(source, rel string) (root, abs string, err error) {
	root, err = fa.sources.ResolvePath(source)
	if err != nil {
		return "", "", err
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return "", "", err
	}
	abs = filepath.Join(root, rel)
	abs, err = filepath.Abs(abs)
	if err != nil {
		return "", "", err
	}

	rootWithSep := root + string(filepath.Separator)
	if abs != root && !strings.HasPrefix(abs+string(filepath.Separator), rootWithSep) {
		return "", "", errors.PathTraversal(rel)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", "", errors.NotFound(source)
	}
	realAbs, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing on disk to follow yet; the lexical check already
			// guarded this path.
			return realRoot, abs, nil
		}
		return "", "", err
	}

	realRootWithSep := realRoot + string(filepath.Separator)
	if realAbs != realRoot && !strings.HasPrefix(realAbs+string(filepath.Separator), realRootWithSep) {
		return "", "", errors.PathTraversal(rel)
	}
	return realRoot, realAbs, nil
}

// Files lists every file under source matching glob (default "**/*"),
// minus the default ignore set.
func (fa *FileAccess) Files(source, glob string) ([]FileEntry, error) {
	if glob == "" {
		glob = "**/*"
	}
	root, err := fa.sources.ResolvePath(source)
	if err != nil {
		return nil, err
	}

	var out []FileEntry
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if matchesAny(rel, defaultIgnoreGlobs) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		matched, _ := doublestar.Match(glob, rel)
		if !matched {
			return nil
		}
		out = append(out, FileEntry{Path: rel, Size: info.Size(), IsDirectory: info.IsDir()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Read returns the content of a single file, rooted and traversal-checked
// against source's directory.
func (fa *FileAccess) Read(source, path string) (string, error) {
	_, abs, err := fa.resolveSafe(source, path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", errors.New(errors.ErrCodeFileReadError, fmt.Sprintf("reading %s: %s", path, err), err)
	}
	return string(data), nil
}

// ReadMany reads a mix of literal paths and glob patterns, expanding globs
// against the source root first. Per-path failures are recorded as a
// placeholder string rather than aborting the whole call.
func (fa *FileAccess) ReadMany(source string, pathsOrGlobs []string) (map[string]string, error) {
	root, err := fa.sources.ResolvePath(source)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	for _, p := range pathsOrGlobs {
		if isGlobPattern(p) {
			matches, err := doublestar.Glob(os.DirFS(root), p)
			if err != nil {
				out[p] = fmt.Sprintf("[Error: %s]", err)
				continue
			}
			for _, m := range matches {
				if matchesAny(m, defaultIgnoreGlobs) {
					continue
				}
				out[m] = fa.readOrMarker(source, m)
			}
			continue
		}
		out[p] = fa.readOrMarker(source, p)
	}
	return out, nil
}

func (fa *FileAccess) readOrMarker(source, path string) string {
	content, err := fa.Read(source, path)
	if err != nil {
		return fmt.Sprintf("[Error: %s]", err)
	}
	return content
}

func isGlobPattern(p string) bool {
	return strings.ContainsAny(p, "*?[")
}

// Tree builds a nested directory tree under source, bounded to depth
// levels (0 means unbounded), optionally filtered by pattern.
func (fa *FileAccess) Tree(source string, depth int, pattern string) (*TreeNode, error) {
	root, err := fa.sources.ResolvePath(source)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.NotFound(source)
	}
	node := &TreeNode{Name: filepath.Base(root), Type: "dir"}
	if err := fa.buildTree(node, root, "", 0, depth, pattern); err != nil {
		return nil, err
	}
	_ = info
	return node, nil
}

func (fa *FileAccess) buildTree(node *TreeNode, root, relDir string, level, maxDepth int, pattern string) error {
	if maxDepth > 0 && level >= maxDepth {
		return nil
	}
	entries, err := os.ReadDir(filepath.Join(root, relDir))
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		relPath := filepath.ToSlash(filepath.Join(relDir, entry.Name()))
		if matchesAny(relPath, defaultIgnoreGlobs) {
			continue
		}
		if entry.IsDir() {
			child := &TreeNode{Name: entry.Name(), Type: "dir"}
			if err := fa.buildTree(child, root, filepath.Join(relDir, entry.Name()), level+1, maxDepth, pattern); err != nil {
				return err
			}
			if len(child.Children) > 0 || pattern == "" {
				node.Children = append(node.Children, child)
			}
			continue
		}
		if pattern != "" {
			if matched, _ := doublestar.Match(pattern, relPath); !matched {
				continue
			}
		}
		node.Children = append(node.Children, &TreeNode{Name: entry.Name(), Type: "file"})
	}
	return nil
}

// Grep compiles pattern as a case-insensitive regex and scans every
// candidate file (filtered by opts.Sources/opts.Include, minus the grep
// ignore set) line by line, short-circuiting once opts.MaxResults matches
// have been produced.
func (fa *FileAccess) Grep(pattern string, opts GrepOptions, allSources func() []string) ([]GrepResult, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid grep pattern: %w", err)
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	sources := opts.Sources
	if len(sources) == 0 {
		sources = allSources()
	}

	var results []GrepResult
	for _, source := range sources {
		root, err := fa.sources.ResolvePath(source)
		if err != nil {
			continue
		}
		err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil || len(results) >= maxResults {
				if len(results) >= maxResults {
					return filepath.SkipAll
				}
				return walkErr
			}
			if info.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if matchesAny(rel, grepIgnoreGlobs) {
				return nil
			}
			if opts.Include != "" {
				if matched, _ := doublestar.Match(opts.Include, rel); !matched {
					return nil
				}
			}
			fa.grepFile(source, rel, path, re, maxResults, &results)
			return nil
		})
		if err != nil && err != filepath.SkipAll {
			continue
		}
		if len(results) >= maxResults {
			break
		}
	}
	return results, nil
}

func (fa *FileAccess) grepFile(source, relPath, absPath string, re *regexp.Regexp, maxResults int, results *[]GrepResult) {
	f, err := os.Open(absPath)
	if err != nil {
		return // unreadable files skipped silently
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		content := strings.TrimSpace(line)
		if len(content) > maxGrepLineChars {
			content = content[:maxGrepLineChars]
		}
		*results = append(*results, GrepResult{Source: source, File: relPath, Line: lineNo, Content: content})
		if len(*results) >= maxResults {
			return
		}
	}
}

func matchesAny(relPath string, globs []string) bool {
	for _, g := range globs {
		if matched, _ := doublestar.Match(g, relPath); matched {
			return true
		}
	}
	return false
}
