package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// allowedExtensions are the only file suffixes the IndexEngine chunks;
// everything else is skipped during enumeration.
var allowedExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".mts": true, ".cts": true, ".mjs": true, ".cjs": true,
	".rs": true, ".md": true, ".mdx": true, ".markdown": true,
}

// ignoredDirs are directory names skipped entirely during the walk.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"out":          true,
	"target":       true,
	".next":        true,
}

// ignoredFileSuffixes match against the base name.
var ignoredFileSuffixes = []string{".d.ts", ".min.js"}

// ignoredFileNames are exact base-name matches.
var ignoredFileNames = map[string]bool{
	"CHANGELOG.md": true,
	"HISTORY.md":   true,
}

// EnumerateFiles walks root and returns every file whose extension is on
// the allow list and whose path does not fall under an ignored directory
// or match an ignored file name/suffix, per the source indexing allow/ignore
// rule.
func EnumerateFiles(root string) ([]*FileInfo, error) {
	var files []*FileInfo

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		if info.IsDir() {
			if relPath != "." && ignoredDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		if !isAllowed(info.Name()) {
			return nil
		}

		files = append(files, &FileInfo{
			Path:    filepath.ToSlash(relPath),
			AbsPath: path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func isAllowed(name string) bool {
	if ignoredFileNames[name] {
		return false
	}
	for _, suffix := range ignoredFileSuffixes {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	return allowedExtensions[filepath.Ext(name)]
}
