package fsaccess

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opensrcerrors "github.com/opensrc-dev/opensrc/internal/errors"
)

// fakeResolver resolves a single source name to a fixed on-disk root, for
// tests that don't need a real registry.
type fakeResolver struct {
	roots map[string]string
}

func (r *fakeResolver) ResolvePath(name string) (string, error) {
	root, ok := r.roots[name]
	if !ok {
		return "", opensrcerrors.NotFound(name)
	}
	return root, nil
}

func newTestSource(t *testing.T) (*FileAccess, string) {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# hello\nexport keyword appears here\n"), 0o644))

	fa := New(&fakeResolver{roots: map[string]string{"demo": root}})
	return fa, root
}

func TestFileAccess_Read_RejectsPathTraversal(t *testing.T) {
	fa, _ := newTestSource(t)

	tests := []struct {
		name string
		path string
	}{
		{"parent escape", "../../../etc/passwd"},
		{"parent escape via subdir", "src/../../outside.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fa.Read("demo", tt.path)
			require.Error(t, err)
			var opensrcErr *opensrcerrors.OpenSrcError
			require.ErrorAs(t, err, &opensrcErr)
			assert.Equal(t, opensrcerrors.ErrCodePathTraversal, opensrcErr.Code)
		})
	}
}

func TestFileAccess_Read_AllowsPathsInsideRoot(t *testing.T) {
	fa, _ := newTestSource(t)

	content, err := fa.Read("demo", "src/main.go")
	require.NoError(t, err)
	assert.Contains(t, content, "func main()")
}

func TestFileAccess_Read_NoTraversalFalsePositiveOnPrefixSibling(t *testing.T) {
	// A root of ".../demo" must not reject a path that legitimately
	// resolves under ".../demo/sub" just because "demo" is a string
	// prefix of some sibling "demo-other" directory.
	parent := t.TempDir()
	root := filepath.Join(parent, "demo")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "f.txt"), []byte("ok"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(parent, "demo-other"), 0o755))

	fa := New(&fakeResolver{roots: map[string]string{"demo": root}})
	content, err := fa.Read("demo", "sub/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
}

func TestFileAccess_Files_ExcludesDefaultIgnores(t *testing.T) {
	fa, root := newTestSource(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg", "index.js"), []byte("ignored"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ignored"), 0o644))

	entries, err := fa.Files("demo", "**/*")
	require.NoError(t, err)

	for _, e := range entries {
		assert.NotContains(t, e.Path, "node_modules")
		assert.NotContains(t, e.Path, ".git")
	}
}

func TestFileAccess_ReadMany_MixesLiteralsAndGlobsWithErrorMarkers(t *testing.T) {
	fa, _ := newTestSource(t)

	out, err := fa.ReadMany("demo", []string{"src/main.go", "src/*.go", "does/not/exist.txt"})
	require.NoError(t, err)

	assert.Contains(t, out["src/main.go"], "func main()")
	assert.Contains(t, out["does/not/exist.txt"], "[Error:")
}

func TestFileAccess_Grep_CaseInsensitiveAndShortCircuits(t *testing.T) {
	fa, root := newTestSource(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "file"+string(rune('a'+i))+".ts"),
			[]byte("export const x = 1\nexport const y = 2\n"), 0o644))
	}

	results, err := fa.Grep("EXPORT", GrepOptions{MaxResults: 5, Include: "*.ts"}, func() []string { return []string{"demo"} })
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestFileAccess_Grep_TruncatesLongLines(t *testing.T) {
	fa, root := newTestSource(t)
	padding := ""
	for i := 0; i < 400; i++ {
		padding += "x"
	}
	long := "export const blob = \"" + padding + "\""
	require.NoError(t, os.WriteFile(filepath.Join(root, "long.ts"), []byte(long), 0o644))

	results, err := fa.Grep("export", GrepOptions{Include: "long.ts"}, func() []string { return []string{"demo"} })
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.LessOrEqual(t, len(results[0].Content), maxGrepLineChars)
}
