package chunk

import (
	"context"
	"path/filepath"
	"strings"
)

// languageByExtension maps an extension to the tree-sitter language name
// used by StructuralChunker/RustChunker, mirroring LanguageRegistry's
// extension table without needing a registry lookup at dispatch time.
var languageByExtension = map[string]string{
	".ts":  "typescript",
	".mts": "typescript",
	".cts": "typescript",
	".tsx": "tsx",
	".js":  "javascript",
	".mjs": "javascript",
	".cjs": "javascript",
	".jsx": "jsx",
	".rs":  "rust",
	".go":  "go",
	".py":  "python",
}

var markdownExtensions = map[string]bool{
	".md":       true,
	".mdx":      true,
	".markdown": true,
}

// DispatchChunker routes each file to a strategy by extension: the TS
// family and the Go/Python supplements go through StructuralChunker, Rust
// goes through RustChunker, Markdown goes through MarkdownChunker, and
// everything else falls back to SlidingWindowChunker.
type DispatchChunker struct {
	structural *StructuralChunker
	rust       *RustChunker
	markdown   *MarkdownChunker
	fallback   *SlidingWindowChunker
}

var _ Chunker = (*DispatchChunker)(nil)

// NewDispatchChunker builds the full chunking pipeline over the default
// language registry.
func NewDispatchChunker() *DispatchChunker {
	return NewDispatchChunkerWithRegistry(DefaultRegistry())
}

// NewDispatchChunkerWithRegistry builds the pipeline over a custom registry.
func NewDispatchChunkerWithRegistry(registry *LanguageRegistry) *DispatchChunker {
	return &DispatchChunker{
		structural: NewStructuralChunkerWithRegistry(registry),
		rust:       NewRustChunkerWithRegistry(registry),
		markdown:   NewMarkdownChunker(),
		fallback:   NewSlidingWindowChunker(),
	}
}

// Close releases parser resources held by the AST-based strategies.
func (d *DispatchChunker) Close() {
	d.structural.Close()
	d.rust.Close()
}

// SupportedExtensions returns every extension the pipeline recognizes as
// something other than the fallback.
func (d *DispatchChunker) SupportedExtensions() []string {
	exts := make([]string, 0, len(languageByExtension)+len(markdownExtensions))
	for ext := range languageByExtension {
		exts = append(exts, ext)
	}
	for ext := range markdownExtensions {
		exts = append(exts, ext)
	}
	return exts
}

// Chunk dispatches a file to the appropriate strategy by its extension.
func (d *DispatchChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	ext := strings.ToLower(filepath.Ext(file.Path))

	if markdownExtensions[ext] {
		return d.markdown.Chunk(ctx, file)
	}

	if lang, ok := languageByExtension[ext]; ok {
		input := &FileInput{Path: file.Path, Content: file.Content, Language: lang}
		if lang == "rust" {
			return d.rust.Chunk(ctx, input)
		}
		return d.structural.Chunk(ctx, input)
	}

	return d.fallback.Chunk(ctx, file)
}
