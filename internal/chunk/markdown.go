package chunk

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
)

// MarkdownChunker splits Markdown into one chunk per heading section, plus a
// separate chunk for every fenced code block longer than the configured
// minimum length.
type MarkdownChunker struct{}

var _ Chunker = (*MarkdownChunker)(nil)

// NewMarkdownChunker creates a Markdown chunker.
func NewMarkdownChunker() *MarkdownChunker {
	return &MarkdownChunker{}
}

// SupportedExtensions returns the extensions this chunker handles.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".mdx", ".markdown"}
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
var fenceRe = regexp.MustCompile("^(```|~~~)\\s*([A-Za-z0-9_+-]*)\\s*$")

type heading struct {
	line  int // 1-indexed
	text  string
}

// Chunk splits a Markdown file into heading sections and codeblock chunks.
func (c *MarkdownChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	lines, err := splitLinesKeepEmpty(file.Content)
	if err != nil {
		return nil, fmt.Errorf("reading markdown lines: %w", err)
	}

	headings := findHeadings(lines)
	chunks := sectionChunks(file, lines, headings)
	chunks = append(chunks, codeblockChunks(file, lines)...)

	return chunks, nil
}

func splitLinesKeepEmpty(content []byte) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func findHeadings(lines []string) []heading {
	var headings []heading
	inFence := false
	var fenceMarker string
	for i, line := range lines {
		if m := fenceRe.FindStringSubmatch(line); m != nil {
			if !inFence {
				inFence = true
				fenceMarker = m[1]
			} else if strings.HasPrefix(strings.TrimSpace(line), fenceMarker) {
				inFence = false
			}
			continue
		}
		if inFence {
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			headings = append(headings, heading{line: i + 1, text: m[2]})
		}
	}
	return headings
}

// sectionChunks builds one "section" chunk per heading span: from the
// heading line through the line before the next heading of any level.
// Content preceding the first heading becomes a "preamble" section. A
// heading with nothing but blank lines under it yields no chunk.
func sectionChunks(file *FileInput, lines []string, headings []heading) []*Chunk {
	var chunks []*Chunk

	if len(headings) == 0 || headings[0].line > 1 {
		end := len(lines)
		if len(headings) > 0 {
			end = headings[0].line - 1
		}
		if chunk := makeSection(file, lines, "preamble", 1, end); chunk != nil {
			chunks = append(chunks, chunk)
		}
	}

	for i, h := range headings {
		end := len(lines)
		if i+1 < len(headings) {
			end = headings[i+1].line - 1
		}
		if strings.TrimSpace(strings.Join(lines[h.line:end], "\n")) == "" {
			continue
		}
		if chunk := makeSection(file, lines, h.text, h.line, end); chunk != nil {
			chunks = append(chunks, chunk)
		}
	}

	return chunks
}

func makeSection(file *FileInput, lines []string, identifier string, start, end int) *Chunk {
	if start > end || start < 1 {
		return nil
	}
	content := strings.Join(lines[start-1:end], "\n")
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return &Chunk{
		File:       file.Path,
		Identifier: identifier,
		Kind:       KindSection,
		StartLine:  start,
		EndLine:    end,
		Content:    content,
	}
}

// codeblockChunks emits one chunk per fenced code block whose content
// exceeds MarkdownCodeblockMinChars characters.
func codeblockChunks(file *FileInput, lines []string) []*Chunk {
	var chunks []*Chunk

	var fenceMarker, lang string
	var start int
	inFence := false

	for i, line := range lines {
		if m := fenceRe.FindStringSubmatch(line); m != nil {
			if !inFence {
				inFence = true
				fenceMarker = m[1]
				lang = m[2]
				start = i + 1
				continue
			}
			if strings.HasPrefix(strings.TrimSpace(line), fenceMarker) {
				inFence = false
				end := i + 1
				content := strings.Join(lines[start-1:end], "\n")
				if len(content) > MarkdownCodeblockMinChars {
					langLabel := lang
					if langLabel == "" {
						langLabel = "plain"
					}
					chunks = append(chunks, &Chunk{
						File:       file.Path,
						Identifier: fmt.Sprintf("codeblock_%s_L%d", langLabel, start),
						Kind:       KindCodeblock,
						StartLine:  start,
						EndLine:    end,
						Content:    content,
					})
				}
				continue
			}
		}
	}

	return chunks
}
