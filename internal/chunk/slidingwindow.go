package chunk

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
)

// SlidingWindowChunker is the fallback strategy for files with no AST or
// Markdown chunker: fixed-size overlapping line windows.
type SlidingWindowChunker struct{}

var _ Chunker = (*SlidingWindowChunker)(nil)

// NewSlidingWindowChunker creates a fallback chunker.
func NewSlidingWindowChunker() *SlidingWindowChunker {
	return &SlidingWindowChunker{}
}

// SupportedExtensions returns nil: the fallback applies to any extension not
// claimed by a more specific chunker.
func (c *SlidingWindowChunker) SupportedExtensions() []string {
	return nil
}

// Chunk partitions a file into WindowLines-line windows overlapping by
// WindowOverlap lines, dropping any window left empty after trimming.
func (c *SlidingWindowChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(file.Content))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading source lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, nil
	}

	step := WindowLines - WindowOverlap
	if step <= 0 {
		step = WindowLines
	}

	var chunks []*Chunk
	for start := 0; start < len(lines); start += step {
		end := start + WindowLines
		if end > len(lines) {
			end = len(lines)
		}

		content := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(content) != "" {
			chunks = append(chunks, &Chunk{
				File:       file.Path,
				Identifier: fmt.Sprintf("lines_%d_%d", start+1, end),
				Kind:       KindWindow,
				StartLine:  start + 1,
				EndLine:    end,
				Content:    content,
			})
		}

		if end == len(lines) {
			break
		}
	}

	return chunks, nil
}
