package chunk

import (
	"context"
	"fmt"
	"strings"
)

// RustChunker extracts one chunk per top-level Rust item: functions,
// structs, enums, traits, modules, macros, and impl blocks (plus one method
// chunk per function nested in an impl block, parented to the impl).
type RustChunker struct {
	parser   *Parser
	registry *LanguageRegistry
}

var _ Chunker = (*RustChunker)(nil)

// NewRustChunker creates a chunker using the default language registry.
func NewRustChunker() *RustChunker {
	return NewRustChunkerWithRegistry(DefaultRegistry())
}

// NewRustChunkerWithRegistry creates a chunker using a custom registry.
func NewRustChunkerWithRegistry(registry *LanguageRegistry) *RustChunker {
	return &RustChunker{
		parser:   NewParserWithRegistry(registry),
		registry: registry,
	}
}

// Close releases parser resources.
func (c *RustChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns the extensions handled by this chunker.
func (c *RustChunker) SupportedExtensions() []string {
	return []string{".rs"}
}

// Chunk splits a Rust source file into item-level chunks.
func (c *RustChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	tree, err := c.parser.Parse(ctx, file.Content, "rust")
	if err != nil {
		return nil, fmt.Errorf("parsing rust source: %w", err)
	}

	var chunks []*Chunk
	for _, n := range tree.Root.Children {
		switch n.Type {
		case "function_item":
			if name := identifierChild(n, tree.Source); name != "" {
				chunks = append(chunks, newChunk(file, KindFunction, name, n, tree.Source, ""))
			}

		case "struct_item":
			if name := typeIdentifierChild(n, tree.Source); name != "" {
				chunks = append(chunks, newChunk(file, KindStruct, name, n, tree.Source, ""))
			}

		case "enum_item":
			if name := typeIdentifierChild(n, tree.Source); name != "" {
				chunks = append(chunks, newChunk(file, KindEnum, name, n, tree.Source, ""))
			}

		case "trait_item":
			if name := typeIdentifierChild(n, tree.Source); name != "" {
				chunks = append(chunks, newChunk(file, KindTrait, name, n, tree.Source, ""))
			}

		case "mod_item":
			if name := identifierChild(n, tree.Source); name != "" {
				chunks = append(chunks, newChunk(file, KindModule, name, n, tree.Source, ""))
			}

		case "macro_definition":
			if name := identifierChild(n, tree.Source); name != "" {
				chunks = append(chunks, newChunk(file, KindMacro, name, n, tree.Source, ""))
			}

		case "impl_item":
			chunks = append(chunks, implChunks(n, tree.Source, file)...)
		}
	}

	return chunks, nil
}

// implChunks emits one chunk for the whole impl block, identified "impl T"
// or "impl Trait for T", plus one method chunk per nested function_item
// with parent set to that same identifier.
func implChunks(n *Node, source []byte, file *FileInput) []*Chunk {
	identifier := implIdentifier(n, source)
	if identifier == "" {
		return nil
	}

	chunks := []*Chunk{newChunk(file, KindImpl, identifier, n, source, "")}

	body := n.FindChildByType("declaration_list")
	if body == nil {
		return chunks
	}
	for _, member := range body.Children {
		if member.Type != "function_item" {
			continue
		}
		name := identifierChild(member, source)
		if name == "" {
			continue
		}
		chunks = append(chunks, newChunk(file, KindMethod, name, member, source, identifier))
	}

	return chunks
}

// implIdentifier builds "impl T" or "impl Trait for T" from an impl_item's
// type children: the first type_identifier is the trait when a second
// follows ("for"), otherwise it is the sole target type.
func implIdentifier(n *Node, source []byte) string {
	var types []string
	for _, child := range n.Children {
		if child.Type == "type_identifier" || child.Type == "generic_type" {
			types = append(types, child.GetContent(source))
		}
	}

	switch len(types) {
	case 0:
		return ""
	case 1:
		return "impl " + types[0]
	default:
		return "impl " + strings.Join([]string{types[0], "for", types[len(types)-1]}, " ")
	}
}
