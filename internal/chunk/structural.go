package chunk

import (
	"context"
	"fmt"
	"strings"
)

// StructuralChunker extracts one chunk per top-level declaration using a
// tree-sitter grammar, per the TS-family rules of the chunking spec, and
// (as a supplemented extra) the same walk generalized to Go and Python.
type StructuralChunker struct {
	parser   *Parser
	registry *LanguageRegistry
}

var _ Chunker = (*StructuralChunker)(nil)

// NewStructuralChunker creates a chunker over the default language registry.
func NewStructuralChunker() *StructuralChunker {
	return NewStructuralChunkerWithRegistry(DefaultRegistry())
}

// NewStructuralChunkerWithRegistry creates a chunker over a custom registry.
func NewStructuralChunkerWithRegistry(registry *LanguageRegistry) *StructuralChunker {
	return &StructuralChunker{
		parser:   NewParserWithRegistry(registry),
		registry: registry,
	}
}

// Close releases parser resources.
func (c *StructuralChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns the extensions this chunker's registry covers,
// excluding Rust (which uses its own extraction rules, see rust.go).
func (c *StructuralChunker) SupportedExtensions() []string {
	exts := c.registry.SupportedExtensions()
	result := make([]string, 0, len(exts))
	for _, ext := range exts {
		if ext == ".rs" {
			continue
		}
		result = append(result, ext)
	}
	return result
}

// Chunk splits a file into one chunk per top-level declaration.
func (c *StructuralChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	config, ok := c.registry.GetByName(file.Language)
	if !ok || file.Language == "rust" {
		return nil, fmt.Errorf("unsupported language for structural chunking: %s", file.Language)
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		return nil, err
	}

	var chunks []*Chunk

	switch file.Language {
	case "typescript", "tsx", "javascript", "jsx":
		chunks = chunkTSFamily(tree, file, config)
	default:
		chunks = chunkGeneric(tree, file, config)
	}

	return chunks, nil
}

// chunkTSFamily implements the TS-family AST rules: top-level function
// declarations (named only), variable declarations initialized to an arrow
// function or function expression, classes plus one chunk per method, and
// interface/type-alias/enum declarations.
func chunkTSFamily(tree *Tree, file *FileInput, config *LanguageConfig) []*Chunk {
	var chunks []*Chunk

	for _, n := range tree.Root.Children {
		switch {
		case n.Type == "function_declaration":
			if name := identifierChild(n, tree.Source); name != "" {
				chunks = append(chunks, newChunk(file, KindFunction, name, n, tree.Source, ""))
			}

		case n.Type == "lexical_declaration" || n.Type == "variable_declaration":
			chunks = append(chunks, variableFunctionChunks(n, tree.Source, file)...)

		case n.Type == "class_declaration":
			name := identifierChild(n, tree.Source)
			if name == "" {
				name = typeIdentifierChild(n, tree.Source)
			}
			if name == "" {
				continue
			}
			chunks = append(chunks, newChunk(file, KindClass, name, n, tree.Source, ""))
			chunks = append(chunks, classMethodChunks(n, tree.Source, file, name)...)

		case n.Type == "interface_declaration":
			if name := typeIdentifierChild(n, tree.Source); name != "" {
				chunks = append(chunks, newChunk(file, KindInterface, name, n, tree.Source, ""))
			}

		case n.Type == "type_alias_declaration":
			if name := typeIdentifierChild(n, tree.Source); name != "" {
				chunks = append(chunks, newChunk(file, KindType, name, n, tree.Source, ""))
			}

		case n.Type == "enum_declaration":
			if name := identifierChild(n, tree.Source); name != "" {
				chunks = append(chunks, newChunk(file, KindEnum, name, n, tree.Source, ""))
			}
		}
	}

	return chunks
}

// variableFunctionChunks emits a function chunk for each declarator in a
// const/let/var statement whose initializer is an arrow function or
// function expression. Non-function declarators are skipped.
func variableFunctionChunks(n *Node, source []byte, file *FileInput) []*Chunk {
	var chunks []*Chunk
	for _, child := range n.Children {
		if child.Type != "variable_declarator" {
			continue
		}
		var name string
		var isFunc bool
		for _, gc := range child.Children {
			if gc.Type == "identifier" {
				name = gc.GetContent(source)
			}
			if gc.Type == "arrow_function" || gc.Type == "function" || gc.Type == "function_expression" {
				isFunc = true
			}
		}
		if name != "" && isFunc {
			chunks = append(chunks, newChunk(file, KindFunction, name, n, source, ""))
		}
	}
	return chunks
}

// classMethodChunks emits one chunk per method_definition directly inside a
// class body, with parent set to the class name.
func classMethodChunks(classNode *Node, source []byte, file *FileInput, className string) []*Chunk {
	body := classNode.FindChildByType("class_body")
	if body == nil {
		return nil
	}
	var chunks []*Chunk
	for _, member := range body.Children {
		if member.Type != "method_definition" {
			continue
		}
		name := identifierChild(member, source)
		if name == "" {
			name = propertyIdentifierChild(member, source)
		}
		if name == "" {
			continue
		}
		chunks = append(chunks, newChunk(file, KindMethod, name, member, source, className))
	}
	return chunks
}

// chunkGeneric implements the supplemented Go/Python structural extraction,
// generalized from the TS-family walk using each language's LanguageConfig.
func chunkGeneric(tree *Tree, file *FileInput, config *LanguageConfig) []*Chunk {
	var chunks []*Chunk

	for _, n := range tree.Root.Children {
		switch {
		case containsType(config.FunctionTypes, n.Type):
			if name := genericName(n, source(tree), file.Language); name != "" {
				chunks = append(chunks, newChunk(file, KindFunction, name, n, source(tree), ""))
			}

		case containsType(config.ClassTypes, n.Type):
			name := genericName(n, source(tree), file.Language)
			if name == "" {
				continue
			}
			chunks = append(chunks, newChunk(file, KindClass, name, n, source(tree), ""))
			chunks = append(chunks, genericMethodChunks(n, source(tree), file, name, config)...)

		case containsType(config.TypeDefTypes, n.Type):
			if name := goTypeName(n, source(tree)); name != "" {
				chunks = append(chunks, newChunk(file, KindType, name, n, source(tree), ""))
			}

		case containsType(config.ConstantTypes, n.Type):
			if name := goSpecName(n, source(tree), "const_spec"); name != "" {
				chunks = append(chunks, newChunk(file, KindConstant, name, n, source(tree), ""))
			}

		case containsType(config.VariableTypes, n.Type):
			if name := genericName(n, source(tree), file.Language); name != "" {
				chunks = append(chunks, newChunk(file, KindVariable, name, n, source(tree), ""))
			}

		case containsType(config.MethodTypes, n.Type):
			if name := genericName(n, source(tree), file.Language); name != "" {
				chunks = append(chunks, newChunk(file, KindMethod, name, n, source(tree), ""))
			}
		}
	}

	return chunks
}

func source(t *Tree) []byte { return t.Source }

// genericMethodChunks finds method-kind children nested under a class/struct
// body (Python: function_definition inside the class's block).
func genericMethodChunks(classNode *Node, src []byte, file *FileInput, className string, config *LanguageConfig) []*Chunk {
	var chunks []*Chunk
	block := classNode.FindChildByType("block")
	if block == nil {
		return nil
	}
	for _, member := range block.Children {
		if member.Type != "function_definition" {
			continue
		}
		name := identifierChild(member, src)
		if name == "" {
			continue
		}
		chunks = append(chunks, newChunk(file, KindMethod, name, member, src, className))
	}
	return chunks
}

func containsType(types []string, t string) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func genericName(n *Node, source []byte, language string) string {
	switch language {
	case "go":
		return identifierOrFieldIdentifier(n, source)
	default:
		return identifierChild(n, source)
	}
}

func identifierOrFieldIdentifier(n *Node, source []byte) string {
	if name := identifierChild(n, source); name != "" {
		return name
	}
	for _, child := range n.Children {
		if child.Type == "field_identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

func goTypeName(n *Node, source []byte) string {
	for _, child := range n.Children {
		if child.Type == "type_spec" {
			for _, gc := range child.Children {
				if gc.Type == "type_identifier" {
					return gc.GetContent(source)
				}
			}
		}
	}
	return ""
}

func goSpecName(n *Node, source []byte, specType string) string {
	for _, child := range n.Children {
		if child.Type == specType {
			for _, gc := range child.Children {
				if gc.Type == "identifier" {
					return gc.GetContent(source)
				}
			}
		}
	}
	return ""
}

func identifierChild(n *Node, source []byte) string {
	for _, child := range n.Children {
		if child.Type == "identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

func typeIdentifierChild(n *Node, source []byte) string {
	for _, child := range n.Children {
		if child.Type == "type_identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

func propertyIdentifierChild(n *Node, source []byte) string {
	for _, child := range n.Children {
		if child.Type == "property_identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

// newChunk builds a Chunk from an AST node, taking content verbatim from the
// source slice so the chunk/content-equals-file-slice invariant holds.
func newChunk(file *FileInput, kind Kind, identifier string, n *Node, source []byte, parent string) *Chunk {
	// Start at the beginning of the node's first line so indented nodes
	// (methods) keep their leading whitespace.
	start := n.StartByte
	for start > 0 && int(start) <= len(source) && source[start-1] != '\n' {
		start--
	}
	content := ""
	if n.EndByte > start && int(n.EndByte) <= len(source) {
		content = string(source[start:n.EndByte])
	}
	return &Chunk{
		File:       file.Path,
		Identifier: identifier,
		Kind:       kind,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		Content:    strings.TrimRight(content, "\n"),
		Parent:     parent,
	}
}
