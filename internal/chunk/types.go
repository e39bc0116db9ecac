package chunk

import "context"

// Sliding-window fallback constants (spec: 50-line windows, 15-line overlap).
const (
	WindowLines   = 50
	WindowOverlap = 15

	// MarkdownCodeblockMinChars is the minimum fenced-code-block length (in
	// characters) for it to become its own chunk.
	MarkdownCodeblockMinChars = 20
)

// Kind enumerates the chunk kinds a strategy may emit.
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindClass     Kind = "class"
	KindInterface Kind = "interface"
	KindType      Kind = "type"
	KindEnum      Kind = "enum"
	KindStruct    Kind = "struct"
	KindTrait     Kind = "trait"
	KindModule    Kind = "mod"
	KindMacro     Kind = "macro"
	KindImpl      Kind = "impl"
	KindVariable  Kind = "variable"
	KindConstant  Kind = "constant"
	KindSection   Kind = "section"
	KindCodeblock Kind = "codeblock"
	KindWindow    Kind = "window"
)

// Chunk is a retrievable unit of source content, identical in shape to the
// store's persisted chunk record minus the source name (attached by the
// indexer, which knows which source it is ingesting).
type Chunk struct {
	File       string // relative to the source root
	Identifier string
	Kind       Kind
	StartLine  int // 1-indexed
	EndLine    int // inclusive
	Content    string
	Parent     string // set for methods (class/impl name); empty otherwise
}

// FileInput is the input to a Chunker.
type FileInput struct {
	Path     string // relative path
	Content  []byte
	Language string // hint; chunkers may ignore it and dispatch by extension
}

// Chunker splits one file into an ordered list of chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)
	SupportedExtensions() []string
}

// Tree represents a parsed AST.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code.
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig holds configuration for a supported language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	FunctionTypes  []string
	ClassTypes     []string
	InterfaceTypes []string
	MethodTypes    []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string

	NameField string
}
