package query

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/opensrc-dev/opensrc/internal/chunk"
)

// AstGrepMatch is one structural-pattern hit.
type AstGrepMatch struct {
	File      string            `json:"file"`
	Line      int               `json:"line"`
	Column    int               `json:"column"`
	EndLine   int               `json:"endLine"`
	EndColumn int               `json:"endColumn"`
	Text      string            `json:"text"`
	Metavars  map[string]string `json:"metavars"`
}

// langByExt maps an astGrep glob-matched file extension to the
// tree-sitter language name its content is parsed as.
var langByExt = map[string]string{
	".ts": "typescript", ".mts": "typescript", ".cts": "typescript",
	".tsx": "tsx", ".js": "javascript", ".mjs": "javascript",
	".cjs": "javascript", ".jsx": "jsx", ".rs": "rust",
	".go": "go", ".py": "python",
}

// placeholderInfo is what a substituted identifier token stands for in
// the original pattern text: a single-node capture ($NAME) or a
// variadic, zero-or-more-node capture ($$$NAME).
type placeholderInfo struct {
	name     string
	variadic bool
}

var (
	variadicPlaceholderRe = regexp.MustCompile(`\$\$\$([A-Za-z_][A-Za-z0-9_]*)`)
	singlePlaceholderRe   = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// substitutePlaceholders rewrites $NAME/$$$NAME metavariable tokens into
// ordinary identifier tokens, so the pattern parses as real source in the
// target grammar instead of being matched as a flat token stream. The
// returned map recovers the original metavariable name (and whether it
// was a variadic capture) from each substituted identifier's text.
func substitutePlaceholders(pattern string) (string, map[string]placeholderInfo) {
	placeholders := make(map[string]placeholderInfo)
	counter := 0
	out := variadicPlaceholderRe.ReplaceAllStringFunc(pattern, func(m string) string {
		name := variadicPlaceholderRe.FindStringSubmatch(m)[1]
		token := fmt.Sprintf("Qastgrepvar%d", counter)
		counter++
		placeholders[token] = placeholderInfo{name: name, variadic: true}
		return token
	})
	out = singlePlaceholderRe.ReplaceAllStringFunc(out, func(m string) string {
		name := singlePlaceholderRe.FindStringSubmatch(m)[1]
		token := fmt.Sprintf("Qastgrepvar%d", counter)
		counter++
		placeholders[token] = placeholderInfo{name: name, variadic: false}
		return token
	})
	return out, placeholders
}

// compiledPattern is a pattern parsed into real AST nodes for one
// language, with the placeholder lookup needed to recognize metavariable
// positions inside that tree.
type compiledPattern struct {
	nodes        []*chunk.Node
	src          []byte
	placeholders map[string]placeholderInfo
}

// compilePatternForLang substitutes pattern's metavariables with plain
// identifiers and parses the result in lang, so the pattern is matched as
// a real syntax tree fragment rather than a token sequence.
func compilePatternForLang(ctx context.Context, pattern, lang string) (*compiledPattern, error) {
	substituted, placeholders := substitutePlaceholders(pattern)

	parser := chunk.NewParser()
	defer parser.Close()
	tree, err := parser.Parse(ctx, []byte(substituted), lang)
	if err != nil {
		return nil, err
	}
	return &compiledPattern{nodes: tree.Root.Children, src: tree.Source, placeholders: placeholders}, nil
}

// matcher holds the per-attempt state (captured metavariables) for
// matching a compiled pattern's node sequence against one candidate
// position in a file's parsed tree.
type matcher struct {
	patSrc       []byte
	fileSrc      []byte
	placeholders map[string]placeholderInfo
	vars         map[string]string
}

func (m *matcher) patText(n *chunk.Node) string  { return string(m.patSrc[n.StartByte:n.EndByte]) }
func (m *matcher) fileText(n *chunk.Node) string { return string(m.fileSrc[n.StartByte:n.EndByte]) }

// placeholderOf reports whether pat stands for a metavariable capture.
// It unwraps single-child statement/expression wrapper nodes (e.g. the
// expression_statement a grammar inserts around a bare identifier) so a
// placeholder can occupy a whole-statement position, not only a leaf
// token position.
func (m *matcher) placeholderOf(pat *chunk.Node) (placeholderInfo, bool) {
	cur := pat
	for {
		if len(cur.Children) == 0 {
			info, ok := m.placeholders[m.patText(cur)]
			return info, ok
		}
		if len(cur.Children) != 1 {
			return placeholderInfo{}, false
		}
		cur = cur.Children[0]
	}
}

// matchNode matches one pattern node against one file node: a capture
// placeholder matches any node, a literal leaf requires identical text,
// and any other node requires the same node type plus a full structural
// match of its children. Recursing through Children rather than a flat
// token run is what keeps nested delimiters (braces, parens) balanced
// automatically: a block's inner tokens are its own node's children,
// never flattened into the surrounding sequence.
func (m *matcher) matchNode(pat, file *chunk.Node) bool {
	if info, ok := m.placeholderOf(pat); ok && !info.variadic {
		m.vars[info.name] = m.fileText(file)
		return true
	}
	if pat.Type != file.Type {
		return false
	}
	if len(pat.Children) == 0 {
		if len(file.Children) != 0 {
			return false
		}
		return m.patText(pat) == m.fileText(file)
	}
	end, ok := m.matchSeq(pat.Children, file.Children, 0)
	return ok && end == len(file.Children)
}

// matchSeq matches pat in full, in order, against file starting at
// index start, returning the file index just past what was consumed.
// A variadic element tries every possible run length (shortest first)
// until the remainder of the pattern matches what follows.
func (m *matcher) matchSeq(pat []*chunk.Node, file []*chunk.Node, start int) (int, bool) {
	if len(pat) == 0 {
		return start, true
	}
	head, rest := pat[0], pat[1:]

	if info, ok := m.placeholderOf(head); ok {
		if info.variadic {
			for count := 0; start+count <= len(file); count++ {
				snapshot := m.snapshot()
				if end, ok := m.matchSeq(rest, file, start+count); ok {
					m.vars[info.name] = m.joinTexts(file[start : start+count])
					return end, true
				}
				m.restore(snapshot)
			}
			return start, false
		}
		if start >= len(file) {
			return start, false
		}
		m.vars[info.name] = m.fileText(file[start])
		return m.matchSeq(rest, file, start+1)
	}

	if start >= len(file) {
		return start, false
	}
	if !m.matchNode(head, file[start]) {
		return start, false
	}
	return m.matchSeq(rest, file, start+1)
}

func (m *matcher) joinTexts(nodes []*chunk.Node) string {
	var parts []string
	for _, n := range nodes {
		if n.Type == "," {
			continue
		}
		parts = append(parts, m.fileText(n))
	}
	return strings.Join(parts, ", ")
}

func (m *matcher) snapshot() map[string]string {
	cp := make(map[string]string, len(m.vars))
	for k, v := range m.vars {
		cp[k] = v
	}
	return cp
}

func (m *matcher) restore(snapshot map[string]string) {
	for k := range m.vars {
		delete(m.vars, k)
	}
	for k, v := range snapshot {
		m.vars[k] = v
	}
}

// searchTree walks every node of tree, and at each one tries the
// compiled pattern's node sequence against every possible run of that
// node's children, yielding one match per successful run. This finds
// matches at any nesting depth without ever degrading to a flat scan of
// the file's tokens.
func searchTree(file string, tree *chunk.Tree, cp *compiledPattern, limit int) []AstGrepMatch {
	if limit <= 0 || len(cp.nodes) == 0 {
		return nil
	}

	var out []AstGrepMatch
	tree.Root.Walk(func(n *chunk.Node) bool {
		if len(out) >= limit {
			return false
		}
		children := n.Children
		for start := 0; start <= len(children); start++ {
			m := &matcher{patSrc: cp.src, fileSrc: tree.Source, placeholders: cp.placeholders, vars: map[string]string{}}
			end, ok := m.matchSeq(cp.nodes, children, start)
			if ok && end > start {
				startNode, endNode := children[start], children[end-1]
				out = append(out, AstGrepMatch{
					File:      file,
					Line:      int(startNode.StartPoint.Row) + 1,
					Column:    int(startNode.StartPoint.Column) + 1,
					EndLine:   int(endNode.EndPoint.Row) + 1,
					EndColumn: int(endNode.EndPoint.Column) + 1,
					Text:      string(tree.Source[startNode.StartByte:endNode.EndByte]),
					Metavars:  m.vars,
				})
				if len(out) >= limit {
					return false
				}
			}
		}
		return true
	})
	return out
}

// AstGrep matches pattern against every glob-matched file under source,
// skipping files (and languages the pattern itself fails to parse as) in
// an unrecognized or unparseable language, and short-circuits at
// opts.Limit (default 1000). The pattern is parsed into the same
// tree-sitter grammar as each candidate file and matched structurally
// against that file's own parsed tree, per spec §4.6.
func (p *Planner) AstGrep(ctx context.Context, source, pattern string, opts AstGrepOptions) ([]AstGrepMatch, error) {
	glob := opts.Glob
	if glob == "" {
		glob = "**/*"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}

	entries, err := p.files.Files(source, glob)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	langs := normalizeLangFilter(opts.Lang)
	compiled := make(map[string]*compiledPattern)

	var out []AstGrepMatch
	for _, e := range entries {
		if e.IsDirectory || len(out) >= limit {
			continue
		}
		ext := extOf(e.Path)
		lang, known := langByExt[ext]
		if !known {
			continue
		}
		if len(langs) > 0 && !langs[lang] {
			continue
		}

		content, err := p.files.Read(source, e.Path)
		if err != nil {
			continue
		}

		cp, seen := compiled[lang]
		if !seen {
			cp, err = compilePatternForLang(ctx, pattern, lang)
			if err != nil {
				cp = nil
			}
			compiled[lang] = cp
		}
		if cp == nil {
			continue
		}

		parser := chunk.NewParser()
		tree, parseErr := parser.Parse(ctx, []byte(content), lang)
		parser.Close()
		if parseErr != nil {
			continue
		}

		remaining := limit - len(out)
		out = append(out, searchTree(e.Path, tree, cp, remaining)...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AstGrepOptions configures AstGrep.
type AstGrepOptions struct {
	Glob  string
	Lang  []string // caller override; empty means infer from extension
	Limit int
}

func normalizeLangFilter(langs []string) map[string]bool {
	if len(langs) == 0 {
		return nil
	}
	set := make(map[string]bool, len(langs))
	for _, l := range langs {
		set[strings.ToLower(l)] = true
	}
	return set
}

func extOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[i:])
}
