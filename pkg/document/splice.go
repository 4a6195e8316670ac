package document

import (
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// span is the byte range of a scalar token in the original text.
type span struct {
	start, end int
}

// locate finds the token for a scalar node in src. It only succeeds
// for single-line plain, single-quoted and double-quoted scalars, and
// only when re-reading the token gives back the node's value.
func locate(src []byte, node *yaml.Node) (span, bool) {
	switch node.Style {
	case 0, yaml.SingleQuotedStyle, yaml.DoubleQuotedStyle:
	default:
		return span{}, false
	}
	start := offsetFor(src, node.Line, node.Column)
	if start < 0 || start >= len(src) {
		return span{}, false
	}
	switch src[start] {
	case '&', '!', '*':
		// anchored or explicitly tagged; rewriting the token would drop that
		return span{}, false
	}

	end := scalarEnd(src, start)
	if scalarValue(src[start:end]) == node.Value {
		return span{start, end}, true
	}
	// A plain scalar inside a flow collection stops at the indicator.
	if node.Style == 0 {
		if i := strings.IndexAny(string(src[start:end]), ",]}"); i > 0 {
			end = trimSpaceLeft(src, start, start+i)
			if scalarValue(src[start:end]) == node.Value {
				return span{start, end}, true
			}
		}
	}
	return span{}, false
}

// patched returns the original text with every located scalar
// replaced by its current value.
func (d *Document) patched() ([]byte, error) {
	type replacement struct {
		span
		token []byte
	}
	var rs []replacement
	for node, sp := range d.spans {
		rs = append(rs, replacement{sp, replacementToken(d.original[sp.start:sp.end], node.Value)})
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].start < rs[j].start })

	out := make([]byte, 0, len(d.original))
	last := 0
	for _, r := range rs {
		out = append(out, d.original[last:r.start]...)
		out = append(out, r.token...)
		last = r.end
	}
	return append(out, d.original[last:]...), nil
}

// offsetFor converts a 1-based line and column, as reported by the
// parser, into a byte offset. Columns count characters, not bytes.
func offsetFor(src []byte, line, column int) int {
	if line <= 0 || column <= 0 {
		return -1
	}
	offset := 0
	for l := 1; l < line; l++ {
		i := indexByteFrom(src, '\n', offset)
		if i < 0 {
			return -1
		}
		offset = i + 1
	}
	for c := 1; c < column; c++ {
		if offset >= len(src) || src[offset] == '\n' {
			return -1
		}
		_, size := utf8.DecodeRune(src[offset:])
		offset += size
	}
	return offset
}

func indexByteFrom(b []byte, c byte, from int) int {
	for i := from; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}

func lineEnd(src []byte, from int) int {
	if i := indexByteFrom(src, '\n', from); i >= 0 {
		if i > from && src[i-1] == '\r' {
			return i - 1
		}
		return i
	}
	return len(src)
}

// scalarEnd returns the end (exclusive) of the scalar token starting
// at pos, looking no further than the end of the line.
func scalarEnd(src []byte, pos int) int {
	le := lineEnd(src, pos)
	switch src[pos] {
	case '\'':
		for i := pos + 1; i < le; i++ {
			if src[i] == '\'' {
				if i+1 < le && src[i+1] == '\'' {
					i++
					continue
				}
				return i + 1
			}
		}
		return le
	case '"':
		for i := pos + 1; i < le; i++ {
			switch src[i] {
			case '\\':
				i++
			case '"':
				return i + 1
			}
		}
		return le
	}
	// plain: a comment starts with whitespace followed by '#'
	end := le
	for i := pos + 1; i < le; i++ {
		if src[i] == '#' && (src[i-1] == ' ' || src[i-1] == '\t') {
			end = i
			break
		}
	}
	return trimSpaceLeft(src, pos, end)
}

func trimSpaceLeft(src []byte, pos, end int) int {
	for end > pos && (src[end-1] == ' ' || src[end-1] == '\t') {
		end--
	}
	return end
}

// scalarValue reads a single token back as YAML. A token that is not
// a lone scalar yields a value no node can have.
func scalarValue(token []byte) string {
	n, ok := scalarNode(token)
	if !ok {
		return "\x00"
	}
	return n.Value
}

func scalarNode(token []byte) (*yaml.Node, bool) {
	var doc yaml.Node
	if err := yaml.Unmarshal(token, &doc); err != nil {
		return nil, false
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.ScalarNode {
		return nil, false
	}
	return doc.Content[0], true
}

// replacementToken renders value in the quoting style of the token it
// replaces. A plain token is kept plain only when the new value would
// still read back as the same string, under YAML 1.1 rules as well as
// 1.2, since Helm reads `yes` and `on` as booleans.
func replacementToken(old []byte, value string) []byte {
	if len(old) > 0 {
		switch old[0] {
		case '\'':
			return []byte("'" + strings.Replace(value, "'", "''", -1) + "'")
		case '"':
			return []byte(doubleQuoted(value))
		}
	}
	if n, ok := scalarNode([]byte(value)); ok && n.Style == 0 && n.Tag == "!!str" && n.Value == value && readsAsString(value) {
		return []byte(value)
	}
	return []byte(doubleQuoted(value))
}

var doubleQuoteEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func doubleQuoted(s string) string {
	return `"` + doubleQuoteEscaper.Replace(s) + `"`
}
