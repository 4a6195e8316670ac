// Package document holds a YAML configuration file as both its
// original bytes and a parsed node tree, so that scalar values can be
// rewritten without disturbing anything else in the file.
package document

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	fluxerr "github.com/fluxcd/tagbot/pkg/errors"
	"github.com/fluxcd/tagbot/pkg/yamlpath"
)

// ParseError is returned when the source text cannot be parsed. Line
// and Column are 1-based, and zero when the parser did not report a
// position.
type ParseError struct {
	Name   string
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	loc := e.Name
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
		if e.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, e.Column)
		}
	}
	return fmt.Sprintf("parsing %s: %s", loc, e.Err)
}

// UserError wraps the parse error for display to the user.
func (e *ParseError) UserError() *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  e,
		Help: `The configuration file could not be parsed:

    ` + e.Error() + `

Nothing was changed. Fix the file at the location above and run again.
`,
	}
}

var lineRegexp = regexp.MustCompile(`line (\d+)(?:, column (\d+))?`)

// Document is a parsed configuration file. The zero value is not
// usable; construct one with Parse.
type Document struct {
	name     string
	original []byte
	root     yaml.Node
	spans    map[*yaml.Node]span
	edits    []edit
	reencode bool
}

type edit struct {
	path  yamlpath.Path
	value string
}

// Parse parses the given YAML (or JSON) text. The name is used only
// when reporting errors.
func Parse(name string, text []byte) (*Document, error) {
	d := &Document{
		name:     name,
		original: append([]byte(nil), text...),
		spans:    map[*yaml.Node]span{},
	}
	if err := yaml.Unmarshal(text, &d.root); err != nil {
		return nil, newParseError(name, err)
	}
	if d.root.Kind == 0 {
		return nil, &ParseError{Name: name, Err: errors.New("document is empty")}
	}
	return d, nil
}

func newParseError(name string, err error) *ParseError {
	pe := &ParseError{Name: name, Err: err}
	if m := lineRegexp.FindStringSubmatch(err.Error()); m != nil {
		pe.Line, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			pe.Column, _ = strconv.Atoi(m[2])
		}
	}
	return pe
}

// Name returns the name the document was parsed with.
func (d *Document) Name() string {
	return d.name
}

// Root returns the root of the parsed tree.
func (d *Document) Root() *yaml.Node {
	return &d.root
}

// Lookup returns the node at the given path.
func (d *Document) Lookup(p yamlpath.Path) (*yaml.Node, error) {
	return yamlpath.Lookup(&d.root, p)
}

// Get returns the scalar at the given path.
func (d *Document) Get(p yamlpath.Path) (string, error) {
	return yamlpath.Get(&d.root, p)
}

// Set writes a new scalar value at an existing path. The source text
// is patched in place where possible; otherwise the document will be
// re-encoded from the tree when serialised.
func (d *Document) Set(p yamlpath.Path, value string) error {
	node, err := yamlpath.Lookup(&d.root, p)
	if err != nil {
		return errors.Wrapf(yamlpath.ErrPathNotWritable, "%s: %s", p, err)
	}
	if node.Kind != yaml.ScalarNode {
		return errors.Wrapf(yamlpath.ErrPathNotWritable, "%s: not a scalar value", p)
	}
	if node.Value == value {
		return nil
	}

	if !d.reencode {
		if _, ok := d.spans[node]; !ok {
			if sp, ok := locate(d.original, node); ok {
				d.spans[node] = sp
			} else {
				d.reencode = true
			}
		}
	}
	if err := yamlpath.Set(&d.root, p, value); err != nil {
		return err
	}
	d.edits = append(d.edits, edit{path: p, value: value})
	return nil
}

// Changed reports whether any value has been set.
func (d *Document) Changed() bool {
	return len(d.edits) > 0
}

// Bytes returns the serialised document. Unless a value could not be
// patched in place, this is the original text with only the edited
// scalars replaced.
func (d *Document) Bytes() ([]byte, error) {
	if !d.reencode {
		return d.patched()
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&d.root); err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	return buf.Bytes(), nil
}

// Encoded returns the serialised document in base64, as expected by
// the git database API.
func (d *Document) Encoded() (string, error) {
	b, err := d.Bytes()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Reencoded reports whether serialising the document requires
// re-encoding the whole tree, in which case comments and formatting
// may not be preserved.
func (d *Document) Reencoded() bool {
	return d.reencode
}
