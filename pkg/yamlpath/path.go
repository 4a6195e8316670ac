// Package yamlpath addresses values inside a YAML node tree with
// dotted paths such as `singleuser.profileList[0].image`.
package yamlpath

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidPath     = errors.New("invalid path")
	ErrPathNotFound    = errors.New("path not found")
	ErrPathNotWritable = errors.New("path not writable")
)

// Step is a single element of a Path: either a mapping key, or an
// index into a sequence.
type Step struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Step) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

// Path is an ordered list of steps from the root of a document.
type Path []Step

// String renders the path in the same syntax Parse accepts.
func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if !s.IsIndex && i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// Child returns a copy of the path with a key step appended.
func (p Path) Child(key string) Path {
	child := make(Path, len(p), len(p)+1)
	copy(child, p)
	return append(child, Step{Key: key})
}

// Parse parses a path expression. Segments are separated by dots and
// each may carry one or more `[N]` suffixes. A single leading dot is
// tolerated, so `.singleuser.image` and `singleuser.image` are the
// same path.
func Parse(expr string) (Path, error) {
	s := strings.TrimPrefix(expr, ".")
	if s == "" {
		return nil, errors.Wrapf(ErrInvalidPath, "parsing %q: empty path", expr)
	}

	var path Path
	for _, segment := range strings.Split(s, ".") {
		steps, err := parseSegment(segment)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %q", expr)
		}
		path = append(path, steps...)
	}
	return path, nil
}

// MustParse is Parse for paths known to be valid; it panics otherwise.
func MustParse(expr string) Path {
	p, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func parseSegment(segment string) ([]Step, error) {
	open := strings.IndexByte(segment, '[')
	key := segment
	if open >= 0 {
		key = segment[:open]
	}
	if key == "" {
		return nil, errors.Wrapf(ErrInvalidPath, "empty key in segment %q", segment)
	}
	if strings.ContainsAny(key, "]") {
		return nil, errors.Wrapf(ErrInvalidPath, "unbalanced bracket in segment %q", segment)
	}

	steps := []Step{{Key: key}}
	rest := ""
	if open >= 0 {
		rest = segment[open:]
	}
	for rest != "" {
		if rest[0] != '[' {
			return nil, errors.Wrapf(ErrInvalidPath, "unexpected %q after index in segment %q", rest, segment)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, errors.Wrapf(ErrInvalidPath, "unbalanced bracket in segment %q", segment)
		}
		index, err := parseIndex(rest[1:end])
		if err != nil {
			return nil, errors.Wrapf(err, "segment %q", segment)
		}
		steps = append(steps, Step{Index: index, IsIndex: true})
		rest = rest[end+1:]
	}
	return steps, nil
}

func parseIndex(s string) (int, error) {
	if s == "" {
		return 0, errors.Wrap(ErrInvalidPath, "empty index")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.Wrapf(ErrInvalidPath, "non-numeric index %q", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidPath, "index %q: %s", s, err)
	}
	return n, nil
}
