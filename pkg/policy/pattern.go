package policy

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"github.com/ryanuber/go-glob"

	"github.com/fluxcd/tagbot/pkg/image"
)

const (
	globPrefix      = "glob:"
	semverPrefix    = "semver:"
	regexpPrefix    = "regexp:"
	regexpAltPrefix = "regex:"
)

var (
	// PatternAll matches everything.
	PatternAll = NewPattern(globPrefix + "*")
)

// Pattern provides an interface to match image tags.
type Pattern interface {
	// Matches returns true if the given image tag matches the pattern.
	Matches(tag string) bool
	// String returns the prefixed string representation.
	String() string
	// Newer returns true if tag `a` is newer than tag `b`.
	Newer(a, b *image.TagInfo) bool
	// Valid returns true if the pattern is considered valid.
	Valid() bool
}

type GlobPattern string

// SemverPattern matches by semantic versioning.
// See https://semver.org/
type SemverPattern struct {
	pattern     string // pattern without prefix
	constraints *semver.Constraints
}

// RegexpPattern matches by regular expression. The expression is
// anchored at the start of the tag but not at the end, so `\d+` will
// match `12-rc` but not `v12`.
type RegexpPattern struct {
	pattern string // pattern without prefix
	regexp  *regexp.Regexp
}

// NewPattern instantiates a Pattern according to the prefix it
// finds. The prefix can be `regexp:` (default if omitted), `regex:`,
// `glob:` or `semver:`. The empty string matches everything.
func NewPattern(pattern string) Pattern {
	switch {
	case pattern == "":
		return GlobPattern("*")
	case strings.HasPrefix(pattern, semverPrefix):
		pattern = strings.TrimPrefix(pattern, semverPrefix)
		c, _ := semver.NewConstraint(pattern)
		return SemverPattern{pattern, c}
	case strings.HasPrefix(pattern, globPrefix):
		return GlobPattern(strings.TrimPrefix(pattern, globPrefix))
	case strings.HasPrefix(pattern, regexpPrefix):
		return newRegexpPattern(strings.TrimPrefix(pattern, regexpPrefix))
	case strings.HasPrefix(pattern, regexpAltPrefix):
		return newRegexpPattern(strings.TrimPrefix(pattern, regexpAltPrefix))
	default:
		return newRegexpPattern(pattern)
	}
}

// ParsePattern is NewPattern, but fails for invalid patterns instead
// of returning a pattern that reports itself as invalid.
func ParsePattern(pattern string) (Pattern, error) {
	p := NewPattern(pattern)
	if !p.Valid() {
		return nil, errors.Errorf("invalid tag filter %q", pattern)
	}
	return p, nil
}

func newRegexpPattern(pattern string) RegexpPattern {
	r, _ := regexp.Compile(`^(?:` + pattern + `)`)
	return RegexpPattern{pattern, r}
}

func (g GlobPattern) Matches(tag string) bool {
	return glob.Glob(string(g), tag)
}

func (g GlobPattern) String() string {
	return globPrefix + string(g)
}

func (g GlobPattern) Newer(a, b *image.TagInfo) bool {
	return image.NewerByModified(a, b)
}

func (g GlobPattern) Valid() bool {
	return true
}

func (s SemverPattern) Matches(tag string) bool {
	v, err := semver.NewVersion(tag)
	if err != nil {
		return false
	}
	if s.constraints == nil {
		// Invalid constraints match anything
		return true
	}
	return s.constraints.Check(v)
}

func (s SemverPattern) String() string {
	return semverPrefix + s.pattern
}

func (s SemverPattern) Newer(a, b *image.TagInfo) bool {
	return image.NewerBySemver(a, b)
}

func (s SemverPattern) Valid() bool {
	return s.constraints != nil
}

func (r RegexpPattern) Matches(tag string) bool {
	if r.regexp == nil {
		// Invalid regexp match anything
		return true
	}
	return r.regexp.MatchString(tag)
}

func (r RegexpPattern) String() string {
	return regexpPrefix + r.pattern
}

func (r RegexpPattern) Newer(a, b *image.TagInfo) bool {
	return image.NewerByModified(a, b)
}

func (r RegexpPattern) Valid() bool {
	return r.regexp != nil
}
