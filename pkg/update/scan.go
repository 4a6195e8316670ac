package update

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fluxcd/tagbot/pkg/document"
	"github.com/fluxcd/tagbot/pkg/image"
	"github.com/fluxcd/tagbot/pkg/policy"
	"github.com/fluxcd/tagbot/pkg/yamlpath"
)

var (
	ErrUnrecognizedImageShape = errors.New("value is neither a {name, tag} mapping nor a repository:tag string")
	// ErrDivergentTags is reported when an image is tracked at more
	// than one location, and the locations disagree on its tag. The
	// first location declared wins.
	ErrDivergentTags = errors.New("image is tracked elsewhere with a different tag")
	// ErrConflictingFilter is reported when an image is tracked at
	// more than one location with different tag filters. The first
	// location declared wins.
	ErrConflictingFilter = errors.New("image is tracked elsewhere with a different tag filter")
)

// Locator says where an image's tag is written back to.
type Locator interface {
	// WritePath is the path of the scalar that changes.
	WritePath() yamlpath.Path
	// Value is what's written there, given the new tag.
	Value(tag string) string
	String() string
}

// StructuredRef locates an image given as a mapping with separate
// name and tag entries; only the tag is written.
type StructuredRef struct {
	NamePath, TagPath yamlpath.Path
}

func (r StructuredRef) WritePath() yamlpath.Path { return r.TagPath }
func (r StructuredRef) Value(tag string) string  { return tag }
func (r StructuredRef) String() string           { return r.TagPath.String() }

// CombinedRef locates an image given as a single "repository:tag"
// string. The repository is written back as it was found.
type CombinedRef struct {
	Path       yamlpath.Path
	Repository string
}

func (r CombinedRef) WritePath() yamlpath.Path { return r.Path }
func (r CombinedRef) Value(tag string) string  { return r.Repository + ":" + tag }
func (r CombinedRef) String() string           { return r.Path.String() }

// Record is everything known about one tracked image.
type Record struct {
	// Image is the image name as written in the document, and is
	// unique within Records.
	Image   string
	Name    image.Name
	Current string
	// Latest is empty until resolved, and stays empty if resolving
	// failed, in which case Err says why.
	Latest   string
	Pattern  policy.Pattern
	Locators []Locator
	Err      error
}

// Stale is true for a resolved record whose latest tag differs from
// the current one.
func (r *Record) Stale() bool {
	return r.Err == nil && r.Latest != "" && r.Latest != r.Current
}

// Records are kept in the order they were first declared.
type Records []*Record

// Get returns the record for an image, or nil.
func (rs Records) Get(img string) *Record {
	for _, r := range rs {
		if r.Image == img {
			return r
		}
	}
	return nil
}

// Failure is a tracked path, or an image, that was skipped.
type Failure struct {
	Path  string
	Image string
	Err   error
}

func (f Failure) Error() string {
	var where []string
	if f.Image != "" {
		where = append(where, f.Image)
	}
	if f.Path != "" {
		where = append(where, f.Path)
	}
	return fmt.Sprintf("%s: %v", strings.Join(where, " at "), f.Err)
}

// Scan reads the current image and tag at each tracked path. Paths
// that can't be read, or don't hold something recognisable as an
// image, are returned as failures and otherwise skipped.
func Scan(doc *document.Document, tracked []TrackedPath) (Records, []Failure) {
	var records Records
	var failures []Failure
	for _, tp := range tracked {
		path, err := yamlpath.Parse(tp.ValuesPath)
		if err != nil {
			failures = append(failures, Failure{Path: tp.ValuesPath, Err: err})
			continue
		}
		pattern, err := policy.ParsePattern(tp.Regexpr)
		if err != nil {
			failures = append(failures, Failure{Path: tp.ValuesPath, Err: err})
			continue
		}
		img, tag, loc, err := locate(doc, path)
		if err != nil {
			failures = append(failures, Failure{Path: path.String(), Err: err})
			continue
		}
		name, err := image.ParseName(img)
		if err != nil {
			failures = append(failures, Failure{Path: path.String(), Image: img, Err: errors.Wrap(ErrUnrecognizedImageShape, err.Error())})
			continue
		}

		if existing := records.Get(img); existing != nil {
			switch {
			case existing.Current != tag:
				failures = append(failures, Failure{Path: path.String(), Image: img,
					Err: errors.Wrapf(ErrDivergentTags, "%q here, %q at %s", tag, existing.Current, existing.Locators[0])})
			case existing.Pattern.String() != pattern.String():
				failures = append(failures, Failure{Path: path.String(), Image: img,
					Err: errors.Wrapf(ErrConflictingFilter, "%s here, %s at %s", pattern, existing.Pattern, existing.Locators[0])})
			default:
				existing.Locators = append(existing.Locators, loc)
			}
			continue
		}
		records = append(records, &Record{
			Image:    img,
			Name:     name,
			Current:  tag,
			Pattern:  pattern,
			Locators: []Locator{loc},
		})
	}
	return records, failures
}

// locate works out which of the two shapes of image reference is at
// path, once, so nothing later needs to look at the node again.
func locate(doc *document.Document, path yamlpath.Path) (img, tag string, loc Locator, err error) {
	node, err := doc.Lookup(path)
	if err != nil {
		return "", "", nil, err
	}
	switch node.Kind {
	case yaml.MappingNode:
		namePath, tagPath := path.Child("name"), path.Child("tag")
		name, nerr := scalar(doc, namePath)
		tag, terr := scalar(doc, tagPath)
		if nerr != nil || terr != nil || name == "" || tag == "" {
			return "", "", nil, errors.Wrap(ErrUnrecognizedImageShape, "mapping needs non-empty name and tag")
		}
		return name, tag, StructuredRef{NamePath: namePath, TagPath: tagPath}, nil
	case yaml.ScalarNode:
		ref, err := image.ParseRef(node.Value)
		if err != nil || ref.Tag == "" {
			return "", "", nil, errors.Wrapf(ErrUnrecognizedImageShape, "%q", node.Value)
		}
		repository := node.Value[:strings.LastIndexByte(node.Value, ':')]
		return repository, ref.Tag, CombinedRef{Path: path, Repository: repository}, nil
	}
	return "", "", nil, ErrUnrecognizedImageShape
}

func scalar(doc *document.Document, p yamlpath.Path) (string, error) {
	n, err := doc.Lookup(p)
	if err != nil {
		return "", err
	}
	if n.Kind != yaml.ScalarNode {
		return "", ErrUnrecognizedImageShape
	}
	return n.Value, nil
}
