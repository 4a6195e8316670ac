package image

import (
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
)

// FloatingTag is the conventional mutable tag, which says nothing
// about how recent an image is.
const FloatingTag = "latest"

// TagInfo is a tag as reported by a registry, with the time it was
// last pushed or modified.
type TagInfo struct {
	Name         string    `json:"name"`
	LastModified time.Time `json:"lastModified"`
}

// TagList is the set of tags for one repository. Registry clients
// return it sorted oldest first.
type TagList []TagInfo

// Names returns the tag names in list order.
func (l TagList) Names() []string {
	names := make([]string, len(l))
	for i := range l {
		names[i] = l[i].Name
	}
	return names
}

// Filter returns the tags for which keep is true, preserving order.
func (l TagList) Filter(keep func(TagInfo) bool) TagList {
	var out TagList
	for _, t := range l {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// NewerByModified returns true if lhs should be sorted after rhs
// with regard to last modification, ascending. Ties are broken by
// name so that the order is deterministic.
func NewerByModified(lhs, rhs *TagInfo) bool {
	if lhs.LastModified.Equal(rhs.LastModified) {
		return lhs.Name > rhs.Name
	}
	return lhs.LastModified.After(rhs.LastModified)
}

// NewerBySemver returns true if lhs should be sorted after rhs with
// regard to semantic version, ascending. Tags that are not versions
// sort before all tags that are.
func NewerBySemver(lhs, rhs *TagInfo) bool {
	lv, lerr := semver.NewVersion(lhs.Name)
	rv, rerr := semver.NewVersion(rhs.Name)
	if lerr != nil && rerr != nil {
		return NewerByModified(lhs, rhs)
	}
	if lerr != nil {
		return false
	}
	if rerr != nil {
		return true
	}
	cmp := lv.Compare(rv)
	// In semver, `1.10` and `1.10.0` are the same, but in favour of
	// explicitness we consider the latter newer.
	if cmp == 0 {
		return lhs.Name > rhs.Name
	}
	return cmp > 0
}

// Sort orders the tags oldest first according to the `newer` func.
func Sort(tags TagList, newer func(a, b *TagInfo) bool) {
	if newer == nil {
		newer = NewerByModified
	}
	sort.Sort(&tagSort{tags: tags, newer: newer})
}

type tagSort struct {
	tags  TagList
	newer func(a, b *TagInfo) bool
}

func (s *tagSort) Len() int {
	return len(s.tags)
}

func (s *tagSort) Swap(i, j int) {
	s.tags[i], s.tags[j] = s.tags[j], s.tags[i]
}

func (s *tagSort) Less(i, j int) bool {
	return s.newer(&s.tags[j], &s.tags[i])
}
