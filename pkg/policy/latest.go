package policy

import (
	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/image"
)

// ErrNoTagsAvailable is returned by Latest when no tag is left to
// choose from.
var ErrNoTagsAvailable = errors.New("no tags available")

// Latest picks the newest tag that matches the pattern. The floating
// tag is only chosen when it is the only candidate, since it carries
// no information about recency of its own. The list given is not
// modified.
func Latest(tags image.TagList, p Pattern) (image.TagInfo, error) {
	if p == nil {
		p = PatternAll
	}
	candidates := tags.Filter(func(t image.TagInfo) bool {
		return p.Matches(t.Name)
	})
	if len(candidates) == 0 {
		return image.TagInfo{}, errors.Wrapf(ErrNoTagsAvailable, "%d tag(s), none matching %s", len(tags), p)
	}
	image.Sort(candidates, p.Newer)

	newest := candidates[len(candidates)-1]
	if newest.Name == image.FloatingTag && len(candidates) > 1 {
		return candidates[len(candidates)-2], nil
	}
	return newest, nil
}
