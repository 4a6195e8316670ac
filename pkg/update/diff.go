package update

import (
	"github.com/pkg/errors"
)

// ErrNotResolved is the cause given for a record that was never
// looked up.
var ErrNotResolved = errors.New("latest tag not resolved")

// Diff returns the images whose latest tag differs from the current
// one, in the order they were declared. Records that could not be
// resolved are left out, and returned as warnings instead, since
// there's no telling whether they are stale.
func Diff(records Records) (stale []string, warnings []Failure) {
	for _, r := range records {
		switch {
		case r.Err != nil:
			warnings = append(warnings, Failure{Path: r.Locators[0].String(), Image: r.Image, Err: r.Err})
		case r.Latest == "":
			warnings = append(warnings, Failure{Path: r.Locators[0].String(), Image: r.Image, Err: ErrNotResolved})
		case r.Latest != r.Current:
			stale = append(stale, r.Image)
		}
	}
	return stale, warnings
}
