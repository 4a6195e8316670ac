package update

import (
	"fmt"
	"strings"

	"github.com/fluxcd/tagbot/pkg/registry"
)

type Status string

const (
	StatusUpToDate Status = "up-to-date"
	StatusStale    Status = "stale"
	StatusUpdated  Status = "updated"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Entry is the outcome for one tracked image, or for a tracked path
// that did not lead to an image.
type Entry struct {
	Image   string
	Path    string
	Status  Status
	Current string `json:",omitempty"`
	Latest  string `json:",omitempty"`
	Error   string `json:",omitempty"`
}

// Result lists the entries of a run: records in declaration order,
// then the tracked paths that were skipped while scanning.
type Result []Entry

// NewResult summarises records and scan failures. Stale records are
// reported as updated if applied is true.
func NewResult(records Records, failures []Failure, applied bool) Result {
	var result Result
	for _, r := range records {
		paths := make([]string, len(r.Locators))
		for i, loc := range r.Locators {
			paths[i] = loc.String()
		}
		e := Entry{
			Image:   r.Image,
			Path:    strings.Join(paths, ", "),
			Current: r.Current,
			Latest:  r.Latest,
		}
		switch {
		case r.Err != nil:
			e.Status = StatusSkipped
			if _, ok := registry.IsRequestError(r.Err); ok {
				e.Status = StatusFailed
			}
			e.Error = r.Err.Error()
		case r.Latest == "":
			e.Status = StatusSkipped
			e.Error = ErrNotResolved.Error()
		case r.Latest == r.Current:
			e.Status = StatusUpToDate
		case applied:
			e.Status = StatusUpdated
		default:
			e.Status = StatusStale
		}
		result = append(result, e)
	}
	for _, f := range failures {
		result = append(result, Entry{
			Image:  f.Image,
			Path:   f.Path,
			Status: StatusSkipped,
			Error:  f.Err.Error(),
		})
	}
	return result
}

func (r Result) withStatus(statuses ...Status) []Entry {
	var entries []Entry
	for _, e := range r {
		for _, s := range statuses {
			if e.Status == s {
				entries = append(entries, e)
				break
			}
		}
	}
	return entries
}

// Changes are the entries that are, or were, out of date.
func (r Result) Changes() []Entry {
	return r.withStatus(StatusStale, StatusUpdated)
}

// Problems are the entries that were skipped or failed.
func (r Result) Problems() []Entry {
	return r.withStatus(StatusSkipped, StatusFailed)
}

// Error returns a description of the images that could not be
// checked because a registry request failed, or the empty string.
func (r Result) Error() string {
	failed := r.withStatus(StatusFailed)
	switch len(failed) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s failed: %s", failed[0].Image, failed[0].Error)
	default:
		var images []string
		for _, e := range failed {
			images = append(images, e.Image)
		}
		return fmt.Sprintf("Multiple images failed: %s", strings.Join(images, ", "))
	}
}
