package registry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/image"
	"github.com/fluxcd/tagbot/pkg/policy"
)

var (
	ErrUnsupportedRegistry = errors.New("unsupported registry")
	// ErrNoTagsAvailable is the cause of errors from Latest when
	// nothing is left after filtering.
	ErrNoTagsAvailable = policy.ErrNoTagsAvailable
)

// Client lists the tags of image repositories. Implementations
// return the tags sorted ascending by recency, so the last element
// is the most recently modified tag.
type Client interface {
	Tags(ctx context.Context, repo image.Name) (image.TagList, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, repo image.Name) (image.TagList, error)

func (f ClientFunc) Tags(ctx context.Context, repo image.Name) (image.TagList, error) {
	return f(ctx, repo)
}

// Latest asks the client for the tags of repo, and picks the newest
// of those admitted by the pattern.
func Latest(ctx context.Context, c Client, repo image.Name, p policy.Pattern) (image.TagInfo, error) {
	tags, err := c.Tags(ctx, repo)
	if err != nil {
		return image.TagInfo{}, err
	}
	return policy.Latest(tags, p)
}

// RequestError records a failed exchange with a registry: either the
// transport failed (StatusCode is zero), or the registry answered
// with something other than success.
type RequestError struct {
	Host       string
	URL        string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request to %s failed with %d %s: %v", e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Err)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

// Temporary is true for failures worth another attempt: transport
// errors, server errors and throttling.
func (e *RequestError) Temporary() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// IsRequestError tells whether err was caused by a failed request,
// and if so returns it.
func IsRequestError(err error) (*RequestError, bool) {
	rerr, ok := errors.Cause(err).(*RequestError)
	return rerr, ok
}
