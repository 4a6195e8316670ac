package mock

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/image"
	"github.com/fluxcd/tagbot/pkg/registry"
)

// Client answers from a fixed set of tags per repository, and counts
// the requests it gets. Repositories it doesn't know cause an error
// with cause Err, or a 404 RequestError if Err is nil.
type Client struct {
	Repos map[string]image.TagList
	Err   error
	// TagsFn, if set, answers instead
	TagsFn func(ctx context.Context, repo image.Name) (image.TagList, error)

	mu       sync.Mutex
	requests []string
}

func (m *Client) Tags(ctx context.Context, repo image.Name) (image.TagList, error) {
	m.mu.Lock()
	m.requests = append(m.requests, repo.String())
	m.mu.Unlock()

	if m.TagsFn != nil {
		return m.TagsFn(ctx, repo)
	}
	if tags, ok := m.Repos[repo.String()]; ok {
		list := make(image.TagList, len(tags))
		copy(list, tags)
		image.Sort(list, nil)
		return list, nil
	}
	if m.Err != nil {
		return nil, errors.Wrapf(m.Err, "listing tags of %s", repo)
	}
	return nil, &registry.RequestError{Host: repo.Registry(), URL: repo.String(), StatusCode: 404, Err: errors.New("not found")}
}

// Requests returns the repositories asked about, in order.
func (m *Client) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

var _ registry.Client = &Client{}
