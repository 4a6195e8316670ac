package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/tagbot/pkg/errors"
	"github.com/fluxcd/tagbot/pkg/image"
	"github.com/fluxcd/tagbot/pkg/registry"
)

var (
	ErrNotCached = &fluxerr.Error{
		Type: fluxerr.Missing,
		Err:  errors.New("item not in cache"),
		Help: `Tags not cached

The tags for this repository have not been fetched recently. They
will be fetched from the registry instead.
`,
	}
)

// Registry answers tag requests from the cache while the entry is
// fresh, and otherwise asks the next client and stores the answer.
// Cache failures are logged and otherwise ignored; the cache only
// ever saves requests.
type Registry struct {
	Next   registry.Client
	Cache  Client
	TTL    time.Duration
	Logger log.Logger

	now func() time.Time
}

// TagEntry is what's stored for each repository.
type TagEntry struct {
	Tags      image.TagList `json:"tags"`
	FetchedAt time.Time     `json:"fetchedAt"`
}

func (r *Registry) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Registry) logger() log.Logger {
	if r.Logger == nil {
		return log.NewNopLogger()
	}
	return r.Logger
}

func (r *Registry) Tags(ctx context.Context, repo image.Name) (image.TagList, error) {
	key := NewTagsKey(repo)
	if entry, err := r.get(key); err == nil {
		return entry.Tags, nil
	} else if err != ErrNotCached {
		r.logger().Log("err", errors.Wrapf(err, "reading cached tags for %s", repo))
	}

	tags, err := r.Next.Tags(ctx, repo)
	if err != nil {
		return nil, err
	}
	now := r.clock()
	b, err := json.Marshal(TagEntry{Tags: tags, FetchedAt: now})
	if err == nil {
		err = r.Cache.SetKey(key, now.Add(r.TTL), b)
	}
	if err != nil {
		r.logger().Log("err", errors.Wrapf(err, "caching tags for %s", repo))
	}
	return tags, nil
}

func (r *Registry) get(key Keyer) (TagEntry, error) {
	b, deadline, err := r.Cache.GetKey(key)
	if err != nil {
		return TagEntry{}, err
	}
	if r.clock().After(deadline) {
		return TagEntry{}, ErrNotCached
	}
	var entry TagEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return TagEntry{}, err
	}
	return entry, nil
}

var _ registry.Client = &Registry{}
