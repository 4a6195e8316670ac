package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/Jeffail/gabs"
	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/image"
)

const QuayAPI = "https://quay.io"

// Quay lists tags using the quay.io repository API. Tags carry their
// modification time in RFC 1123 format with a numeric zone.
type Quay struct {
	BaseURL string
	remote  *fetcher
}

func NewQuay(o Options) *Quay {
	return &Quay{
		BaseURL: QuayAPI,
		remote:  newFetcher(o),
	}
}

func (c *Quay) Tags(ctx context.Context, repo image.Name) (image.TagList, error) {
	body, err := c.remote.get(ctx, fmt.Sprintf("%s/api/v1/repository/%s?includeTags=true", c.BaseURL, repo.Repository()))
	if err != nil {
		return nil, err
	}
	doc, err := gabs.ParseJSON(body)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding tags of %s", repo)
	}
	if !doc.Exists("tags") {
		return image.TagList{}, nil
	}
	byName, err := doc.S("tags").ChildrenMap()
	if err != nil {
		return nil, errors.Wrapf(err, "decoding tags of %s", repo)
	}

	tags := make(image.TagList, 0, len(byName))
	for name, entry := range byName {
		modified, _ := entry.S("last_modified").Data().(string)
		tags = append(tags, image.TagInfo{
			Name:         name,
			LastModified: parseTime(time.RFC1123Z, modified),
		})
	}
	image.Sort(tags, nil)
	return tags, nil
}
