package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/image"
)

const (
	DockerHubAPI = "https://hub.docker.com"

	dockerHubPageSize = 100
	// DefaultDockerHubPages bounds how many pages of tags are read.
	// Pages are requested newest first, so a bound only loses the
	// oldest tags.
	DefaultDockerHubPages = 5
)

// DockerHub lists tags using the Docker Hub web API, which (unlike
// the registry API) reports when each tag was last pushed.
type DockerHub struct {
	BaseURL  string
	MaxPages int
	remote   *fetcher
}

func NewDockerHub(o Options) *DockerHub {
	return &DockerHub{
		BaseURL:  DockerHubAPI,
		MaxPages: DefaultDockerHubPages,
		remote:   newFetcher(o),
	}
}

type dockerHubPage struct {
	Next    string `json:"next"`
	Results []struct {
		Name        string `json:"name"`
		LastUpdated string `json:"last_updated"`
	} `json:"results"`
}

func (c *DockerHub) Tags(ctx context.Context, repo image.Name) (image.TagList, error) {
	next := fmt.Sprintf("%s/v2/repositories/%s/tags?page_size=%d&ordering=last_updated",
		c.BaseURL, repo.Repository(), dockerHubPageSize)

	var tags image.TagList
	for page := 0; next != "" && (c.MaxPages <= 0 || page < c.MaxPages); page++ {
		body, err := c.remote.get(ctx, next)
		if err != nil {
			return nil, err
		}
		var p dockerHubPage
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding tags of %s", repo)
		}
		for _, r := range p.Results {
			tags = append(tags, image.TagInfo{
				Name:         r.Name,
				LastModified: parseTime(time.RFC3339, r.LastUpdated),
			})
		}
		next = p.Next
	}
	image.Sort(tags, nil)
	return tags, nil
}

// parseTime gives the zero time for missing or unparseable
// timestamps, which sorts those tags as the oldest.
func parseTime(layout, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
