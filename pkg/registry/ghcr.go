package registry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Jeffail/gabs"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/kit/log"
	"github.com/google/go-github/v30/github"
	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/image"
)

const GHCRHost = "ghcr.io"

// GHCR lists tags of container packages hosted on ghcr.io through
// the GitHub packages API. A package version may carry several tags;
// only its first tag is listed, stamped with the version's update
// time. Untagged versions are skipped.
type GHCR struct {
	client  *github.Client
	logger  log.Logger
	backOff func() backoff.BackOff
}

// NewGHCR uses the given GitHub client, which should be
// authenticated with a token that can read packages.
func NewGHCR(client *github.Client, o Options) *GHCR {
	return &GHCR{
		client:  client,
		logger:  o.logger(),
		backOff: o.backOff,
	}
}

func (c *GHCR) Tags(ctx context.Context, repo image.Name) (image.TagList, error) {
	path := repo.Repository()
	owner := repo.Owner()
	if owner == "" {
		return nil, errors.Errorf("ghcr.io image %q has no owner", repo)
	}
	pkg := url.PathEscape(strings.TrimPrefix(path, owner+"/"))

	// Packages may belong to an organisation or a user; the API has
	// an endpoint for each.
	tags, err := c.versions(ctx, fmt.Sprintf("orgs/%s/packages/container/%s/versions", owner, pkg))
	if rerr, ok := IsRequestError(err); ok && rerr.StatusCode == http.StatusNotFound {
		tags, err = c.versions(ctx, fmt.Sprintf("users/%s/packages/container/%s/versions", owner, pkg))
	}
	if err != nil {
		return nil, err
	}
	image.Sort(tags, nil)
	return tags, nil
}

func (c *GHCR) versions(ctx context.Context, endpoint string) (image.TagList, error) {
	var tags image.TagList
	for page := 1; page != 0; {
		body, next, err := c.page(ctx, fmt.Sprintf("%s?per_page=100&page=%d", endpoint, page))
		if err != nil {
			return nil, err
		}
		doc, err := gabs.ParseJSON(body)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %s", endpoint)
		}
		versions, err := doc.Children()
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %s", endpoint)
		}
		for _, v := range versions {
			if !v.Exists("metadata", "container", "tags") {
				continue
			}
			names, err := v.S("metadata", "container", "tags").Children()
			if err != nil || len(names) == 0 {
				continue
			}
			// the other tags share the same timestamp, so they could
			// only win a tie on name
			name, ok := names[0].Data().(string)
			if !ok {
				continue
			}
			updated, _ := v.S("updated_at").Data().(string)
			tags = append(tags, image.TagInfo{Name: name, LastModified: parseTime(time.RFC3339, updated)})
		}
		page = next
	}
	return tags, nil
}

func (c *GHCR) page(ctx context.Context, endpoint string) ([]byte, int, error) {
	var next int
	op := func() ([]byte, error) {
		req, err := c.client.NewRequest(http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		var buf bytes.Buffer
		resp, err := c.client.Do(ctx, req, &buf)
		if err != nil {
			rerr := &RequestError{Host: c.client.BaseURL.Host, URL: req.URL.String(), Err: err}
			if resp != nil && resp.Response != nil {
				rerr.StatusCode = resp.StatusCode
			}
			if !rerr.Temporary() {
				return nil, backoff.Permanent(rerr)
			}
			return nil, rerr
		}
		next = resp.NextPage
		return buf.Bytes(), nil
	}
	notify := func(err error, after time.Duration) {
		c.logger.Log("info", "retrying registry request", "url", endpoint, "err", err, "after", after)
	}
	body, err := backoff.RetryNotifyWithData(op, backoff.WithContext(c.backOff(), ctx), notify)
	return body, next, err
}
