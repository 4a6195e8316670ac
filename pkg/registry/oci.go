package registry

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/image"
)

const (
	// DefaultOCIMaxTags bounds how many image configs are fetched per
	// repository. The registry API lists tags lexically, so this
	// keeps the lexically greatest tags.
	DefaultOCIMaxTags = 50
	ociFetchers       = 4
)

// OCI lists tags with the Docker registry API, for hosts that have
// no richer API of their own. The API does not report when a tag was
// pushed, so the creation time from each image's config stands in.
type OCI struct {
	Host        string
	Insecure    bool
	Credentials Credentials
	MaxTags     int
	transport   http.RoundTripper
}

func NewOCI(host string, o Options) *OCI {
	tx := o.Transport
	if tx == nil {
		tx = http.DefaultTransport
	}
	return &OCI{
		Host:        host,
		Credentials: NoCredentials(),
		MaxTags:     DefaultOCIMaxTags,
		transport:   tx,
	}
}

func (c *OCI) options(ctx context.Context) []remote.Option {
	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithTransport(c.transport),
	}
	if auth := c.Credentials.Authenticator(c.Host); auth != nil {
		opts = append(opts, remote.WithAuth(auth))
	} else {
		opts = append(opts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	}
	return opts
}

func (c *OCI) Tags(ctx context.Context, repo image.Name) (image.TagList, error) {
	var nameOpts []name.Option
	if c.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	ref, err := name.NewRepository(c.Host+"/"+repo.Repository(), nameOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing repository %s", repo)
	}

	opts := c.options(ctx)
	names, err := remote.List(ref, opts...)
	if err != nil {
		return nil, c.requestError(ref.String(), err)
	}
	sort.Strings(names)
	if c.MaxTags > 0 && len(names) > c.MaxTags {
		names = names[len(names)-c.MaxTags:]
	}

	tags := make(image.TagList, len(names))
	errs := make([]error, len(names))
	sem := make(chan struct{}, ociFetchers)
	var wg sync.WaitGroup
	for i, tag := range names {
		wg.Add(1)
		go func(i int, tag string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			tags[i].Name = tag
			img, err := remote.Image(ref.Tag(tag), opts...)
			if err != nil {
				errs[i] = c.requestError(ref.Tag(tag).String(), err)
				return
			}
			config, err := img.ConfigFile()
			if err != nil {
				errs[i] = c.requestError(ref.Tag(tag).String(), err)
				return
			}
			tags[i].LastModified = config.Created.Time.UTC()
		}(i, tag)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	image.Sort(tags, nil)
	return tags, nil
}

func (c *OCI) requestError(ref string, err error) error {
	rerr := &RequestError{Host: c.Host, URL: ref, Err: err}
	var terr *transport.Error
	if errors.As(err, &terr) {
		rerr.StatusCode = terr.StatusCode
	}
	return rerr
}
