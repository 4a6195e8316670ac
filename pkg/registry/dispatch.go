package registry

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/image"
)

// Dispatcher sends each request to the client for the image's host.
// Images without a host, or naming one of Docker Hub's hosts, go to
// the default client.
type Dispatcher struct {
	Default Client
	Hosts   map[string]Client
}

// ClientFor returns the client serving repo, or an error with cause
// ErrUnsupportedRegistry.
func (d *Dispatcher) ClientFor(repo image.Name) (Client, error) {
	if repo.IsDockerHub() {
		if d.Default == nil {
			return nil, errors.Wrapf(ErrUnsupportedRegistry, "no client for %s", image.DockerHubHost)
		}
		return d.Default, nil
	}
	if c, ok := d.Hosts[repo.Domain]; ok {
		return c, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedRegistry, "no client for %s", repo.Domain)
}

func (d *Dispatcher) Tags(ctx context.Context, repo image.Name) (image.TagList, error) {
	c, err := d.ClientFor(repo)
	if err != nil {
		return nil, err
	}
	return c.Tags(ctx, repo)
}

// Supported lists the hosts served, besides Docker Hub.
func (d *Dispatcher) Supported() []string {
	hosts := make([]string, 0, len(d.Hosts))
	for h := range d.Hosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}
