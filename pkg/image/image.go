package image

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	DockerHubHost = "docker.io"

	indexDockerHubHost = "index.docker.io"
	registryHubHost    = "registry.hub.docker.com"
)

var (
	ErrInvalidImageID   = errors.New("invalid image ID")
	ErrBlankImageID     = errors.Wrap(ErrInvalidImageID, "blank image name")
	ErrMalformedImageID = errors.Wrap(ErrInvalidImageID, `expected image name as either <image>:<tag> or just <image>`)
)

// Name represents an unversioned (i.e., untagged) image, a.k.a. an
// image repository. It may include a domain, e.g., quay.io, and
// always includes a path with at least one element. Images on Docker
// Hub may have the domain omitted and, if they only have a single
// path element, the prefix `library` is implied.
//
// Examples (stringified):
//   * alpine
//   * jupyterhub/k8s-hub
//   * quay.io/jupyterhub/repo2docker
//   * ghcr.io/org/image
//   * localhost:5000/arbitrary/path/to/repo
type Name struct {
	Domain, Image string
}

func (i Name) String() string {
	if i.Image == "" {
		return ""
	}
	var host string
	if i.Domain != "" {
		host = i.Domain + "/"
	}
	return host + i.Image
}

// IsDockerHub is true for names that live on Docker Hub, whether
// the domain is given or implied.
func (i Name) IsDockerHub() bool {
	switch i.Domain {
	case "", DockerHubHost, indexDockerHubHost, registryHubHost:
		return true
	}
	return false
}

// Repository returns the canonicalised path part of a Name.
func (i Name) Repository() string {
	if i.IsDockerHub() && !strings.Contains(i.Image, "/") {
		return "library/" + i.Image
	}
	return i.Image
}

// Registry returns the host serving the image, with Docker Hub
// spelled as DockerHubHost.
func (i Name) Registry() string {
	if i.IsDockerHub() {
		return DockerHubHost
	}
	return i.Domain
}

// Owner returns the first element of the repository path, e.g.,
// the organisation for ghcr.io images.
func (i Name) Owner() string {
	repo := i.Repository()
	if n := strings.IndexByte(repo, '/'); n >= 0 {
		return repo[:n]
	}
	return ""
}

func (i Name) ToRef(tag string) Ref {
	return Ref{
		Name: i,
		Tag:  tag,
	}
}

// ParseName parses an image name that must not carry a tag.
func ParseName(s string) (Name, error) {
	ref, err := ParseRef(s)
	if err != nil {
		return Name{}, err
	}
	if ref.Tag != "" {
		return Name{}, errors.Wrapf(ErrMalformedImageID, "parsing %q: unexpected tag", s)
	}
	return ref.Name, nil
}

// Ref represents a versioned (i.e., tagged) image. The tag is
// allowed to be empty.
//
// Examples (stringified):
//  * alpine:3.5
//  * jupyterhub/k8s-hub:1.1.3
//  * quay.io/jupyterhub/repo2docker:2022.06.0
//  * localhost:5000/arbitrary/path/to/repo:revision-sha1
type Ref struct {
	Name
	Tag string
}

// String returns the Ref as a string (i.e., unparsed) without
// canonicalising it.
func (i Ref) String() string {
	var tag string
	if i.Tag != "" {
		tag = ":" + i.Tag
	}
	return i.Name.String() + tag
}

// ParseRef parses a string representation of an image into a Ref.
// The first path element is the domain only when it looks like a host
// name (see IsDomain); the tag is whatever follows the final colon of
// the last path element, so a port in the domain is never mistaken
// for a tag.
func ParseRef(s string) (Ref, error) {
	var id Ref
	if s == "" {
		return id, errors.Wrapf(ErrBlankImageID, "parsing %q", s)
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") || strings.Contains(s, "//") {
		return id, errors.Wrapf(ErrMalformedImageID, "parsing %q", s)
	}

	elements := strings.Split(s, "/")
	switch len(elements) {
	case 1: // no slashes, e.g., "alpine:1.5"; treat as library image
		id.Image = s
	default: // may have a domain e.g., "quay.io/org/foo", or not e.g., "jupyterhub/k8s-hub"
		if IsDomain(elements[0]) {
			id.Domain = elements[0]
			id.Image = strings.Join(elements[1:], "/")
		} else {
			id.Image = s
		}
	}

	lastElement := strings.LastIndexByte(id.Image, '/') + 1
	if i := strings.LastIndexByte(id.Image, ':'); i >= lastElement {
		id.Tag = id.Image[i+1:]
		id.Image = id.Image[:i]
		if id.Tag == "" || len(id.Image) == lastElement {
			return id, errors.Wrapf(ErrMalformedImageID, "parsing %q", s)
		}
	}
	if strings.Contains(id.Image, ":") {
		return id, errors.Wrapf(ErrMalformedImageID, "parsing %q", s)
	}
	return id, nil
}

var (
	domainComponent = `([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9-]*[a-zA-Z0-9])`
	domain          = fmt.Sprintf(`^(localhost|(%s([.]%s)+))(:[0-9]+)?$`, domainComponent, domainComponent)
	domainRegexp    = regexp.MustCompile(domain)
)

// IsDomain reports whether the first element of an image path names
// a registry host: it contains a dot or a port, or is localhost.
func IsDomain(s string) bool {
	return domainRegexp.MatchString(s)
}

// Ref is serialised as a string.
func (i Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

func (i *Ref) UnmarshalJSON(data []byte) (err error) {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*i, err = ParseRef(str)
	return err
}

// WithNewTag makes a new copy of a Ref with a new tag.
func (i Ref) WithNewTag(t string) Ref {
	img := i
	img.Tag = t
	return img
}
