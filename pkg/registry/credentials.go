package registry

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/url"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/pkg/errors"
)

// Registry credentials for one host
type creds struct {
	username, password   string
	registry, provenance string
}

func (c creds) String() string {
	if (creds{}) == c {
		return "<zero creds>"
	}
	return fmt.Sprintf("<registry creds for %s@%s, from %s>", c.username, c.registry, c.provenance)
}

// Credentials for image registries, by host.
type Credentials struct {
	m map[string]creds
}

// NoCredentials returns a usable but empty credentials object.
func NoCredentials() Credentials {
	return Credentials{
		m: map[string]creds{},
	}
}

func parseAuth(auth string) (creds, error) {
	decoded, err := base64.StdEncoding.DecodeString(auth)
	if err != nil {
		return creds{}, err
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return creds{}, fmt.Errorf("decoded credential has wrong number of fields (expected 2, got %d)", len(parts))
	}
	return creds{
		username: parts[0],
		password: parts[1],
	}, nil
}

// ParseCredentials reads credentials in the format of a Docker
// config.json, either with or without the enclosing "auths". The
// name of the source is kept, for reporting.
func ParseCredentials(from string, b []byte) (Credentials, error) {
	var config struct {
		Auths map[string]struct {
			Auth string
		}
	}
	if err := json.Unmarshal(b, &config); err != nil {
		return Credentials{}, err
	}
	if len(config.Auths) == 0 {
		if err := json.Unmarshal(b, &config.Auths); err != nil {
			return Credentials{}, err
		}
	}
	m := map[string]creds{}
	for host, entry := range config.Auths {
		c, err := parseAuth(entry.Auth)
		if err != nil {
			return Credentials{}, errors.Wrapf(err, "credentials for %s", host)
		}
		if host == "http://" || host == "https://" {
			return Credentials{}, errors.New("empty registry auth url")
		}

		// Entries are keyed by anything from a bare host to a full
		// URL such as https://index.docker.io/v1/; keep only the
		// host (and port).
		u, err := url.Parse(host)
		if err != nil || u.Host == "" {
			u, err = url.Parse(fmt.Sprintf("https://%s/", host))
			if err != nil {
				return Credentials{}, err
			}
		}
		if u.Host == "" {
			return Credentials{}, errors.New("invalid registry auth url, must be a valid http address (e.g. https://ghcr.io/v1/)")
		}

		c.registry = u.Host
		c.provenance = from
		m[u.Host] = c
	}
	return Credentials{m: m}, nil
}

// ReadCredentials parses the Docker config file at path.
func ReadCredentials(path string) (Credentials, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return Credentials{}, err
	}
	return ParseCredentials(path, b)
}

func (cs Credentials) credsFor(host string) creds {
	return cs.m[host]
}

// Authenticator yields basic auth for a host with credentials, or
// nil when there are none.
func (cs Credentials) Authenticator(host string) authn.Authenticator {
	if c, ok := cs.m[host]; ok {
		return &authn.Basic{Username: c.username, Password: c.password}
	}
	return nil
}

// Hosts returns all of the hosts available in these credentials.
func (cs Credentials) Hosts() []string {
	hosts := []string{}
	for host := range cs.m {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// Merge copies the credentials of c into cs, overwriting any for
// the same host.
func (cs Credentials) Merge(c Credentials) {
	for k, v := range c.m {
		cs.m[k] = v
	}
}

func (cs Credentials) String() string {
	return fmt.Sprintf("{%v}", cs.m)
}
