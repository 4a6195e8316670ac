package registry

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/kit/log"
	"github.com/google/go-github/v30/github"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/fluxcd/tagbot/pkg/registry/middleware"
)

const (
	QuayHost      = "quay.io"
	githubAPIHost = "api.github.com"
)

// RemoteClientFactory assembles the clients for every supported
// registry host, each behind its own rate limit.
type RemoteClientFactory struct {
	Logger   log.Logger
	Limiters *middleware.HostLimiters
	Trace    bool

	// hosts with which to tolerate insecure connections (e.g., with
	// TLS_INSECURE_SKIP_VERIFY, or plain HTTP for the registry API).
	InsecureHosts []string
	// hosts to reach with the Docker registry API
	OCIHosts    []string
	Credentials Credentials

	// GitHubToken authenticates requests to the packages API, for
	// ghcr.io images; GitHubAPI overrides where that API lives.
	GitHubToken string
	GitHubAPI   string

	DockerHubPages int
	OCIMaxTags     int
	// BackOff is handed to the clients; see Options.
	BackOff func() backoff.BackOff
}

type logging struct {
	logger    log.Logger
	transport http.RoundTripper
}

func (t *logging) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	res, err := t.transport.RoundTrip(req)
	if err == nil {
		t.logger.Log("url", req.URL.String(), "status", res.Status, "took", time.Since(start))
	} else {
		t.logger.Log("url", req.URL.String(), "err", err.Error())
	}
	return res, err
}

func (f *RemoteClientFactory) logger() log.Logger {
	if f.Logger == nil {
		return log.NewNopLogger()
	}
	return f.Logger
}

func (f *RemoteClientFactory) insecure(host string) bool {
	hosts := []string{host}
	// allow the insecure hosts list to contain hosts with or without the port
	if withoutPort, _, err := net.SplitHostPort(host); err == nil {
		hosts = append(hosts, withoutPort)
	}
	for _, h := range f.InsecureHosts {
		for _, candidate := range hosts {
			if h == candidate {
				return true
			}
		}
	}
	return false
}

// Transport returns the round tripper for requests to host.
func (f *RemoteClientFactory) Transport(host string) http.RoundTripper {
	// A run makes comparatively few requests to each host, so there's
	// no point keeping many idle connections around.
	var tx http.RoundTripper = &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: f.insecure(host),
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 10 * time.Second,
		Proxy:           http.ProxyFromEnvironment,
	}
	if f.Limiters != nil {
		tx = f.Limiters.RoundTripper(tx, host)
	}
	if f.Trace {
		tx = &logging{log.With(f.logger(), "host", host), tx}
	}
	return tx
}

func (f *RemoteClientFactory) options(host string) Options {
	return Options{
		Transport: f.Transport(host),
		Logger:    log.With(f.logger(), "registry", host),
		BackOff:   f.BackOff,
	}
}

// GitHubClient returns a client for the GitHub API, authenticated
// with GitHubToken when there is one.
func (f *RemoteClientFactory) GitHubClient() (*github.Client, error) {
	host := githubAPIHost
	var base *url.URL
	if f.GitHubAPI != "" {
		u, err := url.Parse(f.GitHubAPI)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing GitHub API URL %q", f.GitHubAPI)
		}
		if u.Path == "" || u.Path[len(u.Path)-1] != '/' {
			u.Path += "/"
		}
		base, host = u, u.Host
	}

	hc := &http.Client{Transport: f.Transport(host)}
	if f.GitHubToken != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: f.GitHubToken}))
	}
	client := github.NewClient(hc)
	if base != nil {
		client.BaseURL = base
	}
	return client, nil
}

// Dispatcher returns a client for all supported registries: Docker
// Hub, quay.io, ghcr.io, and each of the OCIHosts.
func (f *RemoteClientFactory) Dispatcher() (*Dispatcher, error) {
	hub := NewDockerHub(f.options("hub.docker.com"))
	if f.DockerHubPages != 0 {
		hub.MaxPages = f.DockerHubPages
	}

	gh, err := f.GitHubClient()
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		Default: NewInstrumentedClient(hub, "docker.io"),
		Hosts: map[string]Client{
			QuayHost: NewInstrumentedClient(NewQuay(f.options(QuayHost)), QuayHost),
			GHCRHost: NewInstrumentedClient(NewGHCR(gh, Options{
				Logger:  log.With(f.logger(), "registry", GHCRHost),
				BackOff: f.BackOff,
			}), GHCRHost),
		},
	}

	creds := f.Credentials
	if creds.m == nil {
		creds = NoCredentials()
	}
	for _, host := range f.OCIHosts {
		oci := NewOCI(host, f.options(host))
		oci.Insecure = f.insecure(host)
		oci.Credentials = creds
		if f.OCIMaxTags != 0 {
			oci.MaxTags = f.OCIMaxTags
		}
		if f.Trace {
			f.logger().Log("registry", host, "auth", creds.credsFor(host).String())
		}
		// a host named here is reached with the registry API, even
		// if there's a dedicated client for it
		d.Hosts[host] = NewInstrumentedClient(oci, host)
	}
	return d, nil
}
