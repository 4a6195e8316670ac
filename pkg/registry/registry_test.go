package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v30/github"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/tagbot/pkg/image"
	"github.com/fluxcd/tagbot/pkg/policy"
)

var (
	mux    *http.ServeMux
	server *httptest.Server
)

func setup() {
	mux = http.NewServeMux()
	server = httptest.NewServer(mux)
}

func teardown() {
	server.Close()
}

// no waiting between attempts, and at most two retries
func testOptions() Options {
	return Options{
		BackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		},
	}
}

func mustName(t *testing.T, s string) image.Name {
	n, err := image.ParseName(s)
	require.NoError(t, err)
	return n
}

func TestDockerHub_Pages(t *testing.T) {
	setup()
	defer teardown()

	mux.HandleFunc("/v2/repositories/jupyterhub/k8s-hub/tags", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "last_updated", r.URL.Query().Get("ordering"))
		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprintf(w, `{"next": "%s/v2/repositories/jupyterhub/k8s-hub/tags?page=2&ordering=last_updated", "results": [
				{"name": "latest", "last_updated": "2022-06-09T10:00:00.123456Z"},
				{"name": "1.1.3", "last_updated": "2022-06-08T10:00:00Z"}
			]}`, server.URL)
		case "2":
			fmt.Fprint(w, `{"next": null, "results": [
				{"name": "1.1.2", "last_updated": "2022-05-01T10:00:00Z"},
				{"name": "ancient", "last_updated": null}
			]}`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})

	hub := NewDockerHub(testOptions())
	hub.BaseURL = server.URL
	tags, err := hub.Tags(context.Background(), mustName(t, "jupyterhub/k8s-hub"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ancient", "1.1.2", "1.1.3", "latest"}, tags.Names())

	latest, err := policy.Latest(tags, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.1.3", latest.Name)
}

func TestDockerHub_MaxPages(t *testing.T) {
	setup()
	defer teardown()

	var requests int32
	mux.HandleFunc("/v2/repositories/library/alpine/tags", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		fmt.Fprintf(w, `{"next": "%s/v2/repositories/library/alpine/tags?page=%d", "results": [{"name": "t%d", "last_updated": "2022-06-09T10:00:00Z"}]}`,
			server.URL, n+1, n)
	})

	hub := NewDockerHub(testOptions())
	hub.BaseURL = server.URL
	hub.MaxPages = 3
	tags, err := hub.Tags(context.Background(), mustName(t, "alpine"))
	require.NoError(t, err)
	assert.Len(t, tags, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

func TestDockerHub_NotFound(t *testing.T) {
	setup()
	defer teardown()

	var requests int32
	mux.HandleFunc("/v2/repositories/jupyterhub/missing/tags", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, `{"message": "object not found"}`, http.StatusNotFound)
	})

	hub := NewDockerHub(testOptions())
	hub.BaseURL = server.URL
	_, err := hub.Tags(context.Background(), mustName(t, "jupyterhub/missing"))
	rerr, ok := IsRequestError(err)
	require.True(t, ok, "expected a request error, got %v", err)
	assert.Equal(t, http.StatusNotFound, rerr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests), "client errors are not retried")
}

func TestRemote_RetriesServerErrors(t *testing.T) {
	setup()
	defer teardown()

	var requests int32
	mux.HandleFunc("/api/v1/repository/jupyterhub/repo2docker", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"tags": {"2022.06.0": {"name": "2022.06.0", "last_modified": "Thu, 09 Jun 2022 12:00:00 -0000"}}}`)
	})

	quay := NewQuay(testOptions())
	quay.BaseURL = server.URL
	tags, err := quay.Tags(context.Background(), mustName(t, "quay.io/jupyterhub/repo2docker"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2022.06.0"}, tags.Names())
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestRemote_GivesUp(t *testing.T) {
	setup()
	defer teardown()

	var requests int32
	mux.HandleFunc("/api/v1/repository/org/image", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	quay := NewQuay(testOptions())
	quay.BaseURL = server.URL
	_, err := quay.Tags(context.Background(), mustName(t, "quay.io/org/image"))
	rerr, ok := IsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, rerr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests), "one attempt and two retries")
}

func TestRemote_Deadline(t *testing.T) {
	setup()
	defer teardown()

	release := make(chan struct{})
	defer close(release)
	mux.HandleFunc("/api/v1/repository/org/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	quay := NewQuay(testOptions())
	quay.BaseURL = server.URL
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := quay.Tags(ctx, mustName(t, "quay.io/org/slow"))
	assert.Equal(t, context.DeadlineExceeded, errors.Cause(err))
}

func TestQuay_Tags(t *testing.T) {
	setup()
	defer teardown()

	mux.HandleFunc("/api/v1/repository/jupyterhub/repo2docker", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("includeTags"))
		fmt.Fprint(w, `{"name": "repo2docker", "tags": {
			"latest": {"name": "latest", "last_modified": "Fri, 10 Jun 2022 09:00:00 -0000"},
			"2022.06.0-1.g1a2b3c": {"name": "2022.06.0-1.g1a2b3c", "last_modified": "Thu, 09 Jun 2022 12:00:00 -0000"},
			"2022.02.0": {"name": "2022.02.0", "last_modified": "Tue, 01 Feb 2022 12:00:00 +0100"}
		}}`)
	})

	quay := NewQuay(testOptions())
	quay.BaseURL = server.URL
	tags, err := quay.Tags(context.Background(), mustName(t, "quay.io/jupyterhub/repo2docker"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2022.02.0", "2022.06.0-1.g1a2b3c", "latest"}, tags.Names())
	assert.True(t, time.Date(2022, 2, 1, 11, 0, 0, 0, time.UTC).Equal(tags[0].LastModified))
}

func TestQuay_NoTags(t *testing.T) {
	setup()
	defer teardown()

	mux.HandleFunc("/api/v1/repository/org/empty", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "empty"}`)
	})

	quay := NewQuay(testOptions())
	quay.BaseURL = server.URL
	tags, err := quay.Tags(context.Background(), mustName(t, "quay.io/org/empty"))
	require.NoError(t, err)
	assert.Empty(t, tags)

	_, err = Latest(context.Background(), quay, mustName(t, "quay.io/org/empty"), nil)
	assert.Equal(t, ErrNoTagsAvailable, errors.Cause(err))
}

func newGitHubClient(t *testing.T) *github.Client {
	client := github.NewClient(nil)
	u, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = u
	return client
}

func TestGHCR_Versions(t *testing.T) {
	setup()
	defer teardown()

	mux.HandleFunc("/orgs/jupyterhub/packages/container/k8s-hub/versions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"name": "sha256:3", "updated_at": "2022-04-01T00:00:00Z", "metadata": {"container": {"tags": ["1.0.0"]}}}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/orgs/jupyterhub/packages/container/k8s-hub/versions?page=2>; rel="next"`, server.URL))
		fmt.Fprint(w, `[
			{"name": "sha256:1", "updated_at": "2022-06-09T00:00:00Z", "metadata": {"container": {"tags": ["1.1.3", "sha-abc", "latest"]}}},
			{"name": "sha256:2", "updated_at": "2022-05-01T00:00:00Z", "metadata": {"container": {"tags": []}}},
			{"name": "sha256:4", "updated_at": "2022-05-02T00:00:00Z", "metadata": {"container": {"tags": null}}},
			{"name": "sha256:5", "updated_at": "2022-05-03T00:00:00Z", "metadata": {"container": {"tags": ["1.1.2"]}}}
		]`)
	})

	ghcr := NewGHCR(newGitHubClient(t), testOptions())
	tags, err := ghcr.Tags(context.Background(), mustName(t, "ghcr.io/jupyterhub/k8s-hub"))
	require.NoError(t, err)
	// only the first tag of each version is listed
	assert.Equal(t, []string{"1.0.0", "1.1.2", "1.1.3"}, tags.Names())

	latest, err := policy.Latest(tags, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.1.3", latest.Name)
}

func TestGHCR_UserPackages(t *testing.T) {
	setup()
	defer teardown()

	// the package name is a single, escaped, path segment
	mux.HandleFunc("/orgs/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orgs/someone/packages/container/tools%2Fimage/versions", r.URL.EscapedPath())
		http.Error(w, `{"message": "Not Found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/someone/packages/container/tools%2Fimage/versions", r.URL.EscapedPath())
		fmt.Fprint(w, `[{"updated_at": "2022-06-09T00:00:00Z", "metadata": {"container": {"tags": ["v2"]}}}]`)
	})

	ghcr := NewGHCR(newGitHubClient(t), testOptions())
	tags, err := ghcr.Tags(context.Background(), mustName(t, "ghcr.io/someone/tools/image"))
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, tags.Names())
}

func TestDispatcher(t *testing.T) {
	hub := ClientFunc(func(_ context.Context, repo image.Name) (image.TagList, error) {
		return image.TagList{{Name: "hub"}}, nil
	})
	quay := ClientFunc(func(_ context.Context, repo image.Name) (image.TagList, error) {
		return image.TagList{{Name: "quay"}}, nil
	})
	d := &Dispatcher{Default: hub, Hosts: map[string]Client{"quay.io": quay}}

	for _, tt := range []struct {
		name     string
		expected string
	}{
		{"jupyterhub/k8s-hub", "hub"},
		{"alpine", "hub"},
		{"docker.io/jupyterhub/k8s-hub", "hub"},
		{"org/team/image", "hub"},
		{"quay.io/jupyterhub/repo2docker", "quay"},
	} {
		tags, err := d.Tags(context.Background(), mustName(t, tt.name))
		require.NoError(t, err, tt.name)
		assert.Equal(t, []string{tt.expected}, tags.Names(), tt.name)
	}

	for _, name := range []string{"gcr.io/google/pause", "localhost:5000/thing", "registry.example.com/a/b"} {
		_, err := d.Tags(context.Background(), mustName(t, name))
		assert.Equal(t, ErrUnsupportedRegistry, errors.Cause(err), name)
	}
	assert.Equal(t, []string{"quay.io"}, d.Supported())
}

func TestRemoteClientFactory_Dispatcher(t *testing.T) {
	f := &RemoteClientFactory{
		OCIHosts:      []string{"registry.example.com:5000"},
		InsecureHosts: []string{"registry.example.com"},
	}
	d, err := f.Dispatcher()
	require.NoError(t, err)
	assert.Equal(t, []string{"ghcr.io", "quay.io", "registry.example.com:5000"}, d.Supported())
	assert.True(t, f.insecure("registry.example.com:5000"))
	assert.False(t, f.insecure("quay.io"))
}

func TestRequestError(t *testing.T) {
	for _, tt := range []struct {
		status    int
		temporary bool
	}{
		{0, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
	} {
		err := &RequestError{Host: "quay.io", URL: "https://quay.io/x", StatusCode: tt.status, Err: errors.New("x")}
		assert.Equal(t, tt.temporary, err.Temporary(), "status %d", tt.status)
	}

	wrapped := errors.Wrap(&RequestError{StatusCode: 500, Err: errors.New("x")}, "context")
	rerr, ok := IsRequestError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 500, rerr.StatusCode)
}
