package registry

import (
	"context"
	"io/ioutil"
	stdlog "log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	ggcrregistry "github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/tagbot/pkg/policy"
)

// pushImage writes a random image to host/repo:tag, with its config
// claiming to have been created at the given time.
func pushImage(t *testing.T, host, repo, tag string, created time.Time) {
	img, err := random.Image(256, 1)
	require.NoError(t, err)
	cfg, err := img.ConfigFile()
	require.NoError(t, err)
	cfg = cfg.DeepCopy()
	cfg.Created = v1.Time{Time: created}
	img, err = mutate.ConfigFile(img, cfg)
	require.NoError(t, err)

	ref, err := name.NewTag(host+"/"+repo+":"+tag, name.Insecure)
	require.NoError(t, err)
	require.NoError(t, remote.Write(ref, img))
}

func newOCIServer(t *testing.T) (*httptest.Server, string) {
	s := httptest.NewServer(ggcrregistry.New(ggcrregistry.Logger(stdlog.New(ioutil.Discard, "", 0))))
	return s, strings.TrimPrefix(s.URL, "http://")
}

func TestOCI_Tags(t *testing.T) {
	s, host := newOCIServer(t)
	defer s.Close()

	midnight := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	pushImage(t, host, "team/app", "b-old", midnight)
	pushImage(t, host, "team/app", "a-new", midnight.Add(time.Hour))
	pushImage(t, host, "team/app", "latest", midnight.Add(2*time.Hour))

	oci := NewOCI(host, testOptions())
	oci.Insecure = true
	tags, err := oci.Tags(context.Background(), mustName(t, host+"/team/app"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b-old", "a-new", "latest"}, tags.Names())
	assert.True(t, tags[0].LastModified.Equal(midnight))

	// latest is newest but never chosen
	latest, err := policy.Latest(tags, nil)
	require.NoError(t, err)
	assert.Equal(t, "a-new", latest.Name)
}

func TestOCI_MaxTags(t *testing.T) {
	s, host := newOCIServer(t)
	defer s.Close()

	start := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, tag := range []string{"v3", "v1", "v2"} {
		pushImage(t, host, "app", tag, start.Add(time.Duration(i)*time.Hour))
	}

	oci := NewOCI(host, testOptions())
	oci.Insecure = true
	oci.MaxTags = 2
	tags, err := oci.Tags(context.Background(), mustName(t, host+"/app"))
	require.NoError(t, err)
	// the lexically greatest tags survive, ordered by creation
	assert.Equal(t, []string{"v3", "v2"}, tags.Names())
}

func TestOCI_UnknownRepository(t *testing.T) {
	s, host := newOCIServer(t)
	defer s.Close()

	oci := NewOCI(host, testOptions())
	oci.Insecure = true
	_, err := oci.Tags(context.Background(), mustName(t, host+"/nobody/here"))
	require.Error(t, err)
	rerr, ok := IsRequestError(err)
	require.True(t, ok, "%v", err)
	assert.Equal(t, http.StatusNotFound, rerr.StatusCode)
	assert.Equal(t, host, rerr.Host)
	assert.False(t, rerr.Temporary())
}
