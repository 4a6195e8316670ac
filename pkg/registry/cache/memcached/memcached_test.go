// +build integration

package memcached

import (
	"context"
	"flag"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/tagbot/pkg/image"
	"github.com/fluxcd/tagbot/pkg/registry"
	"github.com/fluxcd/tagbot/pkg/registry/cache"
)

var (
	memcachedIPs = flag.String("memcached-ips", "127.0.0.1:11211", "space-separated host:port values for memcached to connect to")
)

type testKey string

func (t testKey) Key() string {
	return string(t)
}

func newTestClient(t *testing.T) *MemcacheClient {
	mc, err := NewFixedServerMemcacheClient(MemcacheConfig{
		Timeout: time.Second,
		Logger:  log.With(log.NewLogfmtLogger(os.Stderr), "component", "memcached"),
	}, strings.Fields(*memcachedIPs)...)
	require.NoError(t, err)
	return mc
}

func TestMemcache_ExpiryReadWrite(t *testing.T) {
	mc := newTestClient(t)
	defer mc.Stop()

	now := time.Now().Round(time.Second)
	require.NoError(t, mc.SetKey(testKey("test"), now, []byte("test bytes")))

	cached, deadline, err := mc.GetKey(testKey("test"))
	require.NoError(t, err)
	assert.True(t, deadline.Equal(now), "deadline %s, expected %s", deadline, now)
	assert.Equal(t, "test bytes", string(cached))

	_, _, err = mc.GetKey(testKey("never-set"))
	assert.Equal(t, cache.ErrNotCached, err)
}

func TestMemcache_CachingRegistry(t *testing.T) {
	mc := newTestClient(t)
	defer mc.Stop()

	var calls int
	next := registry.ClientFunc(func(context.Context, image.Name) (image.TagList, error) {
		calls++
		return image.TagList{{Name: "1.0", LastModified: time.Now().UTC()}}, nil
	})
	r := &cache.Registry{Next: next, Cache: mc, TTL: time.Minute}
	repo, _ := image.ParseName("jupyterhub/k8s-hub-" + time.Now().Format("150405.000000"))

	for i := 0; i < 2; i++ {
		tags, err := r.Tags(context.Background(), repo)
		require.NoError(t, err)
		assert.Equal(t, []string{"1.0"}, tags.Names())
	}
	assert.Equal(t, 1, calls)
}
