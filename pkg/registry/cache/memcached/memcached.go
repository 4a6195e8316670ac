/*
Package memcached keeps registry tag lists in memcached, so that
repeated runs (for instance, a bot checking several configuration
files in quick succession) don't ask the registries the same thing.

Items are given an expiry based on their refresh deadline, with a
minimum duration so that they expire well after they would have been
refreshed. memcached may still evict things under memory pressure;
that's just a cache miss.
*/
package memcached

import (
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/registry/cache"
)

const (
	// The minimum expiry given to an entry.
	MinExpiry = time.Hour
)

// MemcacheClient is a memcache client with a server list that's either
// fixed, or looked up from DNS SRV records and refreshed periodically.
type MemcacheClient struct {
	client     *memcache.Client
	serverList *memcache.ServerList
	logger     log.Logger

	quit chan struct{}
	wait sync.WaitGroup
}

// MemcacheConfig defines how a MemcacheClient should be constructed.
type MemcacheConfig struct {
	// Host and Service name the SRV records to look up
	Host           string
	Service        string
	Timeout        time.Duration
	UpdateInterval time.Duration
	Logger         log.Logger
	MaxIdleConns   int
}

func newClient(config MemcacheConfig) *MemcacheClient {
	var servers memcache.ServerList
	client := memcache.NewFromSelector(&servers)
	client.Timeout = config.Timeout
	client.MaxIdleConns = config.MaxIdleConns

	logger := config.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &MemcacheClient{
		client:     client,
		serverList: &servers,
		logger:     logger,
		quit:       make(chan struct{}),
	}
}

// NewMemcacheClient finds its servers from the SRV records for
// config.Service on config.Host.
func NewMemcacheClient(config MemcacheConfig) *MemcacheClient {
	c := newClient(config)
	update := func() error {
		return c.updateFromSRVRecords(config.Service, config.Host)
	}
	if err := update(); err != nil {
		c.logger.Log("err", errors.Wrapf(err, "setting memcache servers from %s", config.Host))
	}
	c.start(config.UpdateInterval, update)
	return c
}

// NewFixedServerMemcacheClient uses the given addresses, and doesn't
// look anything up.
func NewFixedServerMemcacheClient(config MemcacheConfig, addresses ...string) (*MemcacheClient, error) {
	c := newClient(config)
	if err := c.serverList.SetServers(addresses...); err != nil {
		return nil, errors.Wrap(err, "setting memcache servers")
	}
	return c, nil
}

func (c *MemcacheClient) start(interval time.Duration, update func() error) {
	if interval <= 0 {
		return
	}
	c.wait.Add(1)
	go c.updateLoop(interval, update)
}

// GetKey gets the value and its refresh deadline from the cache.
func (c *MemcacheClient) GetKey(k cache.Keyer) ([]byte, time.Time, error) {
	item, err := c.client.Get(k.Key())
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, time.Time{}, cache.ErrNotCached
		}
		return nil, time.Time{}, errors.Wrap(err, "fetching from memcache")
	}
	if len(item.Value) < 4 {
		return nil, time.Time{}, cache.ErrNotCached
	}
	deadline := binary.BigEndian.Uint32(item.Value)
	return item.Value[4:], time.Unix(int64(deadline), 0), nil
}

// SetKey sets the value and its refresh deadline at a key. NB the key
// expiry is set _longer_ than the deadline, to give a grace period
// in which to refresh the value.
func (c *MemcacheClient) SetKey(k cache.Keyer, refreshDeadline time.Time, v []byte) error {
	expiry := time.Until(refreshDeadline) * 2
	if expiry < MinExpiry {
		expiry = MinExpiry
	}

	value := make([]byte, 4, 4+len(v))
	binary.BigEndian.PutUint32(value, uint32(refreshDeadline.Unix()))
	if err := c.client.Set(&memcache.Item{
		Key:        k.Key(),
		Value:      append(value, v...),
		Expiration: int32(expiry.Seconds()),
	}); err != nil {
		return errors.Wrap(err, "storing in memcache")
	}
	return nil
}

// Stop the memcache client.
func (c *MemcacheClient) Stop() {
	close(c.quit)
	c.wait.Wait()
}

func (c *MemcacheClient) updateLoop(interval time.Duration, update func() error) {
	defer c.wait.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := update(); err != nil {
				c.logger.Log("err", errors.Wrap(err, "updating memcache servers"))
			}
		case <-c.quit:
			return
		}
	}
}

// updateFromSRVRecords sets the server list from SRV records,
// ignoring priority and weight.
func (c *MemcacheClient) updateFromSRVRecords(service, host string) error {
	_, addrs, err := net.LookupSRV(service, "tcp", host)
	if err != nil {
		return err
	}
	var servers []string
	for _, srv := range addrs {
		servers = append(servers, fmt.Sprintf("%s:%d", srv.Target, srv.Port))
	}
	// The server list maps keys to the _index_ of a server, and DNS
	// returns records in any order; sorting keeps the mapping stable.
	sort.Strings(servers)
	return c.serverList.SetServers(servers...)
}

var _ cache.Client = &MemcacheClient{}
