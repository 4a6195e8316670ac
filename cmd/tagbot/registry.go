package main

import (
	"fmt"

	"github.com/go-kit/kit/log"

	"github.com/fluxcd/tagbot/pkg/config"
	"github.com/fluxcd/tagbot/pkg/registry"
	"github.com/fluxcd/tagbot/pkg/registry/cache"
	"github.com/fluxcd/tagbot/pkg/registry/cache/memcached"
	"github.com/fluxcd/tagbot/pkg/registry/middleware"
)

// registryClient returns the client to look up tags with, and a func
// to call when done with it.
func (opts *rootOpts) registryClient() (registry.Client, func(), error) {
	if opts.registry != nil {
		return opts.registry, func() {}, nil
	}
	return newRegistry(opts.Config, opts.Logger)
}

// newRegistry assembles the client for all registries from the
// config, with a cache in front if memcached is configured. The
// returned func releases anything held by the client.
func newRegistry(cfg config.Config, logger log.Logger) (registry.Client, func(), error) {
	logger = log.With(logger, "component", "registry")

	creds := registry.NoCredentials()
	if cfg.DockerConfig != "" {
		c, err := registry.ReadCredentials(cfg.DockerConfig)
		if err != nil {
			return nil, nil, err
		}
		creds = c
		logger.Log("credentials", cfg.DockerConfig, "hosts", fmt.Sprintf("%v", creds.Hosts()))
	}

	factory := &registry.RemoteClientFactory{
		Logger: logger,
		Limiters: &middleware.HostLimiters{
			RPS:    cfg.RegistryRPS,
			Burst:  cfg.RegistryBurst,
			Logger: logger,
		},
		Trace:          cfg.RegistryTrace,
		InsecureHosts:  cfg.RegistryInsecureHost,
		OCIHosts:       cfg.RegistryOCIHost,
		Credentials:    creds,
		GitHubToken:    cfg.GitHubToken,
		GitHubAPI:      cfg.GitHubAPI,
		DockerHubPages: cfg.RegistryHubPages,
		OCIMaxTags:     cfg.RegistryOCIMaxTags,
	}
	dispatcher, err := factory.Dispatcher()
	if err != nil {
		return nil, nil, err
	}
	logger.Log("supported", fmt.Sprintf("%v", dispatcher.Supported()))

	if cfg.MemcachedHostname == "" {
		return dispatcher, func() {}, nil
	}

	memcacheConfig := memcached.MemcacheConfig{
		Host:    cfg.MemcachedHostname,
		Service: cfg.MemcachedService,
		Timeout: cfg.MemcachedTimeout,
		Logger:  log.With(logger, "component", "memcached"),
	}
	var memcacheClient *memcached.MemcacheClient
	if cfg.MemcachedService == "" {
		memcacheClient, err = memcached.NewFixedServerMemcacheClient(memcacheConfig,
			fmt.Sprintf("%s:%d", cfg.MemcachedHostname, cfg.MemcachedPort))
		if err != nil {
			return nil, nil, err
		}
	} else {
		memcacheClient = memcached.NewMemcacheClient(memcacheConfig)
	}
	logger.Log("cache", "memcached", "host", cfg.MemcachedHostname, "ttl", cfg.MemcachedTTL)

	return &cache.Registry{
		Next:   dispatcher,
		Cache:  memcacheClient,
		TTL:    cfg.MemcachedTTL,
		Logger: logger,
	}, memcacheClient.Stop, nil
}
