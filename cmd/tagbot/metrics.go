package main

import (
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const metricsJob = "tagbot"

// pushMetrics sends everything registered with the default registry to
// a Pushgateway. A run is too short-lived to be scraped, so this is
// the only way its metrics get anywhere.
func pushMetrics(url string, logger log.Logger) error {
	if url == "" {
		return nil
	}
	err := push.New(url, metricsJob).
		Gatherer(prometheus.DefaultGatherer).
		Push()
	if err != nil {
		return errors.Wrapf(err, "pushing metrics to %s", url)
	}
	logger.Log("metrics", "pushed", "url", url)
	return nil
}
