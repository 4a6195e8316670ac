package registry

// Monitoring middleware for registry clients

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/fluxcd/tagbot/pkg/image"
	"github.com/fluxcd/tagbot/pkg/metrics"
)

const RequestKindTags = "tags"

var (
	remoteDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: "registry",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of remote tag listing requests, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{metrics.LabelRegistry, metrics.LabelKind, metrics.LabelSuccess})
	tagsListed = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "registry",
		Name:      "tags_listed_total",
		Help:      "Number of tags returned by registries.",
	}, []string{metrics.LabelRegistry})
)

type instrumentedClient struct {
	next     Client
	registry string
}

// NewInstrumentedClient records the duration and outcome of each
// request made through next, labelled with the registry host.
func NewInstrumentedClient(next Client, registry string) Client {
	return &instrumentedClient{
		next:     next,
		registry: registry,
	}
}

func (m *instrumentedClient) Tags(ctx context.Context, repo image.Name) (res image.TagList, err error) {
	start := time.Now()
	res, err = m.next.Tags(ctx, repo)
	remoteDuration.With(
		metrics.LabelRegistry, m.registry,
		metrics.LabelKind, RequestKindTags,
		metrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Observe(time.Since(start).Seconds())
	if err == nil {
		tagsListed.With(metrics.LabelRegistry, m.registry).Add(float64(len(res)))
	}
	return
}
