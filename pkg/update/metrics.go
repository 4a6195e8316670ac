package update

import (
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	tagmetrics "github.com/fluxcd/tagbot/pkg/metrics"
)

var (
	runDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: tagmetrics.Namespace,
		Subsystem: "update",
		Name:      "run_duration_seconds",
		Help:      "Duration in seconds of a whole run, including dry-runs.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{tagmetrics.LabelKind, tagmetrics.LabelSuccess})
	stageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: tagmetrics.Namespace,
		Subsystem: "update",
		Name:      "stage_duration_seconds",
		Help:      "Duration in seconds of each stage of a run.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{tagmetrics.LabelStage})
	imagesTotal = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: tagmetrics.Namespace,
		Subsystem: "update",
		Name:      "images",
		Help:      "Number of tracked images by status, as of the last run.",
	}, []string{tagmetrics.LabelStatus})
)

func NewStageTimer(stage string) *metrics.Timer {
	return metrics.NewTimer(stageDuration.With(tagmetrics.LabelStage, stage))
}

func ObserveRun(start time.Time, success bool, kind string) {
	runDuration.With(
		tagmetrics.LabelKind, kind,
		tagmetrics.LabelSuccess, strconv.FormatBool(success),
	).Observe(time.Since(start).Seconds())
}

// ObserveResult records how many entries of the result have each
// status.
func ObserveResult(r Result) {
	counts := map[Status]int{}
	for _, e := range r {
		counts[e.Status]++
	}
	for _, s := range []Status{StatusUpToDate, StatusStale, StatusUpdated, StatusSkipped, StatusFailed} {
		imagesTotal.With(tagmetrics.LabelStatus, string(s)).Set(float64(counts[s]))
	}
}
