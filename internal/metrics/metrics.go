// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperPagesTotal          *prometheus.CounterVec
	scraperFetchRetriesTotal   prometheus.Counter
	scraperItemsExtractedTotal *prometheus.CounterVec
	scraperItemsSkippedTotal   *prometheus.CounterVec
	busPublishTotal            *prometheus.CounterVec
	scraperRunsTotal           *prometheus.CounterVec
	rateLimitDelaySeconds      prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total number of pages fetched, labeled by HTTP status.",
			},
			[]string{"status"},
		)

		scraperFetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_fetch_retries_total",
				Help: "Total number of fetch retry attempts.",
			},
		)

		scraperItemsExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_items_extracted_total",
				Help: "Total number of records extracted, labeled by stage.",
			},
			[]string{"stage"},
		)

		scraperItemsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_items_skipped_total",
				Help: "Total number of items skipped due to fetch or parse failures, labeled by stage.",
			},
			[]string{"stage"},
		)

		busPublishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_publish_total",
				Help: "Total bus publish attempts, labeled by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		)

		scraperRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Total pipeline runs, labeled by final status.",
			},
			[]string{"status"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit sleep durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch increments the page counter for the given HTTP status code.
func ObserveFetch(statusCode int) {
	if scraperPagesTotal == nil {
		return
	}
	scraperPagesTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveFetchRetry increments the retry counter.
func ObserveFetchRetry() {
	if scraperFetchRetriesTotal == nil {
		return
	}
	scraperFetchRetriesTotal.Inc()
}

// ObserveExtracted adds extracted record counts for a stage.
func ObserveExtracted(stage string, count int) {
	if scraperItemsExtractedTotal == nil || count <= 0 {
		return
	}
	scraperItemsExtractedTotal.WithLabelValues(stage).Add(float64(count))
}

// ObserveSkipped increments the skipped-item counter for a stage.
func ObserveSkipped(stage string) {
	if scraperItemsSkippedTotal == nil {
		return
	}
	scraperItemsSkippedTotal.WithLabelValues(stage).Inc()
}

// ObservePublish increments the publish counter with an ok/failed outcome.
func ObservePublish(channel string, ok bool) {
	if busPublishTotal == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	busPublishTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveRun increments the run counter for the given final status.
func ObserveRun(status string) {
	if scraperRunsTotal == nil {
		return
	}
	scraperRunsTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit sleep.
func ObserveRateLimitDelay(duration time.Duration) {
	if rateLimitDelaySeconds == nil || duration <= 0 {
		return
	}
	rateLimitDelaySeconds.Observe(duration.Seconds())
}
