// Package metrics exposes Prometheus instrumentation for the download and
// merge pipeline. Collection is cheap and always on; Serve optionally
// publishes the registry over HTTP.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "srsbox_downloads_total",
		Help: "Completed download attempts by outcome.",
	}, []string{"outcome"})

	downloadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "srsbox_download_retries_total",
		Help: "Download attempts that were retried after a retryable error.",
	})

	downloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "srsbox_download_bytes_total",
		Help: "Bytes written to disk by successful downloads.",
	})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "srsbox_download_duration_seconds",
		Help:    "Wall time per download including retries.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	cacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "srsbox_cache_events_total",
		Help: "Cache lookups by result.",
	}, []string{"result"})

	rulesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "srsbox_rules_merged_total",
		Help: "Rule values accepted into merged rule sets.",
	})

	ruleValuesFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "srsbox_rule_values_filtered_total",
		Help: "Rule values dropped by the keyword filter.",
	})
)

// DownloadFinished records a finished download, successful or not.
func DownloadFinished(success bool, sizeBytes int64, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	downloadsTotal.WithLabelValues(outcome).Inc()
	downloadDuration.Observe(duration.Seconds())
	if success && sizeBytes > 0 {
		downloadBytes.Add(float64(sizeBytes))
	}
}

// DownloadRetried counts one retry of a download attempt.
func DownloadRetried() { downloadRetries.Inc() }

// CacheHit counts a download served from the on-disk cache.
func CacheHit() { cacheEvents.WithLabelValues("hit").Inc() }

// CacheMiss counts a cache lookup that went to the network.
func CacheMiss() { cacheEvents.WithLabelValues("miss").Inc() }

// RulesMerged adds n accepted rule values.
func RulesMerged(n int) {
	if n > 0 {
		rulesMerged.Add(float64(n))
	}
}

// RuleValuesFiltered adds n rule values removed by the keyword filter.
func RuleValuesFiltered(n int) {
	if n > 0 {
		ruleValuesFiltered.Add(float64(n))
	}
}

// Serve publishes /metrics on listen in a background goroutine. Errors are
// logged, not fatal: the pipeline does not depend on the metrics endpoint.
func Serve(listen string, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics server listening", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "error", err)
		}
	}()
}
