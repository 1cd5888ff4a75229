// Package metrics exposes Prometheus collectors for an aggregator run. The
// collectors live in a private registry that is written to a node-exporter
// textfile at the end of the run.
package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JakeFAU/feedroll/internal/fetchlog"
	"github.com/JakeFAU/feedroll/internal/model"
	"github.com/JakeFAU/feedroll/internal/plugin"
)

// Recorder owns the collectors of one run.
type Recorder struct {
	registry *prometheus.Registry

	fetchesTotal         *prometheus.CounterVec
	articlesAddedTotal   *prometheus.CounterVec
	articlesExpiredTotal *prometheus.CounterVec
	activeWorkers        prometheus.Gauge
	rateLimitDelays      *prometheus.HistogramVec
	feeds                prometheus.Gauge
	lastUpdateTimestamp  prometheus.Gauge
	lastWriteTimestamp   prometheus.Gauge
	outputBytes          prometheus.Gauge
	now                  func() time.Time
}

// New registers the collectors in a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		fetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedroll_fetches_total",
				Help: "Total number of feed fetches, labeled by site and result.",
			},
			[]string{"site", "result"},
		),
		articlesAddedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedroll_articles_added_total",
				Help: "Total number of new articles, labeled by site.",
			},
			[]string{"site"},
		),
		articlesExpiredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedroll_articles_expired_total",
				Help: "Total number of expired articles, labeled by site.",
			},
			[]string{"site"},
		),
		activeWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedroll_active_workers",
				Help: "Number of workers currently fetching a feed.",
			},
		),
		rateLimitDelays: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedroll_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		),
		feeds: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedroll_feeds",
				Help: "Number of subscribed feeds at the end of the last update.",
			},
		),
		lastUpdateTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedroll_last_update_timestamp_seconds",
				Help: "Unix time the last update finished.",
			},
		),
		lastWriteTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedroll_last_write_timestamp_seconds",
				Help: "Unix time the output page was last written.",
			},
		),
		outputBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedroll_output_bytes",
				Help: "Size of the last written output page.",
			},
		),
		now: time.Now,
	}
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the current values in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// FeedFetched counts a classified fetch.
func (r *Recorder) FeedFetched(_ context.Context, report plugin.FetchReport) {
	r.fetchesTotal.WithLabelValues(SanitizeSite(report.Feed.URL), fetchlog.Classify(report)).Inc()
}

// ArticleAdded counts a new article.
func (r *Recorder) ArticleAdded(a *model.Article, _ time.Time) {
	r.articlesAddedTotal.WithLabelValues(SanitizeSite(a.FeedURL)).Inc()
}

// ArticleExpired counts an expired article.
func (r *Recorder) ArticleExpired(a *model.Article, _ time.Time) {
	r.articlesExpiredTotal.WithLabelValues(SanitizeSite(a.FeedURL)).Inc()
}

// UpdateFinished records the feed count and completion time.
func (r *Recorder) UpdateFinished(_ context.Context, state *model.State, _ time.Time) {
	r.feeds.Set(float64(len(state.Feeds)))
	r.lastUpdateTimestamp.Set(float64(r.now().Unix()))
}

// AfterWrite records the page size and write time.
func (r *Recorder) AfterWrite(_ context.Context, _ string, page []byte) {
	r.outputBytes.Set(float64(len(page)))
	r.lastWriteTimestamp.Set(float64(r.now().Unix()))
}

// IncActiveWorkers increments the active workers gauge.
func (r *Recorder) IncActiveWorkers() {
	r.activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func (r *Recorder) DecActiveWorkers() {
	r.activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func (r *Recorder) ObserveRateLimitDelay(domain string, duration time.Duration) {
	r.rateLimitDelays.WithLabelValues(domain).Observe(duration.Seconds())
}
