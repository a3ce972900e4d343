// Package monitor implements the monitoring counters backing the
// /monitoring admin endpoint and spec.md §4.10. Grounded on the Prometheus
// client usage shown in the examples (promhttp.Handler wiring), replacing
// the teacher's hand-rolled text exporter (internal/metrics, since deleted
// — see DESIGN.md) with github.com/prometheus/client_golang proper.
package monitor

import (
	"net/http"
	"sync/atomic"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iSundram/gruxi/internal/filecache"
)

// Registry holds every counter/gauge exposed by Gruxi, plus a small rolling
// rate tracker used by the JSON /monitoring summary (the Prometheus
// registry serves the raw counters for scraping; the rolling rate is a
// derived convenience for the admin UI).
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	CacheItems      prometheus.Gauge
	CGIPoolDegraded *prometheus.GaugeVec
	ProxyUnhealthy  *prometheus.GaugeVec

	rate           *rollingRate
	inFlightCount  atomic.Int64
	cacheItemCount atomic.Int64
	cacheMaxItems  atomic.Int64
	cacheEnabled   atomic.Bool
	requestsServed atomic.Int64
	startTime      time.Time
}

// IncInFlight/DecInFlight track the in-flight counter both on the
// Prometheus gauge and a plain int64 the JSON summary can read cheaply.
func (r *Registry) IncInFlight() {
	r.InFlight.Inc()
	r.inFlightCount.Add(1)
}

func (r *Registry) DecInFlight() {
	r.InFlight.Dec()
	r.inFlightCount.Add(-1)
}

// SetCacheItems updates the cache occupancy gauge.
func (r *Registry) SetCacheItems(n int) {
	r.CacheItems.Set(float64(n))
	r.cacheItemCount.Store(int64(n))
}

// SetCacheStats updates the occupancy gauge plus the enabled/max-items
// figures the /monitoring summary's file_cache section reports.
func (r *Registry) SetCacheStats(stats filecache.Stats) {
	r.SetCacheItems(stats.CurrentItems)
	r.cacheEnabled.Store(stats.Enabled)
	r.cacheMaxItems.Store(int64(stats.MaxItems))
}

// New builds a Registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gruxi_requests_total",
			Help: "Total HTTP requests handled, by site and status class.",
		}, []string{"site", "status_class"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gruxi_request_duration_seconds",
			Help:    "Request handling latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"site"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gruxi_requests_in_flight",
			Help: "Requests currently being handled.",
		}),
		CacheItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gruxi_filecache_items",
			Help: "Current file cache occupancy.",
		}),
		CGIPoolDegraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gruxi_cgipool_degraded_workers",
			Help: "Dead or respawning worker slots, by handler.",
		}, []string{"handler"}),
		ProxyUnhealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gruxi_proxy_unhealthy_upstreams",
			Help: "Upstreams currently marked unhealthy, by processor.",
		}, []string{"processor"}),
		rate:      newRollingRate(),
		startTime: time.Now(),
	}

	reg.MustRegister(r.RequestsTotal, r.RequestDuration, r.InFlight, r.CacheItems, r.CGIPoolDegraded, r.ProxyUnhealthy)
	return r
}

// Handler returns the Prometheus scrape endpoint handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed request.
func (r *Registry) ObserveRequest(site string, statusClass string, elapsed time.Duration) {
	r.RequestsTotal.WithLabelValues(site, statusClass).Inc()
	r.RequestDuration.WithLabelValues(site).Observe(elapsed.Seconds())
	r.rate.record(time.Now())
	r.requestsServed.Add(1)
}

// rollingRate tracks request counts in ten 1-second buckets for a cheap
// requests-per-second figure in the JSON monitoring summary.
type rollingRate struct {
	mu      sync.Mutex
	buckets [10]int
	epoch   int64
}

func newRollingRate() *rollingRate {
	return &rollingRate{epoch: time.Now().Unix()}
}

func (r *rollingRate) record(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceLocked(now)
	idx := int(now.Unix() % 10)
	r.buckets[idx]++
}

func (r *rollingRate) advanceLocked(now time.Time) {
	sec := now.Unix()
	delta := sec - r.epoch
	if delta <= 0 {
		return
	}
	if delta >= 10 {
		r.buckets = [10]int{}
	} else {
		for i := int64(1); i <= delta; i++ {
			idx := int((r.epoch + i) % 10)
			r.buckets[idx] = 0
		}
	}
	r.epoch = sec
}

// RatePerSecond returns the average requests/second over the last ten
// seconds.
func (r *rollingRate) RatePerSecond() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceLocked(time.Now())
	total := 0
	for _, c := range r.buckets {
		total += c
	}
	return float64(total) / 10.0
}

// RatePerSecond exposes the Registry's rolling rate.
func (r *Registry) RatePerSecond() float64 {
	return r.rate.RatePerSecond()
}

// FileCacheSummary is the file_cache section of the /monitoring payload.
type FileCacheSummary struct {
	Enabled      bool  `json:"enabled"`
	CurrentItems int64 `json:"current_items"`
	MaxItems     int64 `json:"max_items"`
}

// Summary is the JSON shape returned by the /monitoring admin endpoint
// (spec.md §6).
type Summary struct {
	UptimeSeconds      int64            `json:"uptime_seconds"`
	RequestsServed     int64            `json:"requests_served"`
	RequestsPerSec     float64          `json:"requests_per_sec"`
	RequestsInProgress int64            `json:"requests_in_progress"`
	FileCache          FileCacheSummary `json:"file_cache"`
}

// Summarize builds the JSON /monitoring payload.
func (r *Registry) Summarize() Summary {
	return Summary{
		UptimeSeconds:      int64(time.Since(r.startTime).Seconds()),
		RequestsServed:     r.requestsServed.Load(),
		RequestsPerSec:     r.RatePerSecond(),
		RequestsInProgress: r.inFlightCount.Load(),
		FileCache: FileCacheSummary{
			Enabled:      r.cacheEnabled.Load(),
			CurrentItems: r.cacheItemCount.Load(),
			MaxItems:     r.cacheMaxItems.Load(),
		},
	}
}
