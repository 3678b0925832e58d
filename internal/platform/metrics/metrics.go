// Package metrics provides observability for the vault server.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tick results used as the "result" label.
const (
	ResultCommitted = "committed"
	ResultSkipped   = "skipped"
	ResultContended = "contended"
	ResultFailed    = "failed"
)

// Collector owns the Prometheus series of one process. It also keeps a few
// plain counters so Snapshot can feed the tuning analyzer without scraping.
type Collector struct {
	registry *prometheus.Registry

	ticks           *prometheus.CounterVec
	tickLatency     prometheus.Histogram
	commitLatency   prometheus.Histogram
	commitErrors    prometheus.Counter
	subsystemErrors *prometheus.CounterVec
	events          *prometheus.CounterVec
	cycleLatency    prometheus.Histogram
	dueVaults       prometheus.Gauge
	wsConnections   prometheus.Gauge
	wsMessages      *prometheus.CounterVec
	wsErrors        prometheus.Counter

	tickCount      int64
	tickLatencySum int64
	tickLatencyMax int64
	contended      int64
	commitCount    int64
	commitLatMax   int64
	commitErrCount int64
	wsActive       int64
	wsErrCount     int64

	mu           sync.RWMutex
	lastTickTime time.Time
	startTime    time.Time
}

// New builds a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ticks_total",
			Help: "Vault ticks by result.",
		}, []string{"result"}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_tick_duration_seconds",
			Help:    "Wall time of a committed vault tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_commit_duration_seconds",
			Help:    "Wall time of the atomic vault commit.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		commitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_commit_errors_total",
			Help: "Commits rejected or failed.",
		}),
		subsystemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_subsystem_errors_total",
			Help: "Per-entity compute errors by subsystem.",
		}, []string{"system"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_events_total",
			Help: "Domain events emitted by type.",
		}, []string{"type"}),
		cycleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_scheduler_cycle_seconds",
			Help:    "Wall time of one scheduler cycle.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		dueVaults: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vault_scheduler_due_vaults",
			Help: "Vaults found due in the last scheduler cycle.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vault_ws_connections",
			Help: "Active WebSocket subscribers.",
		}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ws_messages_total",
			Help: "WebSocket messages by direction.",
		}, []string{"direction"}),
		wsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_ws_errors_total",
			Help: "WebSocket write or read failures.",
		}),
	}
	c.registry.MustRegister(
		c.ticks, c.tickLatency, c.commitLatency, c.commitErrors, c.subsystemErrors,
		c.events, c.cycleLatency, c.dueVaults, c.wsConnections, c.wsMessages, c.wsErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

var (
	defaultOnce sync.Once
	collector   *Collector
)

// Get returns the process-wide collector.
func Get() *Collector {
	defaultOnce.Do(func() { collector = New() })
	return collector
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordTick records the outcome of one RunTick call.
func (c *Collector) RecordTick(result string, latency time.Duration) {
	c.ticks.WithLabelValues(result).Inc()
	if result == ResultContended {
		atomic.AddInt64(&c.contended, 1)
	}
	if result != ResultCommitted {
		return
	}
	c.tickLatency.Observe(latency.Seconds())
	atomic.AddInt64(&c.tickCount, 1)
	atomic.AddInt64(&c.tickLatencySum, int64(latency))
	storeMax(&c.tickLatencyMax, int64(latency))

	c.mu.Lock()
	c.lastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordCommit records an atomic commit attempt.
func (c *Collector) RecordCommit(latency time.Duration, err error) {
	atomic.AddInt64(&c.commitCount, 1)
	c.commitLatency.Observe(latency.Seconds())
	storeMax(&c.commitLatMax, int64(latency))
	if err != nil {
		c.commitErrors.Inc()
		atomic.AddInt64(&c.commitErrCount, 1)
	}
}

// RecordSubsystemError counts a per-entity compute failure.
func (c *Collector) RecordSubsystemError(system string) {
	c.subsystemErrors.WithLabelValues(system).Inc()
}

// RecordEvent counts an emitted domain event.
func (c *Collector) RecordEvent(eventType string) {
	c.events.WithLabelValues(eventType).Inc()
}

// RecordCycle records one scheduler pass.
func (c *Collector) RecordCycle(due int, latency time.Duration) {
	c.dueVaults.Set(float64(due))
	c.cycleLatency.Observe(latency.Seconds())
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.wsActive, delta)
	c.wsConnections.Add(float64(delta))
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		c.wsMessages.WithLabelValues("in").Inc()
	} else {
		c.wsMessages.WithLabelValues("out").Inc()
	}
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	c.wsErrors.Inc()
	atomic.AddInt64(&c.wsErrCount, 1)
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	last := c.lastTickTime
	c.mu.RUnlock()

	tickCount := atomic.LoadInt64(&c.tickCount)
	var tickAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.tickLatencySum)) / float64(tickCount) / 1e6
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.startTime).Seconds(),
		"tick": map[string]interface{}{
			"count":          tickCount,
			"contended":      atomic.LoadInt64(&c.contended),
			"avg_latency_ms": tickAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.tickLatencyMax)) / 1e6,
			"last_tick":      last.Format(time.RFC3339),
		},
		"commits": map[string]interface{}{
			"count":             atomic.LoadInt64(&c.commitCount),
			"max_commit_lat_ms": float64(atomic.LoadInt64(&c.commitLatMax)) / 1e6,
			"errors":            atomic.LoadInt64(&c.commitErrCount),
		},
		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.wsActive),
			"errors":             atomic.LoadInt64(&c.wsErrCount),
		},
	}
}

// Handler serves the Prometheus exposition for /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// JSONHandler serves Snapshot for the debug endpoint.
func (c *Collector) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

func storeMax(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur || atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}
