// Package metrics exposes store activity as Prometheus collectors.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chatevents/pkg/models"
)

// Collector implements events.Observer, db.MetricsHook and the runner's
// observer.
type Collector struct {
	appended      *prometheus.CounterVec
	migrated      prometheus.Counter
	collected     prometheus.Counter
	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	searchLatency prometheus.Histogram
	reads         prometheus.Histogram
	readBytes     prometheus.Counter
	commits       prometheus.Histogram
	commitOps     prometheus.Counter
	commitBytes   prometheus.Counter
	chats         prometheus.Gauge
	ephemeral     prometheus.Gauge
	diskUsed      prometheus.Gauge
	diskFree      prometheus.Gauge
}

// New builds a Collector and registers it with reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatevents",
			Name:      "events_appended_total",
			Help:      "Events appended, by kind.",
		}, []string{"kind"}),
		migrated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatevents",
			Name:      "events_migrated_total",
			Help:      "Events moved from the ephemeral to the durable tier.",
		}),
		collected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatevents",
			Name:      "gc_keys_deleted_total",
			Help:      "Durable keys removed by prefix garbage collection.",
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatevents",
			Name:      "runner_ticks_total",
			Help:      "Background runner ticks, by outcome.",
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatevents",
			Name:      "runner_tick_seconds",
			Help:      "Wall time of one background runner tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatevents",
			Name:      "search_seconds",
			Help:      "Latency of message searches.",
			Buckets:   prometheus.DefBuckets,
		}),
		reads: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatevents",
			Subsystem: "kv",
			Name:      "read_seconds",
			Help:      "Latency of durable point reads.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		readBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatevents",
			Subsystem: "kv",
			Name:      "read_bytes_total",
			Help:      "Bytes returned by durable point reads.",
		}),
		commits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatevents",
			Subsystem: "kv",
			Name:      "commit_seconds",
			Help:      "Latency of durable batch commits.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}),
		commitOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatevents",
			Subsystem: "kv",
			Name:      "commit_ops_total",
			Help:      "Operations in committed durable batches.",
		}),
		commitBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatevents",
			Subsystem: "kv",
			Name:      "commit_bytes_total",
			Help:      "Bytes in committed durable batches.",
		}),
		chats: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatevents",
			Name:      "chats_loaded",
			Help:      "Chats currently loaded in memory.",
		}),
		ephemeral: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatevents",
			Name:      "ephemeral_events",
			Help:      "Events waiting for migration across all chats.",
		}),
		diskUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatevents",
			Subsystem: "storage",
			Name:      "disk_used_percent",
			Help:      "Used space on the storage filesystem.",
		}),
		diskFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatevents",
			Subsystem: "storage",
			Name:      "disk_available_bytes",
			Help:      "Space available to the store on the storage filesystem.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.appended, c.migrated, c.collected, c.ticks, c.tickDuration,
			c.searchLatency, c.reads, c.readBytes, c.commits, c.commitOps,
			c.commitBytes, c.chats, c.ephemeral, c.diskUsed, c.diskFree,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "chatevents",
				Name:      "heap_alloc_bytes",
				Help:      "Current heap allocation in bytes.",
			}, func() float64 {
				var stats runtime.MemStats
				runtime.ReadMemStats(&stats)
				return float64(stats.HeapAlloc)
			}),
		)
	}
	return c
}

func (c *Collector) EventAppended(kind models.EventKind) {
	c.appended.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) EventsMigrated(n int) { c.migrated.Add(float64(n)) }

func (c *Collector) KeysCollected(n int) { c.collected.Add(float64(n)) }

func (c *Collector) ObserveRead(elapsed time.Duration, bytes int) {
	c.reads.Observe(elapsed.Seconds())
	c.readBytes.Add(float64(bytes))
}

func (c *Collector) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	c.commits.Observe(elapsed.Seconds())
	c.commitOps.Add(float64(numOps))
	c.commitBytes.Add(float64(bytes))
}

// ObserveTick records one runner tick; outcome is "idle", "progress",
// "rescheduled" or "error".
func (c *Collector) ObserveTick(outcome string, elapsed time.Duration) {
	c.ticks.WithLabelValues(outcome).Inc()
	c.tickDuration.Observe(elapsed.Seconds())
}

func (c *Collector) SearchCompleted(elapsed time.Duration) {
	c.searchLatency.Observe(elapsed.Seconds())
}

// SetLoad reports how many chats are loaded and how many events await migration.
func (c *Collector) SetLoad(chats, ephemeral int) {
	c.chats.Set(float64(chats))
	c.ephemeral.Set(float64(ephemeral))
}

func (c *Collector) ObserveDisk(usedPct float64, available uint64) {
	c.diskUsed.Set(usedPct)
	c.diskFree.Set(float64(available))
}
