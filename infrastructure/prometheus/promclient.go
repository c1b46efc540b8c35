package promclient

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderbooksync"

var ConnectionStateGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_state",
		Help:      "stream connection state: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed",
	},
	[]string{"provider", "symbol"},
)

var ReconnectsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "scheduled reconnect attempts",
	},
	[]string{"provider"},
)

var MalformedMessagesCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_messages_total",
		Help:      "inbound frames dropped because they could not be parsed",
	},
	[]string{"provider"},
)

var DiffsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "diffs_total",
		Help:      "depth diffs by outcome",
	},
	[]string{"symbol", "result"},
)

var TickersCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tickers_total",
		Help:      "accepted ticker messages",
	},
	[]string{"symbol"},
)

var ResnapshotsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resnapshots_total",
		Help:      "snapshot requests by reason",
	},
	[]string{"symbol", "reason"},
)

var SnapshotFetchHistogram = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "snapshot_fetch_seconds",
		Help:      "snapshot fetch latency",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"provider", "outcome"},
)

var TrackedSymbolsGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_symbols",
		Help:      "symbols with a running coordinator",
	},
)

// CacheStats is the part of the TTL cache the metrics read.
type CacheStats interface {
	Stats() (items int, hits, misses uint64)
}

type CacheStatsFunc func() (items int, hits, misses uint64)

func (f CacheStatsFunc) Stats() (int, uint64, uint64) {
	return f()
}

// NewRegistry registers every collector plus cache gauges reading from stats.
func NewRegistry(stats CacheStats) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(ConnectionStateGauge)
	reg.MustRegister(ReconnectsCounter)
	reg.MustRegister(MalformedMessagesCounter)
	reg.MustRegister(DiffsCounter)
	reg.MustRegister(TickersCounter)
	reg.MustRegister(ResnapshotsCounter)
	reg.MustRegister(SnapshotFetchHistogram)
	reg.MustRegister(TrackedSymbolsGauge)
	reg.MustRegister(collectors.NewGoCollector())

	if stats != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_items",
			Help:      "entries in the shared TTL cache",
		}, func() float64 {
			items, _, _ := stats.Stats()
			return float64(items)
		}))
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_hits",
			Help:      "TTL cache hits since the last clear",
		}, func() float64 {
			_, hits, _ := stats.Stats()
			return float64(hits)
		}))
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_misses",
			Help:      "TTL cache misses since the last clear",
		}, func() float64 {
			_, _, misses := stats.Stats()
			return float64(misses)
		}))
	}

	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
