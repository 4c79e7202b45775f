// Package metrics holds the Prometheus metrics and the health endpoint of
// the trend engine and gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics of the trend engine.
type Metrics struct {
	BarsTotal        *prometheus.CounterVec // labels: tf
	StaleBarsTotal   prometheus.Counter
	InvalidBarsTotal prometheus.Counter
	LiveBarsTotal    prometheus.Counter
	UpdateDur        prometheus.Histogram
	CascadeDepth     prometheus.Histogram
	ChartsActive     prometheus.Gauge

	ExtremaTotal *prometheus.CounterVec // labels: term
	TrendsTotal  *prometheus.CounterVec // labels: term

	EventsPublished prometheus.Counter
	PublishErrors   prometheus.Counter
	AlertsSent      prometheus.Counter

	SnapshotDur    prometheus.Histogram
	SnapshotErrors prometheus.Counter
	RestoreSource  *prometheus.CounterVec // labels: source=redis|sql|cold

	PELMessagesReclaimed prometheus.Counter

	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedBatches     prometheus.Gauge

	WSClients       prometheus.Gauge
	WSMessagesTotal prometheus.Counter
	WSDropsTotal    prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_bars_total",
			Help: "Finalized bars applied to charts",
		}, []string{"tf"}),
		StaleBarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_stale_bars_total",
			Help: "Bars rejected because they were not newer than the chart",
		}),
		InvalidBarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_invalid_bars_total",
			Help: "Bars rejected for non-finite or negative prices or high < low",
		}),
		LiveBarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_live_bars_total",
			Help: "Forming bars received over pub/sub",
		}),
		UpdateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendengine_update_duration_seconds",
			Help:    "Time to apply one bar to a chart and its detector",
			Buckets: prometheus.ExponentialBuckets(0.000005, 2, 14),
		}),
		CascadeDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendengine_cascade_depth",
			Help:    "Number of terms whose history grew on a bar",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		}),
		ChartsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendengine_charts_active",
			Help: "Charts held in memory",
		}),
		ExtremaTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_extrema_total",
			Help: "Historical extrema emitted",
		}, []string{"term"}),
		TrendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_trends_total",
			Help: "Historical trends emitted",
		}, []string{"term"}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_events_published_total",
			Help: "Events handed to the publisher",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_publish_errors_total",
			Help: "Event batches that failed to publish",
		}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_alerts_sent_total",
			Help: "Extremum and trend alerts delivered to notifiers",
		}),
		SnapshotDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendengine_snapshot_duration_seconds",
			Help:    "Time to checkpoint all charts",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_snapshot_errors_total",
			Help: "Failed snapshot or artifact writes",
		}),
		RestoreSource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_restore_total",
			Help: "Chart restores by source",
		}, []string{"source"}),
		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_pel_reclaimed_total",
			Help: "Stale stream entries reclaimed from dead consumers",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendengine_redis_circuit_state",
			Help: "Redis circuit breaker state: 0=closed, 1=open, 2=half-open",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_redis_circuit_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),
		RedisBufferedBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendengine_redis_buffered_batches",
			Help: "Event batches buffered while Redis is unavailable",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ws_messages_total",
			Help: "Messages queued to WebSocket clients",
		}),
		WSDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ws_drops_total",
			Help: "Messages dropped for slow WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.BarsTotal, m.StaleBarsTotal, m.InvalidBarsTotal, m.LiveBarsTotal,
		m.UpdateDur, m.CascadeDepth, m.ChartsActive,
		m.ExtremaTotal, m.TrendsTotal,
		m.EventsPublished, m.PublishErrors, m.AlertsSent,
		m.SnapshotDur, m.SnapshotErrors, m.RestoreSource,
		m.PELMessagesReclaimed,
		m.RedisCircuitBreakerState, m.RedisCircuitBreakerTrips, m.RedisBufferedBatches,
		m.WSClients, m.WSMessagesTotal, m.WSDropsTotal,
	)
	return m
}
