package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the reconciliation loop.
type Metrics struct {
	TicksTotal        *prometheus.CounterVec
	TickDuration      prometheus.Histogram
	TicketsCreated    prometheus.Counter
	TicketsClosed     *prometheus.CounterVec
	TicketFailures    *prometheus.CounterVec
	StoreFailures     prometheus.Counter
	TrackedViolations prometheus.Gauge
}

// NewMetrics registers and returns monitor metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_ticks_total",
			Help: "Total reconciliation ticks by outcome.",
		}, []string{"outcome"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_tick_duration_seconds",
			Help:    "Duration of completed reconciliation ticks in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}),
		TicketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_tickets_created_total",
			Help: "Total tracker issues created for new incidents.",
		}),
		TicketsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_tickets_closed_total",
			Help: "Total incidents closed, by close reason.",
		}, []string{"reason"}),
		TicketFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_ticket_failures_total",
			Help: "Total failed gateway operations, by operation.",
		}, []string{"op"}),
		StoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_store_failures_total",
			Help: "Total failed state store writes.",
		}),
		TrackedViolations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_tracked_violations",
			Help: "Number of incidents in the tracked state, open or closed.",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TickDuration,
		m.TicketsCreated,
		m.TicketsClosed,
		m.TicketFailures,
		m.StoreFailures,
		m.TrackedViolations,
	)
	return m
}
