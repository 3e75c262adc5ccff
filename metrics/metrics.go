package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "subbot"

// Metrics is safe to use through a nil pointer; every observer is then a no-op.
type Metrics struct {
	notificationsTotal   *prometheus.CounterVec
	broadcastsTotal      *prometheus.CounterVec
	broadcastLastSent    prometheus.Gauge
	transitionsTotal     *prometheus.CounterVec
	storeRetriesTotal    *prometheus.CounterVec
	subscriptionsExpired prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		notificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "deliveries_total",
				Help:      "Outbound deliveries partitioned by kind and result.",
			},
			[]string{"kind", "result"},
		),
		broadcastsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "broadcasts_total",
				Help:      "Broadcast runs partitioned by outcome.",
			},
			[]string{"result"},
		),
		broadcastLastSent: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "broadcast_last_succeeded",
				Help:      "Successful deliveries in the most recent broadcast.",
			},
		),
		transitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "transitions_total",
				Help:      "Payment and withdrawal transitions partitioned by record, transition and result.",
			},
			[]string{"record", "transition", "result"},
		),
		storeRetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "retries_total",
				Help:      "Reconnect-and-retry attempts partitioned by result.",
			},
			[]string{"result"},
		),
		subscriptionsExpired: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "subscriptions_expired_total",
				Help:      "Subscriptions deactivated by the expiry sweep.",
			},
		),
	}
}

func (m *Metrics) ObserveDelivery(kind string, err error) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) ObserveBroadcast(succeeded int, halted bool) {
	if m == nil {
		return
	}
	m.broadcastLastSent.Set(float64(succeeded))
	if halted {
		m.broadcastsTotal.WithLabelValues("halted").Inc()
		return
	}
	m.broadcastsTotal.WithLabelValues("completed").Inc()
}

func (m *Metrics) ObserveTransition(record, transition string, err error) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(record, transition, result(err)).Inc()
}

func (m *Metrics) ObserveRetry(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.storeRetriesTotal.WithLabelValues("failed").Inc()
		return
	}
	m.storeRetriesTotal.WithLabelValues("recovered").Inc()
}

func (m *Metrics) ObserveExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.subscriptionsExpired.Add(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
