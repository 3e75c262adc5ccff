package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObservers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDelivery("admin", nil)
	m.ObserveDelivery("admin", errors.New("blocked"))
	m.ObserveDelivery("admin", errors.New("blocked"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsTotal.WithLabelValues("admin", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.notificationsTotal.WithLabelValues("admin", "error")))

	m.ObserveBroadcast(7, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcastsTotal.WithLabelValues("halted")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.broadcastLastSent))

	m.ObserveTransition("payment", "approve", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("payment", "approve", "success")))

	m.ObserveRetry(nil)
	m.ObserveRetry(errors.New("down"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeRetriesTotal.WithLabelValues("recovered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeRetriesTotal.WithLabelValues("failed")))

	m.ObserveExpired(0)
	m.ObserveExpired(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.subscriptionsExpired))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDelivery("user", nil)
		m.ObserveBroadcast(1, false)
		m.ObserveTransition("withdrawal", "payout", nil)
		m.ObserveRetry(nil)
		m.ObserveExpired(1)
	})
}
