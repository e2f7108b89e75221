package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/tierkit/pkg/metrics"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(metrics.ReservationsTotal.WithLabelValues("test"))
	metrics.ReservationsTotal.WithLabelValues("test").Inc()
	assert.InDelta(t, before+1, testutil.ToFloat64(metrics.ReservationsTotal.WithLabelValues("test")), 0.0001)

	before = testutil.ToFloat64(metrics.OrphanedReferencesTotal)
	metrics.OrphanedReferencesTotal.Add(2)
	assert.InDelta(t, before+2, testutil.ToFloat64(metrics.OrphanedReferencesTotal), 0.0001)
}
