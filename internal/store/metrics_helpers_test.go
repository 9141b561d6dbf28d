package store

import (
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/weiawesome/friendlychat/internal/metrics"
)

func gaugeValue(m *metrics.Metrics) float64 {
	return testutil.ToFloat64(m.LiveSubscriptions)
}

func counterValue(m *metrics.Metrics) float64 {
	return testutil.ToFloat64(m.Resyncs)
}
