// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PoolState("sales", 1, 2, 0, 3)
		m.JobTransition("completed", "")
		m.Translation("static", "ok", time.Millisecond)
		m.ForgetPool("sales")
	})
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PoolState("sales", 2, 3, 0, 1)
	m.JobTransition("failed", "execution_error")
	m.JobTransition("failed", "execution_error")
	m.Request("/api/query", 503, 20*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.poolConns.WithLabelValues("sales", "in_use")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolWaiters.WithLabelValues("sales")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobStates.WithLabelValues("failed", "execution_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/api/query", "5xx")))

	m.ForgetPool("sales")
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "nlcube_pool_waiters" {
			assert.Empty(t, f.GetMetric())
		}
	}
}
