// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package metrics holds the prometheus collectors for pools, jobs, translation
// and schema refreshes. A nil *Metrics is valid and records nothing, so
// components can be built without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every nlcube collector.
type Metrics struct {
	poolConns      *prometheus.GaugeVec
	poolWaiters    *prometheus.GaugeVec
	acquireWait    *prometheus.HistogramVec
	jobStates      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	translations   *prometheus.CounterVec
	translateTime  *prometheus.HistogramVec
	schemaRefresh  *prometheus.CounterVec
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		poolConns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nlcube_pool_connections",
				Help: "Pooled connections per subject by state",
			},
			[]string{"subject", "state"},
		),
		poolWaiters: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nlcube_pool_waiters",
				Help: "Callers queued for a connection per subject",
			},
			[]string{"subject"},
		),
		acquireWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nlcube_pool_acquire_wait_milliseconds",
				Help:    "Time spent waiting for a pooled connection",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"subject"},
		),
		jobStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nlcube_query_job_transitions_total",
				Help: "Query job state transitions",
			},
			[]string{"state", "kind"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nlcube_query_job_duration_milliseconds",
				Help:    "Query job duration from submission to terminal state",
				Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
			},
			[]string{"outcome"},
		),
		translations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nlcube_translations_total",
				Help: "Translation attempts by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		translateTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nlcube_translation_duration_milliseconds",
				Help:    "Translation provider latency",
				Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000},
			},
			[]string{"backend"},
		),
		schemaRefresh: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nlcube_schema_refreshes_total",
				Help: "Schema snapshot refreshes by outcome",
			},
			[]string{"subject", "outcome"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nlcube_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nlcube_http_request_duration_milliseconds",
				Help:    "HTTP request duration in milliseconds",
				Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
			},
			[]string{"route"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.poolConns, m.poolWaiters, m.acquireWait,
			m.jobStates, m.jobDuration,
			m.translations, m.translateTime,
			m.schemaRefresh,
			m.requestsTotal, m.requestLatency,
		)
	}
	return m
}

// PoolState publishes a pool's counts.
func (m *Metrics) PoolState(subject string, idle, inUse, broken, waiting int) {
	if m == nil {
		return
	}
	m.poolConns.WithLabelValues(subject, "idle").Set(float64(idle))
	m.poolConns.WithLabelValues(subject, "in_use").Set(float64(inUse))
	m.poolConns.WithLabelValues(subject, "broken").Set(float64(broken))
	m.poolWaiters.WithLabelValues(subject).Set(float64(waiting))
}

// ForgetPool drops the series of a removed subject.
func (m *Metrics) ForgetPool(subject string) {
	if m == nil {
		return
	}
	for _, s := range []string{"idle", "in_use", "broken"} {
		m.poolConns.DeleteLabelValues(subject, s)
	}
	m.poolWaiters.DeleteLabelValues(subject)
	m.acquireWait.DeleteLabelValues(subject)
}

// AcquireWaited records how long an acquire took.
func (m *Metrics) AcquireWaited(subject string, d time.Duration) {
	if m == nil {
		return
	}
	m.acquireWait.WithLabelValues(subject).Observe(float64(d.Milliseconds()))
}

// JobTransition counts a job entering state; kind is set for failures.
func (m *Metrics) JobTransition(state, kind string) {
	if m == nil {
		return
	}
	m.jobStates.WithLabelValues(state, kind).Inc()
}

// JobFinished records a job's total duration.
func (m *Metrics) JobFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(outcome).Observe(float64(d.Milliseconds()))
}

// Translation records one provider call.
func (m *Metrics) Translation(backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.translations.WithLabelValues(backend, outcome).Inc()
	m.translateTime.WithLabelValues(backend).Observe(float64(d.Milliseconds()))
}

// SchemaRefresh counts a snapshot refresh.
func (m *Metrics) SchemaRefresh(subject, outcome string) {
	if m == nil {
		return
	}
	m.schemaRefresh.WithLabelValues(subject, outcome).Inc()
}

// Request records one HTTP request.
func (m *Metrics) Request(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, statusClass(status)).Inc()
	m.requestLatency.WithLabelValues(route).Observe(float64(d.Milliseconds()))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}
