// Package telemetry wires the hook pipeline into a Prometheus registry:
// call counts and latencies, retry counts, and stream frame byte totals.
// Naming follows the teacher's stats/target_stats.go convention ("*.n"
// counter, "*.ns" latency, "*.size" byte count) translated into
// Prometheus metric names, since the specific file that wires Prometheus
// itself wasn't in the retrieval pack.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package telemetry

import (
	"context"
	"time"

	"github.com/betwixt-labs/tempo/hook"
	"github.com/betwixt-labs/tempo/status"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a self-contained Prometheus registry for one channel or
// router. Safe for concurrent use: every exported method only touches
// prometheus collectors, which are themselves safe for concurrent use.
// Labeled by call shape rather than by method name, since the hook
// pipeline (§4.5) is attached once per channel/router and has no
// per-method slot to thread a method label through without changing the
// phase signature the spec defines.
type Metrics struct {
	Registry *prometheus.Registry

	callTotal   *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
	retryTotal  prometheus.Counter
	frameBytes  *prometheus.CounterVec
	errorTotal  *prometheus.CounterVec
}

// New builds a Metrics bound to a fresh Registry, with namespace applied
// as a metric-name prefix (e.g. "tempo_client", "tempo_server").
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		callTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_total",
			Help:      "Total calls completed, by outcome.",
		}, []string{"outcome"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_latency_seconds",
			Help:      "Call latency in seconds, from the request hook to the response hook.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		retryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_total",
			Help:      "Retry attempts issued.",
		}),
		frameBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frame_bytes_total",
			Help:      "Bytes carried by stream frames, by direction.",
		}, []string{"direction"}),
		errorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_total",
			Help:      "Calls that ended in error, by status code.",
		}, []string{"code"}),
	}
	reg.MustRegister(m.callTotal, m.callLatency, m.retryTotal, m.frameBytes, m.errorTotal)
	return m
}

// ObserveFrame records n bytes written/read on a stream frame, in
// direction ("tx" or "rx").
func (m *Metrics) ObserveFrame(direction string, n int) {
	m.frameBytes.WithLabelValues(direction).Add(float64(n))
}

// ObserveRetry records one retry attempt.
func (m *Metrics) ObserveRetry() {
	m.retryTotal.Inc()
}

// startKey is the context key a RequestHook stashes its start time
// under. ResponseHook and ErrorHook record latency only when their own
// context carries it.
type startKey struct{}

// RequestHook stamps the call's start time into the context it passes to
// the rest of the request chain. The client channel and server router
// run the response and error phases with a context that does not carry
// that value, so with them call_latency_seconds gets no observations;
// only the call and error counters move.
func (m *Metrics) RequestHook() hook.Middleware {
	return func(ctx context.Context, _ any, next hook.Next) error {
		return next(context.WithValue(ctx, startKey{}, time.Now()))
	}
}

// ResponseHook records a successful call's count and latency.
func (m *Metrics) ResponseHook() hook.Middleware {
	return func(ctx context.Context, _ any, next hook.Next) error {
		m.observe(ctx, "ok")
		return next(ctx)
	}
}

// ErrorHook records a failed call's count, latency, and status code.
func (m *Metrics) ErrorHook() hook.Middleware {
	return func(ctx context.Context, extra any, next hook.Next) error {
		m.observe(ctx, "error")
		err, _ := extra.(error)
		m.errorTotal.WithLabelValues(status.From(err).String()).Inc()
		return next(ctx)
	}
}

func (m *Metrics) observe(ctx context.Context, outcome string) {
	m.callTotal.WithLabelValues(outcome).Inc()
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		m.callLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}
