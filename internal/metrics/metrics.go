// Package metrics exports Prometheus metrics for the automation engine,
// the checkout monitor and the sync engine. A nil *Metrics is valid and
// records nothing, so components can be built without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shopsavr"

// Metrics holds all agent metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Automation
	CandidatesTested *prometheus.CounterVec
	Sessions         *prometheus.CounterVec
	SavingsObserved  prometheus.Counter

	// Monitor
	CheckoutTransitions *prometheus.CounterVec
	Rechecks            *prometheus.CounterVec

	// Sync
	SyncPasses     *prometheus.CounterVec
	SyncDuration   prometheus.Histogram
	PendingChanges prometheus.Gauge
	ChangesPushed  *prometheus.CounterVec
	ChangesFailed  *prometheus.CounterVec
	MergeConflicts prometheus.Counter
	NetworkOnline  prometheus.Gauge
	RouterMessages *prometheus.CounterVec
}

// New registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.CandidatesTested = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "candidates_tested_total",
		Help:      "Discount codes tested against a page, by result",
	}, []string{"profile", "result"})
	m.Sessions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "automation_sessions_total",
		Help:      "Automation sessions by final status",
	}, []string{"status"})
	m.SavingsObserved = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "savings_observed_total",
		Help:      "Sum of order total reductions observed after applying a code",
	})

	m.CheckoutTransitions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_transitions_total",
		Help:      "Checkout state transitions",
	}, []string{"to"})
	m.Rechecks = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "monitor_rechecks_total",
		Help:      "Checkout rechecks by trigger source",
	}, []string{"source"})

	m.SyncPasses = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_passes_total",
		Help:      "Sync passes by outcome",
	}, []string{"outcome"})
	m.SyncDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_pass_duration_seconds",
		Help:      "Duration of a sync pass",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	m.PendingChanges = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_changes",
		Help:      "Changes waiting for remote confirmation",
	})
	m.ChangesPushed = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "changes_pushed_total",
		Help:      "Pending changes confirmed by the backend",
	}, []string{"kind"})
	m.ChangesFailed = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "changes_failed_total",
		Help:      "Pending change push attempts that failed",
	}, []string{"kind"})
	m.MergeConflicts = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "merge_conflicts_total",
		Help:      "Wishlist keys present on both sides with differing content",
	})
	m.NetworkOnline = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backend_online",
		Help:      "1 when the last health probe reached the backend",
	})
	m.RouterMessages = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "router_messages_total",
		Help:      "Routed messages by kind and success",
	}, []string{"kind", "success"})

	return m
}

// Handler serves this registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordCandidate(profile string, success bool, reason string) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = reason
		if result == "" {
			result = "Rejected"
		}
	}
	m.CandidatesTested.WithLabelValues(profile, result).Inc()
}

func (m *Metrics) RecordSession(status string, savings float64) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(status).Inc()
	if savings > 0 {
		m.SavingsObserved.Add(savings)
	}
}

func (m *Metrics) RecordTransition(toCheckout bool) {
	if m == nil {
		return
	}
	to := "not_checkout"
	if toCheckout {
		to = "checkout"
	}
	m.CheckoutTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) RecordRecheck(source string) {
	if m == nil {
		return
	}
	m.Rechecks.WithLabelValues(source).Inc()
}

// RecordSyncPass records one pass. outcome is "ok", "skipped", "partial" or "failed".
func (m *Metrics) RecordSyncPass(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SyncPasses.WithLabelValues(outcome).Inc()
	m.SyncDuration.Observe(d.Seconds())
}

func (m *Metrics) SetPending(n int64) {
	if m == nil {
		return
	}
	m.PendingChanges.Set(float64(n))
}

func (m *Metrics) RecordPush(kind string, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.ChangesPushed.WithLabelValues(kind).Inc()
		return
	}
	m.ChangesFailed.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MergeConflicts.Add(float64(n))
}

func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.NetworkOnline.Set(1)
		return
	}
	m.NetworkOnline.Set(0)
}

func (m *Metrics) RecordMessage(kind string, success bool) {
	if m == nil {
		return
	}
	s := "false"
	if success {
		s = "true"
	}
	m.RouterMessages.WithLabelValues(kind, s).Inc()
}
