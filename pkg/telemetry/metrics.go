// Copyright 2025 QNet Project
//
// Package telemetry exposes the core's Prometheus metrics: the round
// driver's microblock pacing, mempool occupancy, and C4's violation/
// exclusion/ban counters, following the registry + promhttp.Handler
// wiring the wider Go ecosystem uses for this (see the prometheus
// exporter wired into jeongkyun-oh-klaytn/cmd/kcn/main.go).
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the core exposes, registered
// against a private registry so multiple Metrics instances (e.g. one per
// test) never collide on the global default registerer.
type Metrics struct {
	registry *prometheus.Registry

	MicroblockLatency prometheus.Histogram
	MicroblocksTotal  *prometheus.CounterVec
	RoundsTotal       *prometheus.CounterVec
	DifficultyTarget  prometheus.Gauge

	MempoolSize     prometheus.Gauge
	MempoolRejected *prometheus.CounterVec

	ViolationsTotal  *prometheus.CounterVec
	ExclusionsTotal  prometheus.Counter
	BansTotal        *prometheus.CounterVec
	ReactivationsTotal prometheus.Counter
	RewardsAccrued   prometheus.Counter
}

// New constructs and registers a fresh set of collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		MicroblockLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qnet",
			Subsystem: "consensus",
			Name:      "microblock_latency_seconds",
			Help:      "Time to create and validate a microblock, against the 800ms budget.",
			Buckets:   []float64{.05, .1, .2, .3, .4, .5, .6, .7, .8, 1.0, 1.5},
		}),
		MicroblocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qnet",
			Subsystem: "consensus",
			Name:      "microblocks_total",
			Help:      "Microblocks produced, labeled by outcome.",
		}, []string{"outcome"}),
		RoundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qnet",
			Subsystem: "consensus",
			Name:      "rounds_total",
			Help:      "Macro rounds completed, labeled by whether a macroblock was sealed.",
		}, []string{"sealed"}),
		DifficultyTarget: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qnet",
			Subsystem: "consensus",
			Name:      "difficulty_target",
			Help:      "Current leader-election difficulty target theta.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qnet",
			Subsystem: "mempool",
			Name:      "size",
			Help:      "Number of transactions currently resident in the mempool.",
		}),
		MempoolRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qnet",
			Subsystem: "mempool",
			Name:      "rejected_total",
			Help:      "Transactions rejected at admission, labeled by reason.",
		}, []string{"reason"}),
		ViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qnet",
			Subsystem: "lifecycle",
			Name:      "violations_total",
			Help:      "Violations applied against nodes, labeled by violation type.",
		}, []string{"type"}),
		ExclusionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qnet",
			Subsystem: "lifecycle",
			Name:      "exclusions_total",
			Help:      "Nodes moved to the excluded set for extended inactivity.",
		}),
		BansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qnet",
			Subsystem: "lifecycle",
			Name:      "bans_total",
			Help:      "Bans applied, labeled by ban action (temporary_ban, consensus_ban, permanent_ban).",
		}, []string{"action"}),
		ReactivationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qnet",
			Subsystem: "lifecycle",
			Name:      "reactivations_total",
			Help:      "Excluded nodes successfully restored to active status.",
		}),
		RewardsAccrued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qnet",
			Subsystem: "lifecycle",
			Name:      "rewards_accrued_total",
			Help:      "Cumulative reward units credited to nodes across all windows.",
		}),
	}

	registry.MustRegister(
		m.MicroblockLatency,
		m.MicroblocksTotal,
		m.RoundsTotal,
		m.DifficultyTarget,
		m.MempoolSize,
		m.MempoolRejected,
		m.ViolationsTotal,
		m.ExclusionsTotal,
		m.BansTotal,
		m.ReactivationsTotal,
		m.RewardsAccrued,
	)

	return m
}

// Handler serves the registered collectors in the Prometheus exposition
// format, for wiring into an operator's HTTP mux at e.g. /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
