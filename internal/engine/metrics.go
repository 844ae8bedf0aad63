package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harvestd",
		Subsystem: "engine",
		Name:      "ticks_total",
		Help:      "Total number of processed scheduler ticks",
	})

	oracleFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvestd",
		Subsystem: "engine",
		Name:      "oracle_failures_total",
		Help:      "Oracle fetch failures by classification",
	}, []string{"reason"})

	harvestAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvestd",
		Subsystem: "engine",
		Name:      "harvest_attempts_total",
		Help:      "Harvest attempt outcomes",
	}, []string{"outcome"})

	lastPriceGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "harvestd",
		Subsystem: "engine",
		Name:      "last_price",
		Help:      "Last observed oracle price",
	}, []string{"pair"})

	consecutiveFailuresGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "harvestd",
		Subsystem: "engine",
		Name:      "consecutive_failures",
		Help:      "Current consecutive transient failure count",
	})
)
