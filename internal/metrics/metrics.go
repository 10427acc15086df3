// Package metrics mendaftarkan collector Prometheus yang dipakai kedua service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stock_client_breaker_state",
		Help: "Circuit breaker state per stock operation (0 closed, 1 open, 2 half-open).",
	}, []string{"operation"})

	RemoteRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_client_retries_total",
		Help: "Retries issued against the stock service.",
	}, []string{"operation"})

	Fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_client_fallbacks_total",
		Help: "Calls answered by the fallback instead of the stock service.",
	}, []string{"operation", "reason"})

	SagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_saga_outcomes_total",
		Help: "Saga operation results by error kind.",
	}, []string{"operation", "outcome"})

	CompensationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_compensation_failures_total",
		Help: "Stock releases that could not be applied.",
	}, []string{"phase"})

	StockMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_mutations_total",
		Help: "Reserve/release requests handled by the stock service.",
	}, []string{"operation", "result"})
)
