package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionDenials counts denied admission checks by gate and tier.
	// 运营排查 "这个租户为什么被限" 依赖这个指标，不是可选项。
	AdmissionDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_admission_denials_total",
			Help: "Total denied admission checks by gate and tenant tier",
		},
		[]string{"gate", "tier"},
	)

	// ReservationsTotal counts budget reservations by outcome.
	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_budget_reservations_total",
			Help: "Total budget reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	// SettlementsTotal counts budget settlements.
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_budget_settlements_total",
			Help: "Total budget settlements by outcome",
		},
		[]string{"outcome"},
	)

	// BudgetExposure tracks committed+pending spend per tenant.
	BudgetExposure = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "governor_budget_exposure_dollars",
			Help: "Committed plus pending spend in dollars per tenant",
		},
		[]string{"tenant_id"},
	)

	// LLMCostTotal counts settled LLM cost in dollars.
	LLMCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cost_dollars_total",
			Help: "Total settled LLM cost in dollars",
		},
		[]string{"provider", "model", "tenant_id"},
	)

	// ConcurrencyLeases tracks in-flight concurrency leases per tenant.
	ConcurrencyLeases = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "governor_concurrency_leases",
			Help: "Currently held concurrency leases per tenant",
		},
		[]string{"tenant_id"},
	)

	// BreakerState exposes circuit breaker state per provider
	// (0=closed, 1=open, 2=half_open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "governor_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=open, 2=half_open)",
		},
		[]string{"provider"},
	)

	// AbuseBlocks counts global abuse guard activations.
	AbuseBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_abuse_blocks_total",
			Help: "Total global abuse guard activations by trigger",
		},
		[]string{"trigger"},
	)

	// SharedStoreFallbacks counts degradations to in-process state.
	SharedStoreFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_shared_store_fallbacks_total",
			Help: "Times the guard fell back to in-process state because Redis was unavailable",
		},
		[]string{"component"},
	)
)
