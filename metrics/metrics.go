package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solstep_build_info",
			Help: "Build information of the SolStep CLI",
		},
		[]string{"version", "commit"},
	)

	// Ledger submission metrics
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solstep_submissions_total",
			Help: "Total number of submitted program instructions by outcome",
		},
		[]string{"instruction", "outcome"},
	)

	ConfirmationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solstep_confirmation_duration_seconds",
			Help:    "Time from broadcast until the confirmation outcome was known",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		},
		[]string{"instruction"},
	)

	ConfirmationFallbackPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solstep_confirmation_fallback_polls_total",
			Help: "Total number of status polls issued after the confirmation subscription gave up",
		},
		[]string{"result"},
	)

	// Registry metrics
	RegistryAccountsFetched = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solstep_registry_accounts_fetched",
			Help: "Number of challenge accounts decoded by the last registry fetch",
		},
	)

	RegistryDecodeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solstep_registry_decode_failures_total",
			Help: "Total number of challenge accounts dropped because they failed to decode",
		},
	)

	// Off-chain store metrics
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solstep_store_operations_total",
			Help: "Total number of off-chain store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	CompletionsRecordedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solstep_completions_recorded_total",
			Help: "Total number of completion records written by win detection",
		},
	)
)
