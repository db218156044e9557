package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BarsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breakout_bars_processed_total",
			Help: "Total number of closed bars evaluated by the state machine.",
		},
	)

	BreakoutsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_breakouts_detected_total",
			Help: "Breakouts of the prior-day level detected (by direction).",
		},
		[]string{"direction"},
	)

	RetestsConfirmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_retests_confirmed_total",
			Help: "Retests of the broken level observed (by direction).",
		},
		[]string{"direction"},
	)

	IntentsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_intents_emitted_total",
			Help: "Trade intents emitted after a confirmed close (by direction).",
		},
		[]string{"direction"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_orders_submitted_total",
			Help: "Total number of orders submitted (by context).",
		},
		[]string{"ctx"},
	)

	OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_orders_rejected_total",
			Help: "Orders rejected before or at submission (by reason).",
		},
		[]string{"reason"},
	)

	OracleRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_oracle_requests_total",
			Help: "ML oracle lookups (by outcome: valid, invalid, error, timeout).",
		},
		[]string{"outcome"},
	)

	MachineState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakout_machine_state",
			Help: "Current state machine state as its enum ordinal.",
		},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakout_equity",
			Help: "Current equity of the executor (paper or live).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BarsProcessed,
		BreakoutsDetected,
		RetestsConfirmed,
		IntentsEmitted,
		OrdersSubmitted,
		OrdersRejected,
		OracleRequests,
		MachineState,
		EquityGauge,
	)
}
