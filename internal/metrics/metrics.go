package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the rewards worker
type Metrics struct {
	// Ingestion
	ReadingsTotal     *prometheus.CounterVec
	PointsCredited    *prometheus.CounterVec
	AnomaliesTotal    *prometheus.CounterVec
	DuplicateMessages prometheus.Counter

	// Ledger
	RedemptionsTotal *prometheus.CounterVec
	PointsRedeemed   prometheus.Counter
	Registrations    *prometheus.CounterVec

	// Store latency per operation
	OperationDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReadingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewards_readings_total",
				Help: "Readings submitted for recording by commodity and result",
			},
			[]string{"commodity", "result"},
		),
		PointsCredited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewards_points_credited_total",
				Help: "Reward points credited by commodity",
			},
			[]string{"commodity"},
		),
		AnomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewards_reading_anomalies_total",
				Help: "Readings flagged as consumption spikes by commodity",
			},
			[]string{"commodity"},
		),
		DuplicateMessages: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rewards_duplicate_messages_total",
				Help: "Device messages dropped by the replay guard",
			},
		),
		RedemptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewards_redemptions_total",
				Help: "Redemption requests by result",
			},
			[]string{"result"},
		),
		PointsRedeemed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rewards_points_redeemed_total",
				Help: "Reward points debited by successful redemptions",
			},
		),
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewards_registrations_total",
				Help: "Registration requests by result",
			},
			[]string{"result"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rewards_store_operation_duration_seconds",
				Help:    "Duration of ledger store operations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(
		m.ReadingsTotal,
		m.PointsCredited,
		m.AnomaliesTotal,
		m.DuplicateMessages,
		m.RedemptionsTotal,
		m.PointsRedeemed,
		m.Registrations,
		m.OperationDuration,
	)
	return m
}

// Result labels an operation outcome: "ok" or the ledger error kind
func Result(kind string, err error) string {
	if err == nil {
		return "ok"
	}
	if kind == "" {
		return "error"
	}
	return kind
}
