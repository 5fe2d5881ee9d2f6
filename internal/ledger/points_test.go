package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/septivank/conservation-rewards-worker/internal/ledger"
)

func TestPoints_Tiers(t *testing.T) {
	tests := []struct {
		name     string
		baseline uint64
		actual   uint64
		want     uint64
	}{
		{"zero baseline", 0, 0, 0},
		{"zero baseline with usage", 0, 500, 0},
		{"sixteen percent boundary", 100, 84, 100},
		{"fifteen percent", 100, 85, 50},
		{"eleven percent boundary", 100, 89, 50},
		{"ten percent", 100, 90, 25},
		{"six percent boundary", 100, 94, 25},
		{"five percent hits lowest tier", 100, 95, 10},
		{"one percent boundary", 100, 99, 10},
		{"no reduction", 100, 100, 0},
		{"increase", 100, 250, 0},
		{"zero usage", 100, 0, 100},
		{"fractional just below tier", 1000, 991, 0},
		{"fractional in tier", 1000, 990, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.Points(tt.baseline, tt.actual))
		})
	}
}

func TestReductionPct_ClampsAtZero(t *testing.T) {
	assert.Equal(t, 0.0, ledger.ReductionPct(100, 150))
	assert.Equal(t, 20.0, ledger.ReductionPct(100, 80))
	assert.Equal(t, 0.0, ledger.ReductionPct(0, 80))
}

func TestPoints_SameForEveryCommodity(t *testing.T) {
	water := &ledger.Meter{Ref: ledger.MeterRef{Commodity: ledger.Water}, FeedAddress: "feed"}
	energy := &ledger.Meter{Ref: ledger.MeterRef{Commodity: ledger.Energy}, FeedAddress: "feed"}
	for _, m := range []*ledger.Meter{water, energy} {
		m.History = records(100, 100, 100)
	}

	for _, amount := range []uint64{0, 50, 84, 85, 90, 95, 99, 100, 200} {
		w, err := water.Assess("feed", amount, testNow)
		assert.NoError(t, err)
		e, err := energy.Assess("feed", amount, testNow)
		assert.NoError(t, err)
		assert.Equal(t, w.Points, e.Points, "amount %d", amount)
	}
}
