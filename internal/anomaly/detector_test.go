package anomaly_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/septivank/conservation-rewards-worker/internal/anomaly"
	"github.com/septivank/conservation-rewards-worker/internal/ledger"
)

const (
	testSpikeThreshold            = 3.0
	testMinDataPointsForDetection = 3
)

func window(amounts ...uint64) []ledger.UsageRecord {
	out := make([]ledger.UsageRecord, len(amounts))
	for i, a := range amounts {
		out[i] = ledger.UsageRecord{Amount: a}
	}
	return out
}

func TestDetectSpike(t *testing.T) {
	tests := []struct {
		name    string
		amount  uint64
		window  []ledger.UsageRecord
		anomaly bool
	}{
		{"sudden spike", 350, window(100, 105, 98, 102, 99), true},
		{"normal value", 103, window(100, 105, 98, 102, 99), false},
		{"insufficient data", 300, window(100, 105), false},
		{"empty window", 100, nil, false},
		{"zero average", 100, window(0, 0, 0), false},
		{"zero reading", 0, window(100, 100, 100), false},
	}
	d := anomaly.NewDetector(testSpikeThreshold, testMinDataPointsForDetection)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := d.DetectSpike(tt.amount, tt.window)
			assert.Equal(t, tt.anomaly, got)
			if tt.anomaly {
				assert.NotEmpty(t, reason)
			} else {
				assert.Empty(t, reason)
			}
		})
	}
}

func TestDetectSpike_ZeroMinimumNeedsOnePoint(t *testing.T) {
	d := anomaly.NewDetector(testSpikeThreshold, 0)

	got, reason := d.DetectSpike(1000, nil)
	assert.False(t, got)
	assert.Empty(t, reason)

	got, _ = d.DetectSpike(1000, window(100))
	assert.True(t, got)
}
