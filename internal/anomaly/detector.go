package anomaly

import (
	"fmt"

	"github.com/septivank/conservation-rewards-worker/internal/ledger"
)

// Detector flags readings far above a meter's recent consumption
type Detector struct {
	spikeThreshold            float64
	minDataPointsForDetection int
}

// NewDetector creates a new anomaly detector with the specified thresholds
func NewDetector(spikeThreshold float64, minDataPointsForDetection int) *Detector {
	if minDataPointsForDetection < 1 {
		minDataPointsForDetection = 1
	}
	return &Detector{
		spikeThreshold:            spikeThreshold,
		minDataPointsForDetection: minDataPointsForDetection,
	}
}

// DetectSpike checks amount against the rolling average of window.
// It only reports; recording the reading is never blocked by it.
func (d *Detector) DetectSpike(amount uint64, window []ledger.UsageRecord) (bool, string) {
	if len(window) < d.minDataPointsForDetection {
		return false, ""
	}

	sum := 0.0
	for _, r := range window {
		sum += float64(r.Amount)
	}
	average := sum / float64(len(window))

	value := float64(amount)
	if average > 0 && value > d.spikeThreshold*average {
		return true, fmt.Sprintf("sudden spike detected: value %d exceeds %.1fx rolling average %.2f",
			amount, d.spikeThreshold, average)
	}

	return false, ""
}
