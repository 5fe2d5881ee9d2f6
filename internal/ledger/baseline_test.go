package ledger_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/septivank/conservation-rewards-worker/internal/ledger"
)

func records(amounts ...uint64) []ledger.UsageRecord {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]ledger.UsageRecord, len(amounts))
	for i, a := range amounts {
		out[i] = ledger.UsageRecord{Timestamp: start.Add(time.Duration(i) * time.Hour), Amount: a}
	}
	return out
}

func TestBaseline_EmptyHistory(t *testing.T) {
	assert.Equal(t, uint64(0), ledger.Baseline(nil))
}

func TestBaseline_FewerThanWindow(t *testing.T) {
	assert.Equal(t, uint64(150), ledger.Baseline(records(100, 200)))
}

func TestBaseline_TruncatesDivision(t *testing.T) {
	// (10+11) / 2 = 10.5
	assert.Equal(t, uint64(10), ledger.Baseline(records(10, 11)))
}

func TestBaseline_UsesMostRecentSix(t *testing.T) {
	h := records(1000, 1000, 60, 60, 60, 60, 60, 60)
	assert.Equal(t, uint64(60), ledger.Baseline(h))
}

func TestBaseline_LargeAmountsDoNotOverflow(t *testing.T) {
	h := records(math.MaxUint64, math.MaxUint64, math.MaxUint64, math.MaxUint64, math.MaxUint64, math.MaxUint64)
	assert.Equal(t, uint64(math.MaxUint64), ledger.Baseline(h))
}
