package ledger_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/septivank/conservation-rewards-worker/internal/ledger"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newWaterMeter() *ledger.Meter {
	return &ledger.Meter{
		Ref: ledger.MeterRef{
			Owner:      "alice",
			PropertyID: "property123",
			Commodity:  ledger.Water,
			MeterID:    "water123",
		},
		FeedAddress: "feed-1",
	}
}

func record(t *testing.T, m *ledger.Meter, amount uint64, at time.Time) ledger.Reading {
	t.Helper()
	r, err := m.Assess(m.FeedAddress, amount, at)
	require.NoError(t, err)
	m.Apply(r)
	return r
}

func TestMeter_FirstReadingHasZeroBaseline(t *testing.T) {
	m := newWaterMeter()

	r := record(t, m, 50, testNow)

	assert.Equal(t, uint64(0), r.Record.Baseline)
	assert.Equal(t, uint64(0), r.Points)
	assert.Equal(t, uint64(50), m.TotalConsumed)
	assert.Equal(t, uint64(0), m.TotalSaved)
	assert.Equal(t, testNow, m.LastCalculated)
	assert.Len(t, m.History, 1)
}

func TestMeter_ReductionAgainstFullWindow(t *testing.T) {
	m := newWaterMeter()
	for i := 0; i < 6; i++ {
		record(t, m, 100, testNow.Add(time.Duration(i)*time.Hour))
	}
	savedBefore := m.TotalSaved

	r := record(t, m, 80, testNow.Add(6*time.Hour))

	assert.Equal(t, uint64(100), r.Record.Baseline)
	assert.Equal(t, uint64(100), r.Points)
	assert.Equal(t, savedBefore+20, m.TotalSaved)
}

func TestMeter_TotalsMatchHistory(t *testing.T) {
	m := newWaterMeter()
	amounts := []uint64{120, 90, 130, 70, 100, 100, 60, 200, 95, 0, 110}
	for i, a := range amounts {
		record(t, m, a, testNow.Add(time.Duration(i)*time.Minute))
	}

	var consumed, saved uint64
	for i, rec := range m.History {
		consumed += rec.Amount
		if rec.Baseline > rec.Amount {
			saved += rec.Baseline - rec.Amount
		}
		assert.Equal(t, ledger.Baseline(m.History[:i]), rec.Baseline, "record %d", i)
	}
	assert.Equal(t, consumed, m.TotalConsumed)
	assert.Equal(t, saved, m.TotalSaved)
	assert.Equal(t, uint64(len(amounts)), m.RecordCount)
}

func TestMeter_RejectsOutOfOrderReading(t *testing.T) {
	m := newWaterMeter()
	record(t, m, 100, testNow)
	before := m.Clone()

	_, err := m.Assess(m.FeedAddress, 10, testNow.Add(-time.Second))

	require.ErrorIs(t, err, ledger.ErrTimestampsOutOfOrder)
	assert.Equal(t, before, m)
}

func TestMeter_AcceptsEqualTimestamp(t *testing.T) {
	m := newWaterMeter()
	record(t, m, 100, testNow)

	_, err := m.Assess(m.FeedAddress, 100, testNow)
	assert.NoError(t, err)
}

func TestMeter_RejectsUnknownFeed(t *testing.T) {
	m := newWaterMeter()

	_, err := m.Assess("someone-else", 10, testNow)

	require.ErrorIs(t, err, ledger.ErrInvalidDepinFeedAddress)
	assert.Equal(t, "InvalidDepinFeedAddress", ledger.Kind(err))
}

func TestMeter_RejectsOverflowingAmount(t *testing.T) {
	water := newWaterMeter()
	record(t, water, 10, testNow)
	_, err := water.Assess(water.FeedAddress, math.MaxUint64, testNow)
	assert.Equal(t, "InvalidUsageData", ledger.Kind(err))

	energy := newWaterMeter()
	energy.Ref.Commodity = ledger.Energy
	record(t, energy, 10, testNow)
	_, err = energy.Assess(energy.FeedAddress, math.MaxUint64, testNow)
	assert.Equal(t, "InvalidEnergyConsumptionData", ledger.Kind(err))
	assert.ErrorIs(t, err, ledger.ErrInvalidUsageData)
}

func TestMeter_AssessDoesNotMutate(t *testing.T) {
	m := newWaterMeter()
	record(t, m, 100, testNow)
	before := m.Clone()

	_, err := m.Assess(m.FeedAddress, 50, testNow.Add(time.Hour))

	require.NoError(t, err)
	assert.Equal(t, before, m)
}

func TestMeter_WindowIsBounded(t *testing.T) {
	m := newWaterMeter()
	for i := 0; i < 10; i++ {
		record(t, m, uint64(i), testNow.Add(time.Duration(i)*time.Minute))
	}

	w := m.Window()

	require.Len(t, w, ledger.BaselineWindow)
	assert.Equal(t, uint64(4), w[0].Amount)
	assert.Equal(t, uint64(9), w[5].Amount)
}
