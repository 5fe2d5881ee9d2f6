package db

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/septivank/conservation-rewards-worker/internal/ledger"
)

func TestNumericRoundTripsFullRange(t *testing.T) {
	n := Numeric(math.MaxUint64)
	require.True(t, n.Valid)
	assert.Equal(t, "18446744073709551615", n.Int.String())

	v, err := ParseUint64("balance", n.Int.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), v)
}

func TestParseUint64Rejects(t *testing.T) {
	for _, text := range []string{"", "-1", "1.5", "18446744073709551616"} {
		_, err := ParseUint64("amount", text)
		assert.Error(t, err, text)
	}
}

func TestMeterRowConversion(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	row := MeterRow{
		Owner:         "alice",
		PropertyID:    "property123",
		Commodity:     "energy",
		MeterID:       "energy123",
		FeedAddress:   "feed-energy",
		RecordCount:   7,
		TotalConsumed: "700",
		TotalSaved:    "20",
		CreatedAt:     created,
		Version:       8,
	}

	m, err := row.Meter(nil)
	require.NoError(t, err)
	assert.Equal(t, ledger.Energy, m.Ref.Commodity)
	assert.Equal(t, uint64(700), m.TotalConsumed)
	assert.True(t, m.LastCalculated.IsZero())
	assert.Equal(t, time.UTC, m.CreatedAt.Location())

	row.Commodity = "gas"
	_, err = row.Meter(nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}
