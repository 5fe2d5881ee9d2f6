package metrics_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/septivank/conservation-rewards-worker/internal/ledger"
	"github.com/septivank/conservation-rewards-worker/internal/metrics"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", metrics.Result("", nil))
	assert.Equal(t, "error", metrics.Result("", errors.New("connection reset")))

	err := fmt.Errorf("redeem: %w", ledger.ErrInsufficientPoints)
	assert.Equal(t, "InsufficientPoints", metrics.Result(ledger.Kind(err), err))
}

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ReadingsTotal.WithLabelValues("water", "ok").Inc()
	m.DuplicateMessages.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadingsTotal.WithLabelValues("water", "ok")))
	n, err := testutil.GatherAndCount(reg, "rewards_readings_total", "rewards_duplicate_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Panics(t, func() { metrics.New(reg) }, "collectors register once per registry")
}
