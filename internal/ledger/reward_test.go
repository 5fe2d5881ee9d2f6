package ledger_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/septivank/conservation-rewards-worker/internal/ledger"
)

func TestRewardLedger_RedeemInsufficientPoints(t *testing.T) {
	l := &ledger.RewardLedger{Owner: "alice"}
	l.Credit(40)

	_, err := l.Redeem(50, testNow)

	require.ErrorIs(t, err, ledger.ErrInsufficientPoints)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, "InsufficientPoints", ledger.Kind(err))
	assert.Equal(t, uint64(40), l.Balance)
	assert.Empty(t, l.Redemptions)
}

func TestRewardLedger_RedeemZero(t *testing.T) {
	l := &ledger.RewardLedger{Owner: "alice"}
	l.Credit(40)

	_, err := l.Redeem(0, testNow)

	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	assert.Equal(t, uint64(40), l.Balance)
}

func TestRewardLedger_RedeemRecordsHistory(t *testing.T) {
	l := &ledger.RewardLedger{Owner: "alice"}
	l.Credit(100)
	l.Credit(25)

	rec, err := l.Redeem(60, testNow)
	require.NoError(t, err)
	_, err = l.Redeem(65, testNow)
	require.NoError(t, err)

	assert.Equal(t, uint64(60), rec.Amount)
	assert.Equal(t, testNow, rec.Timestamp)
	assert.Equal(t, uint64(0), l.Balance)
	assert.Len(t, l.Redemptions, 2)
	assert.Equal(t, l.TotalCredited-l.TotalRedeemed, l.Balance)
}

func TestRewardLedger_BalanceInvariant(t *testing.T) {
	l := &ledger.RewardLedger{Owner: "alice"}
	ops := []struct {
		credit uint64
		redeem uint64
	}{{100, 30}, {0, 80}, {50, 120}, {10, 0}, {25, 35}}

	var credited, redeemed uint64
	for _, op := range ops {
		l.Credit(op.credit)
		credited += op.credit
		if _, err := l.Redeem(op.redeem, testNow); err == nil {
			redeemed += op.redeem
		}
		assert.Equal(t, credited-redeemed, l.Balance)
	}
}

func TestRewardLedger_CheckCreditOverflow(t *testing.T) {
	l := &ledger.RewardLedger{Owner: "alice"}
	l.Credit(math.MaxUint64 - 5)

	assert.NoError(t, l.CheckCredit(5))
	assert.ErrorIs(t, l.CheckCredit(6), ledger.ErrInvalidAmount)
}
