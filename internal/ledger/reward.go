package ledger

import (
	"fmt"
	"time"
)

// RewardLedger is a participant's point balance and redemption history.
// Balance always equals TotalCredited - TotalRedeemed.
type RewardLedger struct {
	Owner         string             `json:"owner"`
	Balance       uint64             `json:"balance"`
	TotalCredited uint64             `json:"total_credited"`
	TotalRedeemed uint64             `json:"total_redeemed"`
	Redemptions   []RedemptionRecord `json:"redemptions"`
	CreatedAt     time.Time          `json:"created_at"`
	Version       uint64             `json:"version"`
}

// CheckCredit reports whether points can be credited without overflowing.
func (l *RewardLedger) CheckCredit(points uint64) error {
	if l.TotalCredited+points < l.TotalCredited {
		return fmt.Errorf("reward ledger %s: credit of %d overflows: %w", l.Owner, points, ErrInvalidAmount)
	}
	return nil
}

// Credit adds points to the balance. Callers check CheckCredit first.
func (l *RewardLedger) Credit(points uint64) {
	if points == 0 {
		return
	}
	l.Balance += points
	l.TotalCredited += points
	l.Version++
}

// Redeem debits amount from the balance and records the redemption.
func (l *RewardLedger) Redeem(amount uint64, now time.Time) (RedemptionRecord, error) {
	if amount == 0 {
		return RedemptionRecord{}, fmt.Errorf("reward ledger %s: redemption must be positive: %w", l.Owner, ErrInvalidAmount)
	}
	if l.Balance < amount {
		return RedemptionRecord{}, fmt.Errorf("reward ledger %s: balance %d below %d: %w", l.Owner, l.Balance, amount, ErrInsufficientPoints)
	}

	rec := RedemptionRecord{Timestamp: now, Amount: amount}
	l.Balance -= amount
	l.TotalRedeemed += amount
	l.Redemptions = append(l.Redemptions, rec)
	l.Version++
	return rec, nil
}

// Clone returns a deep copy.
func (l *RewardLedger) Clone() *RewardLedger {
	c := *l
	c.Redemptions = append([]RedemptionRecord(nil), l.Redemptions...)
	return &c
}
