package ledger

import "time"

// UsageResult is the committed outcome of one recorded reading.
type UsageResult struct {
	Ref            MeterRef    `json:"ref"`
	Record         UsageRecord `json:"record"`
	Points         uint64      `json:"points"`
	RecordCount    uint64      `json:"record_count"`
	LastCalculated time.Time   `json:"last_calculated_timestamp"`
	TotalConsumed  uint64      `json:"total_consumed"`
	TotalSaved     uint64      `json:"total_saved"`
	Balance        uint64      `json:"balance"`
}

// NewUsageResult snapshots the meter and ledger after r was applied to both.
func NewUsageResult(m *Meter, l *RewardLedger, r Reading) *UsageResult {
	return &UsageResult{
		Ref:            m.Ref,
		Record:         r.Record,
		Points:         r.Points,
		RecordCount:    m.RecordCount,
		LastCalculated: m.LastCalculated,
		TotalConsumed:  m.TotalConsumed,
		TotalSaved:     m.TotalSaved,
		Balance:        l.Balance,
	}
}

// RedeemResult is the committed outcome of one redemption.
type RedeemResult struct {
	Owner   string           `json:"owner"`
	Record  RedemptionRecord `json:"record"`
	Balance uint64           `json:"balance"`
}
