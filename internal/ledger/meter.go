package ledger

import (
	"fmt"
	"time"
)

// Meter is one metering point with its append-only history and running totals.
//
// History holds every record when the meter lives in memory. Stores that page history
// from disk may load only the trailing BaselineWindow records; the totals are carried
// on the meter itself and never recomputed from History.
type Meter struct {
	Ref            MeterRef      `json:"ref"`
	FeedAddress    string        `json:"feed_address"`
	History        []UsageRecord `json:"history"`
	RecordCount    uint64        `json:"record_count"`
	LastCalculated time.Time     `json:"last_calculated_timestamp"`
	TotalConsumed  uint64        `json:"total_consumed"`
	TotalSaved     uint64        `json:"total_saved"`
	CreatedAt      time.Time     `json:"created_at"`
	Version        uint64        `json:"version"`
}

// Reading is a scored reading that has passed every precondition but is not yet applied.
type Reading struct {
	Record UsageRecord
	Points uint64
}

// Assess validates a reading against the meter and scores it without mutating anything.
func (m *Meter) Assess(feedAddress string, amount uint64, now time.Time) (Reading, error) {
	if feedAddress != m.FeedAddress {
		return Reading{}, fmt.Errorf("meter %s: feed %q not registered: %w", m.Ref, feedAddress, ErrInvalidDepinFeedAddress)
	}
	if now.Before(m.LastCalculated) {
		return Reading{}, fmt.Errorf("meter %s: reading at %s precedes %s: %w",
			m.Ref, now.UTC().Format(time.RFC3339), m.LastCalculated.UTC().Format(time.RFC3339), ErrTimestampsOutOfOrder)
	}
	if m.TotalConsumed+amount < m.TotalConsumed {
		return Reading{}, fmt.Errorf("meter %s: total consumed overflows: %w", m.Ref, m.Ref.Commodity.UsageError())
	}

	baseline := Baseline(m.History)
	record := UsageRecord{Timestamp: now, Amount: amount, Baseline: baseline}
	if m.TotalSaved+record.Saved() < m.TotalSaved {
		return Reading{}, fmt.Errorf("meter %s: total saved overflows: %w", m.Ref, m.Ref.Commodity.UsageError())
	}

	return Reading{Record: record, Points: Points(baseline, amount)}, nil
}

// Apply commits a reading produced by Assess on this meter. It cannot fail.
func (m *Meter) Apply(r Reading) {
	m.History = append(m.History, r.Record)
	m.RecordCount++
	m.LastCalculated = r.Record.Timestamp
	m.TotalConsumed += r.Record.Amount
	m.TotalSaved += r.Record.Saved()
	m.Version++
}

// Window returns a copy of the records the next baseline is computed from.
func (m *Meter) Window() []UsageRecord {
	h := m.History
	if len(h) > BaselineWindow {
		h = h[len(h)-BaselineWindow:]
	}
	return append([]UsageRecord(nil), h...)
}

// Clone returns a deep copy.
func (m *Meter) Clone() *Meter {
	c := *m
	c.History = append([]UsageRecord(nil), m.History...)
	return &c
}
