package db

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/septivank/conservation-rewards-worker/internal/ledger"
)

// Numeric columns are scanned as text (col::text) and written with Numeric.

// ParticipantRow represents a participant in the database
type ParticipantRow struct {
	Owner        string
	RegisteredAt time.Time
	Version      int64
}

// PropertyRow represents a property in the database
type PropertyRow struct {
	Owner      string
	PropertyID string
	CreatedAt  time.Time
	Version    int64
}

// MeterRow represents a meter and its running totals in the database
type MeterRow struct {
	Owner            string
	PropertyID       string
	Commodity        string
	MeterID          string
	FeedAddress      string
	RecordCount      int64
	LastCalculatedAt *time.Time
	TotalConsumed    string
	TotalSaved       string
	CreatedAt        time.Time
	Version          int64
}

// UsageRecordRow represents one recorded reading in the database
type UsageRecordRow struct {
	RecordedAt time.Time
	Amount     string
	Baseline   string
}

// RewardLedgerRow represents a reward ledger in the database
type RewardLedgerRow struct {
	Owner         string
	Balance       string
	TotalCredited string
	TotalRedeemed string
	CreatedAt     time.Time
	Version       int64
}

// RedemptionRow represents one redemption in the database
type RedemptionRow struct {
	RedeemedAt time.Time
	Amount     string
}

// Numeric encodes v for a NUMERIC(20,0) column
func Numeric(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

// ParseUint64 decodes the text form of a NUMERIC(20,0) column
func ParseUint64(column, text string) (uint64, error) {
	v, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("[DATABASE] column %s holds %q: %w", column, text, err)
	}
	return v, nil
}

// Participant converts the row. Property ids are loaded separately.
func (r ParticipantRow) Participant(propertyIDs []string) *ledger.Participant {
	return &ledger.Participant{
		Owner:        r.Owner,
		PropertyIDs:  propertyIDs,
		RewardLedger: r.Owner,
		RegisteredAt: r.RegisteredAt.UTC(),
		Version:      uint64(r.Version),
	}
}

// Property converts the row with its linked meter ids
func (r PropertyRow) Property(waterMeters, energyMeters []string) *ledger.Property {
	return &ledger.Property{
		Key:          ledger.PropertyKey{Owner: r.Owner, PropertyID: r.PropertyID},
		WaterMeters:  waterMeters,
		EnergyMeters: energyMeters,
		CreatedAt:    r.CreatedAt.UTC(),
		Version:      uint64(r.Version),
	}
}

// Meter converts the row. history holds the trailing records loaded for the meter.
func (r MeterRow) Meter(history []ledger.UsageRecord) (*ledger.Meter, error) {
	commodity, err := ledger.ParseCommodity(r.Commodity)
	if err != nil {
		return nil, err
	}
	consumed, err := ParseUint64("total_consumed", r.TotalConsumed)
	if err != nil {
		return nil, err
	}
	saved, err := ParseUint64("total_saved", r.TotalSaved)
	if err != nil {
		return nil, err
	}

	m := &ledger.Meter{
		Ref: ledger.MeterRef{
			Owner:      r.Owner,
			PropertyID: r.PropertyID,
			Commodity:  commodity,
			MeterID:    r.MeterID,
		},
		FeedAddress:   r.FeedAddress,
		History:       history,
		RecordCount:   uint64(r.RecordCount),
		TotalConsumed: consumed,
		TotalSaved:    saved,
		CreatedAt:     r.CreatedAt.UTC(),
		Version:       uint64(r.Version),
	}
	if r.LastCalculatedAt != nil {
		m.LastCalculated = r.LastCalculatedAt.UTC()
	}
	return m, nil
}

// Record converts the row
func (r UsageRecordRow) Record() (ledger.UsageRecord, error) {
	amount, err := ParseUint64("amount", r.Amount)
	if err != nil {
		return ledger.UsageRecord{}, err
	}
	baseline, err := ParseUint64("baseline", r.Baseline)
	if err != nil {
		return ledger.UsageRecord{}, err
	}
	return ledger.UsageRecord{Timestamp: r.RecordedAt.UTC(), Amount: amount, Baseline: baseline}, nil
}

// RewardLedger converts the row. Redemptions are loaded separately.
func (r RewardLedgerRow) RewardLedger(redemptions []ledger.RedemptionRecord) (*ledger.RewardLedger, error) {
	balance, err := ParseUint64("balance", r.Balance)
	if err != nil {
		return nil, err
	}
	credited, err := ParseUint64("total_credited", r.TotalCredited)
	if err != nil {
		return nil, err
	}
	redeemed, err := ParseUint64("total_redeemed", r.TotalRedeemed)
	if err != nil {
		return nil, err
	}
	return &ledger.RewardLedger{
		Owner:         r.Owner,
		Balance:       balance,
		TotalCredited: credited,
		TotalRedeemed: redeemed,
		Redemptions:   redemptions,
		CreatedAt:     r.CreatedAt.UTC(),
		Version:       uint64(r.Version),
	}, nil
}

// Redemption converts the row
func (r RedemptionRow) Redemption() (ledger.RedemptionRecord, error) {
	amount, err := ParseUint64("amount", r.Amount)
	if err != nil {
		return ledger.RedemptionRecord{}, err
	}
	return ledger.RedemptionRecord{Timestamp: r.RedeemedAt.UTC(), Amount: amount}, nil
}
