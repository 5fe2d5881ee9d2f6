// Package repository stores the ledger in PostgreSQL. Every mutation runs in one transaction
// that locks the rows it changes: the participant row for registration, the property row for
// meter linking, the meter row then the reward ledger row for readings, and the reward ledger
// row for redemptions.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/septivank/conservation-rewards-worker/internal/db"
	"github.com/septivank/conservation-rewards-worker/internal/ledger"
)

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("[DATABASE] failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("[DATABASE] failed to commit transaction: %w", err)
	}
	return nil
}

// Register creates the linked entity set of reg in one transaction.
func (r *Repository) Register(ctx context.Context, reg ledger.Registration, now time.Time) (*ledger.Registered, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	key := ledger.PropertyKey{Owner: reg.Owner, PropertyID: reg.PropertyID}

	var out *ledger.Registered
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		// A placeholder row at version 0 gives concurrent first registrations of one
		// owner a row to queue on. It is rolled back if the registration fails.
		if _, err := tx.Exec(ctx, `
			INSERT INTO participants (owner, registered_at, version)
			VALUES ($1, $2, 0)
			ON CONFLICT (owner) DO NOTHING
		`, reg.Owner, now); err != nil {
			return fmt.Errorf("[DATABASE] failed to reserve participant: %w", err)
		}
		participant, err := loadParticipant(ctx, tx, reg.Owner, true)
		if err != nil {
			return err
		}
		if participant != nil && participant.Version == 0 {
			participant = nil
		}

		exists, err := propertyExists(ctx, tx, key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("property %s already registered: %w", key, ledger.ErrInvalidPropertyExternalID)
		}

		rewards, err := loadRewardLedger(ctx, tx, reg.Owner, true)
		if err != nil {
			return err
		}
		if rewards != nil {
			if rewards.Redemptions, err = loadRedemptions(ctx, tx, reg.Owner); err != nil {
				return err
			}
		}

		out = reg.Build(participant, rewards, now)
		return insertRegistered(ctx, tx, out, rewards == nil)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func insertRegistered(ctx context.Context, tx pgx.Tx, out *ledger.Registered, newLedger bool) error {
	p := out.Participant
	if _, err := tx.Exec(ctx, `
		UPDATE participants SET version = $2 WHERE owner = $1
	`, p.Owner, int64(p.Version)); err != nil {
		return fmt.Errorf("[DATABASE] failed to update participant: %w", err)
	}

	prop := out.Property
	if _, err := tx.Exec(ctx, `
		INSERT INTO properties (owner, property_id, created_at, version)
		VALUES ($1, $2, $3, $4)
	`, prop.Key.Owner, prop.Key.PropertyID, prop.CreatedAt, int64(prop.Version)); err != nil {
		return fmt.Errorf("[DATABASE] failed to insert property: %w", err)
	}

	for _, m := range out.Meters {
		if err := insertMeter(ctx, tx, m); err != nil {
			return err
		}
	}

	if newLedger {
		l := out.RewardLedger
		if _, err := tx.Exec(ctx, `
			INSERT INTO reward_ledgers (owner, created_at, version)
			VALUES ($1, $2, $3)
		`, l.Owner, l.CreatedAt, int64(l.Version)); err != nil {
			return fmt.Errorf("[DATABASE] failed to insert reward ledger: %w", err)
		}
	}
	return nil
}

func insertMeter(ctx context.Context, q querier, m *ledger.Meter) error {
	_, err := q.Exec(ctx, `
		INSERT INTO meters (owner, property_id, commodity, meter_id, feed_address, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.Ref.Owner, m.Ref.PropertyID, string(m.Ref.Commodity), m.Ref.MeterID, m.FeedAddress, m.CreatedAt, int64(m.Version))
	if err != nil {
		return fmt.Errorf("[DATABASE] failed to insert meter %s: %w", m.Ref, err)
	}
	return nil
}

// AddMeter links a new meter to an existing property.
func (r *Repository) AddMeter(ctx context.Context, key ledger.PropertyKey, c ledger.Commodity, meterID, feedAddress string, now time.Time) (*ledger.Meter, error) {
	var m *ledger.Meter
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		prop, err := loadProperty(ctx, tx, key, true)
		if err != nil {
			return err
		}
		if prop == nil {
			return fmt.Errorf("property %s not registered: %w", key, ledger.ErrInvalidPropertyAccount)
		}

		m, err = ledger.AddMeter(prop, c, meterID, feedAddress, now)
		if err != nil {
			return err
		}
		if err := insertMeter(ctx, tx, m); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE properties SET version = $3 WHERE owner = $1 AND property_id = $2
		`, key.Owner, key.PropertyID, int64(prop.Version)); err != nil {
			return fmt.Errorf("[DATABASE] failed to update property: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordUsage scores a reading against the meter's baseline window, appends it, updates the
// meter totals and credits the owner's reward ledger in one transaction.
func (r *Repository) RecordUsage(ctx context.Context, ref ledger.MeterRef, feedAddress string, amount uint64, now time.Time) (*ledger.UsageResult, error) {
	var res *ledger.UsageResult
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		m, err := lockMeter(ctx, tx, ref)
		if err != nil {
			return err
		}
		if m.History, err = loadWindow(ctx, tx, ref); err != nil {
			return err
		}
		rewards, err := loadRewardLedger(ctx, tx, ref.Owner, true)
		if err != nil {
			return err
		}
		if rewards == nil {
			return fmt.Errorf("reward ledger %s not registered: %w", ref.Owner, ledger.ErrInvalidState)
		}

		reading, err := m.Assess(feedAddress, amount, now)
		if err != nil {
			return err
		}
		if err := rewards.CheckCredit(reading.Points); err != nil {
			return err
		}
		m.Apply(reading)
		rewards.Credit(reading.Points)

		if err := insertUsage(ctx, tx, m, reading.Record); err != nil {
			return err
		}
		if reading.Points > 0 {
			if _, err := tx.Exec(ctx, `
				UPDATE reward_ledgers
				SET balance = $2, total_credited = $3, version = $4
				WHERE owner = $1
			`, rewards.Owner, db.Numeric(rewards.Balance), db.Numeric(rewards.TotalCredited), int64(rewards.Version)); err != nil {
				return fmt.Errorf("[DATABASE] failed to credit reward ledger: %w", err)
			}
		}

		res = ledger.NewUsageResult(m, rewards, reading)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func lockMeter(ctx context.Context, tx pgx.Tx, ref ledger.MeterRef) (*ledger.Meter, error) {
	exists, err := propertyExists(ctx, tx, ref.Property())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("property %s not registered: %w", ref.Property(), ledger.ErrInvalidPropertyAccount)
	}
	m, err := loadMeter(ctx, tx, ref, true)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("meter %s not registered: %w", ref, ledger.ErrInvalidState)
	}
	return m, nil
}

func insertUsage(ctx context.Context, tx pgx.Tx, m *ledger.Meter, rec ledger.UsageRecord) error {
	ref := m.Ref
	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_records (id, owner, property_id, commodity, meter_id, seq, recorded_at, amount, baseline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.New(), ref.Owner, ref.PropertyID, string(ref.Commodity), ref.MeterID,
		int64(m.RecordCount), rec.Timestamp, db.Numeric(rec.Amount), db.Numeric(rec.Baseline)); err != nil {
		return fmt.Errorf("[DATABASE] failed to insert usage record: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE meters
		SET record_count = $5, last_calculated_at = $6, total_consumed = $7, total_saved = $8, version = $9
		WHERE owner = $1 AND property_id = $2 AND commodity = $3 AND meter_id = $4
	`, ref.Owner, ref.PropertyID, string(ref.Commodity), ref.MeterID,
		int64(m.RecordCount), m.LastCalculated, db.Numeric(m.TotalConsumed), db.Numeric(m.TotalSaved), int64(m.Version)); err != nil {
		return fmt.Errorf("[DATABASE] failed to update meter totals: %w", err)
	}
	return nil
}

// Redeem debits the owner's reward ledger.
func (r *Repository) Redeem(ctx context.Context, owner string, amount uint64, now time.Time) (*ledger.RedeemResult, error) {
	var res *ledger.RedeemResult
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		rewards, err := loadRewardLedger(ctx, tx, owner, true)
		if err != nil {
			return err
		}
		if rewards == nil {
			return fmt.Errorf("reward ledger %s not registered: %w", owner, ledger.ErrInvalidState)
		}

		rec, err := rewards.Redeem(amount, now)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO redemption_records (id, owner, redeemed_at, amount)
			VALUES ($1, $2, $3, $4)
		`, uuid.New(), owner, rec.Timestamp, db.Numeric(rec.Amount)); err != nil {
			return fmt.Errorf("[DATABASE] failed to insert redemption: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE reward_ledgers
			SET balance = $2, total_redeemed = $3, version = $4
			WHERE owner = $1
		`, owner, db.Numeric(rewards.Balance), db.Numeric(rewards.TotalRedeemed), int64(rewards.Version)); err != nil {
			return fmt.Errorf("[DATABASE] failed to debit reward ledger: %w", err)
		}

		res = &ledger.RedeemResult{Owner: owner, Record: rec, Balance: rewards.Balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Participant returns the participant with its property ids in registration order.
func (r *Repository) Participant(ctx context.Context, owner string) (*ledger.Participant, error) {
	p, err := loadParticipant(ctx, r.pool, owner, false)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Version == 0 {
		return nil, fmt.Errorf("participant %s not registered: %w", owner, ledger.ErrInvalidState)
	}
	return p, nil
}

// Property returns the property with its meter ids in link order.
func (r *Repository) Property(ctx context.Context, key ledger.PropertyKey) (*ledger.Property, error) {
	p, err := loadProperty(ctx, r.pool, key, false)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("property %s not registered: %w", key, ledger.ErrInvalidPropertyAccount)
	}
	return p, nil
}

// Meter returns the meter with its full history.
func (r *Repository) Meter(ctx context.Context, ref ledger.MeterRef) (*ledger.Meter, error) {
	m, err := r.meter(ctx, ref)
	if err != nil {
		return nil, err
	}
	m.History, err = loadHistory(ctx, r.pool, ref, 0)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Window returns the records the meter's next baseline will be computed from.
func (r *Repository) Window(ctx context.Context, ref ledger.MeterRef) ([]ledger.UsageRecord, error) {
	if _, err := r.meter(ctx, ref); err != nil {
		return nil, err
	}
	return loadWindow(ctx, r.pool, ref)
}

func (r *Repository) meter(ctx context.Context, ref ledger.MeterRef) (*ledger.Meter, error) {
	exists, err := propertyExists(ctx, r.pool, ref.Property())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("property %s not registered: %w", ref.Property(), ledger.ErrInvalidPropertyAccount)
	}
	m, err := loadMeter(ctx, r.pool, ref, false)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("meter %s not registered: %w", ref, ledger.ErrInvalidState)
	}
	return m, nil
}

// RewardLedger returns the owner's reward ledger with its redemption history.
func (r *Repository) RewardLedger(ctx context.Context, owner string) (*ledger.RewardLedger, error) {
	l, err := loadRewardLedger(ctx, r.pool, owner, false)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("reward ledger %s not registered: %w", owner, ledger.ErrInvalidState)
	}
	if l.Redemptions, err = loadRedemptions(ctx, r.pool, owner); err != nil {
		return nil, err
	}
	return l, nil
}

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func loadParticipant(ctx context.Context, q querier, owner string, lock bool) (*ledger.Participant, error) {
	var row db.ParticipantRow
	err := q.QueryRow(ctx, `
		SELECT owner, registered_at, version
		FROM participants
		WHERE owner = $1`+forUpdate(lock), owner).Scan(&row.Owner, &row.RegisteredAt, &row.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to query participant: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT property_id FROM properties WHERE owner = $1 ORDER BY seq
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to query property ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to scan property ids: %w", err)
	}
	return row.Participant(ids), nil
}

func propertyExists(ctx context.Context, q querier, key ledger.PropertyKey) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM properties WHERE owner = $1 AND property_id = $2)
	`, key.Owner, key.PropertyID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("[DATABASE] failed to query property: %w", err)
	}
	return exists, nil
}

func loadProperty(ctx context.Context, q querier, key ledger.PropertyKey, lock bool) (*ledger.Property, error) {
	var row db.PropertyRow
	err := q.QueryRow(ctx, `
		SELECT owner, property_id, created_at, version
		FROM properties
		WHERE owner = $1 AND property_id = $2`+forUpdate(lock), key.Owner, key.PropertyID).
		Scan(&row.Owner, &row.PropertyID, &row.CreatedAt, &row.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to query property: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT commodity, meter_id FROM meters
		WHERE owner = $1 AND property_id = $2
		ORDER BY seq
	`, key.Owner, key.PropertyID)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to query meter ids: %w", err)
	}
	defer rows.Close()

	var water, energy []string
	for rows.Next() {
		var commodity, meterID string
		if err := rows.Scan(&commodity, &meterID); err != nil {
			return nil, fmt.Errorf("[DATABASE] failed to scan meter id: %w", err)
		}
		if ledger.Commodity(commodity) == ledger.Energy {
			energy = append(energy, meterID)
		} else {
			water = append(water, meterID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return row.Property(water, energy), nil
}

func loadMeter(ctx context.Context, q querier, ref ledger.MeterRef, lock bool) (*ledger.Meter, error) {
	var row db.MeterRow
	err := q.QueryRow(ctx, `
		SELECT owner, property_id, commodity, meter_id, feed_address, record_count,
		       last_calculated_at, total_consumed::text, total_saved::text, created_at, version
		FROM meters
		WHERE owner = $1 AND property_id = $2 AND commodity = $3 AND meter_id = $4`+forUpdate(lock),
		ref.Owner, ref.PropertyID, string(ref.Commodity), ref.MeterID).Scan(
		&row.Owner,
		&row.PropertyID,
		&row.Commodity,
		&row.MeterID,
		&row.FeedAddress,
		&row.RecordCount,
		&row.LastCalculatedAt,
		&row.TotalConsumed,
		&row.TotalSaved,
		&row.CreatedAt,
		&row.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to query meter: %w", err)
	}
	return row.Meter(nil)
}

// loadWindow returns the trailing BaselineWindow records, oldest first.
func loadWindow(ctx context.Context, q querier, ref ledger.MeterRef) ([]ledger.UsageRecord, error) {
	return loadHistory(ctx, q, ref, ledger.BaselineWindow)
}

// loadHistory returns the last limit records, oldest first. limit 0 loads everything.
func loadHistory(ctx context.Context, q querier, ref ledger.MeterRef, limit int) ([]ledger.UsageRecord, error) {
	query := `
		SELECT recorded_at, amount::text, baseline::text
		FROM usage_records
		WHERE owner = $1 AND property_id = $2 AND commodity = $3 AND meter_id = $4
		ORDER BY seq DESC`
	args := []any{ref.Owner, ref.PropertyID, string(ref.Commodity), ref.MeterID}
	if limit > 0 {
		query += ` LIMIT $5`
		args = append(args, limit)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []ledger.UsageRecord
	for rows.Next() {
		var row db.UsageRecordRow
		if err := rows.Scan(&row.RecordedAt, &row.Amount, &row.Baseline); err != nil {
			return nil, fmt.Errorf("[DATABASE] failed to scan usage record: %w", err)
		}
		rec, err := row.Record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func loadRewardLedger(ctx context.Context, q querier, owner string, lock bool) (*ledger.RewardLedger, error) {
	var row db.RewardLedgerRow
	err := q.QueryRow(ctx, `
		SELECT owner, balance::text, total_credited::text, total_redeemed::text, created_at, version
		FROM reward_ledgers
		WHERE owner = $1`+forUpdate(lock), owner).Scan(
		&row.Owner,
		&row.Balance,
		&row.TotalCredited,
		&row.TotalRedeemed,
		&row.CreatedAt,
		&row.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to query reward ledger: %w", err)
	}
	return row.RewardLedger(nil)
}

func loadRedemptions(ctx context.Context, q querier, owner string) ([]ledger.RedemptionRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT redeemed_at, amount::text
		FROM redemption_records
		WHERE owner = $1
		ORDER BY seq
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to query redemptions: %w", err)
	}
	defer rows.Close()

	var out []ledger.RedemptionRecord
	for rows.Next() {
		var row db.RedemptionRow
		if err := rows.Scan(&row.RedeemedAt, &row.Amount); err != nil {
			return nil, fmt.Errorf("[DATABASE] failed to scan redemption: %w", err)
		}
		rec, err := row.Redemption()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}
