package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/conservation-rewards-worker/internal/config"
	"github.com/septivank/conservation-rewards-worker/internal/ledger"
	"github.com/septivank/conservation-rewards-worker/internal/metrics"
	"github.com/septivank/conservation-rewards-worker/internal/mq"
)

// Store persists ledger entities. Every mutating call is one atomic transaction: it either
// commits all of its effects or returns an error having changed nothing.
type Store interface {
	Register(ctx context.Context, reg ledger.Registration, now time.Time) (*ledger.Registered, error)
	AddMeter(ctx context.Context, key ledger.PropertyKey, c ledger.Commodity, meterID, feedAddress string, now time.Time) (*ledger.Meter, error)
	RecordUsage(ctx context.Context, ref ledger.MeterRef, feedAddress string, amount uint64, now time.Time) (*ledger.UsageResult, error)
	Redeem(ctx context.Context, owner string, amount uint64, now time.Time) (*ledger.RedeemResult, error)

	Participant(ctx context.Context, owner string) (*ledger.Participant, error)
	Property(ctx context.Context, key ledger.PropertyKey) (*ledger.Property, error)
	Meter(ctx context.Context, ref ledger.MeterRef) (*ledger.Meter, error)
	Window(ctx context.Context, ref ledger.MeterRef) ([]ledger.UsageRecord, error)
	RewardLedger(ctx context.Context, owner string) (*ledger.RewardLedger, error)
}

// Publisher emits ledger events after a commit
type Publisher interface {
	PublishEvent(ctx context.Context, event any, routingKey string) error
}

// LedgerService runs the ledger operations against a Store and reports their outcome
type LedgerService struct {
	store     Store
	publisher Publisher
	clock     clock.Clock
	metrics   *metrics.Metrics
	cfg       *config.Config
	logger    *zap.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	store Store,
	publisher Publisher,
	clk clock.Clock,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *LedgerService {
	return &LedgerService{
		store:     store,
		publisher: publisher,
		clock:     clk,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
	}
}

// timestampPrecision is the finest resolution every store keeps; TIMESTAMPTZ holds microseconds.
const timestampPrecision = time.Microsecond

// Now returns the service clock's current time at store precision
func (s *LedgerService) Now() time.Time {
	return s.clock.Now().UTC().Truncate(timestampPrecision)
}

// Register creates the participant (if absent), property, meters and reward ledger
func (s *LedgerService) Register(ctx context.Context, reg ledger.Registration) (*ledger.Registered, error) {
	now := s.Now()
	out, err := timed(s, "register", func() (*ledger.Registered, error) {
		return s.store.Register(ctx, reg, now)
	})
	s.metrics.Registrations.WithLabelValues(metrics.Result(ledger.Kind(err), err)).Inc()
	if err != nil {
		s.logRejection("registration rejected", err,
			zap.String("owner", reg.Owner),
			zap.String("property_id", reg.PropertyID),
		)
		return nil, fmt.Errorf("register property %s: %w", reg.PropertyID, err)
	}

	meterIDs := make([]string, 0, len(out.Meters))
	for _, m := range out.Meters {
		meterIDs = append(meterIDs, string(m.Ref.Commodity)+":"+m.Ref.MeterID)
	}
	s.logger.Info("property registered",
		zap.String("owner", reg.Owner),
		zap.String("property_id", reg.PropertyID),
		zap.Strings("meters", meterIDs),
		zap.Bool("track_energy", reg.TrackEnergy),
	)
	s.publish(ctx, mq.RegistrationEvent{
		EventID:    uuid.NewString(),
		Owner:      reg.Owner,
		PropertyID: reg.PropertyID,
		Meters:     meterIDs,
		Timestamp:  now.Format(time.RFC3339),
	}, s.cfg.RabbitMQ.RegistrationRoutingKey)
	return out, nil
}

// AddMeter links another meter to an existing property
func (s *LedgerService) AddMeter(ctx context.Context, key ledger.PropertyKey, c ledger.Commodity, meterID, feedAddress string) (*ledger.Meter, error) {
	m, err := timed(s, "add_meter", func() (*ledger.Meter, error) {
		return s.store.AddMeter(ctx, key, c, meterID, feedAddress, s.Now())
	})
	if err != nil {
		s.logRejection("meter link rejected", err,
			zap.String("owner", key.Owner),
			zap.String("property_id", key.PropertyID),
			zap.String("meter_id", meterID),
		)
		return nil, fmt.Errorf("add %s meter %s: %w", c, meterID, err)
	}
	s.logger.Info("meter linked",
		zap.String("owner", key.Owner),
		zap.String("property_id", key.PropertyID),
		zap.String("commodity", string(c)),
		zap.String("meter_id", meterID),
	)
	return m, nil
}

// RecordUsage records a reading stamped with the service clock
func (s *LedgerService) RecordUsage(ctx context.Context, ref ledger.MeterRef, feedAddress string, amount uint64) (*ledger.UsageResult, error) {
	return s.RecordUsageAt(ctx, ref, feedAddress, amount, s.Now(), "")
}

// RecordUsageAt records a reading taken at the given time. requestID, when set, is carried
// into the published event.
func (s *LedgerService) RecordUsageAt(ctx context.Context, ref ledger.MeterRef, feedAddress string, amount uint64, at time.Time, requestID string) (*ledger.UsageResult, error) {
	at = at.UTC().Truncate(timestampPrecision)
	res, err := timed(s, "record_usage", func() (*ledger.UsageResult, error) {
		return s.store.RecordUsage(ctx, ref, feedAddress, amount, at)
	})
	s.metrics.ReadingsTotal.WithLabelValues(string(ref.Commodity), metrics.Result(ledger.Kind(err), err)).Inc()
	if err != nil {
		s.logRejection("reading rejected", err,
			zap.String("meter", ref.String()),
			zap.Uint64("amount", amount),
		)
		return nil, fmt.Errorf("record usage on %s: %w", ref, err)
	}
	s.metrics.PointsCredited.WithLabelValues(string(ref.Commodity)).Add(float64(res.Points))

	s.logger.Info("reading recorded",
		zap.String("meter", ref.String()),
		zap.Uint64("amount", amount),
		zap.Uint64("baseline", res.Record.Baseline),
		zap.Uint64("points", res.Points),
		zap.Uint64("total_consumed", res.TotalConsumed),
		zap.Uint64("total_saved", res.TotalSaved),
	)
	s.publish(ctx, mq.UsageRecordedEvent{
		EventID:       uuid.NewString(),
		RequestID:     requestID,
		Owner:         ref.Owner,
		PropertyID:    ref.PropertyID,
		Commodity:     string(ref.Commodity),
		MeterID:       ref.MeterID,
		Unit:          ref.Commodity.Unit(),
		Amount:        amount,
		Baseline:      res.Record.Baseline,
		Points:        res.Points,
		TotalConsumed: res.TotalConsumed,
		TotalSaved:    res.TotalSaved,
		Balance:       res.Balance,
		Timestamp:     res.Record.Timestamp.UTC().Format(time.RFC3339),
	}, s.cfg.RabbitMQ.UsageRoutingKey)
	return res, nil
}

// Redeem debits amount points from the owner's reward ledger
func (s *LedgerService) Redeem(ctx context.Context, owner string, amount uint64) (*ledger.RedeemResult, error) {
	res, err := timed(s, "redeem", func() (*ledger.RedeemResult, error) {
		return s.store.Redeem(ctx, owner, amount, s.Now())
	})
	s.metrics.RedemptionsTotal.WithLabelValues(metrics.Result(ledger.Kind(err), err)).Inc()
	if err != nil {
		s.logRejection("redemption rejected", err,
			zap.String("owner", owner),
			zap.Uint64("amount", amount),
		)
		return nil, fmt.Errorf("redeem %d points: %w", amount, err)
	}
	s.metrics.PointsRedeemed.Add(float64(amount))

	s.logger.Info("points redeemed",
		zap.String("owner", owner),
		zap.Uint64("amount", amount),
		zap.Uint64("balance", res.Balance),
	)
	s.publish(ctx, mq.RedemptionEvent{
		EventID:   uuid.NewString(),
		Owner:     owner,
		Amount:    amount,
		Balance:   res.Balance,
		Timestamp: res.Record.Timestamp.UTC().Format(time.RFC3339),
	}, s.cfg.RabbitMQ.RedemptionRoutingKey)
	return res, nil
}

// Participant returns the participant record of owner
func (s *LedgerService) Participant(ctx context.Context, owner string) (*ledger.Participant, error) {
	return s.store.Participant(ctx, owner)
}

// Property returns one property
func (s *LedgerService) Property(ctx context.Context, key ledger.PropertyKey) (*ledger.Property, error) {
	return s.store.Property(ctx, key)
}

// Meter returns a meter with its history
func (s *LedgerService) Meter(ctx context.Context, ref ledger.MeterRef) (*ledger.Meter, error) {
	return s.store.Meter(ctx, ref)
}

// Window returns the records the meter's next baseline is computed from
func (s *LedgerService) Window(ctx context.Context, ref ledger.MeterRef) ([]ledger.UsageRecord, error) {
	return s.store.Window(ctx, ref)
}

// RewardLedger returns the owner's reward ledger
func (s *LedgerService) RewardLedger(ctx context.Context, owner string) (*ledger.RewardLedger, error) {
	return s.store.RewardLedger(ctx, owner)
}

// publish logs but does not return failures: the ledger has already committed.
func (s *LedgerService) publish(ctx context.Context, event any, routingKey string) {
	if err := s.publisher.PublishEvent(ctx, event, routingKey); err != nil {
		s.logger.Error("failed to publish event",
			zap.Error(err),
			zap.String("routing_key", routingKey),
		)
	}
}

func (s *LedgerService) logRejection(msg string, err error, fields ...zap.Field) {
	kind := ledger.Kind(err)
	fields = append(fields, zap.Error(err))
	if kind != "" {
		s.logger.Warn(msg, append(fields, zap.String("kind", kind))...)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Info(msg, fields...)
		return
	}
	s.logger.Error(msg, fields...)
}

func timed[T any](s *LedgerService, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	s.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return out, err
}
