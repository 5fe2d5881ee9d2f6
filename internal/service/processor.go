package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/septivank/conservation-rewards-worker/internal/anomaly"
	"github.com/septivank/conservation-rewards-worker/internal/ledger"
	"github.com/septivank/conservation-rewards-worker/internal/logging"
	"github.com/septivank/conservation-rewards-worker/internal/metrics"
	"github.com/septivank/conservation-rewards-worker/internal/validator"
)

// IngestMessage represents the incoming device reading from RabbitMQ
type IngestMessage struct {
	RequestID   string      `json:"request_id"`
	FeedAddress string      `json:"feed_address"`
	Owner       string      `json:"owner"`
	PropertyID  string      `json:"property_id"`
	Commodity   string      `json:"commodity"`
	MeterID     string      `json:"meter_id"`
	ReceivedAt  time.Time   `json:"received_at"`
	Reading     ReadingData `json:"reading"`
}

// ReadingData is the raw reading as reported by the device
type ReadingData struct {
	Date string `json:"date"`
	Data string `json:"data"`
}

// ReplayGuard drops device messages that were already processed
type ReplayGuard interface {
	Claim(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

// ProcessorService turns queued device readings into ledger usage records
type ProcessorService struct {
	ledger    *LedgerService
	guard     ReplayGuard
	detector  *anomaly.Detector
	validator *validator.Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewProcessorService creates a new processor service
func NewProcessorService(
	ledgerService *LedgerService,
	guard ReplayGuard,
	detector *anomaly.Detector,
	validator *validator.Validator,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ProcessorService {
	return &ProcessorService{
		ledger:    ledgerService,
		guard:     guard,
		detector:  detector,
		validator: validator,
		metrics:   m,
		logger:    logger,
	}
}

// ProcessMessage processes an incoming meter reading message. A nil return acks the
// message; any error dead-letters it.
func (s *ProcessorService) ProcessMessage(ctx context.Context, body []byte) error {
	var msg IngestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	reqLogger := logging.WithRequestID(s.logger, msg.RequestID)

	commodity, err := ledger.ParseCommodity(msg.Commodity)
	if err != nil {
		reqLogger.Warn("unknown commodity", zap.String("commodity", msg.Commodity))
		return err
	}
	ref := ledger.MeterRef{
		Owner:      msg.Owner,
		PropertyID: msg.PropertyID,
		Commodity:  commodity,
		MeterID:    msg.MeterID,
	}
	reqLogger = logging.WithMeter(reqLogger, ref.Owner, ref.PropertyID, string(ref.Commodity), ref.MeterID)
	reqLogger.Info("processing reading", zap.String("feed_address", msg.FeedAddress))

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.ledger.Now()
	}

	reading, result := s.validator.ValidateReading(validator.ReadingData{
		Date: msg.Reading.Date,
		Data: msg.Reading.Data,
	}, receivedAt)
	if !result.IsValid {
		reqLogger.Warn("invalid reading",
			zap.String("reason", result.AnomalyReason),
			zap.String("data", msg.Reading.Data),
			zap.String("date", msg.Reading.Date),
		)
		s.metrics.ReadingsTotal.WithLabelValues(string(commodity), ledger.Kind(commodity.UsageError())).Inc()
		return fmt.Errorf("%s: %w", result.AnomalyReason, commodity.UsageError())
	}

	at := reading.Timestamp
	if at.IsZero() {
		at = s.ledger.Now()
	}

	if msg.RequestID != "" {
		first, err := s.guard.Claim(ctx, msg.RequestID)
		if err != nil {
			reqLogger.Error("replay guard unavailable", zap.Error(err))
			return err
		}
		if !first {
			reqLogger.Info("duplicate message dropped")
			s.metrics.DuplicateMessages.Inc()
			return nil
		}
	}

	s.flagSpike(ctx, ref, reading.Amount, reqLogger)

	if _, err := s.ledger.RecordUsageAt(ctx, ref, msg.FeedAddress, reading.Amount, at, msg.RequestID); err != nil {
		if msg.RequestID != "" {
			// release with a fresh context: ctx may be the reason we failed
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if rerr := s.guard.Release(releaseCtx, msg.RequestID); rerr != nil {
				reqLogger.Warn("failed to release replay claim", zap.Error(rerr))
			}
			cancel()
		}
		return err
	}

	reqLogger.Info("message processed successfully", zap.Uint64("amount", reading.Amount))
	return nil
}

func (s *ProcessorService) flagSpike(ctx context.Context, ref ledger.MeterRef, amount uint64, logger *zap.Logger) {
	window, err := s.ledger.Window(ctx, ref)
	if err != nil {
		// the ledger call below reports the same reference error
		logger.Debug("no window for anomaly detection", zap.Error(err))
		return
	}
	if isSpike, reason := s.detector.DetectSpike(amount, window); isSpike {
		s.metrics.AnomaliesTotal.WithLabelValues(string(ref.Commodity)).Inc()
		logger.Warn("anomaly detected",
			zap.Uint64("amount", amount),
			zap.String("reason", reason),
		)
	}
}
