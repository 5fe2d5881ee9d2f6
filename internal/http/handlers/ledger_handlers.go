package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/septivank/conservation-rewards-worker/internal/http/middleware"
	"github.com/septivank/conservation-rewards-worker/internal/ledger"
)

// Ledger is the part of the ledger service the HTTP API exposes.
type Ledger interface {
	Register(ctx context.Context, reg ledger.Registration) (*ledger.Registered, error)
	AddMeter(ctx context.Context, key ledger.PropertyKey, c ledger.Commodity, meterID, feedAddress string) (*ledger.Meter, error)
	Redeem(ctx context.Context, owner string, amount uint64) (*ledger.RedeemResult, error)
	Participant(ctx context.Context, owner string) (*ledger.Participant, error)
	Meter(ctx context.Context, ref ledger.MeterRef) (*ledger.Meter, error)
	RewardLedger(ctx context.Context, owner string) (*ledger.RewardLedger, error)
}

// LedgerHandlers serves the participant's own ledger entities.
type LedgerHandlers struct {
	ledger Ledger
	logger *zap.Logger
}

// NewLedgerHandlers returns handlers.
func NewLedgerHandlers(l Ledger, logger *zap.Logger) *LedgerHandlers {
	return &LedgerHandlers{ledger: l, logger: logger}
}

type registerRequest struct {
	PropertyID        string `json:"property_id"`
	WaterMeterID      string `json:"water_external_id"`
	EnergyMeterID     string `json:"energy_external_id"`
	WaterFeedAddress  string `json:"water_feed_address"`
	EnergyFeedAddress string `json:"energy_feed_address"`
	TrackEnergy       bool   `json:"track_energy"`
}

type addMeterRequest struct {
	PropertyID  string `json:"property_id"`
	Commodity   string `json:"commodity"`
	MeterID     string `json:"meter_id"`
	FeedAddress string `json:"feed_address"`
}

type redeemRequest struct {
	Amount json.Number `json:"amount"`
}

// Register handles POST /register.
func (h *LedgerHandlers) Register(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := h.ledger.Register(r.Context(), ledger.Registration{
		Owner:             owner,
		PropertyID:        req.PropertyID,
		WaterMeterID:      req.WaterMeterID,
		EnergyMeterID:     req.EnergyMeterID,
		WaterFeedAddress:  req.WaterFeedAddress,
		EnergyFeedAddress: req.EnergyFeedAddress,
		TrackEnergy:       req.TrackEnergy,
	})
	if err != nil {
		h.fail(w, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// AddMeter handles POST /meters.
func (h *LedgerHandlers) AddMeter(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req addMeterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	commodity, err := ledger.ParseCommodity(req.Commodity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := ledger.PropertyKey{Owner: owner, PropertyID: req.PropertyID}
	m, err := h.ledger.AddMeter(r.Context(), key, commodity, req.MeterID, req.FeedAddress)
	if err != nil {
		h.fail(w, "add meter", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ParticipantMe handles GET /participants/me.
func (h *LedgerHandlers) ParticipantMe(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	p, err := h.ledger.Participant(r.Context(), owner)
	if err != nil {
		h.fail(w, "participant", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Meter handles GET /meters?property_id=&commodity=&meter_id=.
func (h *LedgerHandlers) Meter(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	q := r.URL.Query()
	propertyID, meterID := q.Get("property_id"), q.Get("meter_id")
	if propertyID == "" || meterID == "" {
		writeError(w, http.StatusBadRequest, "property_id and meter_id are required")
		return
	}
	commodity, err := ledger.ParseCommodity(q.Get("commodity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.ledger.Meter(r.Context(), ledger.MeterRef{
		Owner:      owner,
		PropertyID: propertyID,
		Commodity:  commodity,
		MeterID:    meterID,
	})
	if err != nil {
		h.fail(w, "meter", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RewardsMe handles GET /rewards/me.
func (h *LedgerHandlers) RewardsMe(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	l, err := h.ledger.RewardLedger(r.Context(), owner)
	if err != nil {
		h.fail(w, "reward ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// Redeem handles POST /rewards/redeem.
func (h *LedgerHandlers) Redeem(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req redeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	res, err := h.ledger.Redeem(r.Context(), owner, amount)
	if err != nil {
		h.fail(w, "redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseAmount accepts a positive whole number that fits in 64 bits.
func parseAmount(n json.Number) (uint64, error) {
	s := strings.TrimSpace(n.String())
	amount, err := strconv.ParseUint(s, 10, 64)
	if err != nil || amount == 0 {
		return 0, fmt.Errorf("amount %q must be a positive whole number: %w", s, ledger.ErrInvalidAmount)
	}
	return amount, nil
}

func (h *LedgerHandlers) fail(w http.ResponseWriter, op string, err error) {
	if !ledger.IsDomainError(err) {
		h.logger.Error("ledger request failed", zap.String("operation", op), zap.Error(err))
	}
	writeLedgerError(w, err)
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
