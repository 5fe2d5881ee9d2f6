package ledger

import (
	"fmt"
	"time"
)

// Commodity selects the metered resource.
type Commodity string

const (
	Water  Commodity = "water"
	Energy Commodity = "energy"
)

// ParseCommodity converts a wire value into a Commodity.
func ParseCommodity(s string) (Commodity, error) {
	switch Commodity(s) {
	case Water, Energy:
		return Commodity(s), nil
	}
	return "", fmt.Errorf("unknown commodity %q: %w", s, ErrInvalidState)
}

// Unit returns the commodity unit readings are reported in.
func (c Commodity) Unit() string {
	if c == Energy {
		return "Wh"
	}
	return "liters"
}

// UsageError is the error kind for a malformed reading of this commodity.
func (c Commodity) UsageError() error {
	if c == Energy {
		return ErrInvalidEnergyConsumptionData
	}
	return ErrInvalidUsageData
}

// ExternalIDError is the error kind for a malformed or duplicate meter id of this commodity.
func (c Commodity) ExternalIDError() error {
	if c == Energy {
		return ErrInvalidEnergyExternalID
	}
	return ErrInvalidWaterExternalID
}

// PropertyKey identifies a Property by owner and external id.
type PropertyKey struct {
	Owner      string `json:"owner"`
	PropertyID string `json:"property_id"`
}

func (k PropertyKey) String() string {
	return k.Owner + ":" + k.PropertyID
}

// MeterRef identifies a Meter by owner, property, commodity and external meter id.
type MeterRef struct {
	Owner      string    `json:"owner"`
	PropertyID string    `json:"property_id"`
	Commodity  Commodity `json:"commodity"`
	MeterID    string    `json:"meter_id"`
}

// Property returns the key of the property owning the meter.
func (r MeterRef) Property() PropertyKey {
	return PropertyKey{Owner: r.Owner, PropertyID: r.PropertyID}
}

func (r MeterRef) String() string {
	return r.Owner + ":" + r.PropertyID + ":" + string(r.Commodity) + ":" + r.MeterID
}

// Participant is one registered user. Owner is immutable after creation;
// RewardLedger names the participant's single reward ledger, keyed by owner.
type Participant struct {
	Owner        string    `json:"owner"`
	PropertyIDs  []string  `json:"property_ids"`
	RewardLedger string    `json:"reward_ledger"`
	RegisteredAt time.Time `json:"registered_at"`
	Version      uint64    `json:"version"`
}

// Property is a site owned by a Participant. Meter lists only grow.
type Property struct {
	Key          PropertyKey `json:"key"`
	WaterMeters  []string    `json:"water_meters"`
	EnergyMeters []string    `json:"energy_meters"`
	CreatedAt    time.Time   `json:"created_at"`
	Version      uint64      `json:"version"`
}

// Meters returns the meter ids of the given commodity.
func (p *Property) Meters(c Commodity) []string {
	if c == Energy {
		return p.EnergyMeters
	}
	return p.WaterMeters
}

// HasMeter reports whether the property already links a meter with that id.
func (p *Property) HasMeter(c Commodity, meterID string) bool {
	for _, id := range p.Meters(c) {
		if id == meterID {
			return true
		}
	}
	return false
}

func (p *Property) linkMeter(c Commodity, meterID string) {
	if c == Energy {
		p.EnergyMeters = append(p.EnergyMeters, meterID)
	} else {
		p.WaterMeters = append(p.WaterMeters, meterID)
	}
	p.Version++
}

// UsageRecord is one immutable reading with the baseline snapshotted at insertion.
type UsageRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Amount    uint64    `json:"amount"`
	Baseline  uint64    `json:"baseline"`
}

// Saved is the saturating reduction of this record against its baseline.
func (r UsageRecord) Saved() uint64 {
	return saturatingSub(r.Baseline, r.Amount)
}

// RedemptionRecord is one immutable successful redemption.
type RedemptionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Amount    uint64    `json:"amount"`
}

// Clone returns a deep copy.
func (p *Participant) Clone() *Participant {
	c := *p
	c.PropertyIDs = append([]string(nil), p.PropertyIDs...)
	return &c
}

// Clone returns a deep copy.
func (p *Property) Clone() *Property {
	c := *p
	c.WaterMeters = append([]string(nil), p.WaterMeters...)
	c.EnergyMeters = append([]string(nil), p.EnergyMeters...)
	return &c
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
