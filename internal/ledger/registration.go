package ledger

import (
	"fmt"
	"strings"
	"time"
)

const (
	maxExternalIDLen  = 32
	maxFeedAddressLen = 64
)

// Registration requests a participant, property, meters and reward ledger in one step.
type Registration struct {
	Owner             string `json:"owner"`
	PropertyID        string `json:"property_id"`
	WaterMeterID      string `json:"water_external_id"`
	EnergyMeterID     string `json:"energy_external_id"`
	WaterFeedAddress  string `json:"water_feed_address"`
	EnergyFeedAddress string `json:"energy_feed_address"`
	TrackEnergy       bool   `json:"track_energy"`
}

// Registered is the linked entity set produced by a registration.
type Registered struct {
	Participant  *Participant  `json:"participant"`
	Property     *Property     `json:"property"`
	Meters       []*Meter      `json:"meters"`
	RewardLedger *RewardLedger `json:"reward_ledger"`
}

// ValidExternalID reports whether id is 1..32 bytes of [A-Za-z0-9._-].
func ValidExternalID(id string) bool {
	if id == "" || len(id) > maxExternalIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// ValidFeedAddress reports whether addr can identify a device feed.
func ValidFeedAddress(addr string) bool {
	if addr == "" || len(addr) > maxFeedAddressLen {
		return false
	}
	return !strings.ContainsAny(addr, ": \t\r\n")
}

func validOwner(owner string) error {
	if owner == "" || strings.Contains(owner, ":") {
		return fmt.Errorf("participant identity %q: %w", owner, ErrInvalidState)
	}
	return nil
}

// Validate checks every identifier before any entity is created.
func (r Registration) Validate() error {
	if err := validOwner(r.Owner); err != nil {
		return err
	}
	if !ValidExternalID(r.PropertyID) {
		return fmt.Errorf("property id %q: %w", r.PropertyID, ErrInvalidPropertyExternalID)
	}
	if !ValidExternalID(r.WaterMeterID) {
		return fmt.Errorf("water meter id %q: %w", r.WaterMeterID, ErrInvalidWaterExternalID)
	}
	if !ValidFeedAddress(r.WaterFeedAddress) {
		return fmt.Errorf("water feed address %q: %w", r.WaterFeedAddress, ErrInvalidDepinFeedAddress)
	}
	if !r.TrackEnergy {
		return nil
	}
	if !ValidExternalID(r.EnergyMeterID) {
		return fmt.Errorf("energy meter id %q: %w", r.EnergyMeterID, ErrInvalidEnergyExternalID)
	}
	if !ValidFeedAddress(r.EnergyFeedAddress) {
		return fmt.Errorf("energy feed address %q: %w", r.EnergyFeedAddress, ErrInvalidDepinFeedAddress)
	}
	return nil
}

// Build creates the entity set for a validated registration whose property does not exist yet.
// participant and rewards are the owner's existing records, or nil when absent; they are
// copied, never modified.
func (r Registration) Build(participant *Participant, rewards *RewardLedger, now time.Time) *Registered {
	var p *Participant
	if participant != nil {
		p = participant.Clone()
	} else {
		p = &Participant{Owner: r.Owner, RewardLedger: r.Owner, RegisteredAt: now}
	}
	p.PropertyIDs = append(p.PropertyIDs, r.PropertyID)
	p.Version++

	l := rewards
	if l != nil {
		l = l.Clone()
	} else {
		l = &RewardLedger{Owner: r.Owner, CreatedAt: now, Version: 1}
	}

	prop := &Property{Key: PropertyKey{Owner: r.Owner, PropertyID: r.PropertyID}, CreatedAt: now}
	out := &Registered{Participant: p, Property: prop, RewardLedger: l}
	out.Meters = append(out.Meters, newMeter(prop, Water, r.WaterMeterID, r.WaterFeedAddress, now))
	if r.TrackEnergy {
		out.Meters = append(out.Meters, newMeter(prop, Energy, r.EnergyMeterID, r.EnergyFeedAddress, now))
	}
	return out
}

// AddMeter links a new meter to an existing property and returns it. prop is modified only on success.
func AddMeter(prop *Property, c Commodity, meterID, feedAddress string, now time.Time) (*Meter, error) {
	if !ValidExternalID(meterID) || prop.HasMeter(c, meterID) {
		return nil, fmt.Errorf("%s meter id %q on property %s: %w", c, meterID, prop.Key, c.ExternalIDError())
	}
	if !ValidFeedAddress(feedAddress) {
		return nil, fmt.Errorf("%s feed address %q: %w", c, feedAddress, ErrInvalidDepinFeedAddress)
	}
	return newMeter(prop, c, meterID, feedAddress, now), nil
}

func newMeter(prop *Property, c Commodity, meterID, feedAddress string, now time.Time) *Meter {
	prop.linkMeter(c, meterID)
	return &Meter{
		Ref: MeterRef{
			Owner:      prop.Key.Owner,
			PropertyID: prop.Key.PropertyID,
			Commodity:  c,
			MeterID:    meterID,
		},
		FeedAddress: feedAddress,
		CreatedAt:   now,
		Version:     1,
	}
}
