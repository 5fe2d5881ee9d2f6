// Package store keeps ledger entities in memory as an arena of records addressed by
// composite keys. Entities reference each other by key only.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/septivank/conservation-rewards-worker/internal/ledger"
)

type meterEntry struct {
	mu    sync.Mutex
	meter *ledger.Meter
}

type rewardEntry struct {
	mu     sync.Mutex
	ledger *ledger.RewardLedger
}

// Memory is an in-process store. Readings on one meter and operations on one reward ledger
// are serialized; different meters and participants proceed in parallel.
type Memory struct {
	// linkMu serializes registration and meter linking.
	linkMu sync.Mutex

	// mu guards the maps and the participant and property records.
	mu           sync.RWMutex
	participants map[string]*ledger.Participant
	properties   map[string]*ledger.Property
	meters       map[string]*meterEntry
	rewards      map[string]*rewardEntry
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		participants: make(map[string]*ledger.Participant),
		properties:   make(map[string]*ledger.Property),
		meters:       make(map[string]*meterEntry),
		rewards:      make(map[string]*rewardEntry),
	}
}

// Register creates the linked entity set of reg in one step.
func (s *Memory) Register(ctx context.Context, reg ledger.Registration, now time.Time) (*ledger.Registered, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	propKey := ledger.PropertyKey{Owner: reg.Owner, PropertyID: reg.PropertyID}

	s.mu.RLock()
	participant := s.participants[reg.Owner]
	_, propExists := s.properties[propKey.String()]
	rewards := s.rewards[reg.Owner]
	s.mu.RUnlock()

	if propExists {
		return nil, fmt.Errorf("property %s already registered: %w", propKey, ledger.ErrInvalidPropertyExternalID)
	}

	var current *ledger.RewardLedger
	if rewards != nil {
		rewards.mu.Lock()
		current = rewards.ledger.Clone()
		rewards.mu.Unlock()
	}

	out := reg.Build(participant, current, now)
	s.commitRegistration(out, rewards == nil)
	return out, nil
}

func (s *Memory) commitRegistration(out *ledger.Registered, newLedger bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.participants[out.Participant.Owner] = out.Participant.Clone()
	s.properties[out.Property.Key.String()] = out.Property.Clone()
	for _, m := range out.Meters {
		s.meters[m.Ref.String()] = &meterEntry{meter: m.Clone()}
	}
	if newLedger {
		s.rewards[out.RewardLedger.Owner] = &rewardEntry{ledger: out.RewardLedger.Clone()}
	}
}

// AddMeter links a new meter to an existing property.
func (s *Memory) AddMeter(ctx context.Context, key ledger.PropertyKey, c ledger.Commodity, meterID, feedAddress string, now time.Time) (*ledger.Meter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	s.mu.RLock()
	prop, ok := s.properties[key.String()]
	if ok {
		prop = prop.Clone()
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("property %s not registered: %w", key, ledger.ErrInvalidPropertyAccount)
	}

	m, err := ledger.AddMeter(prop, c, meterID, feedAddress, now)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.properties[key.String()] = prop
	s.meters[m.Ref.String()] = &meterEntry{meter: m.Clone()}
	s.mu.Unlock()
	return m, nil
}

func (s *Memory) lookupMeter(ref ledger.MeterRef) (*meterEntry, *rewardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.properties[ref.Property().String()]; !ok {
		return nil, nil, fmt.Errorf("property %s not registered: %w", ref.Property(), ledger.ErrInvalidPropertyAccount)
	}
	me, ok := s.meters[ref.String()]
	if !ok {
		return nil, nil, fmt.Errorf("meter %s not registered: %w", ref, ledger.ErrInvalidState)
	}
	re, ok := s.rewards[ref.Owner]
	if !ok {
		return nil, nil, fmt.Errorf("reward ledger %s not registered: %w", ref.Owner, ledger.ErrInvalidState)
	}
	return me, re, nil
}

// RecordUsage scores a reading against the meter's baseline, appends it, updates the meter
// totals and credits the owner's reward ledger, all under the meter and ledger locks.
func (s *Memory) RecordUsage(ctx context.Context, ref ledger.MeterRef, feedAddress string, amount uint64, now time.Time) (*ledger.UsageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	me, re, err := s.lookupMeter(ref)
	if err != nil {
		return nil, err
	}

	// Lock order: meter, then reward ledger.
	me.mu.Lock()
	defer me.mu.Unlock()
	re.mu.Lock()
	defer re.mu.Unlock()

	reading, err := me.meter.Assess(feedAddress, amount, now)
	if err != nil {
		return nil, err
	}
	if err := re.ledger.CheckCredit(reading.Points); err != nil {
		return nil, err
	}

	me.meter.Apply(reading)
	re.ledger.Credit(reading.Points)
	return ledger.NewUsageResult(me.meter, re.ledger, reading), nil
}

// Redeem debits the owner's reward ledger.
func (s *Memory) Redeem(ctx context.Context, owner string, amount uint64, now time.Time) (*ledger.RedeemResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	re, ok := s.rewards[owner]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("reward ledger %s not registered: %w", owner, ledger.ErrInvalidState)
	}

	re.mu.Lock()
	defer re.mu.Unlock()
	rec, err := re.ledger.Redeem(amount, now)
	if err != nil {
		return nil, err
	}
	return &ledger.RedeemResult{Owner: owner, Record: rec, Balance: re.ledger.Balance}, nil
}

// Participant returns a copy of the participant record.
func (s *Memory) Participant(ctx context.Context, owner string) (*ledger.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[owner]
	if !ok {
		return nil, fmt.Errorf("participant %s not registered: %w", owner, ledger.ErrInvalidState)
	}
	return p.Clone(), nil
}

// Property returns a copy of the property record.
func (s *Memory) Property(ctx context.Context, key ledger.PropertyKey) (*ledger.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.properties[key.String()]
	if !ok {
		return nil, fmt.Errorf("property %s not registered: %w", key, ledger.ErrInvalidPropertyAccount)
	}
	return p.Clone(), nil
}

// Meter returns a copy of the meter with its full history.
func (s *Memory) Meter(ctx context.Context, ref ledger.MeterRef) (*ledger.Meter, error) {
	me, err := s.meterEntry(ref)
	if err != nil {
		return nil, err
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.meter.Clone(), nil
}

// Window returns the records the meter's next baseline will be computed from.
func (s *Memory) Window(ctx context.Context, ref ledger.MeterRef) ([]ledger.UsageRecord, error) {
	me, err := s.meterEntry(ref)
	if err != nil {
		return nil, err
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.meter.Window(), nil
}

func (s *Memory) meterEntry(ref ledger.MeterRef) (*meterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.properties[ref.Property().String()]; !ok {
		return nil, fmt.Errorf("property %s not registered: %w", ref.Property(), ledger.ErrInvalidPropertyAccount)
	}
	me, ok := s.meters[ref.String()]
	if !ok {
		return nil, fmt.Errorf("meter %s not registered: %w", ref, ledger.ErrInvalidState)
	}
	return me, nil
}

// RewardLedger returns a copy of the owner's reward ledger.
func (s *Memory) RewardLedger(ctx context.Context, owner string) (*ledger.RewardLedger, error) {
	s.mu.RLock()
	re, ok := s.rewards[owner]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("reward ledger %s not registered: %w", owner, ledger.ErrInvalidState)
	}
	re.mu.Lock()
	defer re.mu.Unlock()
	return re.ledger.Clone(), nil
}
