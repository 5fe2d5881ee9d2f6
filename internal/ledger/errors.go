package ledger

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by ledger operations. None are retryable without new input or new state.
var (
	ErrInvalidAmount                = errors.New("invalid amount")
	ErrInsufficientBalance          = errors.New("insufficient balance")
	ErrInsufficientPoints           = fmt.Errorf("insufficient points: %w", ErrInsufficientBalance)
	ErrInvalidState                 = errors.New("invalid state")
	ErrTimestampsOutOfOrder         = errors.New("timestamps are out of order")
	ErrInvalidUsageData             = errors.New("invalid usage data")
	ErrInvalidEnergyConsumptionData = fmt.Errorf("invalid energy consumption data: %w", ErrInvalidUsageData)
	ErrInvalidPropertyExternalID    = errors.New("invalid property external id")
	ErrInvalidWaterExternalID       = errors.New("invalid water external id")
	ErrInvalidEnergyExternalID      = errors.New("invalid energy external id")
	ErrInvalidDepinFeedAddress      = errors.New("invalid depin feed address")
	ErrInvalidPropertyAccount       = errors.New("invalid property account")
)

// Specialized kinds precede the kinds they wrap.
var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInsufficientPoints, "InsufficientPoints"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrInvalidState, "InvalidState"},
	{ErrTimestampsOutOfOrder, "TimestampsOutOfOrder"},
	{ErrInvalidEnergyConsumptionData, "InvalidEnergyConsumptionData"},
	{ErrInvalidUsageData, "InvalidUsageData"},
	{ErrInvalidPropertyExternalID, "InvalidPropertyExternalId"},
	{ErrInvalidWaterExternalID, "InvalidWaterExternalId"},
	{ErrInvalidEnergyExternalID, "InvalidEnergyExternalId"},
	{ErrInvalidDepinFeedAddress, "InvalidDepinFeedAddress"},
	{ErrInvalidPropertyAccount, "InvalidPropertyAccount"},
}

// Kind returns the stable name of the ledger error wrapped by err, or "" if err is not one.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// IsDomainError reports whether err carries one of the ledger error kinds.
func IsDomainError(err error) bool {
	return Kind(err) != ""
}
