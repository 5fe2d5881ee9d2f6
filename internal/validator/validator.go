package validator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/conservation-rewards-worker/tools/timeparser"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid       bool
	AnomalyReason string
}

// ReadingData is a reading as reported by a device
type ReadingData struct {
	Date string
	Data string
}

// Reading is a validated reading. Timestamp is zero when the device sent none.
type Reading struct {
	Amount    uint64
	Timestamp time.Time
}

// Validator handles reading validation with configurable parameters
type Validator struct {
	timestampToleranceMinutes int
}

// NewValidator creates a new validator with the specified tolerance
func NewValidator(timestampToleranceMinutes int) *Validator {
	return &Validator{
		timestampToleranceMinutes: timestampToleranceMinutes,
	}
}

// ValidateReading parses the amount and timestamp of a device reading.
// Amounts are non-negative integers in the commodity unit.
func (v *Validator) ValidateReading(data ReadingData, receivedAt time.Time) (Reading, ValidationResult) {
	result := ValidationResult{IsValid: true}
	var reading Reading

	// Strip square brackets if present
	raw := strings.TrimSpace(strings.Trim(strings.TrimSpace(data.Data), "[]"))
	if raw == "" {
		return reading, invalid("empty amount")
	}
	if strings.HasPrefix(raw, "-") {
		return reading, invalid("negative value detected")
	}

	amount, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return reading, invalid("amount overflows 64 bits")
		}
		return reading, invalid(fmt.Sprintf("invalid amount: %q is not a whole number", raw))
	}
	reading.Amount = amount

	if strings.TrimSpace(data.Date) == "" {
		return reading, result
	}

	readingTime, err := timeparser.ParseMeterTimestamp(strings.TrimSpace(data.Date))
	if err != nil {
		return reading, invalid(fmt.Sprintf("invalid timestamp format: %v", err))
	}

	// Validate timestamp tolerance
	if !timeparser.IsWithinTolerance(readingTime, receivedAt, v.timestampToleranceMinutes) {
		return reading, invalid(fmt.Sprintf("timestamp outside tolerance window (±%d minutes)", v.timestampToleranceMinutes))
	}
	reading.Timestamp = readingTime

	return reading, result
}

func invalid(reason string) ValidationResult {
	return ValidationResult{IsValid: false, AnomalyReason: reason}
}
