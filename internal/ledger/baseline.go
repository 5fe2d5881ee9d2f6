package ledger

import "math/bits"

// BaselineWindow is the number of most recent records averaged into a baseline.
const BaselineWindow = 6

// Baseline returns the truncated mean amount of the last BaselineWindow records of history,
// or 0 for an empty history. history must not include the reading being scored.
func Baseline(history []UsageRecord) uint64 {
	if len(history) > BaselineWindow {
		history = history[len(history)-BaselineWindow:]
	}
	if len(history) == 0 {
		return 0
	}

	// 128-bit accumulator: six uint64 amounts can exceed 64 bits.
	var hi, lo uint64
	for _, r := range history {
		var carry uint64
		lo, carry = bits.Add64(lo, r.Amount, 0)
		hi += carry
	}
	quo, _ := bits.Div64(hi, lo, uint64(len(history)))
	return quo
}
