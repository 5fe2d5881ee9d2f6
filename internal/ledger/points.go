package ledger

// Tier awards Points when the reduction percentage is at least MinReductionPct.
type Tier struct {
	MinReductionPct float64
	Points          uint64
}

// RewardTiers is evaluated top-down; the first matching tier wins.
var RewardTiers = []Tier{
	{MinReductionPct: 16, Points: 100},
	{MinReductionPct: 11, Points: 50},
	{MinReductionPct: 6, Points: 25},
	{MinReductionPct: 1, Points: 10},
}

// ReductionPct returns 100*(baseline-actual)/baseline clamped at 0, without integer rounding.
// A zero baseline yields 0.
func ReductionPct(baseline, actual uint64) float64 {
	if baseline == 0 {
		return 0
	}
	return float64(saturatingSub(baseline, actual)) * 100 / float64(baseline)
}

// Points converts a reading scored against its baseline into a reward award.
// It is the same for every commodity.
func Points(baseline, actual uint64) uint64 {
	if baseline == 0 {
		return 0
	}
	pct := ReductionPct(baseline, actual)
	for _, t := range RewardTiers {
		if pct >= t.MinReductionPct {
			return t.Points
		}
	}
	return 0
}
