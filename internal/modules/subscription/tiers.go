package subscription

// Tier is a subscription level. Only free and pro exist.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Limits bounds what a single upload may be for a tier
type Limits struct {
	MaxBytes           int64
	MaxDurationSeconds float64
	// Display units used in rejection messages
	SizeLabel     string
	DurationLabel string
}

var tierLimits = map[Tier]Limits{
	TierFree: {
		MaxBytes:           500 * 1024 * 1024, // 500MB
		MaxDurationSeconds: 120,
		SizeLabel:          "500 MB",
		DurationLabel:      "2-minute",
	},
	TierPro: {
		MaxBytes:           5 * 1024 * 1024 * 1024, // 5GB
		MaxDurationSeconds: 4 * 60 * 60,
		SizeLabel:          "5 GB",
		DurationLabel:      "4-hour",
	},
}

// LimitsFor returns limits for a tier (defaults to free if unknown)
func LimitsFor(tier Tier) Limits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[TierFree]
}

// ParseTier maps a stored or requested tier name to a Tier, falling back to free
func ParseTier(s string) Tier {
	if _, ok := tierLimits[Tier(s)]; ok {
		return Tier(s)
	}
	return TierFree
}

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	_, ok := tierLimits[t]
	return ok
}

func (t Tier) String() string {
	return string(t)
}
