package rules

import "time"

type PriorityWeights struct {
	DefaultScore     int
	StandingDivisor  int
	MaxStandingBoost int
	AgingStep        time.Duration
	MaxAgeBoost      int
}

func DefaultPriorityWeights() PriorityWeights {
	return PriorityWeights{
		DefaultScore:     10,
		StandingDivisor:  100,
		MaxStandingBoost: 10,
		AgingStep:        5 * time.Minute,
		MaxAgeBoost:      50,
	}
}

type PriorityInput struct {
	ContentAge     time.Duration
	AuthorStanding int
	Override       *int
}

// PriorityScore never returns a negative value. An override replaces the
// computed score entirely.
func PriorityScore(in PriorityInput, w PriorityWeights) int {
	if in.Override != nil {
		return clampMin(*in.Override, 0)
	}

	score := clampMin(w.DefaultScore, 0)
	score += StandingBoost(in.AuthorStanding, w)
	score += AgeBoost(in.ContentAge, w)
	return score
}

func StandingBoost(standing int, w PriorityWeights) int {
	if standing <= 0 || w.StandingDivisor <= 0 {
		return 0
	}
	boost := standing / w.StandingDivisor
	if w.MaxStandingBoost >= 0 && boost > w.MaxStandingBoost {
		boost = w.MaxStandingBoost
	}
	return boost
}

func AgeBoost(age time.Duration, w PriorityWeights) int {
	if age <= 0 || w.AgingStep <= 0 {
		return 0
	}
	boost := int(age / w.AgingStep)
	if w.MaxAgeBoost >= 0 && boost > w.MaxAgeBoost {
		boost = w.MaxAgeBoost
	}
	return boost
}

// AgedScore is used by re-ranking: the waited time is added on top of the
// score an item was inserted with. Overrides are returned unchanged.
func AgedScore(baseScore int, override bool, waited time.Duration, w PriorityWeights) int {
	if override {
		return clampMin(baseScore, 0)
	}
	return clampMin(baseScore, 0) + AgeBoost(waited, w)
}

func clampMin(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}
