package forecast

import "time"

// Score thresholds for the confidence grade.
const (
	highConfidenceScore   = 5
	mediumConfidenceScore = 3
)

// ScoreConfidence grades a prediction from its ensemble spread, error
// sigma, source count, and the age of the freshest observation.
func ScoreConfidence(spread, sigma float64, sourceCount int, freshestAge time.Duration) Confidence {
	score := 0

	switch {
	case spread <= 1:
		score += 3
	case spread <= 2:
		score += 2
	case spread <= 3:
		score++
	}

	switch {
	case sigma <= 2:
		score += 2
	case sigma <= 3:
		score++
	}

	if sourceCount >= 4 {
		score++
	}

	switch {
	case freshestAge <= 60*time.Minute:
		score++
	case freshestAge > 120*time.Minute:
		score--
	}

	switch {
	case score >= highConfidenceScore:
		return ConfidenceHigh
	case score >= mediumConfidenceScore:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
