// Package forecast turns multi-source weather forecasts into bracket
// probability distributions: weighted ensemble, calibrated error sigma,
// normal-CDF bracket probabilities, and a confidence score.
package forecast

import (
	"time"

	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// Observation is one source's forecast high for one (city, date).
// Immutable once created.
type Observation struct {
	Source    string
	City      domain.City
	Date      time.Time
	HighF     float64
	FetchedAt time.Time
}

// Bracket pairs a bracket definition with its model probability.
type Bracket struct {
	Def         domain.BracketDef
	Probability float64
}

// Confidence grades how much the prediction should be trusted.
type Confidence string

// Confidence grades.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Prediction is the merged multi-source prediction for one (city, date),
// with its six-bracket distribution. Immutable after emission.
type Prediction struct {
	City        domain.City
	Date        time.Time
	Mean        float64
	Spread      float64
	Sigma       float64
	SourceCount int
	Brackets    []Bracket
	Confidence  Confidence
	GeneratedAt time.Time
}

// Season is a meteorological season.
type Season string

// Meteorological seasons.
const (
	SeasonWinter Season = "winter"
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonFall   Season = "fall"
)

// SeasonOf maps a month to its meteorological season (Dec-Feb winter).
func SeasonOf(m time.Month) Season {
	switch m {
	case time.December, time.January, time.February:
		return SeasonWinter
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	default:
		return SeasonFall
	}
}

// SeasonMonths returns the three months of a season, for the calibration
// query.
func SeasonMonths(s Season) []time.Month {
	switch s {
	case SeasonWinter:
		return []time.Month{time.December, time.January, time.February}
	case SeasonSpring:
		return []time.Month{time.March, time.April, time.May}
	case SeasonSummer:
		return []time.Month{time.June, time.July, time.August}
	default:
		return []time.Month{time.September, time.October, time.November}
	}
}
